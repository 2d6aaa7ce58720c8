/*
main.go - Server entry point

PURPOSE:
  Wires the engine together and runs the HTTP server: configuration,
  logging, the SQLite store, the booking manager, the relay controller
  with simulated hardware, the reminder outbox worker, and the
  notification dispatcher (AMQP when enabled, log-only otherwise).

SHUTDOWN:
  SIGINT/SIGTERM stops the outbox worker, drains in-flight HTTP
  requests, and closes the store.
*/
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brikk/amenity-engine/api"
	"github.com/brikk/amenity-engine/booking"
	"github.com/brikk/amenity-engine/config"
	"github.com/brikk/amenity-engine/device"
	"github.com/brikk/amenity-engine/metering"
	"github.com/brikk/amenity-engine/notify"
	"github.com/brikk/amenity-engine/store/sqlite"
	"github.com/brikk/amenity-engine/wallet"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	log.Info("starting amenity engine",
		slog.String("env", cfg.Env),
		slog.String("address", cfg.HTTPServer.Address))

	store, err := sqlite.New(cfg.StoragePath)
	if err != nil {
		log.Error("failed to open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	// Notifications: AMQP when enabled, log-only fallback otherwise.
	var dispatcher notify.Dispatcher
	if cfg.AMQP.Enabled {
		amqpDispatcher, err := notify.NewAMQPDispatcher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			log.Error("failed to connect to AMQP broker", slog.Any("error", err))
			os.Exit(1)
		}
		defer amqpDispatcher.Close()
		dispatcher = amqpDispatcher
	} else {
		dispatcher = logDispatcher(log)
	}

	gateway := wallet.NewStubGateway()
	manager := booking.NewManager(store, store, gateway, store, log)

	meter := metering.NewService(metering.NewMockFeed(), store, log)
	controller := device.NewController(
		device.NewSimDriver(cfg.Relay.FailureRate),
		device.NewSimSensor(),
		store, meter, store, manager, manager, dispatcher, log)

	worker := notify.NewWorker(store, dispatcher, log)
	worker.Interval = cfg.Outbox.Interval
	worker.BatchSize = cfg.Outbox.BatchSize
	worker.Start()
	defer worker.Stop()

	router := api.NewRouter(api.NewHandler(manager, controller, store, store, store, store, log))

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()
	log.Info("server started", slog.String("address", cfg.HTTPServer.Address))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", slog.Any("error", err))
	}
	log.Info("server stopped")
}

// logDispatcher records notifications to the log. Dev fallback when no
// broker is configured.
func logDispatcher(log *slog.Logger) notify.Dispatcher {
	return notify.Func(func(_ context.Context, recipient notify.RecipientClass, title, body string, payload map[string]string) error {
		log.Info("notification",
			slog.String("recipient", string(recipient)),
			slog.String("title", title),
			slog.String("body", body),
			slog.Any("payload", payload))
		return nil
	})
}

func setupLogger(env string) *slog.Logger {
	var handler slog.Handler
	switch env {
	case envLocal:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	case envDev:
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	case envProd:
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return slog.New(handler)
}
