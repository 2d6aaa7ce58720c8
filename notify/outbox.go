/*
outbox.go - Persistent reminder task queue and its worker

PURPOSE:
  Reminders are recorded as durable tasks and drained by a background
  worker, so booking creation never blocks on (or fails because of)
  message delivery. Delivery is at-least-once: a task is only marked
  done after Send returns nil, so a crash between Send and MarkDone can
  re-deliver. The (bookingID, kind) dedup key keeps a retried enqueue
  from producing a second task.

DESIGN:
  - Ticker-driven worker goroutine with Start/Stop
  - Due tasks are fetched in batches and pushed through the Dispatcher
  - Failed sends bump the attempt counter and stay queued
*/
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// TASKS
// =============================================================================

type Kind string

const (
	// KindPreStartReminder is the access-code reminder sent before a
	// booking's start.
	KindPreStartReminder Kind = "pre_start"
)

// ErrDuplicateTask is returned when a task with the same (bookingID, kind)
// dedup key is already queued. Expected on enqueue retries.
var ErrDuplicateTask = errors.New("duplicate outbox task")

// Task is one scheduled outbound message.
type Task struct {
	ID        string
	BookingID string
	Kind      Kind
	Recipient RecipientClass
	Title     string
	Body      string
	Payload   map[string]string
	DueAt     time.Time
	Attempts  int
	DoneAt    *time.Time
	CreatedAt time.Time
}

// OutboxStore persists tasks. Enqueue must reject a second task with the
// same (BookingID, Kind) with ErrDuplicateTask.
type OutboxStore interface {
	Enqueue(ctx context.Context, task Task) error
	Due(ctx context.Context, now time.Time, limit int) ([]Task, error)
	MarkDone(ctx context.Context, id string, at time.Time) error
	MarkAttempt(ctx context.Context, id string) error
}

// =============================================================================
// WORKER - Drains due tasks through the Dispatcher
// =============================================================================

// Worker delivers due outbox tasks on a fixed interval.
type Worker struct {
	Store      OutboxStore
	Dispatcher Dispatcher
	Interval   time.Duration
	BatchSize  int
	Log        *slog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewWorker(store OutboxStore, dispatcher Dispatcher, log *slog.Logger) *Worker {
	return &Worker{
		Store:      store,
		Dispatcher: dispatcher,
		Interval:   time.Minute,
		BatchSize:  50,
		Log:        log,
	}
}

// Start begins the delivery loop.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.ticker = time.NewTicker(w.Interval)
	w.stop = make(chan struct{})
	w.wg.Add(1)
	go w.run()

	w.Log.Info("outbox worker started", slog.Duration("interval", w.Interval))
}

// Stop halts the loop and waits for the in-flight pass to finish. Calling
// Stop on a worker that is not running is a no-op.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ticker == nil {
		return
	}
	w.ticker.Stop()
	close(w.stop)
	w.wg.Wait()
	w.ticker = nil
	w.Log.Info("outbox worker stopped")
}

func (w *Worker) run() {
	defer w.wg.Done()

	// Drain immediately on start, then on each tick.
	w.DrainOnce(context.Background())

	for {
		select {
		case <-w.ticker.C:
			w.DrainOnce(context.Background())
		case <-w.stop:
			return
		}
	}
}

// DrainOnce delivers every currently-due task. Exported for tests and
// admin-triggered flushes.
func (w *Worker) DrainOnce(ctx context.Context) {
	now := time.Now()
	tasks, err := w.Store.Due(ctx, now, w.BatchSize)
	if err != nil {
		w.Log.Error("outbox fetch failed", slog.Any("error", err))
		return
	}

	for _, task := range tasks {
		if err := w.Dispatcher.Send(ctx, task.Recipient, task.Title, task.Body, task.Payload); err != nil {
			w.Log.Warn("outbox delivery failed, will retry",
				slog.String("task_id", task.ID),
				slog.String("booking_id", task.BookingID),
				slog.Int("attempts", task.Attempts+1),
				slog.Any("error", err))
			if err := w.Store.MarkAttempt(ctx, task.ID); err != nil {
				w.Log.Error("outbox attempt update failed", slog.String("task_id", task.ID), slog.Any("error", err))
			}
			continue
		}

		if err := w.Store.MarkDone(ctx, task.ID, time.Now()); err != nil {
			// Send succeeded but the done mark failed: the task will be
			// re-delivered on the next pass. At-least-once, not exactly-once.
			w.Log.Error("outbox done update failed", slog.String("task_id", task.ID), slog.Any("error", err))
		}
	}
}
