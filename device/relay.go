/*
Package device drives the power relays behind bookable amenities.

PURPOSE:
  A small state machine per resource (STANDBY -> HEATING -> STANDBY)
  that gates physical power commands behind a safety interlock, records
  an append-only PowerEvent audit trail, bills energy on power-off, and
  triggers a compensating refund when the hardware fails a power-on.

SAFETY INTERLOCK:
  A power-on command is never sent unless the door-closed sensor reports
  safe. Failing closed is mandatory: a sensor error counts as unsafe.
  A SafetyViolation is never retried automatically - an operator alert
  goes out and a human decides.

RETRY SEMANTICS:
  Commands are not idempotent. Re-sending the relay's current state
  (ON while HEATING, OFF while STANDBY) is rejected with
  ErrRelayStateUnchanged rather than silently absorbed, so duplicated
  billing flows surface instead of double-charging. Callers that time
  out must query State() before re-issuing a command.

SEE ALSO:
  - driver.go: RelayDriver capability interface + simulated hardware
  - metering: Energy figures computed on power-off
  - booking/manager.go: CompensateHardwareFailure
*/
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/brikk/amenity-engine/booking"
	"github.com/brikk/amenity-engine/metering"
	"github.com/brikk/amenity-engine/notify"
)

// =============================================================================
// COMMANDS AND STATES
// =============================================================================

type Command string

const (
	CommandOn  Command = "on"
	CommandOff Command = "off"
)

func (c Command) Valid() bool { return c == CommandOn || c == CommandOff }

type State string

const (
	StateStandby State = "standby"
	StateHeating State = "heating"
)

// targetState maps a command to the state it drives the relay into.
func (c Command) targetState() State {
	if c == CommandOn {
		return StateHeating
	}
	return StateStandby
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrRelayOffline is a hardware fault: the relay is unreachable.
	// On a power-on attempt it triggers an automatic compensating refund
	// of the booking's full charge and an operator alert.
	ErrRelayOffline = errors.New("relay offline")

	// ErrSafetyViolation means the door-closed precondition did not hold.
	// The power command was never issued. Requires human intervention.
	ErrSafetyViolation = errors.New("safety violation: door not closed")

	// ErrRelayStateUnchanged rejects a command that matches the relay's
	// current state. Callers must query State() before retrying.
	ErrRelayStateUnchanged = errors.New("relay already in requested state")

	// ErrInvalidCommand is returned for an unknown power command.
	ErrInvalidCommand = errors.New("invalid power command")
)

// =============================================================================
// POWER EVENTS - Append-only audit trail
// =============================================================================

// PowerEvent records one relay command tied to a booking. Immutable once
// written. OFF events additionally carry the derived session duration
// and the energy figures billed for it; those fields are zero on ON.
type PowerEvent struct {
	ID         string
	BookingID  string
	ResourceID string
	Type       Command
	At         time.Time

	// Set only on OFF events.
	DurationMinutes decimal.Decimal
	EnergyKwh       decimal.Decimal
	Cost            decimal.Decimal
}

// EventStore persists power events. Append-only: no update, no delete.
type EventStore interface {
	Append(ctx context.Context, e PowerEvent) error

	// LastOn returns the most recent ON event for a booking, or
	// (nil, nil) if there is none.
	LastOn(ctx context.Context, bookingID string) (*PowerEvent, error)

	ListByBooking(ctx context.Context, bookingID string) ([]PowerEvent, error)
}

// =============================================================================
// COLLABORATOR CONTRACTS
// =============================================================================

// SafetySensor is polled synchronously before every ON command.
type SafetySensor interface {
	IsDoorClosed(ctx context.Context, resourceID string) (bool, error)
}

// BookingDirectory resolves bookings. Satisfied by booking.Manager.
type BookingDirectory interface {
	GetBooking(ctx context.Context, id booking.BookingID) (*booking.Booking, error)
}

// Refunder performs the compensating full refund after a hardware
// failure. Satisfied by booking.Manager.
type Refunder interface {
	CompensateHardwareFailure(ctx context.Context, id booking.BookingID) (*booking.Refund, error)
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller gates relay commands behind the safety interlock and keeps
// the per-resource state machine.
type Controller struct {
	Driver    RelayDriver
	Sensor    SafetySensor
	Events    EventStore
	Meter     *metering.Service
	Resources booking.ResourceStore
	Bookings  BookingDirectory
	Refunder  Refunder
	Notifier  notify.Dispatcher
	Log       *slog.Logger

	// Clock is injectable for tests. Defaults to time.Now.
	Clock func() time.Time

	mu     sync.Mutex
	states map[booking.ResourceID]State
}

func NewController(driver RelayDriver, sensor SafetySensor, events EventStore, meter *metering.Service,
	resources booking.ResourceStore, bookings BookingDirectory, refunder Refunder,
	notifier notify.Dispatcher, log *slog.Logger) *Controller {
	return &Controller{
		Driver:    driver,
		Sensor:    sensor,
		Events:    events,
		Meter:     meter,
		Resources: resources,
		Bookings:  bookings,
		Refunder:  refunder,
		Notifier:  notifier,
		Log:       log,
		Clock:     time.Now,
		states:    make(map[booking.ResourceID]State),
	}
}

func (c *Controller) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

// State returns the relay state for a resource. STANDBY is the default
// for resources never commanded.
func (c *Controller) State(resourceID booking.ResourceID) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.states[resourceID]; ok {
		return s
	}
	return StateStandby
}

func (c *Controller) setState(resourceID booking.ResourceID, s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[resourceID] = s
}

// SetPower issues an ON or OFF command for a booking's resource.
//
// ON:  reachability check, then the safety interlock, then the physical
//      command, then an ON PowerEvent. A hardware failure triggers the
//      compensating full refund and an ops alert.
// OFF: locates the matching ON event, derives the session duration,
//      persists an OFF PowerEvent carrying the energy figures, and then
//      rolls the cost into the building's budget ledger.
func (c *Controller) SetPower(ctx context.Context, bookingID booking.BookingID, desired Command) (*PowerEvent, error) {
	if !desired.Valid() {
		return nil, ErrInvalidCommand
	}

	b, err := c.Bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	res, err := c.Resources.GetResource(ctx, b.ResourceID)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, booking.ErrResourceNotFound
	}

	if err := c.Driver.Ping(ctx, string(res.ID)); err != nil {
		return nil, c.hardwareFailure(ctx, b, res, desired, err)
	}

	if desired == CommandOn {
		closed, err := c.Sensor.IsDoorClosed(ctx, string(res.ID))
		if err != nil || !closed {
			// Fail closed: a sensor error is treated as unsafe.
			c.alertOps(ctx, "Safety violation", fmt.Sprintf(
				"Power-on refused for %s (%s): door not confirmed closed.", res.Name, res.ID),
				map[string]string{"resource_id": string(res.ID), "booking_id": string(b.ID)})
			c.Log.Warn("power-on refused by safety interlock",
				slog.String("resource_id", string(res.ID)),
				slog.String("booking_id", string(b.ID)))
			return nil, fmt.Errorf("%w: resource %s", ErrSafetyViolation, res.ID)
		}
	}

	if c.State(res.ID) == desired.targetState() {
		return nil, fmt.Errorf("%w: %s", ErrRelayStateUnchanged, desired)
	}

	// OFF must have a matching ON session before anything is billed.
	var onEvent *PowerEvent
	if desired == CommandOff {
		onEvent, err = c.Events.LastOn(ctx, string(b.ID))
		if err != nil {
			return nil, err
		}
		if onEvent == nil {
			return nil, fmt.Errorf("%w: no powered session for booking %s", ErrRelayStateUnchanged, b.ID)
		}
	}

	if err := c.Driver.SendCommand(ctx, string(res.ID), desired); err != nil {
		return nil, c.hardwareFailure(ctx, b, res, desired, err)
	}

	now := c.now()
	event := PowerEvent{
		ID:         uuid.NewString(),
		BookingID:  string(b.ID),
		ResourceID: string(res.ID),
		Type:       desired,
		At:         now,
	}

	if desired == CommandOff {
		duration := now.Sub(onEvent.At)
		kwh, cost, err := c.Meter.SessionCost(ctx, res.PowerRatingKw, duration)
		if err != nil {
			return nil, err
		}
		event.DurationMinutes = decimal.NewFromFloat(duration.Minutes()).Round(2)
		event.EnergyKwh = kwh
		event.Cost = cost
	}

	// The audit record goes first. If the append fails the session is
	// still open (state unchanged, LastOn intact) and nothing has been
	// billed, so a retried OFF bills the session once, not twice.
	if err := c.Events.Append(ctx, event); err != nil {
		return nil, err
	}
	c.setState(res.ID, desired.targetState())

	if desired == CommandOff {
		// The OFF event is durable at this point. A rollup failure is
		// recovered from the audit trail, never by re-billing: the next
		// OFF for this booking is rejected as a same-state command.
		if err := c.Meter.RecordConsumption(ctx, string(res.BuildingID), event.Cost, event.EnergyKwh); err != nil {
			c.Log.Error("energy rollup failed",
				slog.String("booking_id", string(b.ID)),
				slog.String("resource_id", string(res.ID)),
				slog.String("cost", event.Cost.StringFixed(2)),
				slog.Any("error", err))
		}
	}

	c.Log.Info("relay command issued",
		slog.String("resource_id", string(res.ID)),
		slog.String("booking_id", string(b.ID)),
		slog.String("command", string(desired)))
	return &event, nil
}

// hardwareFailure handles an unreachable or failing relay. On a power-on
// attempt the booking's full charge is automatically refunded and the
// ops-admin channel alerted; this is system-triggered, not a caller
// cancellation, and is logged as such by the refunder.
func (c *Controller) hardwareFailure(ctx context.Context, b *booking.Booking, res *booking.Resource, desired Command, cause error) error {
	c.Log.Error("relay unreachable",
		slog.String("resource_id", string(res.ID)),
		slog.String("booking_id", string(b.ID)),
		slog.String("command", string(desired)),
		slog.Any("error", cause))

	if desired == CommandOn {
		refund, rerr := c.Refunder.CompensateHardwareFailure(ctx, b.ID)
		if rerr != nil {
			c.Log.Error("compensating refund failed",
				slog.String("booking_id", string(b.ID)), slog.Any("error", rerr))
		} else {
			c.alertOps(ctx, "Relay offline",
				fmt.Sprintf("Relay for %s (%s) is offline; booking %s refunded %s.", res.Name, res.ID, b.ID, refund),
				map[string]string{"resource_id": string(res.ID), "booking_id": string(b.ID)})
		}
	}

	return fmt.Errorf("%w: resource %s: %v", ErrRelayOffline, res.ID, cause)
}

func (c *Controller) alertOps(ctx context.Context, title, body string, payload map[string]string) {
	if err := c.Notifier.Send(ctx, notify.RecipientOpsAdmin, title, body, payload); err != nil {
		c.Log.Warn("ops alert delivery failed", slog.Any("error", err))
	}
}

// =============================================================================
// EMERGENCY KILL SWITCH
// =============================================================================

// KillAll powers off every resource in a building and broadcasts an
// alert to all residents. Best effort: it is not atomic across
// resources and offline relays stay in their last state. Per-resource
// failures are joined into the returned error.
func (c *Controller) KillAll(ctx context.Context, buildingID booking.BuildingID) error {
	resources, err := c.Resources.ListResourcesByBuilding(ctx, buildingID)
	if err != nil {
		return err
	}

	var errs []error
	for _, res := range resources {
		if err := c.Driver.SendCommand(ctx, string(res.ID), CommandOff); err != nil {
			errs = append(errs, fmt.Errorf("resource %s: %w", res.ID, err))
			continue
		}
		c.setState(res.ID, StateStandby)
	}

	if err := c.Notifier.Send(ctx, notify.RecipientAllResidents, "Emergency power-off",
		"All amenities in your building have been powered off by building management.",
		map[string]string{"building_id": string(buildingID)}); err != nil {
		errs = append(errs, fmt.Errorf("broadcast: %w", err))
	}

	c.Log.Warn("emergency kill switch triggered",
		slog.String("building_id", string(buildingID)),
		slog.Int("resources", len(resources)),
		slog.Int("failures", len(errs)))
	return errors.Join(errs...)
}
