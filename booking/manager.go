/*
manager.go - Booking lifecycle orchestration

PURPOSE:
  The root of the reservation core. CreateBooking allocates a slot,
  charges the chosen rail, and persists the CONFIRMED record - all or
  nothing. CancelBooking applies the refund policy, credits the rail,
  and makes the terminal CONFIRMED -> CANCELLED transition.

CREATE FLOW (single store transaction):
  1. Validate window and rail, resolve the resource
  2. Availability check (same transaction as the insert - this closes
     the read-then-write race that would allow a double booking)
  3. Charge: points are debited inside the transaction; money is charged
     through the gateway with a compensating refund if the insert fails
  4. Insert CONFIRMED booking with a fresh access code
  5. Enqueue the pre-start reminder; enqueue failure never rolls back

CANCEL FLOW:
  BookingNotFound / BookingNotActive checks, refund tiering by lead
  time, credit on the original rail, transition to CANCELLED. Terminal:
  a cancelled booking is never reactivated.

HARDWARE COMPENSATION:
  CompensateHardwareFailure refunds the FULL charge regardless of lead
  time. It is system-triggered (relay offline on power-on), not a caller
  cancellation, and is logged distinctly as such.

SEE ALSO:
  - availability.go, policy.go, store.go
  - device/relay.go: Calls CompensateHardwareFailure
*/
package booking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/brikk/amenity-engine/notify"
	"github.com/brikk/amenity-engine/wallet"
)

// =============================================================================
// MANAGER
// =============================================================================

// Manager owns the authoritative booking record.
type Manager struct {
	Resources ResourceStore
	Store     TxRunner
	Gateway   wallet.Gateway
	Outbox    notify.OutboxStore
	Policy    CancellationPolicy
	Log       *slog.Logger

	// ReminderLead is how long before start the pre-start reminder fires.
	ReminderLead time.Duration

	// Clock is injectable for tests. Defaults to time.Now.
	Clock func() time.Time
}

func NewManager(resources ResourceStore, store TxRunner, gateway wallet.Gateway, outbox notify.OutboxStore, log *slog.Logger) *Manager {
	return &Manager{
		Resources:    resources,
		Store:        store,
		Gateway:      gateway,
		Outbox:       outbox,
		Policy:       DefaultCancellationPolicy,
		Log:          log,
		ReminderLead: time.Hour,
		Clock:        time.Now,
	}
}

func (m *Manager) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now()
}

// =============================================================================
// CREATE
// =============================================================================

// CreateBooking reserves [start, end) on a resource and charges the rail.
func (m *Manager) CreateBooking(ctx context.Context, requesterID RequesterID, resourceID ResourceID, start, end time.Time, rail Rail) (*Booking, error) {
	if !end.After(start) {
		return nil, ErrInvalidWindow
	}
	if !rail.Valid() {
		return nil, ErrInvalidRail
	}

	res, err := m.Resources.GetResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, ErrResourceNotFound
	}

	code, err := NewAccessCode()
	if err != nil {
		return nil, err
	}

	b := Booking{
		ID:          BookingID(uuid.NewString()),
		ResourceID:  resourceID,
		RequesterID: requesterID,
		Start:       start,
		End:         end,
		Rail:        rail,
		Status:      StatusConfirmed,
		AccessCode:  code,
		CreatedAt:   m.now(),
	}
	switch rail {
	case RailPoints:
		b.ChargedPoints = PointsCharge(res.PointsPerHour, start, end)
	case RailMoney:
		b.ChargedMoney = MoneyCharge(res.MoneyPerHour, start, end)
	}

	// Availability check, charge, and insert share one transaction.
	// The gateway charge is external; if a later step fails we reverse it.
	moneyCharged := false
	err = m.Store.WithTx(ctx, func(tx Tx) error {
		existing, err := tx.Bookings().FindOverlapping(ctx, resourceID, start, end)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return &SlotUnavailableError{
				ResourceID: resourceID,
				Start:      start,
				End:        end,
				BlockedBy:  existing[0].ID,
			}
		}

		switch rail {
		case RailPoints:
			if err := tx.Wallets().Debit(ctx, string(requesterID), b.ChargedPoints); err != nil {
				return err
			}
		case RailMoney:
			if err := m.Gateway.Charge(ctx, string(requesterID), b.ChargedMoney, string(b.ID)); err != nil {
				return err
			}
			moneyCharged = true
		}

		return tx.Bookings().Insert(ctx, b)
	})
	if err != nil {
		if moneyCharged {
			// Compensate the external charge; the transaction itself
			// already rolled back.
			if rerr := m.Gateway.Refund(ctx, string(requesterID), b.ChargedMoney, string(b.ID)); rerr != nil {
				m.Log.Error("gateway compensation failed after aborted create",
					slog.String("booking_id", string(b.ID)), slog.Any("error", rerr))
			}
		}
		return nil, err
	}

	m.enqueueReminder(ctx, b)

	m.Log.Info("booking confirmed",
		slog.String("booking_id", string(b.ID)),
		slog.String("resource_id", string(resourceID)),
		slog.String("rail", string(rail)))
	return &b, nil
}

// enqueueReminder schedules the pre-start reminder carrying the access
// code. Failure to schedule does not roll back the booking.
func (m *Manager) enqueueReminder(ctx context.Context, b Booking) {
	due := b.Start.Add(-m.ReminderLead)
	if now := m.now(); due.Before(now) {
		due = now
	}

	task := notify.Task{
		ID:        uuid.NewString(),
		BookingID: string(b.ID),
		Kind:      notify.KindPreStartReminder,
		Recipient: notify.RecipientResident,
		Title:     "Upcoming reservation",
		Body:      fmt.Sprintf("Your reservation starts at %s. Access code: %s", b.Start.Format(time.RFC3339), b.AccessCode),
		Payload: map[string]string{
			"requester_id": string(b.RequesterID),
			"booking_id":   string(b.ID),
			"access_code":  b.AccessCode,
		},
		DueAt:     due,
		CreatedAt: m.now(),
	}

	if err := m.Outbox.Enqueue(ctx, task); err != nil && err != notify.ErrDuplicateTask {
		m.Log.Warn("failed to schedule pre-start reminder",
			slog.String("booking_id", string(b.ID)), slog.Any("error", err))
	}
}

// =============================================================================
// CANCEL
// =============================================================================

// CancelBooking applies the refund policy and retires the booking.
func (m *Manager) CancelBooking(ctx context.Context, id BookingID) (*Refund, error) {
	return m.cancel(ctx, id, false)
}

// CompensateHardwareFailure reverses a booking's full charge after a
// hardware fault made the reservation unusable. This is a compensating
// action the caller did not request: the refund ignores lead-time
// tiering and the event is logged apart from caller cancellations.
func (m *Manager) CompensateHardwareFailure(ctx context.Context, id BookingID) (*Refund, error) {
	return m.cancel(ctx, id, true)
}

func (m *Manager) cancel(ctx context.Context, id BookingID, compensation bool) (*Refund, error) {
	var refund Refund
	var requester RequesterID

	err := m.Store.WithTx(ctx, func(tx Tx) error {
		b, err := tx.Bookings().Get(ctx, id)
		if err != nil {
			return err
		}
		if b == nil {
			return ErrBookingNotFound
		}
		if b.Status != StatusConfirmed {
			return ErrBookingNotActive
		}
		requester = b.RequesterID

		hoursUntilStart := b.Start.Sub(m.now()).Hours()
		refund.Rail = b.Rail
		switch b.Rail {
		case RailPoints:
			if compensation {
				refund.Points = b.ChargedPoints
			} else {
				refund.Points = m.Policy.RefundPoints(b.ChargedPoints, hoursUntilStart)
			}
			if refund.Points > 0 {
				if err := tx.Wallets().Credit(ctx, string(b.RequesterID), refund.Points); err != nil {
					return err
				}
			}
		case RailMoney:
			if compensation {
				refund.Money = b.ChargedMoney
			} else {
				refund.Money = m.Policy.RefundMoney(b.ChargedMoney, hoursUntilStart)
			}
		}

		// Terminal transition. A cancelled booking is never reactivated.
		return tx.Bookings().UpdateStatus(ctx, id, StatusCancelled)
	})
	if err != nil {
		return nil, err
	}

	// The money rail settles through the external gateway after the
	// record transition; a failed refund here needs operator follow-up.
	if refund.Rail == RailMoney && refund.Money.IsPositive() {
		if err := m.Gateway.Refund(ctx, string(requester), refund.Money, string(id)); err != nil {
			m.Log.Error("money refund failed after cancellation",
				slog.String("booking_id", string(id)),
				slog.String("amount", refund.Money.StringFixed(2)),
				slog.Any("error", err))
			return nil, err
		}
	}

	if compensation {
		m.Log.Warn("compensating refund issued for hardware failure",
			slog.String("booking_id", string(id)),
			slog.String("refund", refund.String()))
	} else {
		m.Log.Info("booking cancelled",
			slog.String("booking_id", string(id)),
			slog.String("refund", refund.String()))
	}
	return &refund, nil
}

// =============================================================================
// READS
// =============================================================================

// GetBooking returns a booking through the transactional store.
func (m *Manager) GetBooking(ctx context.Context, id BookingID) (*Booking, error) {
	var out *Booking
	err := m.Store.WithTx(ctx, func(tx Tx) error {
		b, err := tx.Bookings().Get(ctx, id)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, ErrBookingNotFound
	}
	return out, nil
}

// QuotePoints returns the points charge for a window without booking it.
func (m *Manager) QuotePoints(res Resource, start, end time.Time) int64 {
	return PointsCharge(res.PointsPerHour, start, end)
}

// QuoteMoney returns the money charge for a window without booking it.
func (m *Manager) QuoteMoney(res Resource, start, end time.Time) decimal.Decimal {
	return MoneyCharge(res.MoneyPerHour, start, end)
}
