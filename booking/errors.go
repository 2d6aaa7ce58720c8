/*
errors.go - Centralized error taxonomy for the reservation core

PURPOSE:
  All booking-level error types in one place. Collaborating packages
  (device, api) match on these with errors.Is/errors.As rather than
  string comparison.

ERROR CATEGORIES:
  1. Caller errors   - bad input, missing records; surfaced as-is, no retry
  2. Contention      - SlotUnavailable; expected outcome, client retries
                       with a different window
  3. Funds           - InsufficientFunds with required vs available amounts

SEE ALSO:
  - manager.go: Produces these errors
  - wallet/wallet.go: Funds errors originate there and are surfaced unwrapped
  - device/relay.go: Hardware-side errors (RelayOffline, SafetyViolation)
*/
package booking

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrResourceNotFound is returned when the referenced amenity does not exist.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrBookingNotFound is returned when the referenced booking does not exist.
	ErrBookingNotFound = errors.New("booking not found")

	// ErrBookingNotActive is returned when cancelling a booking that is not
	// CONFIRMED. Cancellation is not idempotent: a second cancel is rejected,
	// not silently accepted.
	ErrBookingNotActive = errors.New("booking not active")

	// ErrSlotUnavailable is returned when the requested window overlaps an
	// existing CONFIRMED booking. This is expected contention, not a fault.
	ErrSlotUnavailable = errors.New("slot unavailable")

	// ErrInvalidWindow is returned when end <= start.
	ErrInvalidWindow = errors.New("invalid window: end must be after start")

	// ErrInvalidRail is returned for an unknown payment rail.
	ErrInvalidRail = errors.New("invalid payment rail")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// SlotUnavailableError reports which existing booking blocked the window.
type SlotUnavailableError struct {
	ResourceID ResourceID
	Start      time.Time
	End        time.Time
	BlockedBy  BookingID
}

func (e *SlotUnavailableError) Error() string {
	return fmt.Sprintf("slot unavailable: %s [%s, %s) conflicts with booking %s",
		e.ResourceID, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339), e.BlockedBy)
}

func (e *SlotUnavailableError) Unwrap() error { return ErrSlotUnavailable }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsCallerError returns true if the error is due to invalid client input
// and should not be retried as-is.
func IsCallerError(err error) bool {
	return errors.Is(err, ErrResourceNotFound) ||
		errors.Is(err, ErrBookingNotFound) ||
		errors.Is(err, ErrBookingNotActive) ||
		errors.Is(err, ErrInvalidWindow) ||
		errors.Is(err, ErrInvalidRail)
}

// IsContention returns true for the expected book-a-taken-slot outcome.
// Clients retry with a different window, not the same one.
func IsContention(err error) bool {
	return errors.Is(err, ErrSlotUnavailable)
}
