/*
Package booking provides the reservation core of the amenity engine.

PURPOSE:
  This package contains the domain types and orchestration logic for
  reserving shared building amenities (sauna, laundry room, ...): slot
  allocation, charging on one of two payment rails, and tiered refunds
  on cancellation.

KEY CONCEPTS IN THIS FILE (types.go):
  - Resource: A bookable amenity with per-hour prices and a power rating
  - Booking: A confirmed reservation of a half-open time window [Start, End)
  - Rail: Which of the two payment mechanisms settled the charge
  - Refund: The outcome of a cancellation or compensating reversal

DESIGN PRINCIPLES:
  1. Precision: money uses decimal.Decimal, points use int64 - no floats
  2. Type Safety: strong ID types prevent mixing resource/booking/requester IDs
  3. Invariant first: no two CONFIRMED bookings overlap on one resource;
     that check and the booking insert always share one transaction

SEE ALSO:
  - manager.go: Create/cancel orchestration
  - availability.go: The overlap test
  - policy.go: Refund tiering
  - store.go: Repository interfaces
*/
package booking

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ResourceID string
type BookingID string
type RequesterID string
type BuildingID string

// =============================================================================
// PAYMENT RAIL
// =============================================================================

// Rail selects which of the two parallel payment mechanisms a booking's
// cost is settled through.
type Rail string

const (
	// RailPoints settles against the requester's internal points wallet.
	RailPoints Rail = "points"

	// RailMoney settles through the monetary payment gateway.
	RailMoney Rail = "money"
)

func (r Rail) Valid() bool { return r == RailPoints || r == RailMoney }

// =============================================================================
// RESOURCE - A bookable amenity (read-only to this engine)
// =============================================================================

// Resource is administered externally; the engine only reads it.
type Resource struct {
	ID         ResourceID
	Name       string
	BuildingID BuildingID

	// Per-hour prices on each rail.
	PointsPerHour int64
	MoneyPerHour  decimal.Decimal

	// Power rating of the attached actuator, in kW. Used for energy billing.
	PowerRatingKw decimal.Decimal
}

// =============================================================================
// BOOKING - An exclusive reservation of a resource time window
// =============================================================================

type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"

	// StatusCompleted is never persisted. A booking whose end has passed
	// while still CONFIRMED reports it through EffectiveStatus; the stored
	// row stays CONFIRMED. See EffectiveStatus.
	StatusCompleted Status = "completed"
)

// Booking holds the authoritative reservation record.
// The interval is half-open: [Start, End). Two bookings on the same
// resource conflict iff Start < other.End && End > other.Start.
type Booking struct {
	ID          BookingID
	ResourceID  ResourceID
	RequesterID RequesterID
	Start       time.Time
	End         time.Time
	Rail        Rail
	Status      Status

	// AccessCode is a short numeric code for physical entry.
	// It is not an authorization credential.
	AccessCode string

	// Exactly one of these carries the original charge, per Rail.
	ChargedPoints int64
	ChargedMoney  decimal.Decimal

	CreatedAt time.Time
}

// DurationHours returns the booked window length in hours as a decimal.
func (b Booking) DurationHours() decimal.Decimal {
	return decimal.NewFromFloat(b.End.Sub(b.Start).Hours())
}

// EffectiveStatus derives the display status at a point in time.
// A CONFIRMED booking whose window has fully passed is reported as
// completed; there is no sweep process that rewrites the row.
func (b Booking) EffectiveStatus(now time.Time) Status {
	if b.Status == StatusConfirmed && !now.Before(b.End) {
		return StatusCompleted
	}
	return b.Status
}

// =============================================================================
// REFUND - Result of a cancellation or compensating reversal
// =============================================================================

type Refund struct {
	Rail   Rail
	Points int64
	Money  decimal.Decimal
}

func (r Refund) String() string {
	if r.Rail == RailPoints {
		return fmt.Sprintf("%d points", r.Points)
	}
	return fmt.Sprintf("%s money", r.Money.StringFixed(2))
}

// =============================================================================
// CHARGE CALCULATION
// =============================================================================

// PointsCharge computes the points cost for a window on a resource:
// ceil(pointsPerHour * durationHours). Fractional hours round the
// charge up to the next whole point.
func PointsCharge(pointsPerHour int64, start, end time.Time) int64 {
	hours := decimal.NewFromFloat(end.Sub(start).Hours())
	return decimal.NewFromInt(pointsPerHour).Mul(hours).Ceil().IntPart()
}

// MoneyCharge computes the monetary cost for a window on a resource:
// moneyPerHour * durationHours, with no rounding up. Fractional amounts
// are valid on this rail.
func MoneyCharge(moneyPerHour decimal.Decimal, start, end time.Time) decimal.Decimal {
	hours := decimal.NewFromFloat(end.Sub(start).Hours())
	return moneyPerHour.Mul(hours)
}

// =============================================================================
// ACCESS CODE
// =============================================================================

const accessCodeDigits = 6

// NewAccessCode generates a 6-digit numeric entry code from a
// cryptographically secure source.
func NewAccessCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < accessCodeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("failed to generate access code: %w", err)
	}
	return fmt.Sprintf("%0*d", accessCodeDigits, n), nil
}
