/*
policy.go - Cancellation refund tiering

PURPOSE:
  Pure refund policy: maps hours-until-start to a refund fraction and
  applies it to the original charge, rounding down to the rail's
  smallest unit (whole points, two-decimal money).

POLICY:
  hoursUntilStart > 12  -> 1.0 (full refund)
  otherwise             -> 0.5

  The function is total: negative inputs (cancelling after start) fall
  into the late tier.

SEE ALSO:
  - manager.go: CancelBooking applies this; hardware compensation does
    NOT - it always refunds in full (see Manager.CompensateHardwareFailure)
*/
package booking

import "github.com/shopspring/decimal"

// CancellationPolicy maps lead time to a refund fraction.
type CancellationPolicy struct {
	// FullRefundHours is the lead-time threshold, exclusive: strictly
	// more than this many hours before start refunds in full.
	FullRefundHours float64

	// LateFraction applies at or below the threshold.
	LateFraction decimal.Decimal
}

// DefaultCancellationPolicy is the building-wide default: full refund
// with more than 12 hours of notice, half otherwise.
var DefaultCancellationPolicy = CancellationPolicy{
	FullRefundHours: 12,
	LateFraction:    decimal.NewFromFloat(0.5),
}

// RefundFraction returns the fraction of the original charge returned
// for a cancellation hoursUntilStart hours before the booking starts.
// Defined for any real input; past-start cancellations resolve to the
// late tier.
func (p CancellationPolicy) RefundFraction(hoursUntilStart float64) decimal.Decimal {
	if hoursUntilStart > p.FullRefundHours {
		return decimal.NewFromInt(1)
	}
	return p.LateFraction
}

// RefundPoints applies the fraction to a points charge, rounded down to
// whole points.
func (p CancellationPolicy) RefundPoints(charged int64, hoursUntilStart float64) int64 {
	return decimal.NewFromInt(charged).
		Mul(p.RefundFraction(hoursUntilStart)).
		Floor().
		IntPart()
}

// RefundMoney applies the fraction to a monetary charge, rounded down to
// two decimals.
func (p CancellationPolicy) RefundMoney(charged decimal.Decimal, hoursUntilStart float64) decimal.Decimal {
	return charged.Mul(p.RefundFraction(hoursUntilStart)).RoundFloor(2)
}
