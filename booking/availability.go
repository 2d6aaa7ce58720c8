/*
availability.go - The no-double-booking check

PURPOSE:
  Determines whether a time window on a resource is free of CONFIRMED
  bookings. CANCELLED bookings never block.

CRITICAL INVARIANT:
  The read performed here and the write of a new CONFIRMED booking must
  share one store transaction, or two concurrent creates can both pass
  the check and both insert. Manager.CreateBooking runs both inside
  TxRunner.WithTx; never call IsAvailable on its own as a pre-flight
  guard for an insert.

SEE ALSO:
  - manager.go: Wraps check + insert in one transaction
  - store/sqlite/sqlite.go: FindOverlapping filters on status at the SQL level
*/
package booking

import (
	"context"
	"time"
)

// Overlaps reports whether two half-open intervals [aStart, aEnd) and
// [bStart, bEnd) share any instant.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// AvailabilityChecker answers "is this window free" against a booking store.
// It has no side effects.
type AvailabilityChecker struct {
	Bookings BookingStore
}

// IsAvailable returns true if no CONFIRMED booking on the resource
// overlaps [start, end).
func (c *AvailabilityChecker) IsAvailable(ctx context.Context, resourceID ResourceID, start, end time.Time) (bool, error) {
	existing, err := c.Bookings.FindOverlapping(ctx, resourceID, start, end)
	if err != nil {
		return false, err
	}
	return len(existing) == 0, nil
}
