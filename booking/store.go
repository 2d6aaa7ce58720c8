/*
store.go - Repository interfaces for the reservation core

PURPOSE:
  Defines the persistence contracts the manager depends on. Each entity
  gets its own interface, injected explicitly - the engine never reads a
  shared application-state singleton.

TRANSACTION CONTRACT:
  TxRunner.WithTx gives the callback a transactional view over bookings
  AND wallets. The availability read and the booking insert for one slot
  must both happen through that view, and a points debit joins them, so
  a failure at any step leaves no partial debit and no orphaned row.

IMPLEMENTATIONS:
  - store/sqlite: Production store (WAL, guarded wallet updates)
  - store/memory: In-memory for tests/dev (mutex + snapshot rollback)
*/
package booking

import (
	"context"
	"time"

	"github.com/brikk/amenity-engine/wallet"
)

// =============================================================================
// RESOURCE STORE - Read-only to this engine
// =============================================================================

// ResourceStore looks up amenities. Resources are provisioned by external
// administration; the engine only reads them. A missing resource is
// reported as (nil, nil).
type ResourceStore interface {
	GetResource(ctx context.Context, id ResourceID) (*Resource, error)
	ListResources(ctx context.Context) ([]Resource, error)
	ListResourcesByBuilding(ctx context.Context, buildingID BuildingID) ([]Resource, error)
}

// =============================================================================
// BOOKING STORE
// =============================================================================

// BookingStore persists reservation records.
type BookingStore interface {
	// Insert writes a new booking.
	Insert(ctx context.Context, b Booking) error

	// Get returns a booking, or (nil, nil) if it does not exist.
	Get(ctx context.Context, id BookingID) (*Booking, error)

	// FindOverlapping returns CONFIRMED bookings on the resource whose
	// [Start, End) overlaps [start, end). CANCELLED rows never match.
	FindOverlapping(ctx context.Context, resourceID ResourceID, start, end time.Time) ([]Booking, error)

	// UpdateStatus transitions a booking's stored status.
	UpdateStatus(ctx context.Context, id BookingID, status Status) error

	// ListByRequester returns a requester's bookings, newest first.
	ListByRequester(ctx context.Context, requesterID RequesterID) ([]Booking, error)
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// Tx is the set of stores one booking mutation may touch atomically.
type Tx interface {
	Bookings() BookingStore
	Wallets() wallet.Store
}

// TxRunner executes fn inside a single store transaction. If fn returns
// an error the transaction rolls back and no write survives.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(Tx) error) error
}
