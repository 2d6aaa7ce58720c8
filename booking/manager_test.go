package booking_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brikk/amenity-engine/booking"
	"github.com/brikk/amenity-engine/notify"
	"github.com/brikk/amenity-engine/store/memory"
	"github.com/brikk/amenity-engine/wallet"
)

var testLog = slog.New(slog.NewTextHandler(io.Discard, nil))

const (
	sauna   = booking.ResourceID("sauna-1")
	laundry = booking.ResourceID("laundry-1")
	alice   = booking.RequesterID("alice")
	bob     = booking.RequesterID("bob")
)

func at(hour, min int) time.Time {
	return time.Date(2026, 3, 10, hour, min, 0, 0, time.UTC)
}

func newTestManager(t *testing.T) (*booking.Manager, *memory.Store, *wallet.StubGateway) {
	t.Helper()

	store := memory.New()
	store.PutResource(booking.Resource{
		ID:            sauna,
		Name:          "Sauna",
		BuildingID:    "bldg-1",
		PointsPerHour: 10,
		MoneyPerHour:  decimal.RequireFromString("12.50"),
		PowerRatingKw: decimal.RequireFromString("6"),
	})
	store.PutResource(booking.Resource{
		ID:            laundry,
		Name:          "Laundry room",
		BuildingID:    "bldg-1",
		PointsPerHour: 2,
		MoneyPerHour:  decimal.RequireFromString("3.00"),
		PowerRatingKw: decimal.RequireFromString("2.2"),
	})
	store.PutWallet(string(alice), 25)
	store.PutWallet(string(bob), 100)

	gateway := wallet.NewStubGateway()
	m := booking.NewManager(store, store, gateway, store, testLog)
	m.Clock = func() time.Time { return at(0, 0) }
	return m, store, gateway
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreateBooking_PointsRail(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	// GIVEN alice holds 25 points and the sauna costs 10 points/hour
	// WHEN she books a two-hour slot
	// THEN the booking confirms, 20 points are debited, and a reminder
	// carrying the access code is queued
	b, err := m.CreateBooking(ctx, alice, sauna, at(14, 0), at(16, 0), booking.RailPoints)
	require.NoError(t, err)

	assert.Equal(t, booking.StatusConfirmed, b.Status)
	assert.Equal(t, int64(20), b.ChargedPoints)
	assert.Len(t, b.AccessCode, 6)

	balance, err := store.GetBalance(ctx, string(alice))
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)

	tasks, err := store.Due(ctx, at(23, 59), 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, notify.KindPreStartReminder, tasks[0].Kind)
	assert.Equal(t, b.AccessCode, tasks[0].Payload["access_code"])
	// Reminder fires one hour before start.
	assert.Equal(t, at(13, 0), tasks[0].DueAt)
}

func TestCreateBooking_InsufficientPoints(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	// alice has 25 points; three hours of sauna cost 30.
	_, err := m.CreateBooking(ctx, alice, sauna, at(14, 0), at(17, 0), booking.RailPoints)

	var insufficient *wallet.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(30), insufficient.Required)
	assert.Equal(t, int64(25), insufficient.Available)

	// Nothing was persisted and the balance is untouched.
	balance, _ := store.GetBalance(ctx, string(alice))
	assert.Equal(t, int64(25), balance)

	existing, _ := store.FindOverlapping(ctx, sauna, at(14, 0), at(17, 0))
	assert.Empty(t, existing)
}

func TestCreateBooking_SlotTaken(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.CreateBooking(ctx, alice, sauna, at(14, 0), at(15, 0), booking.RailPoints)
	require.NoError(t, err)

	// An overlapping window on the same resource is rejected and bob's
	// wallet is not debited.
	_, err = m.CreateBooking(ctx, bob, sauna, at(14, 30), at(15, 30), booking.RailPoints)
	require.Error(t, err)
	assert.ErrorIs(t, err, booking.ErrSlotUnavailable)

	var slotErr *booking.SlotUnavailableError
	require.ErrorAs(t, err, &slotErr)
	assert.Equal(t, first.ID, slotErr.BlockedBy)

	balance, _ := store.GetBalance(ctx, string(bob))
	assert.Equal(t, int64(100), balance)
}

func TestCreateBooking_BackToBackAllowed(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.CreateBooking(ctx, alice, sauna, at(14, 0), at(15, 0), booking.RailPoints)
	require.NoError(t, err)

	// [15:00, 16:00) shares only the boundary instant with [14:00, 15:00).
	_, err = m.CreateBooking(ctx, bob, sauna, at(15, 0), at(16, 0), booking.RailPoints)
	assert.NoError(t, err)
}

func TestCreateBooking_SameWindowDifferentResources(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.CreateBooking(ctx, alice, sauna, at(14, 0), at(15, 0), booking.RailPoints)
	require.NoError(t, err)

	_, err = m.CreateBooking(ctx, bob, laundry, at(14, 0), at(15, 0), booking.RailPoints)
	assert.NoError(t, err)
}

func TestCreateBooking_MoneyRail(t *testing.T) {
	m, _, gateway := newTestManager(t)
	ctx := context.Background()

	b, err := m.CreateBooking(ctx, bob, sauna, at(14, 0), at(16, 0), booking.RailMoney)
	require.NoError(t, err)

	assert.True(t, b.ChargedMoney.Equal(decimal.RequireFromString("25")),
		"charged %s", b.ChargedMoney)
	assert.True(t, gateway.NetCharged(string(b.ID)).Equal(decimal.RequireFromString("25")))
	// The points balance plays no part on the money rail.
	assert.Equal(t, int64(0), b.ChargedPoints)
}

func TestCreateBooking_ValidationErrors(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.CreateBooking(ctx, alice, sauna, at(15, 0), at(14, 0), booking.RailPoints)
	assert.ErrorIs(t, err, booking.ErrInvalidWindow)

	_, err = m.CreateBooking(ctx, alice, sauna, at(14, 0), at(14, 0), booking.RailPoints)
	assert.ErrorIs(t, err, booking.ErrInvalidWindow)

	_, err = m.CreateBooking(ctx, alice, sauna, at(14, 0), at(15, 0), booking.Rail("crypto"))
	assert.ErrorIs(t, err, booking.ErrInvalidRail)

	_, err = m.CreateBooking(ctx, alice, "ghost", at(14, 0), at(15, 0), booking.RailPoints)
	assert.ErrorIs(t, err, booking.ErrResourceNotFound)
}

func TestCreateBooking_ConcurrentSameSlot(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	// GIVEN ten requesters racing for the same sauna hour
	// WHEN all creates run concurrently
	// THEN exactly one confirms and the rest fail on availability
	const n = 10
	for i := 0; i < n; i++ {
		store.PutWallet(string(requesterN(i)), 50)
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.CreateBooking(ctx, requesterN(i), sauna, at(14, 0), at(15, 0), booking.RailPoints)
		}(i)
	}
	wg.Wait()

	var won, lost int
	for i, err := range errs {
		switch {
		case err == nil:
			won++
			balance, _ := store.GetBalance(ctx, string(requesterN(i)))
			assert.Equal(t, int64(40), balance)
		case errors.Is(err, booking.ErrSlotUnavailable):
			lost++
			balance, _ := store.GetBalance(ctx, string(requesterN(i)))
			assert.Equal(t, int64(50), balance, "loser %d was debited", i)
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, n-1, lost)
}

func requesterN(i int) booking.RequesterID {
	return booking.RequesterID(string(rune('a'+i)) + "-racer")
}

// =============================================================================
// CANCEL
// =============================================================================

func TestCancelBooking_FullRefundTier(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	// Booked at midnight for 14:00: a 14-hour lead, beyond the 12-hour
	// boundary, so the full 20 points come back.
	b, err := m.CreateBooking(ctx, alice, sauna, at(14, 0), at(16, 0), booking.RailPoints)
	require.NoError(t, err)

	refund, err := m.CancelBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), refund.Points)

	balance, _ := store.GetBalance(ctx, string(alice))
	assert.Equal(t, int64(25), balance)

	got, err := m.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, got.Status)
}

func TestCancelBooking_LateTier(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	b, err := m.CreateBooking(ctx, alice, sauna, at(14, 0), at(16, 0), booking.RailPoints)
	require.NoError(t, err)

	// Three hours before start: inside the late tier, half comes back.
	m.Clock = func() time.Time { return at(11, 0) }

	refund, err := m.CancelBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), refund.Points)

	balance, _ := store.GetBalance(ctx, string(alice))
	assert.Equal(t, int64(15), balance)
}

func TestCancelBooking_MoneyRail(t *testing.T) {
	m, _, gateway := newTestManager(t)
	ctx := context.Background()

	b, err := m.CreateBooking(ctx, bob, sauna, at(14, 0), at(16, 0), booking.RailMoney)
	require.NoError(t, err)

	m.Clock = func() time.Time { return at(11, 0) }

	refund, err := m.CancelBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, refund.Money.Equal(decimal.RequireFromString("12.50")), "refund %s", refund.Money)

	// Net charged: 25 charged minus 12.50 refunded.
	assert.True(t, gateway.NetCharged(string(b.ID)).Equal(decimal.RequireFromString("12.50")))
}

func TestCancelBooking_Terminal(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	b, err := m.CreateBooking(ctx, alice, sauna, at(14, 0), at(16, 0), booking.RailPoints)
	require.NoError(t, err)

	_, err = m.CancelBooking(ctx, b.ID)
	require.NoError(t, err)

	// A second cancel must not issue a second refund.
	_, err = m.CancelBooking(ctx, b.ID)
	assert.ErrorIs(t, err, booking.ErrBookingNotActive)
}

func TestCancelBooking_NotFound(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.CancelBooking(context.Background(), "nope")
	assert.ErrorIs(t, err, booking.ErrBookingNotFound)
}

// =============================================================================
// HARDWARE COMPENSATION
// =============================================================================

func TestCompensateHardwareFailure_FullRefundRegardlessOfLead(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	b, err := m.CreateBooking(ctx, alice, sauna, at(14, 0), at(16, 0), booking.RailPoints)
	require.NoError(t, err)

	// One hour before start a caller cancel would refund half; the
	// system-triggered compensation returns everything.
	m.Clock = func() time.Time { return at(13, 0) }

	refund, err := m.CompensateHardwareFailure(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), refund.Points)

	balance, _ := store.GetBalance(ctx, string(alice))
	assert.Equal(t, int64(25), balance)

	got, err := m.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, got.Status)
}
