package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brikk/amenity-engine/booking"
	"github.com/brikk/amenity-engine/device"
	"github.com/brikk/amenity-engine/metering"
	"github.com/brikk/amenity-engine/notify"
	"github.com/brikk/amenity-engine/wallet"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedSauna(t *testing.T, s *Store) booking.Resource {
	t.Helper()
	res := booking.Resource{
		ID:            "sauna-1",
		Name:          "Sauna",
		BuildingID:    "bldg-1",
		PointsPerHour: 10,
		MoneyPerHour:  decimal.RequireFromString("12.50"),
		PowerRatingKw: decimal.RequireFromString("6"),
	}
	require.NoError(t, s.SaveResource(context.Background(), res))
	return res
}

func at(hour, min int) time.Time {
	return time.Date(2026, 3, 10, hour, min, 0, 0, time.UTC)
}

func testBooking(id booking.BookingID, start, end time.Time) booking.Booking {
	return booking.Booking{
		ID:            id,
		ResourceID:    "sauna-1",
		RequesterID:   "alice",
		Start:         start,
		End:           end,
		Rail:          booking.RailPoints,
		Status:        booking.StatusConfirmed,
		AccessCode:    "123456",
		ChargedPoints: 20,
		ChargedMoney:  decimal.Zero,
		CreatedAt:     at(0, 0),
	}
}

// =============================================================================
// RESOURCES
// =============================================================================

func TestResources_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seeded := seedSauna(t, s)

	got, err := s.GetResource(ctx, seeded.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, seeded.Name, got.Name)
	assert.True(t, got.MoneyPerHour.Equal(seeded.MoneyPerHour))
	assert.True(t, got.PowerRatingKw.Equal(seeded.PowerRatingKw))

	missing, err := s.GetResource(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)

	byBuilding, err := s.ListResourcesByBuilding(ctx, "bldg-1")
	require.NoError(t, err)
	assert.Len(t, byBuilding, 1)

	other, err := s.ListResourcesByBuilding(ctx, "bldg-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

// =============================================================================
// BOOKINGS
// =============================================================================

func TestBookings_OverlapQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSauna(t, s)

	require.NoError(t, s.Insert(ctx, testBooking("bk-1", at(14, 0), at(15, 0))))

	overlapping, err := s.FindOverlapping(ctx, "sauna-1", at(14, 30), at(15, 30))
	require.NoError(t, err)
	require.Len(t, overlapping, 1)
	assert.Equal(t, booking.BookingID("bk-1"), overlapping[0].ID)

	// Back-to-back windows do not collide.
	adjacent, err := s.FindOverlapping(ctx, "sauna-1", at(15, 0), at(16, 0))
	require.NoError(t, err)
	assert.Empty(t, adjacent)

	// Cancelled bookings release the slot.
	require.NoError(t, s.UpdateStatus(ctx, "bk-1", booking.StatusCancelled))
	released, err := s.FindOverlapping(ctx, "sauna-1", at(14, 30), at(15, 30))
	require.NoError(t, err)
	assert.Empty(t, released)
}

func TestBookings_GetAndStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSauna(t, s)

	b := testBooking("bk-1", at(14, 0), at(16, 0))
	require.NoError(t, s.Insert(ctx, b))

	got, err := s.Get(ctx, "bk-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, b.AccessCode, got.AccessCode)
	assert.Equal(t, b.ChargedPoints, got.ChargedPoints)
	assert.True(t, got.Start.Equal(b.Start))
	assert.True(t, got.End.Equal(b.End))

	missing, err := s.Get(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.ErrorIs(t, s.UpdateStatus(ctx, "ghost", booking.StatusCancelled), booking.ErrBookingNotFound)

	history, err := s.ListByRequester(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestBookings_CorruptTimestampFailsLoudly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSauna(t, s)

	// GIVEN a row whose start_at is not RFC3339
	// WHEN the booking is read back
	// THEN the read fails instead of returning a zero time
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookings (id, resource_id, requester_id, start_at, end_at, rail, status, access_code, charged_points, charged_money, created_at)
		VALUES ('bk-bad', 'sauna-1', 'alice', 'not-a-timestamp', ?, 'points', 'confirmed', '123456', 20, '0', ?)
	`, formatTime(at(16, 0)), formatTime(at(0, 0)))
	require.NoError(t, err)

	_, err = s.Get(ctx, "bk-bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt timestamp")
}

// =============================================================================
// WALLETS
// =============================================================================

func TestWallet_GuardedDebit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveWallet(ctx, "alice", 25))

	require.NoError(t, s.Debit(ctx, "alice", 20))

	balance, err := s.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)

	// Overdraw is rejected with the shortfall reported.
	err = s.Debit(ctx, "alice", 10)
	var insufficient *wallet.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(10), insufficient.Required)
	assert.Equal(t, int64(5), insufficient.Available)

	// The failed debit left the balance alone.
	balance, _ = s.GetBalance(ctx, "alice")
	assert.Equal(t, int64(5), balance)

	require.NoError(t, s.Credit(ctx, "alice", 20))
	balance, _ = s.GetBalance(ctx, "alice")
	assert.Equal(t, int64(25), balance)
}

func TestWallet_MissingAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetBalance(ctx, "ghost")
	assert.ErrorIs(t, err, wallet.ErrWalletNotFound)

	assert.ErrorIs(t, s.Debit(ctx, "ghost", 5), wallet.ErrWalletNotFound)
	assert.ErrorIs(t, s.Credit(ctx, "ghost", 5), wallet.ErrWalletNotFound)

	assert.ErrorIs(t, s.Debit(ctx, "ghost", 0), wallet.ErrInvalidAmount)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSauna(t, s)
	require.NoError(t, s.SaveWallet(ctx, "alice", 25))

	// GIVEN a callback that debits and inserts, then fails
	// WHEN the transaction aborts
	// THEN neither the debit nor the insert survives
	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx booking.Tx) error {
		if err := tx.Wallets().Debit(ctx, "alice", 20); err != nil {
			return err
		}
		if err := tx.Bookings().Insert(ctx, testBooking("bk-1", at(14, 0), at(16, 0))); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	balance, _ := s.GetBalance(ctx, "alice")
	assert.Equal(t, int64(25), balance)

	got, _ := s.Get(ctx, "bk-1")
	assert.Nil(t, got)
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSauna(t, s)
	require.NoError(t, s.SaveWallet(ctx, "alice", 25))

	err := s.WithTx(ctx, func(tx booking.Tx) error {
		existing, err := tx.Bookings().FindOverlapping(ctx, "sauna-1", at(14, 0), at(16, 0))
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return booking.ErrSlotUnavailable
		}
		if err := tx.Wallets().Debit(ctx, "alice", 20); err != nil {
			return err
		}
		return tx.Bookings().Insert(ctx, testBooking("bk-1", at(14, 0), at(16, 0)))
	})
	require.NoError(t, err)

	balance, _ := s.GetBalance(ctx, "alice")
	assert.Equal(t, int64(5), balance)

	got, err := s.Get(ctx, "bk-1")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

// =============================================================================
// POWER EVENTS
// =============================================================================

func TestPowerEvents_AppendAndLastOn(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	none, err := s.LastOn(ctx, "bk-1")
	require.NoError(t, err)
	assert.Nil(t, none)

	on := device.PowerEvent{
		ID: "ev-1", BookingID: "bk-1", ResourceID: "sauna-1",
		Type: device.CommandOn, At: at(14, 0),
	}
	require.NoError(t, s.Append(ctx, on))

	off := device.PowerEvent{
		ID: "ev-2", BookingID: "bk-1", ResourceID: "sauna-1",
		Type: device.CommandOff, At: at(15, 30),
		DurationMinutes: decimal.RequireFromString("90"),
		EnergyKwh:       decimal.RequireFromString("9"),
		Cost:            decimal.RequireFromString("2.25"),
	}
	require.NoError(t, s.Append(ctx, off))

	last, err := s.LastOn(ctx, "bk-1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "ev-1", last.ID)

	events, err := s.ListByBooking(ctx, "bk-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, device.CommandOn, events[0].Type)
	assert.True(t, events[1].Cost.Equal(off.Cost))
	assert.True(t, events[1].EnergyKwh.Equal(off.EnergyKwh))
}

// =============================================================================
// BUDGET LINES
// =============================================================================

func TestBudgetLines_IncrementAndNoOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveBudgetLine(ctx, "bldg-1", 2026, metering.CategoryEnergy, decimal.RequireFromString("100")))

	require.NoError(t, s.IncrementActualSpend(ctx, "bldg-1", 2026, metering.CategoryEnergy, decimal.RequireFromString("2.25")))

	spend, ok, err := s.GetBudgetLine(ctx, "bldg-1", 2026, metering.CategoryEnergy)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, spend.Equal(decimal.RequireFromString("102.25")), "spend %s", spend)

	// No line for 2027: the increment is silently dropped.
	require.NoError(t, s.IncrementActualSpend(ctx, "bldg-1", 2027, metering.CategoryEnergy, decimal.RequireFromString("5")))
	_, ok, err = s.GetBudgetLine(ctx, "bldg-1", 2027, metering.CategoryEnergy)
	require.NoError(t, err)
	assert.False(t, ok)
}

// =============================================================================
// OUTBOX
// =============================================================================

func TestOutbox_DedupAndLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	due := at(13, 0)

	first := notify.Task{
		ID: "t1", BookingID: "bk-1", Kind: notify.KindPreStartReminder,
		Recipient: notify.RecipientResident, Title: "Upcoming reservation",
		Body: "Starts at 14:00", Payload: map[string]string{"access_code": "123456"},
		DueAt: due, CreatedAt: at(0, 0),
	}
	require.NoError(t, s.Enqueue(ctx, first))

	// Dedup on (booking, kind).
	dup := first
	dup.ID = "t2"
	assert.ErrorIs(t, s.Enqueue(ctx, dup), notify.ErrDuplicateTask)

	// Not due yet at noon.
	tasks, err := s.Due(ctx, at(12, 0), 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	tasks, err = s.Due(ctx, at(13, 0), 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "123456", tasks[0].Payload["access_code"])

	require.NoError(t, s.MarkAttempt(ctx, "t1"))
	tasks, _ = s.Due(ctx, at(13, 0), 10)
	require.Len(t, tasks, 1)
	assert.Equal(t, 1, tasks[0].Attempts)

	require.NoError(t, s.MarkDone(ctx, "t1", at(13, 1)))
	tasks, _ = s.Due(ctx, at(14, 0), 10)
	assert.Empty(t, tasks)
}
