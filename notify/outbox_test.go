package notify_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brikk/amenity-engine/notify"
	"github.com/brikk/amenity-engine/store/memory"
)

var testLog = slog.New(slog.NewTextHandler(io.Discard, nil))

func task(id, bookingID string, due time.Time) notify.Task {
	return notify.Task{
		ID:        id,
		BookingID: bookingID,
		Kind:      notify.KindPreStartReminder,
		Recipient: notify.RecipientResident,
		Title:     "Upcoming reservation",
		Body:      "Starts soon",
		DueAt:     due,
		CreatedAt: due.Add(-time.Hour),
	}
}

// flakyDispatcher fails the first n sends, then succeeds.
type flakyDispatcher struct {
	mu       sync.Mutex
	failures int
	sent     []string
}

func (d *flakyDispatcher) Send(_ context.Context, _ notify.RecipientClass, title, _ string, _ map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures > 0 {
		d.failures--
		return errors.New("broker unavailable")
	}
	d.sent = append(d.sent, title)
	return nil
}

func TestEnqueue_DedupByBookingAndKind(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	due := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)

	require.NoError(t, store.Enqueue(ctx, task("t1", "bk-1", due)))

	// Same booking, same kind: rejected even with a fresh task ID.
	err := store.Enqueue(ctx, task("t2", "bk-1", due))
	assert.ErrorIs(t, err, notify.ErrDuplicateTask)

	// A different booking is unaffected.
	assert.NoError(t, store.Enqueue(ctx, task("t3", "bk-2", due)))

	tasks, err := store.Due(ctx, due, 10)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestDrainOnce_DeliversDueTasksOnly(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Enqueue(ctx, task("t1", "bk-1", now.Add(-time.Minute))))
	require.NoError(t, store.Enqueue(ctx, task("t2", "bk-2", now.Add(time.Hour))))

	dispatcher := &flakyDispatcher{}
	worker := notify.NewWorker(store, dispatcher, testLog)
	worker.DrainOnce(ctx)

	// Only the overdue task went out.
	assert.Len(t, dispatcher.sent, 1)

	// A second drain does not re-deliver it.
	worker.DrainOnce(ctx)
	assert.Len(t, dispatcher.sent, 1)
}

func TestDrainOnce_FailedSendStaysQueued(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Enqueue(ctx, task("t1", "bk-1", now.Add(-time.Minute))))

	dispatcher := &flakyDispatcher{failures: 1}
	worker := notify.NewWorker(store, dispatcher, testLog)

	// First pass fails; the task records the attempt and stays queued.
	worker.DrainOnce(ctx)
	assert.Empty(t, dispatcher.sent)

	tasks, err := store.Due(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 1, tasks[0].Attempts)
	assert.Nil(t, tasks[0].DoneAt)

	// Second pass succeeds.
	worker.DrainOnce(ctx)
	assert.Len(t, dispatcher.sent, 1)

	tasks, err = store.Due(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestWorker_StartStop(t *testing.T) {
	store := memory.New()
	worker := notify.NewWorker(store, &flakyDispatcher{}, testLog)
	worker.Interval = 10 * time.Millisecond

	worker.Start()
	time.Sleep(30 * time.Millisecond)
	worker.Stop()
}

func TestWorker_StopIsIdempotent(t *testing.T) {
	store := memory.New()
	worker := notify.NewWorker(store, &flakyDispatcher{}, testLog)
	worker.Interval = 10 * time.Millisecond

	// Stop before Start is a no-op.
	worker.Stop()

	worker.Start()
	worker.Stop()
	worker.Stop()

	// The worker can come back after a full stop.
	worker.Start()
	worker.Stop()
}
