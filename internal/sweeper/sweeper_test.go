package sweeper

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kennelbook/internal/availability"
	"kennelbook/internal/booking"
	"kennelbook/internal/database"
	"kennelbook/internal/dispatch"
	"kennelbook/internal/events"
	"kennelbook/internal/interval"
	"kennelbook/internal/models"
	"kennelbook/internal/waitlist"
)

type fixture struct {
	db      *database.DB
	coord   *booking.Coordinator
	queue   *waitlist.Queue
	disp    *dispatch.Dispatcher
	sweeper *Sweeper
	index   *interval.Index
}

func setup(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.New(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	idx := interval.NewIndex()
	bus := events.NewBus()
	coord := booking.New(db, idx, bus, booking.Rules{HoldTTL: 10 * time.Minute}, &logger)
	engine := availability.NewEngine(idx, db)
	queue := waitlist.New(db, nil, 30*24*time.Hour, &logger)
	disp := dispatch.New(queue, engine, db, coord, dispatch.NewLogNotifier(&logger),
		dispatch.Config{OfferTTL: time.Hour}, &logger)
	disp.Bind(bus)

	sw := New(db, coord, queue, disp, nil, idx, time.Minute, &logger)
	return &fixture{db: db, coord: coord, queue: queue, disp: disp, sweeper: sw, index: idx}
}

func (f *fixture) addResource(t *testing.T) *models.Resource {
	t.Helper()
	r := &models.Resource{
		ID:       uuid.NewString(),
		TenantID: "t1",
		Name:     "Kennel",
		Category: models.CategoryBoarding,
		Capacity: 1,
		Active:   true,
	}
	require.NoError(t, f.db.CreateResource(context.Background(), r))
	return r
}

func TestSweep_ExpiredHoldFreesSlot(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	r := f.addResource(t)

	start := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Second)
	end := start.Add(24 * time.Hour)

	// A PENDING hold with a ten minute window, never confirmed.
	hold, err := f.coord.Reserve(ctx, "t1", r.ID, "ghost", start, end, booking.ReserveOptions{})
	require.NoError(t, err)
	require.Equal(t, models.ReservationPending, hold.Status)

	// Someone queues for the same dates while the hold blocks them.
	waiting, err := f.queue.Enqueue(ctx, "t1", waitlist.EnqueueRequest{
		RequesterRef:   "waiting",
		Category:       models.CategoryBoarding,
		RequestedStart: start,
		RequestedEnd:   &end,
	})
	require.NoError(t, err)

	// Eleven minutes later the sweep releases the hold; the cancellation
	// event wakes the dispatcher, which offers the slot onward.
	later := time.Now().UTC().Add(11 * time.Minute)
	f.coord.SetClock(func() time.Time { return later })
	f.sweeper.SetClock(func() time.Time { return later })
	f.sweeper.RunOnce(ctx)
	f.disp.Wait()

	got, err := f.db.GetReservation(ctx, "t1", hold.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCancelled, got.Status)
	assert.Equal(t, 0, f.index.Overlaps(r.ID, start, end))

	entry, err := f.queue.Get(ctx, "t1", waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WaitlistOffered, entry.Status)
}

func TestSweep_ExpiredOfferReleasedAndRematched(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	r := f.addResource(t)

	start := time.Now().UTC().Add(72 * time.Hour).Truncate(time.Second)
	end := start.Add(24 * time.Hour)

	e, err := f.queue.Enqueue(ctx, "t1", waitlist.EnqueueRequest{
		RequesterRef:   "cust",
		Category:       models.CategoryBoarding,
		RequestedStart: start,
		RequestedEnd:   &end,
	})
	require.NoError(t, err)

	require.NoError(t, f.disp.Rematch(ctx, "t1", r.ID, models.Interval{Start: start, End: end}))
	f.disp.Wait()

	got, err := f.queue.Get(ctx, "t1", e.ID)
	require.NoError(t, err)
	require.Equal(t, models.WaitlistOffered, got.Status)
	require.Equal(t, 1, got.OfferCount)

	// Two hours later the one hour offer has lapsed: the sweep reverts the
	// entry and re-runs matching for the still-unclaimed slot, so the entry
	// is offered again rather than stranded.
	f.sweeper.SetClock(func() time.Time { return time.Now().UTC().Add(2 * time.Hour) })
	f.sweeper.RunOnce(ctx)
	f.disp.Wait()

	got, err = f.queue.Get(ctx, "t1", e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WaitlistOffered, got.Status)
	assert.Equal(t, 2, got.OfferCount)
}

func TestSweep_StaleEntriesExpireWithNotice(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := database.New(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	idx := interval.NewIndex()
	bus := events.NewBus()
	coord := booking.New(db, idx, bus, booking.DefaultRules(), &logger)
	engine := availability.NewEngine(idx, db)
	queue := waitlist.New(db, nil, 30*24*time.Hour, &logger)
	disp := dispatch.New(queue, engine, db, coord, dispatch.NewLogNotifier(&logger), dispatch.Config{}, &logger)

	var notified []string
	notifier := expiryNotifierFunc(func(_ context.Context, requesterRef string, _ models.WaitlistEntry) error {
		notified = append(notified, requesterRef)
		return nil
	})
	sw := New(db, coord, queue, disp, notifier, idx, time.Minute, &logger)

	ctx := context.Background()
	e, err := queue.Enqueue(ctx, "t1", waitlist.EnqueueRequest{
		RequesterRef:   "forgotten",
		Category:       models.CategoryGrooming,
		RequestedStart: time.Now().UTC().Add(24 * time.Hour),
	})
	require.NoError(t, err)

	sw.SetClock(func() time.Time { return time.Now().UTC().Add(31 * 24 * time.Hour) })
	sw.RunOnce(ctx)

	got, err := queue.Get(ctx, "t1", e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WaitlistExpired, got.Status)
	assert.Equal(t, []string{"forgotten"}, notified)
}

func TestSweep_PrunesPastIntervals(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	r := f.addResource(t)

	past := time.Now().UTC().Add(-48 * time.Hour)
	f.index.Insert(r.ID, "old-res", past, past.Add(24*time.Hour))
	require.Equal(t, 1, f.index.Size())

	f.sweeper.RunOnce(ctx)
	assert.Equal(t, 0, f.index.Size())
}

func TestStartStop(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.sweeper.Start(ctx)
	f.sweeper.Start(ctx) // second start is a no-op
	f.sweeper.Stop()
	f.sweeper.Stop() // idempotent
}

type expiryNotifierFunc func(ctx context.Context, requesterRef string, entry models.WaitlistEntry) error

func (f expiryNotifierFunc) NotifyWaitlistExpired(ctx context.Context, requesterRef string, entry models.WaitlistEntry) error {
	return f(ctx, requesterRef, entry)
}
