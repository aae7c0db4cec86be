package waitlist

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kennelbook/internal/database"
	"kennelbook/internal/models"
)

func newTestQueue(t *testing.T) (*Queue, *database.DB) {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.New(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, nil, 30*24*time.Hour, &logger), db
}

func dec(day int) time.Time {
	return time.Date(2026, 12, day, 12, 0, 0, 0, time.UTC)
}

func boardingRequest(requester string, day int) EnqueueRequest {
	end := dec(day + 2)
	return EnqueueRequest{
		RequesterRef:   requester,
		Category:       models.CategoryBoarding,
		RequestedStart: dec(day),
		RequestedEnd:   &end,
	}
}

func TestEnqueue_DuplicateRejected(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "t1", boardingRequest("cust-1", 1))
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, "t1", boardingRequest("cust-1", 1))
	assert.ErrorIs(t, err, models.ErrDuplicateEntry)

	// Same demand from another requester or another tenant is fine.
	_, err = q.Enqueue(ctx, "t1", boardingRequest("cust-2", 1))
	assert.NoError(t, err)
	_, err = q.Enqueue(ctx, "t2", boardingRequest("cust-1", 1))
	assert.NoError(t, err)

	// Same start with a longer stay is distinct demand, as is a start-only
	// request for the same day.
	longer := boardingRequest("cust-1", 1)
	longEnd := dec(5)
	longer.RequestedEnd = &longEnd
	_, err = q.Enqueue(ctx, "t1", longer)
	assert.NoError(t, err)

	open := boardingRequest("cust-1", 1)
	open.RequestedEnd = nil
	_, err = q.Enqueue(ctx, "t1", open)
	assert.NoError(t, err)
	_, err = q.Enqueue(ctx, "t1", open)
	assert.ErrorIs(t, err, models.ErrDuplicateEntry)
}

func TestEnqueue_Validation(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "t1", EnqueueRequest{
		RequesterRef:   "c",
		Category:       "SPA",
		RequestedStart: dec(1),
	})
	assert.ErrorIs(t, err, models.ErrConfiguration)

	start := dec(3)
	_, err = q.Enqueue(ctx, "t1", EnqueueRequest{
		RequesterRef:   "c",
		Category:       models.CategoryBoarding,
		RequestedStart: start,
		RequestedEnd:   &start,
	})
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestPositionOf_FIFO(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	base := time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC)
	var entries []*models.WaitlistEntry
	for i := 0; i < 3; i++ {
		offset := time.Duration(i) * time.Minute
		q.SetClock(func() time.Time { return base.Add(offset) })
		e, err := q.Enqueue(ctx, "t1", boardingRequest("cust", 1+i*3))
		require.NoError(t, err)
		entries = append(entries, e)
	}

	for i, e := range entries {
		pos, err := q.PositionOf(ctx, "t1", e.ID)
		require.NoError(t, err)
		assert.Equal(t, i+1, pos, "earlier enqueue ranks ahead")
	}

	// Cancelling the head promotes everyone behind it.
	require.NoError(t, q.Cancel(ctx, "t1", entries[0].ID))
	pos, err := q.PositionOf(ctx, "t1", entries[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
}

func TestPositionOf_CustomScorer(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := database.New(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// Loyalty-weighted scoring: VIP requesters jump the line.
	scorer := func(req *EnqueueRequest, now time.Time) int64 {
		score := now.UnixNano()
		if req.RequesterRef == "vip" {
			score -= int64(365 * 24 * time.Hour)
		}
		return score
	}
	q := New(db, scorer, 30*24*time.Hour, &logger)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, "t1", boardingRequest("regular", 1))
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, "t1", boardingRequest("vip", 5))
	require.NoError(t, err)

	pos, err := q.PositionOf(ctx, "t1", second.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
	pos, err = q.PositionOf(ctx, "t1", first.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, pos)
}

func TestDequeueMatching(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	kennel := &models.Resource{
		ID:       "r2",
		TenantID: "t1",
		Category: models.CategoryBoarding,
		Staff:    "alice",
		Capacity: 1,
		Active:   true,
	}

	// Scenario: E1 wants [Dec 1, Dec 3) with flexibility of two days; R2
	// frees [Dec 2, Dec 4).
	end := dec(3)
	e1, err := q.Enqueue(ctx, "t1", EnqueueRequest{
		RequesterRef:   "e1",
		Category:       models.CategoryBoarding,
		RequestedStart: dec(1),
		RequestedEnd:   &end,
		Flexible:       true,
		FlexDays:       2,
	})
	require.NoError(t, err)

	// Rigid entry for the same dates does not drift.
	_, err = q.Enqueue(ctx, "t1", EnqueueRequest{
		RequesterRef:   "rigid",
		Category:       models.CategoryBoarding,
		RequestedStart: dec(1),
		RequestedEnd:   &end,
	})
	require.NoError(t, err)

	// Staff preference not satisfied by R2.
	_, err = q.Enqueue(ctx, "t1", EnqueueRequest{
		RequesterRef:   "picky",
		Category:       models.CategoryBoarding,
		RequestedStart: dec(2),
		Flexible:       true,
		FlexDays:       2,
		PreferredStaff: "bob",
	})
	require.NoError(t, err)

	freed := models.Interval{Start: dec(2), End: dec(4)}
	got, err := q.DequeueMatching(ctx, "t1", kennel, freed, 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, e1.ID, got[0].ID)
}

func TestDequeueMatching_LimitAndOrder(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	base := time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		offset := time.Duration(i) * time.Second
		q.SetClock(func() time.Time { return base.Add(offset) })
		e, err := q.Enqueue(ctx, "t1", EnqueueRequest{
			RequesterRef:   string(rune('a' + i)),
			Category:       models.CategoryDaycare,
			RequestedStart: dec(2),
			Flexible:       true,
			FlexDays:       1,
		})
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}

	run := &models.Resource{ID: "run-1", TenantID: "t1", Category: models.CategoryDaycare, Active: true}
	freed := models.Interval{Start: dec(2), End: dec(3)}

	got, err := q.DequeueMatching(ctx, "t1", run, freed, 3)
	require.NoError(t, err)
	require.Len(t, got, 3, "fan-out limit truncates")
	for i, e := range got {
		assert.Equal(t, ids[i], e.ID, "ordered by priority")
	}
}

func TestMatches_DurationCoverage(t *testing.T) {
	res := &models.Resource{ID: "r1", Category: models.CategoryBoarding}
	end := dec(5)
	e := &models.WaitlistEntry{
		Category:       models.CategoryBoarding,
		RequestedStart: dec(1),
		RequestedEnd:   &end, // four days
		Flexible:       true,
		FlexDays:       3,
	}

	// Freed interval shorter than the requested stay never matches.
	assert.False(t, Matches(e, res, models.Interval{Start: dec(1), End: dec(3)}))
	assert.True(t, Matches(e, res, models.Interval{Start: dec(2), End: dec(6)}))
}

func TestOfferCAS_AcceptDeclineExpireRace(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	e, err := q.Enqueue(ctx, "t1", boardingRequest("cust", 1))
	require.NoError(t, err)

	ok, err := q.Offer(ctx, e.ID, "r1", dec(1), dec(3), dec(2))
	require.NoError(t, err)
	require.True(t, ok)

	// A second offer for the same entry loses the ACTIVE->OFFERED swap.
	ok, err = q.Offer(ctx, e.ID, "r9", dec(1), dec(3), dec(2))
	require.NoError(t, err)
	assert.False(t, ok)

	// Acceptance claims the entry; the racing expiry pass then loses.
	ok, err = q.BeginConversion(ctx, e.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = q.ReleaseExpiredOffer(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, ok, "expiry after acceptance is a no-op")

	err = q.Decline(ctx, "t1", e.ID, false)
	assert.ErrorIs(t, err, models.ErrExpiredOffer)

	require.NoError(t, q.CompleteConversion(ctx, e.ID, "res-1"))
	got, err := q.Get(ctx, "t1", e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WaitlistConverted, got.Status)
	assert.Equal(t, "res-1", got.ConvertedReservation)
}

func TestAbortConversion_RestoresOffer(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	e, err := q.Enqueue(ctx, "t1", boardingRequest("cust", 1))
	require.NoError(t, err)
	_, err = q.Offer(ctx, e.ID, "r1", dec(1), dec(3), dec(2))
	require.NoError(t, err)

	ok, err := q.BeginConversion(ctx, e.ID)
	require.NoError(t, err)
	require.True(t, ok)

	// The reserve call lost the slot; the entry goes back to OFFERED and
	// keeps its offer slot for the expiry pass.
	require.NoError(t, q.AbortConversion(ctx, e.ID))
	got, err := q.Get(ctx, "t1", e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WaitlistOffered, got.Status)
	assert.Equal(t, "r1", got.OfferedResource)
}

func TestDecline_ReturnsToActiveKeepingPriority(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, "t1", boardingRequest("first", 1))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "t1", boardingRequest("second", 4))
	require.NoError(t, err)

	_, err = q.Offer(ctx, first.ID, "r1", dec(1), dec(3), dec(2))
	require.NoError(t, err)
	require.NoError(t, q.Decline(ctx, "t1", first.ID, false))

	got, err := q.Get(ctx, "t1", first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WaitlistActive, got.Status)
	assert.Equal(t, 1, got.OfferCount)
	assert.Empty(t, got.OfferedResource)

	pos, err := q.PositionOf(ctx, "t1", first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pos, "declining does not penalize position")
}

func TestDecline_LeaveWaitlist(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	e, err := q.Enqueue(ctx, "t1", boardingRequest("cust", 1))
	require.NoError(t, err)
	_, err = q.Offer(ctx, e.ID, "r1", dec(1), dec(3), dec(2))
	require.NoError(t, err)

	require.NoError(t, q.Decline(ctx, "t1", e.ID, true))
	got, err := q.Get(ctx, "t1", e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WaitlistCancelled, got.Status)
}

func TestExpireEntry(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	e, err := q.Enqueue(ctx, "t1", boardingRequest("cust", 1))
	require.NoError(t, err)

	ok, err := q.ExpireEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Terminal, so cancel is rejected rather than silently rewritten.
	err = q.Cancel(ctx, "t1", e.ID)
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)
}
