package database

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kennelbook/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := New(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testResource(tenant string) *models.Resource {
	return &models.Resource{
		ID:       uuid.NewString(),
		TenantID: tenant,
		Name:     "Kennel A1",
		Category: models.CategoryBoarding,
		Capacity: 1,
		Active:   true,
	}
}

func TestResources_CRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	r := testResource("t1")
	require.NoError(t, db.CreateResource(ctx, r))

	t.Run("Get", func(t *testing.T) {
		got, err := db.GetResource(ctx, "t1", r.ID)
		require.NoError(t, err)
		assert.Equal(t, r.Name, got.Name)
		assert.Equal(t, models.CategoryBoarding, got.Category)
		assert.Equal(t, 1, got.Capacity)
	})

	t.Run("TenantScoping", func(t *testing.T) {
		_, err := db.GetResource(ctx, "other-tenant", r.ID)
		assert.ErrorIs(t, err, models.ErrResourceNotFound)
	})

	t.Run("UpdateCapacity", func(t *testing.T) {
		prev, err := db.UpdateResourceCapacity(ctx, "t1", r.ID, 3)
		require.NoError(t, err)
		assert.Equal(t, 1, prev)

		got, err := db.GetResource(ctx, "t1", r.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.Capacity)
	})

	t.Run("Deactivate", func(t *testing.T) {
		require.NoError(t, db.SetResourceActive(ctx, "t1", r.ID, false))
		list, err := db.ListResources(ctx, "t1", models.CategoryBoarding, true)
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestReservations_StatusVersionGuard(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	r := testResource("t1")
	require.NoError(t, db.CreateResource(ctx, r))

	start := time.Date(2026, 11, 19, 10, 0, 0, 0, time.UTC)
	hold := start.Add(-time.Hour)
	res := &models.Reservation{
		ID:            uuid.NewString(),
		TenantID:      "t1",
		ResourceID:    r.ID,
		RequesterRef:  "cust-1",
		Start:         start,
		End:           start.Add(24 * time.Hour),
		Status:        models.ReservationPending,
		HoldExpiresAt: &hold,
	}
	require.NoError(t, db.CreateReservation(ctx, res))

	require.NoError(t, db.UpdateReservationStatus(ctx, res.ID, 1, models.ReservationConfirmed))

	// Stale version loses.
	err := db.UpdateReservationStatus(ctx, res.ID, 1, models.ReservationCancelled)
	assert.ErrorIs(t, err, ErrConcurrentModification)

	got, err := db.GetReservation(ctx, "t1", res.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationConfirmed, got.Status)
	assert.Equal(t, int64(2), got.Version)
	assert.Nil(t, got.HoldExpiresAt, "hold expiry cleared on leaving PENDING")
}

func TestReservations_ListExpiredHolds(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	r := testResource("t1")
	require.NoError(t, db.CreateResource(ctx, r))

	expired := now.Add(-time.Minute)
	future := now.Add(10 * time.Minute)
	for _, h := range []*time.Time{&expired, &future} {
		res := &models.Reservation{
			ID: uuid.NewString(), TenantID: "t1", ResourceID: r.ID, RequesterRef: "c",
			Start: now.Add(24 * time.Hour), End: now.Add(48 * time.Hour),
			Status: models.ReservationPending, HoldExpiresAt: h,
		}
		require.NoError(t, db.CreateReservation(ctx, res))
	}

	holds, err := db.ListExpiredHolds(ctx, now)
	require.NoError(t, err)
	assert.Len(t, holds, 1)
}

func TestWaitlist_CASGuard(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	e := &models.WaitlistEntry{
		ID:             uuid.NewString(),
		TenantID:       "t1",
		RequesterRef:   "cust-1",
		Category:       models.CategoryBoarding,
		RequestedStart: now.Add(72 * time.Hour),
		Priority:       now.UnixNano(),
		Status:         models.WaitlistActive,
		ExpiresAt:      now.Add(30 * 24 * time.Hour),
	}
	require.NoError(t, db.CreateWaitlistEntry(ctx, e))

	ok, err := db.MarkOffered(ctx, e.ID, "r1", now.Add(72*time.Hour), now.Add(96*time.Hour), now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	// Second offer attempt fails: entry no longer ACTIVE.
	ok, err = db.MarkOffered(ctx, e.ID, "r2", now, now.Add(time.Hour), now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	// Accept and decline race: only one CAS wins.
	won, err := db.TransitionWaitlistStatus(ctx, e.ID, models.WaitlistOffered, models.WaitlistConverted)
	require.NoError(t, err)
	assert.True(t, won)

	lost, err := db.TransitionWaitlistStatus(ctx, e.ID, models.WaitlistOffered, models.WaitlistActive)
	require.NoError(t, err)
	assert.False(t, lost)

	got, err := db.GetWaitlistEntry(ctx, "t1", e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WaitlistConverted, got.Status)
	assert.Equal(t, 1, got.OfferCount)
	assert.Equal(t, "r1", got.OfferedResource, "offer slot retained on conversion")
}

func TestWaitlist_ReleaseOfferClearsSlot(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	e := &models.WaitlistEntry{
		ID: uuid.NewString(), TenantID: "t1", RequesterRef: "c", Category: models.CategoryDaycare,
		RequestedStart: now, Priority: 1, Status: models.WaitlistActive, ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, db.CreateWaitlistEntry(ctx, e))

	ok, err := db.MarkOffered(ctx, e.ID, "r1", now, now.Add(time.Hour), now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	expiredOffers, err := db.ListExpiredOffers(ctx, now)
	require.NoError(t, err)
	require.Len(t, expiredOffers, 1)

	ok, err = db.TransitionWaitlistStatus(ctx, e.ID, models.WaitlistOffered, models.WaitlistActive)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := db.GetWaitlistEntry(ctx, "t1", e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WaitlistActive, got.Status)
	assert.Empty(t, got.OfferedResource)
	assert.True(t, got.OfferExpiresAt.IsZero())
	assert.Equal(t, 1, got.OfferCount, "offer count survives release")
}

func TestWaitlist_HasActiveDuplicate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	end := now.Add(48 * time.Hour)
	e := &models.WaitlistEntry{
		ID: uuid.NewString(), TenantID: "t1", RequesterRef: "cust-1", Category: models.CategoryBoarding,
		RequestedStart: now, RequestedEnd: &end, Priority: 1, Status: models.WaitlistActive, ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, db.CreateWaitlistEntry(ctx, e))

	dup, err := db.HasActiveDuplicate(ctx, "t1", "cust-1", models.CategoryBoarding, now, &end)
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = db.HasActiveDuplicate(ctx, "t1", "cust-2", models.CategoryBoarding, now, &end)
	require.NoError(t, err)
	assert.False(t, dup)

	// Same start with a different end is distinct demand.
	otherEnd := now.Add(96 * time.Hour)
	dup, err = db.HasActiveDuplicate(ctx, "t1", "cust-1", models.CategoryBoarding, now, &otherEnd)
	require.NoError(t, err)
	assert.False(t, dup)

	// Start-only demand does not collide with a bounded interval either.
	dup, err = db.HasActiveDuplicate(ctx, "t1", "cust-1", models.CategoryBoarding, now, nil)
	require.NoError(t, err)
	assert.False(t, dup)

	// Terminal entries do not count as duplicates.
	_, err = db.TransitionWaitlistStatus(ctx, e.ID, models.WaitlistActive, models.WaitlistCancelled)
	require.NoError(t, err)
	dup, err = db.HasActiveDuplicate(ctx, "t1", "cust-1", models.CategoryBoarding, now, &end)
	require.NoError(t, err)
	assert.False(t, dup)
}
