// Package booking owns the reservation state machine and the per-resource
// critical section that makes reserve linearizable.
package booking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kennelbook/internal/events"
	"kennelbook/internal/interval"
	"kennelbook/internal/metrics"
	"kennelbook/internal/models"
)

// Store is the persistence surface the coordinator needs. Implemented by
// the database layer.
type Store interface {
	CreateReservation(ctx context.Context, r *models.Reservation) error
	GetReservation(ctx context.Context, tenantID, id string) (*models.Reservation, error)
	UpdateReservationStatus(ctx context.Context, id string, version int64, status models.ReservationStatus) error
	UpdateReservationInterval(ctx context.Context, id string, version int64, start, end time.Time) error
	GetResource(ctx context.Context, tenantID, id string) (*models.Resource, error)
	ListOccupyingReservations(ctx context.Context) ([]models.Reservation, error)
	CountActiveByRequester(ctx context.Context, tenantID, requesterRef string) (int, error)
}

// Rules are the booking validation knobs.
type Rules struct {
	MinAdvance            time.Duration
	MaxAdvance            time.Duration
	MaxActivePerRequester int
	HoldTTL               time.Duration
}

// DefaultRules returns sensible defaults: no advance constraints, no
// per-requester cap, 10 minute holds.
func DefaultRules() Rules {
	return Rules{HoldTTL: 10 * time.Minute}
}

// ReserveOptions tunes a single Reserve call.
type ReserveOptions struct {
	// Confirm commits the reservation immediately instead of creating a
	// time-boxed PENDING hold. Used by waitlist offer acceptance.
	Confirm bool
	// ExternalRef tags reservations originating from import.
	ExternalRef string
}

// Coordinator serializes reserve/cancel per resource and is the sole writer
// of reservation status transitions and the interval index.
type Coordinator struct {
	store  Store
	index  *interval.Index
	bus    *events.Bus
	rules  Rules
	logger *zerolog.Logger
	clock  func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a coordinator.
func New(store Store, index *interval.Index, bus *events.Bus, rules Rules, logger *zerolog.Logger) *Coordinator {
	if rules.HoldTTL <= 0 {
		rules.HoldTTL = 10 * time.Minute
	}
	return &Coordinator{
		store:  store,
		index:  index,
		bus:    bus,
		rules:  rules,
		logger: logger,
		clock:  func() time.Time { return time.Now().UTC() },
		locks:  make(map[string]*sync.Mutex),
	}
}

// SetClock overrides the time source, for tests.
func (c *Coordinator) SetClock(clock func() time.Time) {
	c.clock = clock
}

// resourceLock returns the mutex guarding one resource's critical section.
// Booking activity on unrelated resources proceeds fully in parallel.
func (c *Coordinator) resourceLock(resourceID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[resourceID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[resourceID] = lock
	}
	return lock
}

// RebuildIndex loads every occupying reservation from the store into the
// interval index. Called once at startup.
func (c *Coordinator) RebuildIndex(ctx context.Context) error {
	reservations, err := c.store.ListOccupyingReservations(ctx)
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	for _, r := range reservations {
		c.index.Insert(r.ResourceID, r.ID, r.Start, r.End)
	}
	c.logger.Info().Int("reservations", len(reservations)).Msg("interval index rebuilt")
	return nil
}

// Reserve atomically checks capacity and inserts a reservation for
// [start, end) on the resource. The overlap re-check and the index insert
// run as one unit under the per-resource lock, so concurrent reserves on
// the same resource resolve in arrival order with at most one winner per
// free slot.
func (c *Coordinator) Reserve(ctx context.Context, tenantID, resourceID, requesterRef string, start, end time.Time, opts ReserveOptions) (*models.Reservation, error) {
	iv, err := models.NewInterval(start, end)
	if err != nil {
		return nil, err
	}

	res, err := c.store.GetResource(ctx, tenantID, resourceID)
	if err != nil {
		return nil, err
	}
	if !res.Active {
		return nil, fmt.Errorf("%w: resource %s is inactive", models.ErrConfiguration, resourceID)
	}

	now := c.clock()
	if err := c.validateRules(ctx, tenantID, requesterRef, start, now); err != nil {
		return nil, err
	}

	reservation := &models.Reservation{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		ResourceID:   resourceID,
		RequesterRef: requesterRef,
		Start:        iv.Start,
		End:          iv.End,
		ExternalRef:  opts.ExternalRef,
	}
	if opts.Confirm {
		reservation.Status = models.ReservationConfirmed
	} else {
		reservation.Status = models.ReservationPending
		expiry := now.Add(c.rules.HoldTTL)
		reservation.HoldExpiresAt = &expiry
	}

	lock := c.resourceLock(resourceID)
	lock.Lock()

	// Re-read under the lock; capacity may have shrunk since validation.
	res, err = c.store.GetResource(ctx, tenantID, resourceID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if !res.Active {
		lock.Unlock()
		return nil, fmt.Errorf("%w: resource %s is inactive", models.ErrConfiguration, resourceID)
	}

	if c.index.Overlaps(resourceID, iv.Start, iv.End) >= res.Capacity {
		lock.Unlock()
		metrics.IncBookingConflict()
		return nil, models.ErrResourceUnavailable
	}

	c.index.Insert(resourceID, reservation.ID, iv.Start, iv.End)
	if err := c.store.CreateReservation(ctx, reservation); err != nil {
		c.index.Remove(resourceID, reservation.ID)
		lock.Unlock()
		return nil, err
	}
	lock.Unlock()

	metrics.IncReservationCreated(string(reservation.Status))
	c.logger.Info().
		Str("reservation_id", reservation.ID).
		Str("resource_id", resourceID).
		Str("requester", requesterRef).
		Str("status", string(reservation.Status)).
		Time("start", iv.Start).
		Time("end", iv.End).
		Msg("reservation created")
	return reservation, nil
}

func (c *Coordinator) validateRules(ctx context.Context, tenantID, requesterRef string, start, now time.Time) error {
	if c.rules.MinAdvance > 0 && start.Before(now.Add(c.rules.MinAdvance)) {
		return fmt.Errorf("%w: start is inside the minimum advance window", models.ErrConfiguration)
	}
	if c.rules.MaxAdvance > 0 && start.After(now.Add(c.rules.MaxAdvance)) {
		return fmt.Errorf("%w: start is beyond the maximum advance window", models.ErrConfiguration)
	}
	if c.rules.MaxActivePerRequester > 0 {
		count, err := c.store.CountActiveByRequester(ctx, tenantID, requesterRef)
		if err != nil {
			return err
		}
		if count >= c.rules.MaxActivePerRequester {
			return fmt.Errorf("%w: requester has %d active reservations", models.ErrConfiguration, count)
		}
	}
	return nil
}

// Confirm commits a PENDING hold. An expired hold cannot be confirmed: the
// caller gets ErrExpiredHold and the sweeper releases the slot.
func (c *Coordinator) Confirm(ctx context.Context, tenantID, id string) (*models.Reservation, error) {
	return c.transition(ctx, tenantID, id, models.ReservationConfirmed, func(r *models.Reservation) error {
		if r.HoldExpired(c.clock()) {
			return models.ErrExpiredHold
		}
		return nil
	})
}

// CheckIn transitions CONFIRMED → CHECKED_IN. No index change: the resource
// remains occupied through the stay.
func (c *Coordinator) CheckIn(ctx context.Context, tenantID, id string) (*models.Reservation, error) {
	return c.transition(ctx, tenantID, id, models.ReservationCheckedIn, nil)
}

// Complete transitions CHECKED_IN → COMPLETED.
func (c *Coordinator) Complete(ctx context.Context, tenantID, id string) (*models.Reservation, error) {
	return c.transition(ctx, tenantID, id, models.ReservationCompleted, nil)
}

// CheckOut is the operator-facing name for Complete.
func (c *Coordinator) CheckOut(ctx context.Context, tenantID, id string) (*models.Reservation, error) {
	return c.Complete(ctx, tenantID, id)
}

// MarkNoShow transitions CONFIRMED → NO_SHOW.
func (c *Coordinator) MarkNoShow(ctx context.Context, tenantID, id string) (*models.Reservation, error) {
	return c.transition(ctx, tenantID, id, models.ReservationNoShow, nil)
}

func (c *Coordinator) transition(ctx context.Context, tenantID, id string, to models.ReservationStatus, guard func(*models.Reservation) error) (*models.Reservation, error) {
	r, err := c.store.GetReservation(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	lock := c.resourceLock(r.ResourceID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; a concurrent transition may have advanced it.
	r, err = c.store.GetReservation(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !ValidTransition(r.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidStateTransition, r.Status, to)
	}
	if guard != nil {
		if err := guard(r); err != nil {
			return nil, err
		}
	}

	if err := c.store.UpdateReservationStatus(ctx, r.ID, r.Version, to); err != nil {
		return nil, err
	}
	r.Status = to
	r.Version++
	r.HoldExpiresAt = nil

	c.logger.Info().
		Str("reservation_id", r.ID).
		Str("status", string(to)).
		Msg("reservation transitioned")
	return r, nil
}

// Cancel transitions to CANCELLED, removes the interval from the index and
// emits the availability-changed event that wakes the dispatcher.
// Idempotent: cancelling an already-cancelled reservation is a no-op and
// emits nothing.
func (c *Coordinator) Cancel(ctx context.Context, tenantID, id, reason string) error {
	r, err := c.store.GetReservation(ctx, tenantID, id)
	if err != nil {
		return err
	}

	lock := c.resourceLock(r.ResourceID)
	lock.Lock()

	r, err = c.store.GetReservation(ctx, tenantID, id)
	if err != nil {
		lock.Unlock()
		return err
	}
	if r.Status == models.ReservationCancelled {
		lock.Unlock()
		return nil
	}
	if r.Status.Terminal() {
		lock.Unlock()
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidStateTransition, r.Status, models.ReservationCancelled)
	}

	if err := c.store.UpdateReservationStatus(ctx, r.ID, r.Version, models.ReservationCancelled); err != nil {
		lock.Unlock()
		return err
	}
	c.index.Remove(r.ResourceID, r.ID)
	lock.Unlock()

	metrics.IncReservationCancelled(reason)
	c.logger.Info().
		Str("reservation_id", r.ID).
		Str("resource_id", r.ResourceID).
		Str("reason", reason).
		Msg("reservation cancelled")

	// Publish outside the lock; handlers may run matching immediately.
	c.bus.Publish(events.AvailabilityChanged{
		TenantID:   r.TenantID,
		ResourceID: r.ResourceID,
		Start:      r.Start,
		End:        r.End,
		Cause:      events.CauseCancelled,
	})
	return nil
}

// ExpireHold cancels a PENDING reservation whose hold window has passed.
// Safe to re-run: a hold that was confirmed or already cancelled in the
// meantime is left alone.
func (c *Coordinator) ExpireHold(ctx context.Context, tenantID, id string) error {
	r, err := c.store.GetReservation(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if !r.HoldExpired(c.clock()) {
		return nil
	}
	return c.Cancel(ctx, tenantID, id, "hold_expired")
}

// Reschedule atomically moves a reservation to a new interval on the same
// resource, re-validating capacity for the new interval under the resource
// lock, then emits a MODIFIED availability event for the freed old interval.
func (c *Coordinator) Reschedule(ctx context.Context, tenantID, id string, newStart, newEnd time.Time) (*models.Reservation, error) {
	iv, err := models.NewInterval(newStart, newEnd)
	if err != nil {
		return nil, err
	}

	r, err := c.store.GetReservation(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !r.Status.Occupying() {
		return nil, fmt.Errorf("%w: cannot reschedule a %s reservation", models.ErrInvalidStateTransition, r.Status)
	}

	lock := c.resourceLock(r.ResourceID)
	lock.Lock()

	r, err = c.store.GetReservation(ctx, tenantID, id)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if !r.Status.Occupying() {
		lock.Unlock()
		return nil, fmt.Errorf("%w: cannot reschedule a %s reservation", models.ErrInvalidStateTransition, r.Status)
	}

	// Capacity is read under the lock so a concurrent change cannot admit
	// the move over the current limit.
	res, err := c.store.GetResource(ctx, tenantID, r.ResourceID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	oldStart, oldEnd := r.Start, r.End

	// The reservation's own interval must not count against itself.
	c.index.Remove(r.ResourceID, r.ID)
	if c.index.Overlaps(r.ResourceID, iv.Start, iv.End) >= res.Capacity {
		c.index.Insert(r.ResourceID, r.ID, oldStart, oldEnd)
		lock.Unlock()
		metrics.IncBookingConflict()
		return nil, models.ErrResourceUnavailable
	}

	if err := c.store.UpdateReservationInterval(ctx, r.ID, r.Version, iv.Start, iv.End); err != nil {
		c.index.Insert(r.ResourceID, r.ID, oldStart, oldEnd)
		lock.Unlock()
		return nil, err
	}
	c.index.Insert(r.ResourceID, r.ID, iv.Start, iv.End)
	lock.Unlock()

	r.Start = iv.Start
	r.End = iv.End
	r.Version++

	c.logger.Info().
		Str("reservation_id", r.ID).
		Time("new_start", iv.Start).
		Time("new_end", iv.End).
		Msg("reservation rescheduled")

	c.bus.Publish(events.AvailabilityChanged{
		TenantID:   r.TenantID,
		ResourceID: r.ResourceID,
		Start:      oldStart,
		End:        oldEnd,
		Cause:      events.CauseModified,
	})
	return r, nil
}
