// Package waitlist owns the ordered queue of unmet demand and the
// compare-and-swap status guard every offer resolution goes through.
package waitlist

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kennelbook/internal/metrics"
	"kennelbook/internal/models"
)

// Store is the persistence surface the queue needs.
type Store interface {
	CreateWaitlistEntry(ctx context.Context, e *models.WaitlistEntry) error
	GetWaitlistEntry(ctx context.Context, tenantID, id string) (*models.WaitlistEntry, error)
	ListWaitlistEntries(ctx context.Context, tenantID string, statuses []models.WaitlistStatus, category models.ServiceCategory) ([]models.WaitlistEntry, error)
	HasActiveDuplicate(ctx context.Context, tenantID, requesterRef string, category models.ServiceCategory, requestedStart time.Time, requestedEnd *time.Time) (bool, error)
	MarkOffered(ctx context.Context, id, resourceID string, start, end, offerExpiresAt time.Time) (bool, error)
	TransitionWaitlistStatus(ctx context.Context, id string, from, to models.WaitlistStatus) (bool, error)
	LinkConvertedReservation(ctx context.Context, id, reservationID string) error
	ListExpiredOffers(ctx context.Context, now time.Time) ([]models.WaitlistEntry, error)
	ListExpiredWaitlist(ctx context.Context, now time.Time) ([]models.WaitlistEntry, error)
}

// Scorer derives an entry's priority once at enqueue time. Lower is better.
// The default scorer returns the enqueue timestamp in nanoseconds, which
// makes the ordering strict FIFO. A loyalty-weighted scorer can be injected
// without touching the queue's contract.
type Scorer func(req *EnqueueRequest, now time.Time) int64

// FIFOScorer is the default priority function.
func FIFOScorer(_ *EnqueueRequest, now time.Time) int64 {
	return now.UnixNano()
}

// EnqueueRequest describes one piece of unmet demand.
type EnqueueRequest struct {
	RequesterRef      string
	Category          models.ServiceCategory
	RequestedStart    time.Time
	RequestedEnd      *time.Time
	Flexible          bool
	FlexDays          int
	PreferredResource string
	PreferredStaff    string
}

// Queue is the sole writer of waitlist entry status and ordering. Other
// components mutate entries only through its API.
type Queue struct {
	store    Store
	scorer   Scorer
	entryTTL time.Duration
	logger   *zerolog.Logger
	clock    func() time.Time
}

// New creates a queue. A nil scorer falls back to FIFO ordering.
func New(store Store, scorer Scorer, entryTTL time.Duration, logger *zerolog.Logger) *Queue {
	if scorer == nil {
		scorer = FIFOScorer
	}
	if entryTTL <= 0 {
		entryTTL = 30 * 24 * time.Hour
	}
	return &Queue{
		store:    store,
		scorer:   scorer,
		entryTTL: entryTTL,
		logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source, for tests.
func (q *Queue) SetClock(clock func() time.Time) {
	q.clock = clock
}

// Enqueue creates an ACTIVE entry. At most one entry per (requester,
// requested interval, category) may be ACTIVE or OFFERED at a time.
func (q *Queue) Enqueue(ctx context.Context, tenantID string, req EnqueueRequest) (*models.WaitlistEntry, error) {
	if !models.ValidCategory(req.Category) {
		return nil, fmt.Errorf("%w: unknown category %q", models.ErrConfiguration, req.Category)
	}
	if req.RequestedEnd != nil && !req.RequestedEnd.After(req.RequestedStart) {
		return nil, fmt.Errorf("%w: requested end must follow requested start", models.ErrConfiguration)
	}

	dup, err := q.store.HasActiveDuplicate(ctx, tenantID, req.RequesterRef, req.Category, req.RequestedStart, req.RequestedEnd)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, models.ErrDuplicateEntry
	}

	now := q.clock()
	entry := &models.WaitlistEntry{
		ID:                uuid.NewString(),
		TenantID:          tenantID,
		RequesterRef:      req.RequesterRef,
		Category:          req.Category,
		RequestedStart:    req.RequestedStart,
		RequestedEnd:      req.RequestedEnd,
		Flexible:          req.Flexible,
		FlexDays:          req.FlexDays,
		PreferredResource: req.PreferredResource,
		PreferredStaff:    req.PreferredStaff,
		Priority:          q.scorer(&req, now),
		Status:            models.WaitlistActive,
		ExpiresAt:         now.Add(q.entryTTL),
	}
	if err := q.store.CreateWaitlistEntry(ctx, entry); err != nil {
		return nil, err
	}

	metrics.IncWaitlistEnqueued()
	q.logger.Info().
		Str("entry_id", entry.ID).
		Str("requester", req.RequesterRef).
		Str("category", string(req.Category)).
		Time("requested_start", req.RequestedStart).
		Msg("waitlist entry enqueued")
	return entry, nil
}

// PositionOf computes the entry's current 1-based rank among ACTIVE entries
// of the same category. The rank is derived on read rather than stored, so
// enqueue and cancel never cascade position updates.
func (q *Queue) PositionOf(ctx context.Context, tenantID, id string) (int, error) {
	entry, err := q.store.GetWaitlistEntry(ctx, tenantID, id)
	if err != nil {
		return 0, err
	}

	peers, err := q.store.ListWaitlistEntries(ctx, tenantID,
		[]models.WaitlistStatus{models.WaitlistActive}, entry.Category)
	if err != nil {
		return 0, err
	}

	rank := 1
	for i := range peers {
		p := &peers[i]
		if p.ID == entry.ID {
			continue
		}
		if p.Priority < entry.Priority || (p.Priority == entry.Priority && p.CreatedAt.Before(entry.CreatedAt)) {
			rank++
		}
	}
	return rank, nil
}

// Get returns the entry scoped to the tenant.
func (q *Queue) Get(ctx context.Context, tenantID, id string) (*models.WaitlistEntry, error) {
	return q.store.GetWaitlistEntry(ctx, tenantID, id)
}

// DequeueMatching returns the ACTIVE entries that match the freed slot on
// the given resource, best priority first, truncated to limit. Read-only:
// candidates stay ACTIVE until Offer claims them.
func (q *Queue) DequeueMatching(ctx context.Context, tenantID string, resource *models.Resource, freed models.Interval, limit int) ([]models.WaitlistEntry, error) {
	entries, err := q.store.ListWaitlistEntries(ctx, tenantID,
		[]models.WaitlistStatus{models.WaitlistActive}, resource.Category)
	if err != nil {
		return nil, err
	}

	now := q.clock()
	var matched []models.WaitlistEntry
	for i := range entries {
		e := &entries[i]
		if now.After(e.ExpiresAt) {
			continue
		}
		if Matches(e, resource, freed) {
			matched = append(matched, *e)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority < matched[j].Priority
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Matches reports whether an entry accepts the freed slot. The requested
// interval must either be fully contained in the freed interval, or start
// within the entry's flexibility window of the freed start with the freed
// interval covering the full requested duration. Hard resource/staff
// preferences must be satisfied either way.
func Matches(e *models.WaitlistEntry, resource *models.Resource, freed models.Interval) bool {
	if e.Category != resource.Category {
		return false
	}
	if e.PreferredResource != "" && e.PreferredResource != resource.ID {
		return false
	}
	if e.PreferredStaff != "" && e.PreferredStaff != resource.Staff {
		return false
	}

	if requestedContained(e, freed) {
		return true
	}

	drift := e.RequestedStart.Sub(freed.Start)
	if drift < 0 {
		drift = -drift
	}
	if drift > e.FlexWindow() {
		return false
	}
	if d := e.RequestedDuration(); d > 0 && freed.Duration() < d {
		return false
	}
	return true
}

// requestedContained reports whether the entry's requested interval lies
// entirely inside the freed interval. Freed windows from capacity additions
// span far more than one slot, so containment matches regardless of the
// entry's flexibility.
func requestedContained(e *models.WaitlistEntry, freed models.Interval) bool {
	if e.RequestedStart.Before(freed.Start) {
		return false
	}
	if e.RequestedEnd != nil {
		return !e.RequestedEnd.After(freed.End)
	}
	return e.RequestedStart.Before(freed.End)
}

// Offer claims an ACTIVE entry for the freed slot: status moves to OFFERED,
// the offer slot and expiry are recorded and the offer count is bumped.
// Returns false when a concurrent claim or cancellation got there first.
func (q *Queue) Offer(ctx context.Context, entryID, resourceID string, start, end, offerExpiresAt time.Time) (bool, error) {
	ok, err := q.store.MarkOffered(ctx, entryID, resourceID, start, end, offerExpiresAt)
	if err != nil {
		return false, err
	}
	if ok {
		metrics.IncOfferIssued()
		q.logger.Info().
			Str("entry_id", entryID).
			Str("resource_id", resourceID).
			Time("offer_expires_at", offerExpiresAt).
			Msg("offer issued")
	}
	return ok, nil
}

// BeginConversion claims an OFFERED entry for acceptance. Exactly one of
// accept, decline and expiry wins the status swap; the loser sees false.
func (q *Queue) BeginConversion(ctx context.Context, entryID string) (bool, error) {
	return q.store.TransitionWaitlistStatus(ctx, entryID, models.WaitlistOffered, models.WaitlistConverted)
}

// AbortConversion returns a claimed entry to OFFERED after the reservation
// attempt lost the slot race. The entry stays re-offerable after its own
// offer expiry.
func (q *Queue) AbortConversion(ctx context.Context, entryID string) error {
	ok, err := q.store.TransitionWaitlistStatus(ctx, entryID, models.WaitlistConverted, models.WaitlistOffered)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("abort conversion: entry %s is no longer CONVERTED", entryID)
	}
	return nil
}

// CompleteConversion links the reservation that resulted from acceptance.
func (q *Queue) CompleteConversion(ctx context.Context, entryID, reservationID string) error {
	if err := q.store.LinkConvertedReservation(ctx, entryID, reservationID); err != nil {
		return err
	}
	metrics.IncOfferResolved("accepted")
	q.logger.Info().
		Str("entry_id", entryID).
		Str("reservation_id", reservationID).
		Msg("waitlist entry converted")
	return nil
}

// Decline resolves an offer by requester action. The entry returns to
// ACTIVE with its original priority, or leaves the waitlist entirely when
// leave is set. Races against a concurrent acceptance resolve to exactly
// one outcome via the status swap.
func (q *Queue) Decline(ctx context.Context, tenantID, entryID string, leave bool) error {
	entry, err := q.store.GetWaitlistEntry(ctx, tenantID, entryID)
	if err != nil {
		return err
	}
	if entry.Status != models.WaitlistOffered {
		return fmt.Errorf("%w: entry %s has no open offer", models.ErrExpiredOffer, entryID)
	}

	to := models.WaitlistActive
	outcome := "declined"
	if leave {
		to = models.WaitlistCancelled
		outcome = "declined_left"
	}
	ok, err := q.store.TransitionWaitlistStatus(ctx, entryID, models.WaitlistOffered, to)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: offer for entry %s already resolved", models.ErrExpiredOffer, entryID)
	}

	metrics.IncOfferResolved(outcome)
	q.logger.Info().Str("entry_id", entryID).Bool("leave", leave).Msg("offer declined")
	return nil
}

// Cancel removes an entry from the waitlist. Works from ACTIVE or OFFERED;
// terminal entries are left untouched for reporting.
func (q *Queue) Cancel(ctx context.Context, tenantID, entryID string) error {
	entry, err := q.store.GetWaitlistEntry(ctx, tenantID, entryID)
	if err != nil {
		return err
	}

	switch entry.Status {
	case models.WaitlistCancelled:
		return nil
	case models.WaitlistActive, models.WaitlistOffered:
		ok, err := q.store.TransitionWaitlistStatus(ctx, entryID, entry.Status, models.WaitlistCancelled)
		if err != nil {
			return err
		}
		if !ok {
			// Status moved under us; one retry picks up the new state.
			return q.Cancel(ctx, tenantID, entryID)
		}
		q.logger.Info().Str("entry_id", entryID).Msg("waitlist entry cancelled")
		return nil
	default:
		return fmt.Errorf("%w: cannot cancel %s entry", models.ErrInvalidStateTransition, entry.Status)
	}
}

// ReleaseExpiredOffer reverts an OFFERED entry whose offer window lapsed
// back to ACTIVE. Returns false when the offer was resolved in the meantime.
func (q *Queue) ReleaseExpiredOffer(ctx context.Context, entryID string) (bool, error) {
	ok, err := q.store.TransitionWaitlistStatus(ctx, entryID, models.WaitlistOffered, models.WaitlistActive)
	if err != nil {
		return false, err
	}
	if ok {
		metrics.IncOfferResolved("expired")
		q.logger.Info().Str("entry_id", entryID).Msg("expired offer released")
	}
	return ok, nil
}

// ExpireEntry marks an ACTIVE entry past its overall expiry as EXPIRED.
func (q *Queue) ExpireEntry(ctx context.Context, entryID string) (bool, error) {
	return q.store.TransitionWaitlistStatus(ctx, entryID, models.WaitlistActive, models.WaitlistExpired)
}

// ExpiredOffers lists OFFERED entries whose offer window has lapsed.
func (q *Queue) ExpiredOffers(ctx context.Context, now time.Time) ([]models.WaitlistEntry, error) {
	return q.store.ListExpiredOffers(ctx, now)
}

// ExpiredEntries lists ACTIVE entries past their overall waitlist expiry.
func (q *Queue) ExpiredEntries(ctx context.Context, now time.Time) ([]models.WaitlistEntry, error) {
	return q.store.ListExpiredWaitlist(ctx, now)
}
