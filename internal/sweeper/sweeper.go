// Package sweeper runs the periodic expiry pass: stale holds, lapsed offers
// and exhausted waitlist entries.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"kennelbook/internal/interval"
	"kennelbook/internal/metrics"
	"kennelbook/internal/models"
	"kennelbook/internal/waitlist"
)

// HoldStore lists reservations whose hold window has passed.
type HoldStore interface {
	ListExpiredHolds(ctx context.Context, now time.Time) ([]models.Reservation, error)
}

// HoldCanceller releases an expired hold through the booking coordinator.
type HoldCanceller interface {
	ExpireHold(ctx context.Context, tenantID, id string) error
}

// Rematcher re-runs matching for a slot freed by an expired offer. No new
// availability event is emitted for it: the same freed interval is simply
// re-offered to the next-ranked candidate.
type Rematcher interface {
	Rematch(ctx context.Context, tenantID, resourceID string, freed models.Interval) error
}

// ExpiryNotifier tells a requester their waitlist entry lapsed. Optional.
type ExpiryNotifier interface {
	NotifyWaitlistExpired(ctx context.Context, requesterRef string, entry models.WaitlistEntry) error
}

// Sweeper drives the three expiry passes on a fixed interval. Every pass is
// idempotent and safe to re-run after an interruption.
type Sweeper struct {
	holds     HoldStore
	canceller HoldCanceller
	queue     *waitlist.Queue
	rematcher Rematcher
	notifier  ExpiryNotifier
	index     *interval.Index
	interval  time.Duration
	logger    *zerolog.Logger
	clock     func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a sweeper. The notifier may be nil.
func New(holds HoldStore, canceller HoldCanceller, queue *waitlist.Queue, rematcher Rematcher, notifier ExpiryNotifier, index *interval.Index, sweepInterval time.Duration, logger *zerolog.Logger) *Sweeper {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	return &Sweeper{
		holds:     holds,
		canceller: canceller,
		queue:     queue,
		rematcher: rematcher,
		notifier:  notifier,
		index:     index,
		interval:  sweepInterval,
		logger:    logger,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source, for tests.
func (s *Sweeper) SetClock(clock func() time.Time) {
	s.clock = clock
}

// Start launches the periodic sweep loop. A second Start is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info().Dur("interval", s.interval).Msg("expiration sweeper started")
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("expiration sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single sweep pass. Per-item failures are logged and
// skipped; they never abort the pass.
func (s *Sweeper) RunOnce(ctx context.Context) {
	now := s.clock()
	s.sweepHolds(ctx, now)
	s.sweepOffers(ctx, now)
	s.sweepEntries(ctx, now)

	if pruned := s.index.PruneBefore(now); pruned > 0 {
		s.logger.Debug().Int("pruned", pruned).Msg("index intervals pruned")
	}
	metrics.IncSweeperPass()
}

func (s *Sweeper) sweepHolds(ctx context.Context, now time.Time) {
	expired, err := s.holds.ListExpiredHolds(ctx, now)
	if err != nil {
		metrics.IncSweeperError()
		s.logger.Error().Err(err).Msg("listing expired holds failed")
		return
	}
	for _, r := range expired {
		if err := s.canceller.ExpireHold(ctx, r.TenantID, r.ID); err != nil {
			metrics.IncSweeperError()
			s.logger.Error().Err(err).Str("reservation_id", r.ID).Msg("hold expiry failed")
			continue
		}
		s.logger.Info().Str("reservation_id", r.ID).Msg("expired hold released")
	}
}

func (s *Sweeper) sweepOffers(ctx context.Context, now time.Time) {
	lapsed, err := s.queue.ExpiredOffers(ctx, now)
	if err != nil {
		metrics.IncSweeperError()
		s.logger.Error().Err(err).Msg("listing expired offers failed")
		return
	}
	for i := range lapsed {
		e := &lapsed[i]
		ok, err := s.queue.ReleaseExpiredOffer(ctx, e.ID)
		if err != nil {
			metrics.IncSweeperError()
			s.logger.Error().Err(err).Str("entry_id", e.ID).Msg("offer release failed")
			continue
		}
		if !ok {
			continue
		}

		// Re-offer the still-unclaimed slot to the next candidate.
		if e.OfferedResource != "" {
			freed := models.Interval{Start: e.OfferedStart, End: e.OfferedEnd}
			if err := s.rematcher.Rematch(ctx, e.TenantID, e.OfferedResource, freed); err != nil {
				metrics.IncSweeperError()
				s.logger.Error().Err(err).Str("entry_id", e.ID).Msg("rematch after offer expiry failed")
			}
		}
	}
}

func (s *Sweeper) sweepEntries(ctx context.Context, now time.Time) {
	stale, err := s.queue.ExpiredEntries(ctx, now)
	if err != nil {
		metrics.IncSweeperError()
		s.logger.Error().Err(err).Msg("listing expired entries failed")
		return
	}
	for i := range stale {
		e := &stale[i]
		ok, err := s.queue.ExpireEntry(ctx, e.ID)
		if err != nil {
			metrics.IncSweeperError()
			s.logger.Error().Err(err).Str("entry_id", e.ID).Msg("entry expiry failed")
			continue
		}
		if !ok {
			continue
		}
		s.logger.Info().Str("entry_id", e.ID).Str("requester", e.RequesterRef).Msg("waitlist entry expired")
		if s.notifier != nil {
			if err := s.notifier.NotifyWaitlistExpired(ctx, e.RequesterRef, *e); err != nil {
				s.logger.Warn().Err(err).Str("entry_id", e.ID).Msg("expiry notification failed")
			}
		}
	}
}
