// Package dispatch reacts to availability-changed events: it matches freed
// slots against the waitlist, issues time-boxed offers and resolves them.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"kennelbook/internal/availability"
	"kennelbook/internal/booking"
	"kennelbook/internal/events"
	"kennelbook/internal/models"
	"kennelbook/internal/waitlist"
)

// Booker commits accepted offers through the same path as any booking.
type Booker interface {
	Reserve(ctx context.Context, tenantID, resourceID, requesterRef string, start, end time.Time, opts booking.ReserveOptions) (*models.Reservation, error)
}

// Config tunes the dispatcher.
type Config struct {
	// FanOut bounds how many candidates are offered the same freed slot.
	FanOut int
	// OfferTTL is the response window per offer, shorter than an entry's
	// overall waitlist expiry.
	OfferTTL time.Duration
	// NotifyConcurrency caps in-flight notification deliveries.
	NotifyConcurrency int
	// NotifyPerSecond throttles outbound notifications.
	NotifyPerSecond float64
}

// DefaultConfig returns the standard tuning: fan-out of three, 24 hour
// offers, four concurrent deliveries at five per second.
func DefaultConfig() Config {
	return Config{
		FanOut:            3,
		OfferTTL:          24 * time.Hour,
		NotifyConcurrency: 4,
		NotifyPerSecond:   5,
	}
}

// Dispatcher wires the waitlist queue, the availability engine and the
// booking coordinator together around availability events.
type Dispatcher struct {
	queue    *waitlist.Queue
	engine   *availability.Engine
	catalog  availability.Catalog
	booker   Booker
	notifier Notifier
	cfg      Config
	logger   *zerolog.Logger
	clock    func() time.Time

	limiter *rate.Limiter
	sem     chan struct{}
	wg      sync.WaitGroup
}

// New creates a dispatcher. Zero-valued config fields fall back to defaults.
func New(queue *waitlist.Queue, engine *availability.Engine, catalog availability.Catalog, booker Booker, notifier Notifier, cfg Config, logger *zerolog.Logger) *Dispatcher {
	def := DefaultConfig()
	if cfg.FanOut <= 0 {
		cfg.FanOut = def.FanOut
	}
	if cfg.OfferTTL <= 0 {
		cfg.OfferTTL = def.OfferTTL
	}
	if cfg.NotifyConcurrency <= 0 {
		cfg.NotifyConcurrency = def.NotifyConcurrency
	}
	if cfg.NotifyPerSecond <= 0 {
		cfg.NotifyPerSecond = def.NotifyPerSecond
	}
	return &Dispatcher{
		queue:    queue,
		engine:   engine,
		catalog:  catalog,
		booker:   booker,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
		limiter:  rate.NewLimiter(rate.Limit(cfg.NotifyPerSecond), 1),
		sem:      make(chan struct{}, cfg.NotifyConcurrency),
	}
}

// SetClock overrides the time source, for tests.
func (d *Dispatcher) SetClock(clock func() time.Time) {
	d.clock = clock
}

// Bind subscribes the dispatcher to availability-changed events on the bus.
func (d *Dispatcher) Bind(bus *events.Bus) {
	bus.Subscribe(func(ev events.AvailabilityChanged) {
		iv := models.Interval{Start: ev.Start, End: ev.End}
		if err := d.Rematch(context.Background(), ev.TenantID, ev.ResourceID, iv); err != nil {
			d.logger.Error().Err(err).
				Str("resource_id", ev.ResourceID).
				Str("cause", string(ev.Cause)).
				Msg("rematch after availability change failed")
		}
	})
}

// Rematch runs one matching pass for a freed slot: pick up to FanOut
// candidates, verify each candidate's slot is still claimable and issue each
// a time-boxed offer. Also invoked by the sweeper when an expired offer
// frees a still-unclaimed slot.
func (d *Dispatcher) Rematch(ctx context.Context, tenantID, resourceID string, freed models.Interval) error {
	res, err := d.catalog.GetResource(ctx, tenantID, resourceID)
	if err != nil {
		return err
	}
	if !res.Active {
		return nil
	}

	candidates, err := d.queue.DequeueMatching(ctx, tenantID, res, freed, d.cfg.FanOut)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	expiry := d.clock().Add(d.cfg.OfferTTL)
	offered := 0
	for i := range candidates {
		entry := candidates[i]
		slot := offerSlot(&entry, res.Category, freed)

		// Availability is gated on the candidate's own slot, not the whole
		// freed window: a capacity-added window spans many slots and can
		// carry unrelated bookings elsewhere in it.
		answers, err := d.engine.Check(ctx, tenantID, []string{resourceID}, "", slot)
		if err != nil {
			d.logger.Error().Err(err).Str("entry_id", entry.ID).Msg("availability re-check failed")
			continue
		}
		if !answers[resourceID].Free {
			d.logger.Debug().Str("entry_id", entry.ID).Msg("candidate slot already reclaimed")
			continue
		}

		ok, err := d.queue.Offer(ctx, entry.ID, resourceID, slot.Start, slot.End, expiry)
		if err != nil {
			d.logger.Error().Err(err).Str("entry_id", entry.ID).Msg("offer failed")
			continue
		}
		if !ok {
			// Claimed by a concurrent pass or cancelled; next candidate.
			continue
		}
		offered++
		d.notifyAsync(entry, res, slot, expiry)
	}

	d.logger.Info().
		Str("resource_id", resourceID).
		Int("candidates", len(candidates)).
		Int("offered", offered).
		Msg("matching pass complete")
	return nil
}

// offerSlot narrows a freed window to what the entry actually asked for.
// Capacity additions free windows spanning many slots; offering the whole
// window would book it all on acceptance. Entries that named only a start
// get the category's standard slot length.
func offerSlot(e *models.WaitlistEntry, category models.ServiceCategory, freed models.Interval) models.Interval {
	d := e.RequestedDuration()
	if d <= 0 {
		d = models.DefaultSlotLength(category)
	}
	if !e.RequestedStart.Before(freed.Start) && !e.RequestedStart.Add(d).After(freed.End) {
		return models.Interval{Start: e.RequestedStart, End: e.RequestedStart.Add(d)}
	}
	if freed.Start.Add(d).Before(freed.End) {
		return models.Interval{Start: freed.Start, End: freed.Start.Add(d)}
	}
	return freed
}

// notifyAsync delivers the notification off the caller's goroutine so event
// handlers never block on delivery.
func (d *Dispatcher) notifyAsync(entry models.WaitlistEntry, res *models.Resource, freed models.Interval, expiry time.Time) {
	offer := OfferDetails{
		EntryID:      entry.ID,
		ResourceID:   res.ID,
		ResourceName: res.Name,
		Start:        freed.Start,
		End:          freed.End,
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.sem <- struct{}{}
		defer func() { <-d.sem }()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := d.limiter.Wait(ctx); err != nil {
			d.logger.Warn().Err(err).Str("entry_id", entry.ID).Msg("notification rate wait aborted")
			return
		}
		if err := d.notifier.Notify(ctx, entry.RequesterRef, offer, expiry); err != nil {
			// Delivery failure does not roll back the offer.
			d.logger.Warn().Err(err).Str("entry_id", entry.ID).Msg("offer notification failed")
		}
	}()
}

// Wait blocks until in-flight notifications have drained. Used on shutdown
// and in tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Accept resolves an offer by acceptance: the entry is claimed through the
// status swap, then the reservation is committed through the normal booking
// path. First acceptance wins; a loser of the slot race is returned to
// OFFERED and stays eligible for re-offering after its own expiry.
func (d *Dispatcher) Accept(ctx context.Context, tenantID, entryID string) (*models.Reservation, error) {
	entry, err := d.queue.Get(ctx, tenantID, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status != models.WaitlistOffered {
		return nil, fmt.Errorf("%w: entry %s has no open offer", models.ErrExpiredOffer, entryID)
	}
	if entry.OfferExpired(d.clock()) {
		return nil, fmt.Errorf("%w: offer for entry %s lapsed", models.ErrExpiredOffer, entryID)
	}

	ok, err := d.queue.BeginConversion(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: offer for entry %s already resolved", models.ErrExpiredOffer, entryID)
	}

	reservation, err := d.booker.Reserve(ctx, tenantID, entry.OfferedResource, entry.RequesterRef,
		entry.OfferedStart, entry.OfferedEnd, booking.ReserveOptions{Confirm: true})
	if err != nil {
		if abortErr := d.queue.AbortConversion(ctx, entryID); abortErr != nil {
			d.logger.Error().Err(abortErr).Str("entry_id", entryID).Msg("conversion abort failed")
		}
		if errors.Is(err, models.ErrResourceUnavailable) {
			d.logger.Info().Str("entry_id", entryID).Msg("acceptance lost the slot race")
		}
		return nil, err
	}

	if err := d.queue.CompleteConversion(ctx, entryID, reservation.ID); err != nil {
		d.logger.Error().Err(err).Str("entry_id", entryID).Msg("conversion link failed")
	}
	return reservation, nil
}

// Decline resolves an offer by explicit requester action.
func (d *Dispatcher) Decline(ctx context.Context, tenantID, entryID string, leave bool) error {
	return d.queue.Decline(ctx, tenantID, entryID, leave)
}
