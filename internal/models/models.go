package models

import "time"

// ServiceCategory classifies what kind of service a resource provides.
type ServiceCategory string

const (
	CategoryBoarding ServiceCategory = "BOARDING"
	CategoryDaycare  ServiceCategory = "DAYCARE"
	CategoryGrooming ServiceCategory = "GROOMING"
	CategoryTraining ServiceCategory = "TRAINING"
)

// KnownCategories lists all valid service categories.
var KnownCategories = []ServiceCategory{
	CategoryBoarding, CategoryDaycare, CategoryGrooming, CategoryTraining,
}

// ValidCategory reports whether c is a known service category.
func ValidCategory(c ServiceCategory) bool {
	for _, k := range KnownCategories {
		if k == c {
			return true
		}
	}
	return false
}

// DefaultSlotLength returns the standard booking length for a category,
// used when a waitlist entry names only a start.
func DefaultSlotLength(c ServiceCategory) time.Duration {
	switch c {
	case CategoryDaycare:
		return 10 * time.Hour
	case CategoryGrooming:
		return 90 * time.Minute
	case CategoryTraining:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// Resource is a single bookable unit: a kennel, a suite, a groomer slot.
type Resource struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	Name      string          `json:"name"`
	Category  ServiceCategory `json:"category"`
	Capacity  int             `json:"capacity"` // max concurrent occupants, default 1
	Staff     string          `json:"staff,omitempty"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationCheckedIn ReservationStatus = "CHECKED_IN"
	ReservationCompleted ReservationStatus = "COMPLETED"
	ReservationCancelled ReservationStatus = "CANCELLED"
	ReservationNoShow    ReservationStatus = "NO_SHOW"
)

// Terminal reports whether the status is immutable.
func (s ReservationStatus) Terminal() bool {
	switch s {
	case ReservationCompleted, ReservationCancelled, ReservationNoShow:
		return true
	}
	return false
}

// Occupying reports whether a reservation in this status holds capacity
// on its resource. PENDING holds occupy too: that is what makes a hold a hold.
func (s ReservationStatus) Occupying() bool {
	switch s {
	case ReservationPending, ReservationConfirmed, ReservationCheckedIn:
		return true
	}
	return false
}

// Reservation is a committed (or provisionally held) occupancy of a resource
// over the half-open interval [Start, End).
type Reservation struct {
	ID            string            `json:"id"`
	TenantID      string            `json:"tenant_id"`
	ResourceID    string            `json:"resource_id"`
	RequesterRef  string            `json:"requester_ref"`
	Start         time.Time         `json:"start"`
	End           time.Time         `json:"end"`
	Status        ReservationStatus `json:"status"`
	HoldExpiresAt *time.Time        `json:"hold_expires_at,omitempty"`
	ExternalRef   string            `json:"external_ref,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	Version       int64             `json:"version"`
}

// Interval returns the reservation's occupancy interval.
func (r *Reservation) Interval() Interval {
	return Interval{Start: r.Start, End: r.End}
}

// HoldExpired reports whether a PENDING hold has passed its expiry.
func (r *Reservation) HoldExpired(now time.Time) bool {
	return r.Status == ReservationPending &&
		r.HoldExpiresAt != nil && !now.Before(*r.HoldExpiresAt)
}

// WaitlistStatus is the lifecycle state of a waitlist entry.
type WaitlistStatus string

const (
	WaitlistActive    WaitlistStatus = "ACTIVE"
	WaitlistOffered   WaitlistStatus = "OFFERED"
	WaitlistConverted WaitlistStatus = "CONVERTED"
	WaitlistExpired   WaitlistStatus = "EXPIRED"
	WaitlistCancelled WaitlistStatus = "CANCELLED"
)

// WaitlistEntry represents unmet demand: a requester waiting for capacity.
//
// The offer fields describe the current time-boxed offer when Status is
// OFFERED; they are cleared when the offer resolves. The entry itself owns
// no goroutines; all state transitions go through the queue's
// compare-and-swap guard.
type WaitlistEntry struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	RequesterRef string          `json:"requester_ref"`
	Category     ServiceCategory `json:"category"`

	RequestedStart time.Time  `json:"requested_start"`
	RequestedEnd   *time.Time `json:"requested_end,omitempty"`
	Flexible       bool       `json:"flexible"`
	FlexDays       int        `json:"flex_days"`

	PreferredResource string `json:"preferred_resource,omitempty"`
	PreferredStaff    string `json:"preferred_staff,omitempty"`

	// Priority is derived once at enqueue time and never recomputed.
	// The default scoring is the enqueue timestamp in nanoseconds, which
	// makes the default ordering strict FIFO.
	Priority int64          `json:"priority"`
	Status   WaitlistStatus `json:"status"`

	ExpiresAt  time.Time `json:"expires_at"`
	OfferCount int       `json:"offer_count"`

	OfferedResource string    `json:"offered_resource,omitempty"`
	OfferedStart    time.Time `json:"offered_start,omitempty"`
	OfferedEnd      time.Time `json:"offered_end,omitempty"`
	OfferExpiresAt  time.Time `json:"offer_expires_at,omitempty"`

	ConvertedReservation string `json:"converted_reservation,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OfferExpired reports whether the entry's current offer has lapsed.
func (e *WaitlistEntry) OfferExpired(now time.Time) bool {
	return e.Status == WaitlistOffered &&
		!e.OfferExpiresAt.IsZero() && !now.Before(e.OfferExpiresAt)
}

// RequestedDuration returns the requested stay length, or zero when only a
// start date was given.
func (e *WaitlistEntry) RequestedDuration() time.Duration {
	if e.RequestedEnd == nil {
		return 0
	}
	return e.RequestedEnd.Sub(e.RequestedStart)
}

// FlexWindow returns the ± range around the requested start within which
// the entry accepts a match. Non-flexible entries get a zero window.
func (e *WaitlistEntry) FlexWindow() time.Duration {
	if !e.Flexible {
		return 0
	}
	return time.Duration(e.FlexDays) * 24 * time.Hour
}
