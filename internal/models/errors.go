package models

import "errors"

// Error taxonomy shared by every component. Conflict and not-found
// conditions are always returned to the caller as typed errors; nothing
// here is swallowed or retried silently.
var (
	// ErrResourceUnavailable is the commit-time conflict: the atomic
	// re-check under the resource lock found no remaining capacity.
	ErrResourceUnavailable = errors.New("resource unavailable")

	// ErrInvalidStateTransition rejects a status change whose current
	// state is not a valid predecessor. Caller error, never retried.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	ErrReservationNotFound = errors.New("reservation not found")
	ErrResourceNotFound    = errors.New("resource not found")
	ErrEntryNotFound       = errors.New("waitlist entry not found")

	// ErrExpiredOffer and ErrExpiredHold mean the action arrived after
	// expiry; for the caller's purposes the slot may already be gone.
	ErrExpiredOffer = errors.New("offer expired")
	ErrExpiredHold  = errors.New("hold expired")

	// ErrConfiguration covers malformed intervals, unknown categories and
	// other requests rejected before any lock is taken.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrDuplicateEntry guards the one-active-entry-per-demand invariant
	// on the waitlist.
	ErrDuplicateEntry = errors.New("duplicate waitlist entry")
)
