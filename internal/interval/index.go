// Package interval implements the per-resource occupied-interval index that
// answers overlap queries for the availability engine and the booking
// coordinator.
package interval

import (
	"sort"
	"sync"
	"time"

	"kennelbook/internal/models"
)

type entry struct {
	reservationID string
	start         time.Time
	end           time.Time
}

// Index holds active reservation intervals keyed by resource. Intervals are
// half-open [start, end) and kept sorted by start time so overlap queries
// can binary-search the upper bound instead of scanning the whole list.
//
// The index itself is only a projection; the booking coordinator is the sole
// writer and re-validates under its per-resource lock before every insert.
type Index struct {
	mu         sync.RWMutex
	byResource map[string][]entry
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{byResource: make(map[string][]entry)}
}

// Insert records an occupied interval for a resource. Inserting the same
// reservation twice replaces the previous interval.
func (x *Index) Insert(resourceID, reservationID string, start, end time.Time) {
	x.mu.Lock()
	defer x.mu.Unlock()

	entries := x.removeLocked(resourceID, reservationID)
	pos := sort.Search(len(entries), func(i int) bool {
		return entries[i].start.After(start)
	})
	entries = append(entries, entry{})
	copy(entries[pos+1:], entries[pos:])
	entries[pos] = entry{reservationID: reservationID, start: start, end: end}
	x.byResource[resourceID] = entries
}

// Remove drops a reservation's interval. Returns false if it was not present.
func (x *Index) Remove(resourceID, reservationID string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	before := len(x.byResource[resourceID])
	x.byResource[resourceID] = x.removeLocked(resourceID, reservationID)
	return len(x.byResource[resourceID]) < before
}

func (x *Index) removeLocked(resourceID, reservationID string) []entry {
	entries := x.byResource[resourceID]
	for i, e := range entries {
		if e.reservationID == reservationID {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	return entries
}

// Overlaps returns the count of active intervals on the resource that
// intersect [start, end).
func (x *Index) Overlaps(resourceID string, start, end time.Time) int {
	return len(x.Overlapping(resourceID, start, end))
}

// Overlapping returns the reservation IDs of active intervals intersecting
// [start, end), in start order.
func (x *Index) Overlapping(resourceID string, start, end time.Time) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	entries := x.byResource[resourceID]
	// Entries at or past the query end cannot intersect a half-open range.
	hi := sort.Search(len(entries), func(i int) bool {
		return !entries[i].start.Before(end)
	})

	var ids []string
	for _, e := range entries[:hi] {
		if e.end.After(start) {
			ids = append(ids, e.reservationID)
		}
	}
	return ids
}

// OverlapsInterval is a convenience wrapper over Overlaps.
func (x *Index) OverlapsInterval(resourceID string, iv models.Interval) int {
	return x.Overlaps(resourceID, iv.Start, iv.End)
}

// PruneBefore drops intervals that ended at or before the cutoff. Terminal
// reservations keep their index entries until pruned; past intervals can
// never conflict with future bookings, so this is purely housekeeping run
// by the sweeper.
func (x *Index) PruneBefore(cutoff time.Time) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	pruned := 0
	for resourceID, entries := range x.byResource {
		kept := entries[:0]
		for _, e := range entries {
			if e.end.After(cutoff) {
				kept = append(kept, e)
			} else {
				pruned++
			}
		}
		if len(kept) == 0 {
			delete(x.byResource, resourceID)
		} else {
			x.byResource[resourceID] = kept
		}
	}
	return pruned
}

// Size returns the total number of indexed intervals.
func (x *Index) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()

	n := 0
	for _, entries := range x.byResource {
		n += len(entries)
	}
	return n
}
