package models

import (
	"fmt"
	"time"
)

// Interval is a half-open time range [Start, End). All bounds entering the
// core are assumed already normalized to UTC by the ingestion side; no
// timezone conversion happens here.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewInterval validates and builds an interval. A zero-length or inverted
// range is a configuration error.
func NewInterval(start, end time.Time) (Interval, error) {
	if !start.Before(end) {
		return Interval{}, fmt.Errorf("%w: interval end %s not after start %s",
			ErrConfiguration, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return Interval{Start: start, End: end}, nil
}

// Overlaps reports whether two half-open intervals intersect:
// start1 < end2 && start2 < end1.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Contains reports whether other lies fully inside iv.
func (iv Interval) Contains(other Interval) bool {
	return !other.Start.Before(iv.Start) && !other.End.After(iv.End)
}

// Duration returns the interval length.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%s, %s)", iv.Start.Format(time.RFC3339), iv.End.Format(time.RFC3339))
}
