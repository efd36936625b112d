// Package timeline holds the owner's committed intervals for one run and the
// window adjusters that fit new meetings and emails around them.
//
// A Store is run-scoped: it is seeded with the commitments already present in
// the time-tracking service and then extended with every activity committed
// during the run, so later activities see earlier ones. It is not safe for
// concurrent use; the engine is single-threaded.
package timeline

import (
	"time"

	"timeledger/internal/model"
)

// Store is an append-only set of committed intervals.
type Store struct {
	intervals []model.Interval
}

// NewStore returns a store seeded with the given intervals. Seeded intervals
// are trusted as given and never checked against each other.
func NewStore(seed ...model.Interval) *Store {
	s := &Store{intervals: make([]model.Interval, 0, len(seed))}
	s.intervals = append(s.intervals, seed...)
	return s
}

// Add appends a committed interval.
func (s *Store) Add(iv model.Interval) {
	s.intervals = append(s.intervals, iv)
}

// Len returns the number of stored intervals.
func (s *Store) Len() int { return len(s.intervals) }

// Intervals returns a copy of the stored intervals in insertion order.
func (s *Store) Intervals() []model.Interval {
	out := make([]model.Interval, len(s.intervals))
	copy(out, s.intervals)
	return out
}

// Overlaps reports whether any stored interval properly intersects w, i.e.
// shares more than a single boundary point with it.
func (s *Store) Overlaps(w model.Interval) bool {
	for _, iv := range s.intervals {
		if iv.Overlaps(w) {
			return true
		}
	}
	return false
}

// LatestEndBefore returns the maximum stored end e with notBefore < e <= t.
// The upper bound is inclusive: an interval ending exactly at the latest
// tolerated start still pushes the start forward.
func (s *Store) LatestEndBefore(t, notBefore time.Time) (time.Time, bool) {
	var (
		best  time.Time
		found bool
	)
	for _, iv := range s.intervals {
		if !iv.End.After(notBefore) || iv.End.After(t) {
			continue
		}
		if !found || iv.End.After(best) {
			best = iv.End
			found = true
		}
	}
	return best, found
}

// EarliestStartAfter returns the minimum stored start st with t < st < notAfter.
func (s *Store) EarliestStartAfter(t, notAfter time.Time) (time.Time, bool) {
	var (
		best  time.Time
		found bool
	)
	for _, iv := range s.intervals {
		if !iv.Start.After(t) || !iv.Start.Before(notAfter) {
			continue
		}
		if !found || iv.Start.Before(best) {
			best = iv.Start
			found = true
		}
	}
	return best, found
}
