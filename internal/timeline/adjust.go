package timeline

import (
	"errors"
	"fmt"
	"time"

	"timeledger/internal/model"
)

const (
	DefaultMinAdjustedFraction   = 0.5
	DefaultMaxStartDelayFraction = 0.33
	DefaultMaxEmailMinutes       = 15
	DefaultMinEmailMinutes       = 5
	DefaultMaxOverlapMinutes     = 3
)

// MeetingTunables controls how far a meeting may be shortened to fit.
type MeetingTunables struct {
	// MinAdjustedFraction is the share of the nominal length that must survive.
	MinAdjustedFraction float64
	// MaxStartDelayFraction is the share of the nominal length by which the
	// start may be pushed back past an earlier commitment.
	MaxStartDelayFraction float64
}

func DefaultMeetingTunables() MeetingTunables {
	return MeetingTunables{
		MinAdjustedFraction:   DefaultMinAdjustedFraction,
		MaxStartDelayFraction: DefaultMaxStartDelayFraction,
	}
}

func (t MeetingTunables) Validate() error {
	if t.MinAdjustedFraction <= 0 || t.MinAdjustedFraction > 1 {
		return fmt.Errorf("min adjusted fraction %v out of range (0,1]", t.MinAdjustedFraction)
	}
	if t.MaxStartDelayFraction < 0 || t.MaxStartDelayFraction >= 1 {
		return fmt.Errorf("max start delay fraction %v out of range [0,1)", t.MaxStartDelayFraction)
	}
	return nil
}

// EmailTunables controls the synthetic window manufactured for a sent email.
type EmailTunables struct {
	MaxEmail   time.Duration
	MinEmail   time.Duration
	MaxOverlap time.Duration
}

func DefaultEmailTunables() EmailTunables {
	return EmailTunables{
		MaxEmail:   DefaultMaxEmailMinutes * time.Minute,
		MinEmail:   DefaultMinEmailMinutes * time.Minute,
		MaxOverlap: DefaultMaxOverlapMinutes * time.Minute,
	}
}

func (t EmailTunables) Validate() error {
	if t.MinEmail <= 0 || t.MaxEmail < t.MinEmail {
		return fmt.Errorf("email window bounds invalid: min=%s max=%s", t.MinEmail, t.MaxEmail)
	}
	if t.MaxOverlap < 0 || t.MaxOverlap >= t.MinEmail {
		return errors.New("max overlap must be non-negative and below the minimum email window")
	}
	return nil
}

// AdjustMeeting fits the meeting window w around the intervals in s.
//
// The start may advance to the latest commitment ending within the tolerated
// delay (the delay is rounded to the minute), the end may retract to the
// earliest commitment starting inside the window. The result is rejected with
// model.ErrWindowRejected if it lost too much of its nominal length or still
// overlaps a commitment.
func AdjustMeeting(s *Store, w model.Interval, t MeetingTunables) (model.Interval, error) {
	nominal := w.Duration()
	if nominal <= 0 {
		return model.Interval{}, fmt.Errorf("meeting %s-%s has no duration: %w",
			w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339), model.ErrWindowRejected)
	}

	start, end := w.Start, w.End

	delay := scale(nominal, t.MaxStartDelayFraction).Round(time.Minute)
	latestAllowedStart := start.Add(delay)
	if e, ok := s.LatestEndBefore(latestAllowedStart, start); ok {
		start = e
	}
	if st, ok := s.EarliestStartAfter(start, end); ok {
		end = st
	}

	adjusted := model.Interval{Start: start, End: end}
	if adjusted.Duration() < scale(nominal, t.MinAdjustedFraction) {
		return model.Interval{}, fmt.Errorf("meeting shrinks to %s of %s: %w",
			adjusted.Duration(), nominal, model.ErrWindowRejected)
	}
	if s.Overlaps(adjusted) {
		return model.Interval{}, fmt.Errorf("meeting still overlaps a commitment: %w", model.ErrWindowRejected)
	}
	return adjusted, nil
}

// SynthesizeEmail manufactures a window ending at (or shortly before) sent.
func SynthesizeEmail(s *Store, sent time.Time, t EmailTunables) (model.Interval, error) {
	upper := sent
	for moved := true; moved; {
		moved = false
		for _, iv := range s.intervals {
			if iv.Start.Before(upper) && iv.End.After(upper) {
				upper = iv.Start
				moved = true
			}
		}
	}

	lower := upper.Add(-t.MaxEmail)
	for moved := true; moved; {
		moved = false
		for _, iv := range s.intervals {
			if iv.Start.Before(upper) && iv.End.After(lower) {
				lower = iv.End
				moved = true
			}
		}
	}

	window := model.Interval{Start: lower, End: upper}
	if window.Duration() < t.MinEmail {
		return model.Interval{}, fmt.Errorf("email window %s shorter than %s: %w",
			window.Duration(), t.MinEmail, model.ErrWindowRejected)
	}
	if sent.Sub(upper) > t.MaxOverlap {
		return model.Interval{}, fmt.Errorf("email window ends %s before send time: %w",
			sent.Sub(upper), model.ErrWindowRejected)
	}
	if s.Overlaps(window) {
		return model.Interval{}, fmt.Errorf("email window overlaps a commitment: %w", model.ErrWindowRejected)
	}
	return window, nil
}

func scale(d time.Duration, f float64) time.Duration {
	return time.Duration(float64(d) * f)
}
