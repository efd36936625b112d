package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "timeledger/internal/log"
)

const defaultMaxOccurrencesPerEvent = 5000

// Occurrence is one concrete instance of a (possibly recurring) event.
type Occurrence struct {
	SourceID    string
	UID         string
	InstanceKey string // start time in RFC3339, unique per UID
	Summary     string
	Status      string
	Organizer   string
	Attendees   []Attendee
	AllDay      bool
	Start       time.Time
	End         time.Time
}

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// Location is the zone occurrences are converted into. Nil means UTC.
	Location *time.Location

	// RangeStart / RangeEnd bound the occurrences returned (inclusive).
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps the expansion of one recurring event.
	MaxOccurrencesPerEvent int
}

// ExpandOccurrences expands events into concrete occurrences within the
// configured range, applying EXDATE and RECURRENCE-ID overrides. The result
// is sorted by start time, then UID.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) ([]Occurrence, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
	}

	out := make([]Occurrence, 0)
	for uid, bases := range baseByUID {
		for _, ev := range bases {
			var occ []Occurrence
			if ev.RawRRule == "" {
				occ = expandSingle(ev, overridesByUID[uid], cfg)
			} else {
				var capped bool
				occ, capped = expandRecurring(ev, overridesByUID[uid], cfg)
				if capped {
					appLog.Warn("expand: occurrences truncated", "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
				}
			}
			out = append(out, occ...)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].UID < out[j].UID
	})
	return out, nil
}

func expandSingle(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []Occurrence {
	start, end := ev.Start, ev.End
	if o, ok := findOverride(overrides, start); ok {
		ev, start, end = o, o.Start, o.End
	}
	if !inRange(start, end, cfg) {
		return nil
	}
	return []Occurrence{makeOccurrence(ev, start, end, cfg.Location)}
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]Occurrence, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the lower bound by the event length so occurrences that started
	// before the range but still overlap it are found.
	dur := ev.End.Sub(ev.Start)
	from := cfg.RangeStart.Add(-dur).In(ev.Start.Location())
	to := cfg.RangeEnd.In(ev.Start.Location())
	times := set.Between(from, to, true)

	capped := false
	if len(times) > cfg.MaxOccurrencesPerEvent {
		times = times[:cfg.MaxOccurrencesPerEvent]
		capped = true
	}

	out := make([]Occurrence, 0, len(times))
	for _, st := range times {
		var en time.Time
		if ev.AllDay {
			st = time.Date(st.Year(), st.Month(), st.Day(), 0, 0, 0, 0, st.Location())
			en = st.AddDate(0, 0, 1)
		} else {
			en = st.Add(dur)
		}

		base := ev
		if o, ok := findOverride(overrides, st); ok {
			base, st, en = o, o.Start, o.End
		}
		if !inRange(st, en, cfg) {
			continue
		}
		out = append(out, makeOccurrence(base, st, en, cfg.Location))
	}

	// An override may move an instance from outside the window into the
	// range; Between never yields its RECURRENCE-ID.
	for _, o := range overrides {
		if o.Recurrence == nil {
			continue
		}
		rec := o.Recurrence.In(ev.Start.Location())
		if !rec.Before(from) && !rec.After(to) {
			continue
		}
		if !isInstance(&set, rec) || !inRange(o.Start, o.End, cfg) {
			continue
		}
		out = append(out, makeOccurrence(o, o.Start, o.End, cfg.Location))
	}
	return out, capped
}

// isInstance reports whether the set yields an occurrence exactly at t.
func isInstance(set *rrule.Set, t time.Time) bool {
	for _, st := range set.Between(t.Add(-time.Second), t.Add(time.Second), true) {
		if st.Equal(t) {
			return true
		}
	}
	return false
}

// findOverride returns the override whose RECURRENCE-ID equals start.
func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func inRange(start, end time.Time, cfg ExpandConfig) bool {
	return !end.Before(cfg.RangeStart) && !start.After(cfg.RangeEnd)
}

func makeOccurrence(ev ParsedEvent, start, end time.Time, loc *time.Location) Occurrence {
	start, end = start.In(loc), end.In(loc)
	return Occurrence{
		SourceID:    ev.Source.ID,
		UID:         ev.UID,
		InstanceKey: start.Format(time.RFC3339),
		Summary:     ev.Summary,
		Status:      ev.Status,
		Organizer:   ev.Organizer,
		Attendees:   ev.Attendees,
		AllDay:      ev.AllDay,
		Start:       start,
		End:         end,
	}
}
