package ics

import (
	"context"
	"errors"
	"strings"
	"time"

	appLog "timeledger/internal/log"
	"timeledger/internal/model"
)

// Calendar turns the owner's subscribed ICS feeds into candidate meetings.
type Calendar struct {
	fetcher *Fetcher
	sources []Source

	owner     string
	filter    model.DomainFilter
	maxEvents int
	loc       *time.Location
}

// CalendarOptions configures a Calendar.
type CalendarOptions struct {
	OwnerEmail string
	Filter     model.DomainFilter
	MaxEvents  int
	Location   *time.Location
}

func NewCalendar(fetcher *Fetcher, sources []Source, opts CalendarOptions) *Calendar {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Calendar{
		fetcher:   fetcher,
		sources:   sources,
		owner:     strings.ToLower(strings.TrimSpace(opts.OwnerEmail)),
		filter:    opts.Filter,
		maxEvents: opts.MaxEvents,
		loc:       opts.Location,
	}
}

// Meetings returns the meetings overlapping [from, to) that involve at least
// one external domain. Feeds that fail to load are skipped; it is an error
// only when every feed fails.
func (c *Calendar) Meetings(ctx context.Context, from, to time.Time) ([]model.Activity, error) {
	results, errs := c.fetcher.FetchAll(ctx, c.sources)
	if len(results) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	var events []ParsedEvent
	for _, res := range results {
		evs, err := ParseICS(res.Source, res.Body)
		if err != nil {
			continue
		}
		events = append(events, evs...)
	}

	occs, err := ExpandOccurrences(events, ExpandConfig{Location: c.loc, RangeStart: from, RangeEnd: to})
	if err != nil {
		return nil, err
	}
	out := SelectMeetings(occs, from, to, c.owner, c.filter, c.maxEvents)
	appLog.Info("ics: meetings collected", "sources", len(results), "occurrences", len(occs), "meetings", len(out))
	return out, nil
}

// SelectMeetings filters sorted occurrences down to billable meetings:
// timed, not cancelled, not declined by owner, overlapping [from, to), with
// at least one external participant domain. The same instance seen in two
// feeds is kept once. maxEvents <= 0 means no cap.
func SelectMeetings(occs []Occurrence, from, to time.Time, owner string, filter model.DomainFilter, maxEvents int) []model.Activity {
	var out []model.Activity
	seen := make(map[string]bool)
	for _, o := range occs {
		if maxEvents > 0 && len(out) >= maxEvents {
			break
		}
		if o.AllDay || o.Status == "CANCELLED" || !o.End.After(o.Start) {
			continue
		}
		if !o.Start.Before(to) || !o.End.After(from) {
			continue
		}
		if declinedBy(o, owner) {
			continue
		}

		emails := make([]string, 0, len(o.Attendees)+1)
		for _, a := range o.Attendees {
			emails = append(emails, a.Email)
		}
		if o.Organizer != "" {
			emails = append(emails, o.Organizer)
		}
		domains := filter.External(emails)
		if len(domains) == 0 {
			continue
		}

		id := o.UID + "/" + o.InstanceKey
		if seen[id] {
			continue
		}
		seen[id] = true

		out = append(out, model.Activity{
			ID:      id,
			Kind:    model.KindMeeting,
			Start:   o.Start,
			End:     o.End,
			Label:   o.Summary,
			Domains: domains,
		})
	}
	return out
}

func declinedBy(o Occurrence, owner string) bool {
	if owner == "" {
		return false
	}
	for _, a := range o.Attendees {
		if a.Email == owner && a.PartStat == "DECLINED" {
			return true
		}
	}
	return false
}
