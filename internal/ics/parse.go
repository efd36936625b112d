package ics

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "timeledger/internal/log"
)

// Attendee is one ATTENDEE (or the ORGANIZER) of a VEVENT.
type Attendee struct {
	Email    string
	PartStat string // NEEDS-ACTION, ACCEPTED, DECLINED, TENTATIVE; "" if absent
}

// ParsedEvent is the normalized representation of a VEVENT as produced
// by the ICS parser. Recurrence expansion operates on this type.
type ParsedEvent struct {
	Source Source

	UID string
	Seq int

	Summary string
	Status  string // TENTATIVE, CONFIRMED, CANCELLED; "" if absent

	Organizer string
	Attendees []Attendee

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID (if present) in event's own timezone
	IsOverride bool       // true if this VEVENT overrides a recurring instance
}

// ParseICS parses a single ICS payload into a list of ParsedEvent.
//
// A VEVENT that cannot be parsed is logged and skipped; the rest of the
// calendar is still returned. RRULE/EXDATE/RECURRENCE-ID are recorded but
// not expanded here.
func ParseICS(src Source, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, err
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp)
		if perr != nil {
			appLog.Error("ics vevent parse failed", perr, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "url", redactURL(src.URL), "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent
	out.Source = src

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if seqProp := ve.GetProperty(ical.ComponentPropertySequence); seqProp != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(seqProp.Value)); err == nil {
			out.Seq = n
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty("STATUS"); p != nil {
		out.Status = strings.ToUpper(strings.TrimSpace(p.Value))
	}

	if p := ve.GetProperty(ical.ComponentPropertyOrganizer); p != nil {
		out.Organizer = calAddress(p.Value)
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyAttendee) {
		email := calAddress(p.Value)
		if email == "" {
			continue
		}
		out.Attendees = append(out.Attendees, Attendee{
			Email:    email,
			PartStat: firstParam(p.ICalParameters, "PARTSTAT"),
		})
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, err
	}
	end, err := ve.GetEndAt()
	if err != nil {
		// No DTEND: treat the event as an instant.
		end = start
	}
	out.Start = start
	out.End = end

	// VALUE=DATE or a value without a time part marks an all-day event.
	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		if strings.EqualFold(firstParam(p.ICalParameters, "VALUE"), "DATE") || !strings.Contains(p.Value, "T") {
			out.AllDay = true
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := paramLocation(p.ICalParameters, start.Location())
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, loc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		loc := paramLocation(p.ICalParameters, start.Location())
		if t, err := parseICSTime(p.Value, loc); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

// calAddress strips the mailto: scheme from a CAL-ADDRESS value.
func calAddress(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 7 && strings.EqualFold(v[:7], "mailto:") {
		v = v[7:]
	}
	return strings.ToLower(v)
}

func firstParam(params map[string][]string, name string) string {
	if vs, ok := params[name]; ok && len(vs) > 0 {
		return strings.ToUpper(strings.TrimSpace(vs[0]))
	}
	return ""
}

// paramLocation resolves a TZID parameter, falling back to def.
func paramLocation(params map[string][]string, def *time.Location) *time.Location {
	if vs, ok := params["TZID"]; ok && len(vs) > 0 {
		if loc, err := time.LoadLocation(vs[0]); err == nil {
			return loc
		}
	}
	return def
}

// parseICSTime parses a DATE or DATE-TIME value. Floating values are read in
// loc; values with a Z suffix are UTC.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
