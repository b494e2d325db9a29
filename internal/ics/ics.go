// Package ics is the calendar-event read collaborator: it turns ICS payloads
// into the normalized events the scheduling engine consumes.
package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"braindump/internal/domain"
)

// maxOccurrencesPerEvent caps recurrence expansion so a malformed RRULE
// cannot blow up an import.
const maxOccurrencesPerEvent = 1000

// rawEvent is one VEVENT before recurrence expansion.
type rawEvent struct {
	uid     string
	summary string
	start   time.Time
	end     time.Time
	allDay  bool
	status  domain.EventStatus
	rrule   string
	exDates []time.Time
}

// Import parses an ICS payload and expands it into concrete calendar events
// for calendarID within [rangeStart, rangeEnd). Unparseable VEVENTs are
// skipped; a missing or broken RRULE degrades that event to its base
// occurrence rather than failing the whole import.
func Import(calendarID string, body []byte, rangeStart, rangeEnd time.Time) ([]domain.CalendarEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if rangeEnd.Before(rangeStart) {
		return nil, errors.New("range end before range start")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	var out []domain.CalendarEvent
	for _, ve := range cal.Events() {
		raw, err := parseVEvent(ve)
		if err != nil {
			continue
		}
		out = append(out, expand(calendarID, raw, rangeStart, rangeEnd)...)
	}
	return out, nil
}

func parseVEvent(ve *ical.VEvent) (rawEvent, error) {
	var raw rawEvent

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return raw, errors.New("missing UID")
	}
	raw.uid = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		raw.summary = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return raw, fmt.Errorf("DTSTART: %w", err)
	}
	raw.start = start
	if end, err := ve.GetEndAt(); err == nil {
		raw.end = end
	} else {
		raw.end = start.Add(time.Hour)
	}

	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		if params := p.ICalParameters; params != nil {
			if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
				raw.allDay = true
			}
		}
		if !strings.Contains(p.Value, "T") {
			raw.allDay = true
		}
	}

	raw.status = domain.EventConfirmed
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		switch strings.ToUpper(p.Value) {
		case "TENTATIVE":
			raw.status = domain.EventTentative
		case "CANCELLED":
			raw.status = domain.EventCancelled
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		raw.rrule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(strings.TrimSpace(part)); err == nil {
				raw.exDates = append(raw.exDates, t)
			}
		}
	}
	return raw, nil
}

func expand(calendarID string, raw rawEvent, rangeStart, rangeEnd time.Time) []domain.CalendarEvent {
	if raw.rrule == "" {
		ev := makeEvent(calendarID, raw, raw.start, raw.end)
		if overlapsRange(ev, rangeStart, rangeEnd) {
			return []domain.CalendarEvent{ev}
		}
		return nil
	}

	rule, err := rrule.StrToRRule(raw.rrule)
	if err != nil {
		ev := makeEvent(calendarID, raw, raw.start, raw.end)
		if overlapsRange(ev, rangeStart, rangeEnd) {
			return []domain.CalendarEvent{ev}
		}
		return nil
	}
	rule.DTStart(raw.start)

	var set rrule.Set
	set.RRule(rule)
	for _, ex := range raw.exDates {
		set.ExDate(ex.In(raw.start.Location()))
	}

	duration := raw.end.Sub(raw.start)
	starts := set.Between(rangeStart.In(raw.start.Location()), rangeEnd.In(raw.start.Location()), true)
	if len(starts) > maxOccurrencesPerEvent {
		starts = starts[:maxOccurrencesPerEvent]
	}

	var out []domain.CalendarEvent
	for _, occStart := range starts {
		occEnd := occStart.Add(duration)
		if raw.allDay {
			day := time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occStart, occEnd = day, day.Add(24*time.Hour)
		}
		out = append(out, makeEvent(calendarID, raw, occStart, occEnd))
	}
	return out
}

func makeEvent(calendarID string, raw rawEvent, start, end time.Time) domain.CalendarEvent {
	id := raw.uid
	if raw.rrule != "" {
		id = fmt.Sprintf("%s/%s", raw.uid, start.UTC().Format("20060102T150405Z"))
	}
	return domain.CalendarEvent{
		ID:         id,
		CalendarID: calendarID,
		Title:      raw.summary,
		Start:      start,
		End:        end,
		AllDay:     raw.allDay,
		Status:     raw.status,
	}
}

func overlapsRange(ev domain.CalendarEvent, from, to time.Time) bool {
	return ev.Start.Before(to) && from.Before(ev.End)
}

func parseICSTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, time.Local)
	}
	return time.ParseInLocation("20060102", v, time.Local)
}
