package ics

import (
	"strings"
	"testing"
	"time"

	"braindump/internal/domain"
)

func icsBody(events ...string) []byte {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
	}
	lines = append(lines, events...)
	lines = append(lines, "END:VCALENDAR")
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

func vevent(lines ...string) string {
	all := append([]string{"BEGIN:VEVENT"}, lines...)
	all = append(all, "END:VEVENT")
	return strings.Join(all, "\r\n")
}

var (
	rangeStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rangeEnd   = rangeStart.AddDate(0, 0, 7)
)

func TestImportSingleEvent(t *testing.T) {
	body := icsBody(vevent(
		"UID:ev-1",
		"SUMMARY:Team standup",
		"DTSTART:20240102T100000Z",
		"DTEND:20240102T103000Z",
	))
	events, err := Import("work", body, rangeStart, rangeEnd)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.ID != "ev-1" || ev.CalendarID != "work" || ev.Title != "Team standup" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Status != domain.EventConfirmed || ev.AllDay {
		t.Fatalf("unexpected flags: %+v", ev)
	}
	if !ev.Start.Equal(time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("start = %s", ev.Start)
	}
	if ev.End.Sub(ev.Start) != 30*time.Minute {
		t.Fatalf("duration = %s", ev.End.Sub(ev.Start))
	}
}

func TestImportStatusMapping(t *testing.T) {
	body := icsBody(
		vevent("UID:a", "DTSTART:20240102T090000Z", "DTEND:20240102T100000Z", "STATUS:TENTATIVE"),
		vevent("UID:b", "DTSTART:20240102T110000Z", "DTEND:20240102T120000Z", "STATUS:CANCELLED"),
	)
	events, err := Import("work", body, rangeStart, rangeEnd)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	byID := map[string]domain.CalendarEvent{}
	for _, ev := range events {
		byID[ev.ID] = ev
	}
	if byID["a"].Status != domain.EventTentative {
		t.Fatalf("a status = %s", byID["a"].Status)
	}
	if byID["b"].Status != domain.EventCancelled {
		t.Fatalf("b status = %s", byID["b"].Status)
	}
}

func TestImportAllDayEvent(t *testing.T) {
	body := icsBody(vevent(
		"UID:holiday",
		"SUMMARY:Bank holiday",
		"DTSTART;VALUE=DATE:20240103",
		"DTEND;VALUE=DATE:20240104",
	))
	events, err := Import("work", body, rangeStart, rangeEnd)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if !events[0].AllDay {
		t.Fatalf("expected all-day: %+v", events[0])
	}
}

func TestImportExpandsRecurrence(t *testing.T) {
	body := icsBody(vevent(
		"UID:rec",
		"SUMMARY:Daily sync",
		"DTSTART:20240101T090000Z",
		"DTEND:20240101T091500Z",
		"RRULE:FREQ=DAILY;COUNT=5",
	))
	events, err := Import("work", body, rangeStart, rangeEnd)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("expected 5 occurrences, got %d", len(events))
	}
	seen := map[string]bool{}
	for i, ev := range events {
		if seen[ev.ID] {
			t.Fatalf("duplicate occurrence id %s", ev.ID)
		}
		seen[ev.ID] = true
		want := time.Date(2024, 1, 1+i, 9, 0, 0, 0, time.UTC)
		if !ev.Start.Equal(want) {
			t.Fatalf("occurrence %d starts %s, want %s", i, ev.Start, want)
		}
		if ev.End.Sub(ev.Start) != 15*time.Minute {
			t.Fatalf("occurrence %d duration %s", i, ev.End.Sub(ev.Start))
		}
	}
}

func TestImportRecurrenceExcludesExdates(t *testing.T) {
	body := icsBody(vevent(
		"UID:rec",
		"DTSTART:20240101T090000Z",
		"DTEND:20240101T100000Z",
		"RRULE:FREQ=DAILY;COUNT=4",
		"EXDATE:20240102T090000Z",
	))
	events, err := Import("work", body, rangeStart, rangeEnd)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 occurrences after exclusion, got %d", len(events))
	}
	for _, ev := range events {
		if ev.Start.Day() == 2 {
			t.Fatalf("excluded date still present: %+v", ev)
		}
	}
}

func TestImportClipsToRange(t *testing.T) {
	body := icsBody(
		vevent("UID:inside", "DTSTART:20240103T100000Z", "DTEND:20240103T110000Z"),
		vevent("UID:outside", "DTSTART:20240201T100000Z", "DTEND:20240201T110000Z"),
	)
	events, err := Import("work", body, rangeStart, rangeEnd)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(events) != 1 || events[0].ID != "inside" {
		t.Fatalf("range filter failed: %+v", events)
	}
}

func TestImportSkipsBrokenEvents(t *testing.T) {
	body := icsBody(
		vevent("SUMMARY:No UID here", "DTSTART:20240103T100000Z", "DTEND:20240103T110000Z"),
		vevent("UID:good", "DTSTART:20240103T120000Z", "DTEND:20240103T130000Z"),
	)
	events, err := Import("work", body, rangeStart, rangeEnd)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(events) != 1 || events[0].ID != "good" {
		t.Fatalf("expected only the valid event: %+v", events)
	}
}

func TestImportRejectsBadInput(t *testing.T) {
	if _, err := Import("work", nil, rangeStart, rangeEnd); err == nil {
		t.Fatal("empty body should fail")
	}
	body := icsBody(vevent("UID:x", "DTSTART:20240103T100000Z", "DTEND:20240103T110000Z"))
	if _, err := Import("work", body, rangeEnd, rangeStart); err == nil {
		t.Fatal("inverted range should fail")
	}
	if _, err := Import("work", []byte("not an ics file"), rangeStart, rangeEnd); err == nil {
		t.Fatal("garbage should fail")
	}
}
