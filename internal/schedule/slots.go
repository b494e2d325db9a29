package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"braindump/internal/domain"
)

// DefaultSlotMinutes is the fixed grid granularity for availability slots.
const DefaultSlotMinutes = 15

const DateLayout = "2006-01-02"

var (
	ErrInvalidTimeFormat = errors.New("invalid time format")
	ErrDateMismatch      = errors.New("availability windows reference different dates")
)

var timeOfDayRe = regexp.MustCompile(`^\d{1,2}:\d{2}$`)

// GenerateSlots returns the full calendar day partitioned into slots of
// intervalMinutes, all available, in chronological order. A partial trailing
// slot that would cross midnight is dropped.
func GenerateSlots(date time.Time, intervalMinutes int) []domain.TimeSlot {
	if intervalMinutes <= 0 {
		intervalMinutes = DefaultSlotMinutes
	}
	interval := time.Duration(intervalMinutes) * time.Minute
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	var slots []domain.TimeSlot
	for cur := dayStart; !cur.Add(interval).After(dayEnd); cur = cur.Add(interval) {
		slots = append(slots, domain.TimeSlot{Start: cur, End: cur.Add(interval), Available: true})
	}
	return slots
}

// CombineDateAndTime anchors an "HH:mm" wall-clock time onto the given date,
// in the date's location.
func CombineDateAndTime(date time.Time, hhmm string) (time.Time, error) {
	if !timeOfDayRe.MatchString(hhmm) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, hhmm)
	}
	parts := strings.SplitN(hhmm, ":", 2)
	hour, _ := strconv.Atoi(parts[0])
	minute, _ := strconv.Atoi(parts[1])
	if hour > 23 || minute > 59 {
		return time.Time{}, fmt.Errorf("%w: %q out of range", ErrInvalidTimeFormat, hhmm)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, date.Location()), nil
}

// ConvertTimezone converts ts into the named IANA zone. Unresolvable zones
// return the input unchanged with ok=false; a misconfigured timezone must not
// block scheduling.
func ConvertTimezone(ts time.Time, ianaZone string) (converted time.Time, ok bool) {
	loc, err := time.LoadLocation(ianaZone)
	if err != nil {
		return ts, false
	}
	return ts.In(loc), true
}

// RangesOverlap reports intersection of two half-open intervals. Touching
// boundaries (endA == startB) do not overlap.
func RangesOverlap(startA, endA, startB, endB time.Time) bool {
	return startA.Before(endB) && startB.Before(endA)
}

// SlotOverlapsEvent applies half-open overlap semantics between a slot and an
// event interval.
func SlotOverlapsEvent(slot domain.TimeSlot, ev domain.CalendarEvent) bool {
	return RangesOverlap(slot.Start, slot.End, ev.Start, ev.End)
}

// TimeOfDayLabel derives a display label from a timestamp. Labels are never a
// scheduling primitive; explicit start/end times are.
func TimeOfDayLabel(t time.Time) string {
	switch h := t.Hour(); {
	case h < 12:
		return "morning"
	case h < 17:
		return "afternoon"
	default:
		return "evening"
	}
}
