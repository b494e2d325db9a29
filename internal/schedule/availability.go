package schedule

import (
	"fmt"
	"time"

	"braindump/internal/domain"
)

// ComputeAvailability derives one calendar's availability window for a date.
// Slots outside [workingStart, workingEnd) are marked unavailable without
// inspecting events and are excluded from both totals; working-hours slots are
// busy when any non-cancelled event overlaps them.
func ComputeAvailability(events []domain.CalendarEvent, date time.Time, working WorkingHours) (domain.AvailabilityWindow, error) {
	workStart, err := CombineDateAndTime(date, working.Start)
	if err != nil {
		return domain.AvailabilityWindow{}, fmt.Errorf("working hours start: %w", err)
	}
	workEnd, err := CombineDateAndTime(date, working.End)
	if err != nil {
		return domain.AvailabilityWindow{}, fmt.Errorf("working hours end: %w", err)
	}

	window := domain.AvailabilityWindow{
		Date:         date.Format(DateLayout),
		WorkingStart: working.Start,
		WorkingEnd:   working.End,
		Slots:        GenerateSlots(date, DefaultSlotMinutes),
	}
	for i := range window.Slots {
		slot := &window.Slots[i]
		if slot.Start.Before(workStart) || slot.End.After(workEnd) {
			slot.Available = false
			continue
		}
		busy := false
		for _, ev := range events {
			if ev.Status == domain.EventCancelled {
				continue
			}
			if SlotOverlapsEvent(*slot, ev) {
				busy = true
				slot.Available = false
				slot.OwningCalendarID = ev.CalendarID
				slot.OwningEventID = ev.ID
				break
			}
		}
		if busy {
			window.TotalBusyMinutes += slot.Minutes()
		} else {
			window.TotalFreeMinutes += slot.Minutes()
		}
	}
	return window, nil
}

// MergeAvailabilityWindows combines per-calendar windows for the same date
// with AND-availability: busy on any connected calendar makes the merged slot
// busy. A single window is returned unchanged; no windows yields a zero-totals
// window dated today.
func MergeAvailabilityWindows(windows []domain.AvailabilityWindow) (domain.AvailabilityWindow, error) {
	if len(windows) == 0 {
		return domain.AvailabilityWindow{Date: time.Now().Format(DateLayout)}, nil
	}
	if len(windows) == 1 {
		return windows[0], nil
	}
	first := windows[0]
	for _, w := range windows[1:] {
		if w.Date != first.Date {
			return domain.AvailabilityWindow{}, fmt.Errorf("%w: %s vs %s", ErrDateMismatch, first.Date, w.Date)
		}
	}

	merged := domain.AvailabilityWindow{
		Date:         first.Date,
		WorkingStart: first.WorkingStart,
		WorkingEnd:   first.WorkingEnd,
		Slots:        make([]domain.TimeSlot, len(first.Slots)),
	}
	copy(merged.Slots, first.Slots)
	for _, w := range windows[1:] {
		for i := range merged.Slots {
			if i >= len(w.Slots) {
				break
			}
			if !w.Slots[i].Available && merged.Slots[i].Available {
				merged.Slots[i].Available = false
				merged.Slots[i].OwningCalendarID = w.Slots[i].OwningCalendarID
				merged.Slots[i].OwningEventID = w.Slots[i].OwningEventID
			}
		}
	}

	workStart, workEnd, err := workingBounds(merged)
	if err != nil {
		return domain.AvailabilityWindow{}, err
	}
	for _, slot := range merged.Slots {
		if slot.Start.Before(workStart) || slot.End.After(workEnd) {
			continue
		}
		if slot.Available {
			merged.TotalFreeMinutes += slot.Minutes()
		} else {
			merged.TotalBusyMinutes += slot.Minutes()
		}
	}
	return merged, nil
}

func workingBounds(w domain.AvailabilityWindow) (time.Time, time.Time, error) {
	if len(w.Slots) == 0 || w.WorkingStart == "" || w.WorkingEnd == "" {
		return time.Time{}, time.Time{}, nil
	}
	day := w.Slots[0].Start
	start, err := CombineDateAndTime(day, w.WorkingStart)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := CombineDateAndTime(day, w.WorkingEnd)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}
