package schedule

import (
	"fmt"
	"sort"
	"time"

	"braindump/internal/domain"
)

// DisplaceContext describes one displacement resolution: a candidate task
// that must land on Slot, the existing schedule it collides with, and the
// availability horizon to search for replacement slots.
type DisplaceContext struct {
	Candidate domain.Task
	Slot      domain.TimeSlot
	Events    []domain.CalendarEvent
	// TaskByEventID maps owned calendar events to their backing tasks.
	// Events missing here are external commitments and immovable.
	TaskByEventID map[string]domain.Task
	// Horizon holds merged per-day availability windows, one per searchable
	// day, used to find replacement slots for displaced items.
	Horizon   []domain.AvailabilityWindow
	Rules     map[string]TaskTypeRule
	Buffers   Buffers
	Protected []ProtectedWindow
	Now       time.Time
}

type displaceTarget struct {
	event domain.CalendarEvent
	task  domain.Task
}

// ResolveDisplacements selects strictly-lower-priority owned items colliding
// with the candidate slot and proposes a replacement slot for each, or
// unscheduling when none exists within the horizon. Collisions with external
// events or equal/higher-priority work are returned as error conflicts; they
// are never displaced. Nothing is applied here; displacements only propose.
func ResolveDisplacements(dctx DisplaceContext) ([]domain.Displacement, []domain.Conflict) {
	var targets []displaceTarget
	var conflicts []domain.Conflict

	for _, ev := range FindOverlappingEvents(dctx.Slot, dctx.Events) {
		owner, owned := dctx.TaskByEventID[ev.ID]
		switch {
		case !owned:
			conflicts = append(conflicts, domain.Conflict{
				Kind:        domain.ConflictOverlap,
				Severity:    domain.SeverityError,
				Description: fmt.Sprintf("overlaps external commitment %q; external events are immovable", ev.Title),
			})
		case owner.Priority.Rank() >= dctx.Candidate.Priority.Rank():
			conflicts = append(conflicts, domain.Conflict{
				Kind:        domain.ConflictOverlap,
				Severity:    domain.SeverityError,
				Description: fmt.Sprintf("overlaps %q which is %s priority; equal or higher priority work is never displaced", ev.Title, owner.Priority),
			})
		default:
			targets = append(targets, displaceTarget{event: ev, task: owner})
		}
	}
	if len(targets) == 0 {
		return nil, conflicts
	}

	// Least valuable commitments go first: ascending priority, then
	// ascending original start for determinism.
	sort.SliceStable(targets, func(i, j int) bool {
		ri, rj := targets[i].task.Priority.Rank(), targets[j].task.Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return targets[i].event.Start.Before(targets[j].event.Start)
	})

	horizon := Occupy(CloneWindows(dctx.Horizon), dctx.Slot)
	displacements := make([]domain.Displacement, 0, len(targets))
	for _, t := range targets {
		original := domain.TimeSlot{Start: t.event.Start, End: t.event.End}
		d := domain.Displacement{
			EventID:      t.event.ID,
			TaskID:       t.task.ID,
			OriginalSlot: original,
			Reason:       fmt.Sprintf("displaced by %s-priority task %q", dctx.Candidate.Priority, dctx.Candidate.Title),
		}
		if slot, found := findReplacement(dctx, t, horizon); found {
			d.Action = domain.DisplaceMove
			d.ProposedSlot = &slot
			horizon = Occupy(horizon, slot)
		} else {
			d.Action = domain.DisplaceUnschedule
			d.Reason += "; no replacement slot found within the horizon"
		}
		displacements = append(displacements, d)
	}
	return displacements, conflicts
}

// findReplacement runs the displaced item through the same suggestion
// pipeline, day by day in chronological order, using the item's own priority
// and task type as context. The candidate slot and earlier replacements are
// already occupied in the horizon.
func findReplacement(dctx DisplaceContext, t displaceTarget, horizon []domain.AvailabilityWindow) (domain.TimeSlot, bool) {
	rule := dctx.Rules[t.task.TaskType]
	duration := TaskDurationMinutes(t.task, rule)

	events := make([]domain.CalendarEvent, 0, len(dctx.Events))
	for _, ev := range dctx.Events {
		if ev.ID == t.event.ID {
			continue
		}
		events = append(events, ev)
	}

	sctx := SuggestContext{
		Task:      t.task,
		Rule:      rule,
		Buffers:   dctx.Buffers,
		Events:    events,
		Protected: dctx.Protected,
		Now:       dctx.Now,
	}
	for _, window := range horizon {
		for _, s := range GenerateSuggestions(sctx, window, DefaultSuggestionCount) {
			if s.Slot.Minutes() < duration {
				continue
			}
			if HasBlockingConflict(s.Conflicts) {
				continue
			}
			if RangesOverlap(s.Slot.Start, s.Slot.End, dctx.Slot.Start, dctx.Slot.End) {
				continue
			}
			return s.Slot, true
		}
	}
	return domain.TimeSlot{}, false
}

func CloneWindows(windows []domain.AvailabilityWindow) []domain.AvailabilityWindow {
	out := make([]domain.AvailabilityWindow, len(windows))
	copy(out, windows)
	for i := range out {
		slots := make([]domain.TimeSlot, len(windows[i].Slots))
		copy(slots, windows[i].Slots)
		out[i].Slots = slots
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// Occupy marks every slot intersecting the given interval as unavailable.
func Occupy(windows []domain.AvailabilityWindow, slot domain.TimeSlot) []domain.AvailabilityWindow {
	for i := range windows {
		for j := range windows[i].Slots {
			s := &windows[i].Slots[j]
			if s.Available && RangesOverlap(s.Start, s.End, slot.Start, slot.End) {
				s.Available = false
			}
		}
	}
	return windows
}
