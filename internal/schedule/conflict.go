package schedule

import (
	"fmt"

	"braindump/internal/domain"
)

// FindOverlappingEvents returns all non-cancelled events whose interval
// intersects the slot under half-open semantics.
func FindOverlappingEvents(slot domain.TimeSlot, events []domain.CalendarEvent) []domain.CalendarEvent {
	var out []domain.CalendarEvent
	for _, ev := range events {
		if ev.Status == domain.EventCancelled {
			continue
		}
		if SlotOverlapsEvent(slot, ev) {
			out = append(out, ev)
		}
	}
	return out
}

// BuildConflicts inspects a candidate slot against existing events, protected
// windows and the task-type preference. Conflicts are advisory and never
// mutate their inputs; error severity blocks direct placement.
func BuildConflicts(slot domain.TimeSlot, events []domain.CalendarEvent, protected []ProtectedWindow, rule TaskTypeRule) []domain.Conflict {
	var conflicts []domain.Conflict

	for _, ev := range FindOverlappingEvents(slot, events) {
		severity := domain.SeverityError
		resolution := ""
		if ev.Status == domain.EventTentative {
			severity = domain.SeverityWarning
			resolution = "event is tentative; confirm or decline it first"
		}
		conflicts = append(conflicts, domain.Conflict{
			Kind:        domain.ConflictOverlap,
			Severity:    severity,
			Description: fmt.Sprintf("overlaps %q (%s-%s)", ev.Title, ev.Start.Format("15:04"), ev.End.Format("15:04")),
			Resolution:  resolution,
		})
	}

	for _, p := range protected {
		if RangesOverlap(slot.Start, slot.End, p.Start, p.End) {
			label := p.Label
			if label == "" {
				label = "protected time"
			}
			conflicts = append(conflicts, domain.Conflict{
				Kind:        domain.ConflictProtectedSlot,
				Severity:    domain.SeverityWarning,
				Description: fmt.Sprintf("intersects %s (%s-%s)", label, p.Start.Format("15:04"), p.End.Format("15:04")),
				Resolution:  "pick a slot outside protected time",
			})
		}
	}

	if rule.PreferredStart != "" && rule.PreferredEnd != "" {
		prefStart, err1 := CombineDateAndTime(slot.Start, rule.PreferredStart)
		prefEnd, err2 := CombineDateAndTime(slot.Start, rule.PreferredEnd)
		if err1 == nil && err2 == nil && !RangesOverlap(slot.Start, slot.End, prefStart, prefEnd) {
			conflicts = append(conflicts, domain.Conflict{
				Kind:        domain.ConflictOutsideWorkingHours,
				Severity:    domain.SeverityInfo,
				Description: fmt.Sprintf("outside preferred hours %s-%s for this task type", rule.PreferredStart, rule.PreferredEnd),
			})
		}
	}
	return conflicts
}

// HasBlockingConflict reports whether any conflict carries error severity.
func HasBlockingConflict(conflicts []domain.Conflict) bool {
	for _, c := range conflicts {
		if c.Severity == domain.SeverityError {
			return true
		}
	}
	return false
}
