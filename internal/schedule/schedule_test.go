package schedule

import (
	"errors"
	"strings"
	"testing"
	"time"

	"braindump/internal/domain"
)

var monday = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(hhmm string) time.Time {
	ts, err := CombineDateAndTime(monday, hhmm)
	if err != nil {
		panic(err)
	}
	return ts
}

func mkEvent(id, calendarID, title string, start, end time.Time, status domain.EventStatus) domain.CalendarEvent {
	return domain.CalendarEvent{
		ID:         id,
		CalendarID: calendarID,
		Title:      title,
		Start:      start,
		End:        end,
		Status:     status,
	}
}

func mkTask(id, title string, priority domain.Priority, taskType string, estimate int) domain.Task {
	t := domain.Task{ID: id, Title: title, Priority: priority, TaskType: taskType}
	if estimate > 0 {
		t.TimeEstimateMinutes = &estimate
	}
	return t
}

func workday() WorkingHours { return WorkingHours{Start: "09:00", End: "17:00"} }

func TestGenerateSlotsGrid(t *testing.T) {
	slots := GenerateSlots(monday, 15)
	if len(slots) != 96 {
		t.Fatalf("expected 96 slots, got %d", len(slots))
	}
	if !slots[0].Start.Equal(monday) {
		t.Fatalf("first slot starts %s", slots[0].Start)
	}
	last := slots[len(slots)-1]
	if !last.End.Equal(monday.AddDate(0, 0, 1)) {
		t.Fatalf("last slot ends %s", last.End)
	}
	for _, s := range slots {
		if !s.Available || s.Minutes() != 15 {
			t.Fatalf("unexpected slot %+v", s)
		}
	}
}

func TestCombineDateAndTime(t *testing.T) {
	ts, err := CombineDateAndTime(monday, "09:30")
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	if ts.Hour() != 9 || ts.Minute() != 30 {
		t.Fatalf("got %s", ts)
	}
	for _, bad := range []string{"9am", "25:00", "12:60", "12-30", ""} {
		if _, err := CombineDateAndTime(monday, bad); !errors.Is(err, ErrInvalidTimeFormat) {
			t.Fatalf("%q: expected ErrInvalidTimeFormat, got %v", bad, err)
		}
	}
}

func TestConvertTimezone(t *testing.T) {
	ts := at("12:00")

	got, ok := ConvertTimezone(ts, "America/New_York")
	if !ok {
		t.Fatal("valid zone not resolved")
	}
	if !got.Equal(ts) {
		t.Fatalf("conversion moved the instant: %s vs %s", got, ts)
	}
	if got.Hour() != 7 {
		t.Fatalf("12:00 UTC in New York is 07:00, got %02d:00", got.Hour())
	}

	for _, zone := range []string{"Mars/Olympus", "not a zone"} {
		got, ok := ConvertTimezone(ts, zone)
		if ok {
			t.Fatalf("%q: expected fallback", zone)
		}
		if !got.Equal(ts) || got.Location() != ts.Location() {
			t.Fatalf("%q: fallback must return the input unchanged, got %s", zone, got)
		}
	}
}

func TestRangesOverlapHalfOpen(t *testing.T) {
	if !RangesOverlap(at("10:00"), at("11:00"), at("10:30"), at("11:30")) {
		t.Fatal("overlapping ranges should intersect")
	}
	if RangesOverlap(at("10:00"), at("11:00"), at("11:00"), at("12:00")) {
		t.Fatal("touching boundaries must not intersect")
	}
	if RangesOverlap(at("10:00"), at("11:00"), at("12:00"), at("13:00")) {
		t.Fatal("disjoint ranges must not intersect")
	}
}

func TestComputeAvailability(t *testing.T) {
	events := []domain.CalendarEvent{
		mkEvent("e1", "work", "standup", at("10:00"), at("11:00"), domain.EventConfirmed),
		mkEvent("e2", "work", "cancelled", at("14:00"), at("15:00"), domain.EventCancelled),
	}
	w, err := ComputeAvailability(events, monday, workday())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if w.TotalBusyMinutes != 60 {
		t.Fatalf("busy = %d, want 60", w.TotalBusyMinutes)
	}
	if w.TotalFreeMinutes != 420 {
		t.Fatalf("free = %d, want 420", w.TotalFreeMinutes)
	}
	for _, s := range w.Slots {
		if s.Start.Before(at("09:00")) || s.End.After(at("17:00")) {
			if s.Available {
				t.Fatalf("slot outside working hours is available: %+v", s)
			}
			continue
		}
		overlapping := RangesOverlap(s.Start, s.End, at("10:00"), at("11:00"))
		if overlapping == s.Available {
			t.Fatalf("slot %s availability=%v", s.Start.Format("15:04"), s.Available)
		}
		if overlapping && s.OwningEventID != "e1" {
			t.Fatalf("busy slot missing owner: %+v", s)
		}
	}
}

func TestMergeAvailabilityIntersects(t *testing.T) {
	work, err := ComputeAvailability([]domain.CalendarEvent{
		mkEvent("e1", "work", "standup", at("09:00"), at("10:00"), domain.EventConfirmed),
	}, monday, workday())
	if err != nil {
		t.Fatalf("compute work: %v", err)
	}
	personal, err := ComputeAvailability([]domain.CalendarEvent{
		mkEvent("e2", "personal", "dentist", at("15:00"), at("16:30"), domain.EventConfirmed),
	}, monday, workday())
	if err != nil {
		t.Fatalf("compute personal: %v", err)
	}
	merged, err := MergeAvailabilityWindows([]domain.AvailabilityWindow{work, personal})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if merged.TotalBusyMinutes != 150 {
		t.Fatalf("busy = %d, want 150", merged.TotalBusyMinutes)
	}
	if merged.TotalFreeMinutes != 330 {
		t.Fatalf("free = %d, want 330", merged.TotalFreeMinutes)
	}
	for _, s := range merged.Slots {
		if RangesOverlap(s.Start, s.End, at("15:00"), at("16:30")) && s.OwningEventID != "e2" {
			t.Fatalf("merged slot lost owner: %+v", s)
		}
	}
}

func TestMergeRejectsDateMismatch(t *testing.T) {
	a, _ := ComputeAvailability(nil, monday, workday())
	b, _ := ComputeAvailability(nil, monday.AddDate(0, 0, 1), workday())
	if _, err := MergeAvailabilityWindows([]domain.AvailabilityWindow{a, b}); !errors.Is(err, ErrDateMismatch) {
		t.Fatalf("expected ErrDateMismatch, got %v", err)
	}
}

func TestGenerateSuggestionsSortedAndCapped(t *testing.T) {
	window, err := ComputeAvailability([]domain.CalendarEvent{
		mkEvent("e1", "work", "lunch", at("12:00"), at("13:00"), domain.EventConfirmed),
	}, monday, workday())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	sctx := SuggestContext{
		Task: mkTask("t1", "deep work", domain.PriorityHigh, "deep_work", 60),
		Rule: TaskTypeRule{PreferredStart: "09:00", PreferredEnd: "12:00"},
		Now:  at("08:00"),
	}
	got := GenerateSuggestions(sctx, window, 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 suggestions, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Fatalf("not sorted by score: %d then %d", got[i-1].Score, got[i].Score)
		}
	}
	top := got[0]
	if top.Slot.Minutes() != 60 {
		t.Fatalf("top slot is %dm", top.Slot.Minutes())
	}
	if !top.Slot.End.Before(at("12:01")) {
		t.Fatalf("top slot %s should sit in the preferred morning", top.Slot.Start.Format("15:04"))
	}
	if top.Reasoning == "" || len(top.Factors) == 0 {
		t.Fatalf("missing scoring explanation: %+v", top)
	}
}

func TestGenerateSuggestionsPartialFit(t *testing.T) {
	// Only a 30m gap exists for a 60m task.
	window, err := ComputeAvailability([]domain.CalendarEvent{
		mkEvent("e1", "work", "block1", at("09:00"), at("12:00"), domain.EventConfirmed),
		mkEvent("e2", "work", "block2", at("12:30"), at("17:00"), domain.EventConfirmed),
	}, monday, workday())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	sctx := SuggestContext{
		Task: mkTask("t1", "deep work", domain.PriorityMedium, "deep_work", 60),
		Now:  at("08:00"),
	}
	got := GenerateSuggestions(sctx, window, 3)
	if len(got) != 1 {
		t.Fatalf("expected the partial block, got %d suggestions", len(got))
	}
	if got[0].Slot.Minutes() != 30 {
		t.Fatalf("partial slot is %dm", got[0].Slot.Minutes())
	}
	found := false
	for _, f := range got[0].Factors {
		if f.Name == "partial_fit" {
			found = true
		}
	}
	if !found {
		t.Fatalf("partial fit not flagged: %+v", got[0].Factors)
	}
}

func TestGenerateSuggestionsHonorsBuffers(t *testing.T) {
	window, err := ComputeAvailability(nil, monday, workday())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	sctx := SuggestContext{
		Task:    mkTask("t1", "call prep", domain.PriorityMedium, "call", 30),
		Buffers: Buffers{BeforeMinutes: 15, AfterMinutes: 15},
		Now:     at("08:00"),
	}
	got := GenerateSuggestions(sctx, window, 1)
	if len(got) != 1 {
		t.Fatalf("expected 1 suggestion, got %d", len(got))
	}
	s := got[0].Slot
	if s.Minutes() != 30 {
		t.Fatalf("slot is %dm, want the 30m task body", s.Minutes())
	}
	if s.Start.Before(at("09:15")) {
		t.Fatalf("slot %s does not leave the before-buffer", s.Start.Format("15:04"))
	}
}

func TestGenerateSuggestionsPartialScoresBelowFullFit(t *testing.T) {
	// A single 45m block holds the 30m task but not the 30m of buffers.
	window, err := ComputeAvailability([]domain.CalendarEvent{
		mkEvent("e1", "work", "wall", at("09:45"), at("17:00"), domain.EventConfirmed),
	}, monday, workday())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	sctx := SuggestContext{
		Task:    mkTask("t1", "call prep", domain.PriorityMedium, "call", 30),
		Buffers: Buffers{BeforeMinutes: 15, AfterMinutes: 15},
		Now:     at("08:00"),
	}
	got := GenerateSuggestions(sctx, window, 3)
	if len(got) != 1 {
		t.Fatalf("expected 1 partial suggestion, got %d", len(got))
	}
	if got[0].Slot.Minutes() != 30 {
		t.Fatalf("partial slot is %dm, want the 30m task body", got[0].Slot.Minutes())
	}
	var reason string
	for _, f := range got[0].Factors {
		if f.Name == "partial_fit" {
			reason = f.Reason
		}
	}
	if reason == "" {
		t.Fatalf("partial fit not flagged: %+v", got[0].Factors)
	}
	if strings.Contains(reason, "shorter than") {
		t.Fatalf("block holds the task, reason %q must not claim it is shorter", reason)
	}
	if !strings.Contains(reason, "buffer") {
		t.Fatalf("reason %q should name the buffers as what does not fit", reason)
	}

	// The same block without buffers is a full fit and must outscore the
	// partial offer.
	noBuffers := sctx
	noBuffers.Buffers = Buffers{}
	full := GenerateSuggestions(noBuffers, window, 3)
	if len(full) == 0 {
		t.Fatal("expected full fits without buffers")
	}
	if got[0].Score >= full[0].Score {
		t.Fatalf("partial score %d must be below full-fit score %d", got[0].Score, full[0].Score)
	}
}

func TestBuildConflicts(t *testing.T) {
	slot := domain.TimeSlot{Start: at("10:00"), End: at("11:00"), Available: true}
	events := []domain.CalendarEvent{
		mkEvent("e1", "work", "firm", at("10:30"), at("11:30"), domain.EventConfirmed),
		mkEvent("e2", "work", "maybe", at("10:00"), at("10:15"), domain.EventTentative),
		mkEvent("e3", "work", "gone", at("10:00"), at("11:00"), domain.EventCancelled),
	}
	protected := []ProtectedWindow{{Start: at("10:45"), End: at("11:15"), Label: "lunch walk"}}
	rule := TaskTypeRule{PreferredStart: "13:00", PreferredEnd: "17:00"}

	conflicts := BuildConflicts(slot, events, protected, rule)
	if len(conflicts) != 4 {
		t.Fatalf("expected 4 conflicts, got %d: %+v", len(conflicts), conflicts)
	}
	bySeverity := map[domain.ConflictSeverity]int{}
	for _, c := range conflicts {
		bySeverity[c.Severity]++
	}
	if bySeverity[domain.SeverityError] != 1 || bySeverity[domain.SeverityWarning] != 2 || bySeverity[domain.SeverityInfo] != 1 {
		t.Fatalf("unexpected severities: %+v", bySeverity)
	}
	if !HasBlockingConflict(conflicts) {
		t.Fatal("confirmed overlap should block")
	}
}

func TestResolveDisplacementsMovesLowerPriority(t *testing.T) {
	low := mkTask("low", "filing", domain.PriorityLow, "admin", 60)
	lowEvent := mkEvent("bd-low", "braindump", "filing", at("10:00"), at("11:00"), domain.EventConfirmed)

	window, err := ComputeAvailability([]domain.CalendarEvent{lowEvent}, monday, workday())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	dctx := DisplaceContext{
		Candidate:     mkTask("high", "prep board deck", domain.PriorityHigh, "deep_work", 60),
		Slot:          domain.TimeSlot{Start: at("10:00"), End: at("11:00")},
		Events:        []domain.CalendarEvent{lowEvent},
		TaskByEventID: map[string]domain.Task{"bd-low": low},
		Horizon:       []domain.AvailabilityWindow{window},
		Rules:         map[string]TaskTypeRule{},
		Now:           at("08:00"),
	}
	displacements, conflicts := ResolveDisplacements(dctx)
	if len(conflicts) != 0 {
		t.Fatalf("unexpected conflicts: %+v", conflicts)
	}
	if len(displacements) != 1 {
		t.Fatalf("expected 1 displacement, got %d", len(displacements))
	}
	d := displacements[0]
	if d.Action != domain.DisplaceMove || d.ProposedSlot == nil {
		t.Fatalf("expected a move, got %+v", d)
	}
	if RangesOverlap(d.ProposedSlot.Start, d.ProposedSlot.End, dctx.Slot.Start, dctx.Slot.End) {
		t.Fatalf("replacement %s overlaps the claimed slot", d.ProposedSlot.Start.Format("15:04"))
	}
	if d.TaskID != "low" || d.EventID != "bd-low" {
		t.Fatalf("unexpected target: %+v", d)
	}
}

func TestResolveDisplacementsUnschedulesWhenHorizonFull(t *testing.T) {
	low := mkTask("low", "filing", domain.PriorityLow, "admin", 60)
	lowEvent := mkEvent("bd-low", "braindump", "filing", at("10:00"), at("11:00"), domain.EventConfirmed)
	wall := mkEvent("ext", "work", "offsite", at("09:00"), at("17:00"), domain.EventConfirmed)

	window, err := ComputeAvailability([]domain.CalendarEvent{wall}, monday, workday())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	dctx := DisplaceContext{
		Candidate:     mkTask("high", "prep board deck", domain.PriorityHigh, "deep_work", 60),
		Slot:          domain.TimeSlot{Start: at("10:00"), End: at("11:00")},
		Events:        []domain.CalendarEvent{lowEvent},
		TaskByEventID: map[string]domain.Task{"bd-low": low},
		Horizon:       []domain.AvailabilityWindow{window},
		Rules:         map[string]TaskTypeRule{},
		Now:           at("08:00"),
	}
	displacements, conflicts := ResolveDisplacements(dctx)
	if len(conflicts) != 0 {
		t.Fatalf("unexpected conflicts: %+v", conflicts)
	}
	if len(displacements) != 1 || displacements[0].Action != domain.DisplaceUnschedule {
		t.Fatalf("expected unschedule, got %+v", displacements)
	}
	if displacements[0].ProposedSlot != nil {
		t.Fatalf("unschedule must not carry a slot: %+v", displacements[0])
	}
}

func TestResolveDisplacementsProtectsExternalAndEqualPriority(t *testing.T) {
	peer := mkTask("peer", "budget review", domain.PriorityHigh, "admin", 60)
	peerEvent := mkEvent("bd-peer", "braindump", "budget review", at("10:00"), at("11:00"), domain.EventConfirmed)
	external := mkEvent("ext", "work", "client call", at("10:30"), at("11:30"), domain.EventConfirmed)

	dctx := DisplaceContext{
		Candidate:     mkTask("high", "prep board deck", domain.PriorityHigh, "deep_work", 60),
		Slot:          domain.TimeSlot{Start: at("10:00"), End: at("11:00")},
		Events:        []domain.CalendarEvent{peerEvent, external},
		TaskByEventID: map[string]domain.Task{"bd-peer": peer},
		Now:           at("08:00"),
	}
	displacements, conflicts := ResolveDisplacements(dctx)
	if len(displacements) != 0 {
		t.Fatalf("nothing should move: %+v", displacements)
	}
	if len(conflicts) != 2 {
		t.Fatalf("expected 2 blocking conflicts, got %+v", conflicts)
	}
	if !HasBlockingConflict(conflicts) {
		t.Fatal("conflicts should block")
	}
}

func TestOccupyMarksIntersectingSlots(t *testing.T) {
	window, err := ComputeAvailability(nil, monday, workday())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	out := Occupy(CloneWindows([]domain.AvailabilityWindow{window}), domain.TimeSlot{Start: at("10:00"), End: at("11:00")})
	for _, s := range out[0].Slots {
		if RangesOverlap(s.Start, s.End, at("10:00"), at("11:00")) && s.Available {
			t.Fatalf("slot %s still available", s.Start.Format("15:04"))
		}
	}
	// the input window is untouched
	for _, s := range window.Slots {
		if s.Start.Equal(at("10:00")) && !s.Available {
			t.Fatal("CloneWindows must not alias the input slots")
		}
	}
}
