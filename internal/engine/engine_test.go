package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"braindump/internal/config"
	"braindump/internal/db"
	"braindump/internal/domain"
	"braindump/internal/engine"
	"braindump/internal/migrate"
	"braindump/internal/proposal"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

// fixedNow is a Monday with working hours configured Mon-Fri.
var fixedNow = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("me")
	cfg.Profile.Timezone = "UTC"
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return fixedNow }
	ctx := context.Background()
	if err := eng.Repo.UpsertProfileConfig(ctx, "me", cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func mkEvent(id, calendarID string, start, end time.Time) domain.CalendarEvent {
	return domain.CalendarEvent{
		ID:         id,
		CalendarID: calendarID,
		Title:      id,
		Start:      start,
		End:        end,
		Status:     domain.EventConfirmed,
	}
}

func seedCalendar(t *testing.T, env testEnv, id string, evs ...domain.CalendarEvent) {
	t.Helper()
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := env.Engine.Repo.UpsertCalendar(env.Ctx, tx, domain.Calendar{ID: id, Name: id, RefreshedAt: fixedNow}); err != nil {
		t.Fatal(err)
	}
	for _, ev := range evs {
		if err := env.Engine.Repo.InsertCalendarEvent(env.Ctx, tx, ev); err != nil {
			t.Fatalf("insert event %s: %v", ev.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func at(day int, hhmm string) time.Time {
	ts, err := time.Parse("2006-01-02 15:04", fmt.Sprintf("2024-01-%02d %s", day, hhmm))
	if err != nil {
		panic(err)
	}
	return ts
}

func TestTaskLifecycle(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "Write report", ActorID: "me"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Status != "inbox" || task.Priority != domain.PriorityMedium || task.TaskType != "deep_work" {
		t.Fatalf("unexpected defaults: %+v", task)
	}

	task, err = env.Engine.CompleteTask(env.Ctx, task.ID, "me")
	if err != nil || task.Status != "done" {
		t.Fatalf("complete: %v status=%s", err, task.Status)
	}
	if task.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}

	// done can only go back to inbox
	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: "scheduled", ActorID: "me"})
	if err == nil {
		t.Fatal("expected transition error")
	}
	task, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: "inbox", ActorID: "me"})
	if err != nil || task.Status != "inbox" || task.CompletedAt != nil {
		t.Fatalf("reopen: %v %+v", err, task)
	}
}

func TestCreateTaskRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "x", Priority: "urgent"}); err == nil {
		t.Fatal("expected priority error")
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{}); err == nil {
		t.Fatal("expected title error")
	}
}

func TestImportCalendarAndAvailability(t *testing.T) {
	env := newTestEnv(t)
	body := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:standup",
		"DTSTART:20240102T100000Z",
		"DTEND:20240102T110000Z",
		"SUMMARY:Standup",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")

	imported, err := env.Engine.ImportCalendar(env.Ctx, engine.ImportCalendarOptions{
		CalendarID: "work",
		Body:       []byte(body),
		ActorID:    "me",
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(imported) != 1 || imported[0].Title != "Standup" {
		t.Fatalf("unexpected import result: %+v", imported)
	}

	window, err := env.Engine.Availability(env.Ctx, "2024-01-02")
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if window.TotalBusyMinutes != 60 {
		t.Fatalf("busy = %d, want 60", window.TotalBusyMinutes)
	}
	if window.TotalFreeMinutes != 420 {
		t.Fatalf("free = %d, want 420", window.TotalFreeMinutes)
	}
}

func TestImportCalendarNormalizesTimezone(t *testing.T) {
	body := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:standup",
		"DTSTART:20240102T100000Z",
		"DTEND:20240102T110000Z",
		"SUMMARY:Standup",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")
	utc := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

	env := newTestEnv(t)
	env.Engine.Config.Profile.Timezone = "America/New_York"
	imported, err := env.Engine.ImportCalendar(env.Ctx, engine.ImportCalendarOptions{
		CalendarID: "work",
		Body:       []byte(body),
		ActorID:    "me",
	})
	if err != nil || len(imported) != 1 {
		t.Fatalf("import: %v (%d events)", err, len(imported))
	}
	if !imported[0].Start.Equal(utc) {
		t.Fatalf("conversion moved the instant: %s", imported[0].Start)
	}
	if imported[0].Start.Hour() != 5 {
		t.Fatalf("10:00Z in New York is 05:00, got %02d:00", imported[0].Start.Hour())
	}
	if got := imported[0].Start.Location().String(); got != "America/New_York" {
		t.Fatalf("event zone = %s", got)
	}

	// An unresolvable zone keeps the parsed times instead of failing.
	env = newTestEnv(t)
	env.Engine.Config.Profile.Timezone = "Mars/Olympus"
	imported, err = env.Engine.ImportCalendar(env.Ctx, engine.ImportCalendarOptions{
		CalendarID: "work",
		Body:       []byte(body),
		ActorID:    "me",
	})
	if err != nil || len(imported) != 1 {
		t.Fatalf("import with bad zone: %v (%d events)", err, len(imported))
	}
	if !imported[0].Start.Equal(utc) {
		t.Fatalf("fallback must keep parsed time, got %s", imported[0].Start)
	}
}

func TestImportRejectsReservedCalendar(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.ImportCalendar(env.Ctx, engine.ImportCalendarOptions{CalendarID: engine.LocalCalendarID})
	if err == nil {
		t.Fatal("expected reserved calendar error")
	}
}

func TestAvailabilityMergesCalendars(t *testing.T) {
	env := newTestEnv(t)
	seedCalendar(t, env, "work", mkEvent("w1", "work", at(2, "09:00"), at(2, "10:00")))
	seedCalendar(t, env, "personal", mkEvent("p1", "personal", at(2, "09:30"), at(2, "10:30")))

	window, err := env.Engine.Availability(env.Ctx, "2024-01-02")
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	// busy on either calendar makes the merged minute busy: 09:00-10:30
	if window.TotalBusyMinutes != 90 {
		t.Fatalf("busy = %d, want 90", window.TotalBusyMinutes)
	}
	if window.TotalFreeMinutes != 390 {
		t.Fatalf("free = %d, want 390", window.TotalFreeMinutes)
	}
}

func TestAvailabilityIgnoresCancelledAndTouchingEvents(t *testing.T) {
	env := newTestEnv(t)
	cancelled := mkEvent("c1", "work", at(2, "09:00"), at(2, "17:00"))
	cancelled.Status = domain.EventCancelled
	seedCalendar(t, env, "work",
		cancelled,
		mkEvent("a", "work", at(2, "13:00"), at(2, "14:00")),
		mkEvent("b", "work", at(2, "14:00"), at(2, "15:00")),
	)

	window, err := env.Engine.Availability(env.Ctx, "2024-01-02")
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	// back-to-back events share a boundary but no minutes
	if window.TotalBusyMinutes != 120 {
		t.Fatalf("busy = %d, want 120", window.TotalBusyMinutes)
	}
}

func TestAvailabilityNonWorkingDay(t *testing.T) {
	env := newTestEnv(t)
	window, err := env.Engine.Availability(env.Ctx, "2024-01-06") // Saturday
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if len(window.Slots) != 0 || window.TotalFreeMinutes != 0 || window.TotalBusyMinutes != 0 {
		t.Fatalf("expected empty window, got %+v", window)
	}
}

func TestAvailabilityRejectsBadDate(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Availability(env.Ctx, "02/01/2024"); err == nil {
		t.Fatal("expected date format error")
	}
}

func TestSuggestScoresAndSorts(t *testing.T) {
	env := newTestEnv(t)
	est := 60
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:               "Design doc",
		Priority:            "high",
		TaskType:            "deep_work",
		TimeEstimateMinutes: est,
		ActorID:             "me",
	})
	if err != nil {
		t.Fatal(err)
	}

	suggestions, err := env.Engine.Suggest(env.Ctx, task.ID, "2024-01-02", 3)
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if len(suggestions) != 3 {
		t.Fatalf("got %d suggestions, want 3", len(suggestions))
	}
	for i, s := range suggestions {
		if s.Score < 0 || s.Score > 100 {
			t.Fatalf("score %d out of range", s.Score)
		}
		if i > 0 && s.Score > suggestions[i-1].Score {
			t.Fatal("suggestions not sorted by score")
		}
		if s.Slot.Minutes() != est {
			t.Fatalf("slot length %d, want %d", s.Slot.Minutes(), est)
		}
		if s.Slot.Start.Before(at(2, "09:00")) || s.Slot.End.After(at(2, "17:00")) {
			t.Fatalf("slot %v outside working hours", s.Slot)
		}
		if s.Reasoning == "" || len(s.Factors) == 0 {
			t.Fatalf("suggestion missing explanation: %+v", s)
		}
	}
	// deep_work prefers mornings; the top slot should land there
	if !suggestions[0].Slot.Start.Before(at(2, "12:00")) {
		t.Fatalf("top slot %v not in preferred morning window", suggestions[0].Slot.Start)
	}
}

func TestBuildProposalConfirmAndApply(t *testing.T) {
	env := newTestEnv(t)
	t1, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "one", Priority: "high", TimeEstimateMinutes: 60, ActorID: "me"})
	if err != nil {
		t.Fatal(err)
	}
	t2, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "two", Priority: "low", TimeEstimateMinutes: 30, ActorID: "me"})
	if err != nil {
		t.Fatal(err)
	}

	p, err := env.Engine.BuildProposal(env.Ctx, engine.BuildProposalOptions{ActorID: "me"})
	if err != nil {
		t.Fatalf("build proposal: %v", err)
	}
	if p.Status() != proposal.StatusPendingApproval {
		t.Fatalf("status = %s", p.Status())
	}
	if len(p.Assignments) != 2 {
		t.Fatalf("got %d assignments", len(p.Assignments))
	}
	// high priority places first
	if p.Assignments[0].TaskID != t1.ID {
		t.Fatalf("expected %s first, got %s", t1.ID, p.Assignments[0].TaskID)
	}
	s1 := p.Assignments[0].Suggestions[p.Assignments[0].RecommendedSlotIndex].Slot
	s2 := p.Assignments[1].Suggestions[p.Assignments[1].RecommendedSlotIndex].Slot
	if s1.Start.Before(s2.End) && s2.Start.Before(s1.End) {
		t.Fatalf("recommended slots overlap: %v %v", s1, s2)
	}

	instructions, err := env.Engine.ConfirmProposal(env.Ctx, p.ID, "me")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(instructions) != 2 {
		t.Fatalf("got %d instructions", len(instructions))
	}
	for _, in := range instructions {
		if in.Op != domain.OpCreateEvent {
			t.Fatalf("unexpected op %s", in.Op)
		}
	}

	got, err := env.Engine.Repo.GetTask(env.Ctx, t1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "scheduled" || got.SyncStatus != domain.SyncPending || got.ScheduledStart == nil {
		t.Fatalf("task not scheduled: %+v", got)
	}

	applied, err := env.Engine.ApplyPendingOps(env.Ctx, "me")
	if err != nil {
		t.Fatalf("apply ops: %v", err)
	}
	if applied != 2 {
		t.Fatalf("applied %d ops, want 2", applied)
	}
	got, err = env.Engine.Repo.GetTask(env.Ctx, t2.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SyncStatus != domain.SyncSynced || got.CalendarEventID == nil {
		t.Fatalf("task not synced: %+v", got)
	}
	ev, err := env.Engine.Repo.GetCalendarEvent(env.Ctx, *got.CalendarEventID)
	if err != nil {
		t.Fatalf("local event: %v", err)
	}
	if ev.CalendarID != engine.LocalCalendarID || ev.TaskID == nil || *ev.TaskID != t2.ID {
		t.Fatalf("unexpected local event: %+v", ev)
	}

	// single-use
	if _, err := env.Engine.ConfirmProposal(env.Ctx, p.ID, "me"); !errors.Is(err, proposal.ErrProposalAlreadyFinalized) {
		t.Fatalf("second confirm: %v", err)
	}
}

func TestConfirmRequiresApproval(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "x", ActorID: "me"}); err != nil {
		t.Fatal(err)
	}
	p, err := env.Engine.BuildProposal(env.Ctx, engine.BuildProposalOptions{ActorID: "me"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RejectAll(p.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ConfirmProposal(env.Ctx, p.ID, "me"); !errors.Is(err, proposal.ErrNothingApproved) {
		t.Fatalf("confirm: %v", err)
	}
}

func TestProposalExpiry(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "x", ActorID: "me"}); err != nil {
		t.Fatal(err)
	}
	p, err := env.Engine.BuildProposal(env.Ctx, engine.BuildProposalOptions{ActorID: "me"})
	if err != nil {
		t.Fatal(err)
	}
	env.Engine.Now = func() time.Time { return fixedNow.Add(16 * time.Minute) }
	if _, err := env.Engine.ConfirmProposal(env.Ctx, p.ID, "me"); !errors.Is(err, proposal.ErrProposalExpired) {
		t.Fatalf("confirm: %v", err)
	}
	if p.Status() != proposal.StatusExpired {
		t.Fatalf("status = %s", p.Status())
	}
}

func TestConfirmStaleProposalConflicts(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "x", TimeEstimateMinutes: 60, ActorID: "me"})
	if err != nil {
		t.Fatal(err)
	}
	p, err := env.Engine.BuildProposal(env.Ctx, engine.BuildProposalOptions{TaskIDs: []string{task.ID}, ActorID: "me"})
	if err != nil {
		t.Fatal(err)
	}
	slot := p.Assignments[0].Suggestions[p.Assignments[0].RecommendedSlotIndex].Slot

	// someone books the slot between build and confirm
	seedCalendar(t, env, "work", mkEvent("late", "work", slot.Start, slot.End))

	if _, err := env.Engine.ConfirmProposal(env.Ctx, p.ID, "me"); !errors.Is(err, engine.ErrScheduleConflict) {
		t.Fatalf("confirm: %v", err)
	}
	// conflict does not consume the proposal
	if p.Status() != proposal.StatusPendingApproval {
		t.Fatalf("status = %s", p.Status())
	}
}

func TestDisplacementUnschedulesLowerPriority(t *testing.T) {
	env := newTestEnv(t)

	// every working day fully booked by external events, except one owned hour
	seedCalendar(t, env, "work",
		mkEvent("mon", "work", at(1, "09:00"), at(1, "17:00")),
		mkEvent("tue-am", "work", at(2, "09:00"), at(2, "10:00")),
		mkEvent("tue-pm", "work", at(2, "11:00"), at(2, "17:00")),
		mkEvent("wed", "work", at(3, "09:00"), at(3, "17:00")),
		mkEvent("thu", "work", at(4, "09:00"), at(4, "17:00")),
		mkEvent("fri", "work", at(5, "09:00"), at(5, "17:00")),
	)

	low, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "tidy inbox", Priority: "low", TimeEstimateMinutes: 60, ActorID: "me"})
	if err != nil {
		t.Fatal(err)
	}
	lowEventID := "bd-" + low.ID
	ownedEvent := mkEvent(lowEventID, engine.LocalCalendarID, at(2, "10:00"), at(2, "11:00"))
	ownedEvent.Title = low.Title
	ownedEvent.TaskID = &low.ID
	seedCalendar(t, env, engine.LocalCalendarID, ownedEvent)

	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	low.Status = "scheduled"
	start, end := at(2, "10:00"), at(2, "11:00")
	low.ScheduledStart, low.ScheduledEnd = &start, &end
	low.CalendarEventID = &lowEventID
	low.SyncStatus = domain.SyncSynced
	if err := env.Engine.Repo.UpdateTask(env.Ctx, tx, low); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	high, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "ship fix", Priority: "high", TimeEstimateMinutes: 60, ActorID: "me"})
	if err != nil {
		t.Fatal(err)
	}

	p, err := env.Engine.BuildProposal(env.Ctx, engine.BuildProposalOptions{ActorID: "me"})
	if err != nil {
		t.Fatalf("build proposal: %v", err)
	}
	if len(p.Assignments) != 1 || p.Assignments[0].TaskID != high.ID {
		t.Fatalf("unexpected assignments: %+v", p.Assignments)
	}
	if p.Assignments[0].Status != domain.AssignmentProposed {
		t.Fatalf("status = %s", p.Assignments[0].Status)
	}
	slot := p.Assignments[0].Suggestions[0].Slot
	if !slot.Start.Equal(at(2, "10:00")) || !slot.End.Equal(at(2, "11:00")) {
		t.Fatalf("claimed slot %v-%v", slot.Start, slot.End)
	}
	if len(p.Displacements) != 1 {
		t.Fatalf("got %d displacements", len(p.Displacements))
	}
	d := p.Displacements[0]
	if d.TaskID != low.ID || d.EventID != lowEventID || d.Action != domain.DisplaceUnschedule {
		t.Fatalf("unexpected displacement: %+v", d)
	}

	// displacements need an explicit go-ahead
	if _, err := env.Engine.ConfirmProposal(env.Ctx, p.ID, "me"); !errors.Is(err, proposal.ErrDisplacementsNotApproved) {
		t.Fatalf("confirm without approval: %v", err)
	}
	if _, err := env.Engine.SetDisplacementsApproved(p.ID, true); err != nil {
		t.Fatal(err)
	}
	instructions, err := env.Engine.ConfirmProposal(env.Ctx, p.ID, "me")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(instructions) != 2 || instructions[0].Op != domain.OpCreateEvent || instructions[1].Op != domain.OpDeleteEvent {
		t.Fatalf("unexpected instructions: %+v", instructions)
	}

	if _, err := env.Engine.ApplyPendingOps(env.Ctx, "me"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	low, err = env.Engine.Repo.GetTask(env.Ctx, low.ID)
	if err != nil {
		t.Fatal(err)
	}
	if low.Status != "inbox" || low.ScheduledStart != nil || low.CalendarEventID != nil {
		t.Fatalf("low task not unscheduled: %+v", low)
	}
}

func TestProposalUnschedulableWhenNothingMovable(t *testing.T) {
	env := newTestEnv(t)
	// fully booked by immovable external events
	seedCalendar(t, env, "work",
		mkEvent("mon", "work", at(1, "09:00"), at(1, "17:00")),
		mkEvent("tue", "work", at(2, "09:00"), at(2, "17:00")),
		mkEvent("wed", "work", at(3, "09:00"), at(3, "17:00")),
		mkEvent("thu", "work", at(4, "09:00"), at(4, "17:00")),
		mkEvent("fri", "work", at(5, "09:00"), at(5, "17:00")),
	)
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "x", Priority: "high", TimeEstimateMinutes: 30, ActorID: "me"}); err != nil {
		t.Fatal(err)
	}
	p, err := env.Engine.BuildProposal(env.Ctx, engine.BuildProposalOptions{ActorID: "me"})
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Assignments) != 1 || p.Assignments[0].Status != domain.AssignmentUnschedulable {
		t.Fatalf("expected unschedulable assignment, got %+v", p.Assignments)
	}
	if _, err := env.Engine.ConfirmProposal(env.Ctx, p.ID, "me"); !errors.Is(err, proposal.ErrNothingApproved) {
		t.Fatalf("confirm: %v", err)
	}
}

func TestDailySummary(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "backlog item", ActorID: "me"}); err != nil {
		t.Fatal(err)
	}
	window, backlog, err := env.Engine.DailySummary(env.Ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if window.Date != "2024-01-01" {
		t.Fatalf("date = %s", window.Date)
	}
	if len(backlog) != 1 {
		t.Fatalf("backlog = %d", len(backlog))
	}
	evs, err := env.Engine.Repo.ListEvents(env.Ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range evs {
		if e.Type == "summary.daily" {
			found = true
		}
	}
	if !found {
		t.Fatal("summary.daily event not recorded")
	}
}
