package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"braindump/internal/domain"
	"braindump/internal/events"
	"braindump/internal/proposal"
	"braindump/internal/schedule"
)

// Availability returns the merged free/busy breakdown for one date.
// Non-working days come back with no slots and zero totals.
func (e Engine) Availability(ctx context.Context, date string) (domain.AvailabilityWindow, error) {
	day, err := time.ParseInLocation(schedule.DateLayout, date, e.Config.Location())
	if err != nil {
		return domain.AvailabilityWindow{}, fmt.Errorf("%w: %q", schedule.ErrInvalidTimeFormat, date)
	}
	window, _, err := e.availabilityForDay(ctx, day)
	return window, err
}

// availabilityForDay computes one merged window plus the day's raw events.
// Each calendar gets its own window so availability is the intersection: a
// minute is free only when every calendar has it free.
func (e Engine) availabilityForDay(ctx context.Context, day time.Time) (domain.AvailabilityWindow, []domain.CalendarEvent, error) {
	working, ok := e.Config.WorkingHoursFor(day.Weekday())
	if !ok {
		return domain.AvailabilityWindow{Date: day.Format(schedule.DateLayout)}, nil, nil
	}
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, e.Config.Location())
	evs, err := e.Repo.ListEventsBetween(ctx, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return domain.AvailabilityWindow{}, nil, err
	}

	byCalendar := map[string][]domain.CalendarEvent{}
	for _, ev := range evs {
		byCalendar[ev.CalendarID] = append(byCalendar[ev.CalendarID], ev)
	}
	if len(byCalendar) == 0 {
		window, err := schedule.ComputeAvailability(nil, day, working)
		return window, nil, err
	}

	calendarIDs := make([]string, 0, len(byCalendar))
	for id := range byCalendar {
		calendarIDs = append(calendarIDs, id)
	}
	sort.Strings(calendarIDs)

	windows := make([]domain.AvailabilityWindow, 0, len(calendarIDs))
	for _, id := range calendarIDs {
		w, err := schedule.ComputeAvailability(byCalendar[id], day, working)
		if err != nil {
			return domain.AvailabilityWindow{}, nil, err
		}
		windows = append(windows, w)
	}
	merged, err := schedule.MergeAvailabilityWindows(windows)
	return merged, evs, err
}

// Suggest scores candidate slots for one task on one date.
func (e Engine) Suggest(ctx context.Context, taskID, date string, count int) ([]domain.SchedulingSuggestion, error) {
	task, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	day, err := time.ParseInLocation(schedule.DateLayout, date, e.Config.Location())
	if err != nil {
		return nil, fmt.Errorf("%w: %q", schedule.ErrInvalidTimeFormat, date)
	}
	window, evs, err := e.availabilityForDay(ctx, day)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		count = e.Config.SuggestionCount()
	}
	sctx, err := e.suggestContext(task, evs, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	return schedule.GenerateSuggestions(sctx, window, count), nil
}

func (e Engine) suggestContext(task domain.Task, evs []domain.CalendarEvent, from, to time.Time) (schedule.SuggestContext, error) {
	protected, err := e.Config.ProtectedWindows(from, to)
	if err != nil {
		return schedule.SuggestContext{}, err
	}
	return schedule.SuggestContext{
		Task:      task,
		Rule:      e.Config.RuleFor(task.TaskType),
		Buffers:   e.Config.SchedulingBuffers(),
		Events:    evs,
		Protected: protected,
		Now:       e.now(),
	}, nil
}

// BuildProposalOptions select which tasks to plan and from when.
type BuildProposalOptions struct {
	TaskIDs []string
	From    time.Time
	ActorID string
}

// BuildProposal plans a batch of tasks over the scheduling horizon. Tasks are
// placed in priority order; each placement occupies its recommended slot so
// later tasks cannot double-book it. A task whose every free slot is taken may
// still be placed by displacing strictly-lower-priority planned items;
// otherwise it lands in the proposal as unschedulable, never dropped.
func (e Engine) BuildProposal(ctx context.Context, opts BuildProposalOptions) (*proposal.Proposal, error) {
	tasks, err := e.proposalTasks(ctx, opts.TaskIDs)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("no tasks to schedule")
	}

	from := opts.From
	if from.IsZero() {
		from = e.now()
	}
	from = from.In(e.Config.Location())
	horizonEnd := from.AddDate(0, 0, e.Config.HorizonDays())

	windows, horizonEvents, err := e.horizonWindows(ctx, from)
	if err != nil {
		return nil, err
	}
	protected, err := e.Config.ProtectedWindows(from, horizonEnd)
	if err != nil {
		return nil, err
	}
	taskByEvent, err := e.Repo.TasksByEventID(ctx)
	if err != nil {
		return nil, err
	}

	// High priority places first; ties break on capture order.
	sort.SliceStable(tasks, func(i, j int) bool {
		ri, rj := tasks[i].Priority.Rank(), tasks[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})

	rules := map[string]schedule.TaskTypeRule{}
	for _, t := range tasks {
		rules[t.TaskType] = e.Config.RuleFor(t.TaskType)
	}
	for _, t := range taskByEvent {
		rules[t.TaskType] = e.Config.RuleFor(t.TaskType)
	}

	count := e.Config.SuggestionCount()
	now := e.now()
	var assignments []domain.Assignment
	var allDisplacements []domain.Displacement

	for _, task := range tasks {
		sctx := schedule.SuggestContext{
			Task:      task,
			Rule:      rules[task.TaskType],
			Buffers:   e.Config.SchedulingBuffers(),
			Events:    horizonEvents,
			Protected: protected,
			Now:       now,
		}
		suggestions := collectSuggestions(sctx, windows, count)
		if len(suggestions) > 0 {
			assignments = append(assignments, domain.Assignment{
				TaskID:      task.ID,
				Status:      domain.AssignmentProposed,
				Suggestions: suggestions,
			})
			windows = schedule.Occupy(windows, suggestions[0].Slot)
			continue
		}

		// No free slot anywhere: try claiming space held by
		// strictly-lower-priority planned work.
		displacements, ok := e.tryDisplace(sctx, task, windows, horizonEvents, taskByEvent, protected, rules, now, &assignments)
		if !ok {
			assignments = append(assignments, domain.Assignment{
				TaskID: task.ID,
				Status: domain.AssignmentUnschedulable,
			})
			continue
		}
		allDisplacements = append(allDisplacements, displacements...)
		windows = schedule.Occupy(windows, assignments[len(assignments)-1].Suggestions[0].Slot)
	}

	p := proposal.New(domain.ScheduleProposal{
		ID:            uuid.New().String(),
		CreatedAt:     now.UTC(),
		ExpiresAt:     now.UTC().Add(time.Duration(e.Config.ExpiryMinutes()) * time.Minute),
		Assignments:   assignments,
		Displacements: allDisplacements,
		Summary:       proposalSummary(assignments, allDisplacements),
	})
	p.Submit()
	e.Proposals.Put(p)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "proposal.created", "proposal", p.ID, opts.ActorID, events.EventPayload{
		"task_count":         len(assignments),
		"displacement_count": len(allDisplacements),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return p, nil
}

func (e Engine) proposalTasks(ctx context.Context, ids []string) ([]domain.Task, error) {
	if len(ids) == 0 {
		return e.Repo.ListUnscheduledTasks(ctx)
	}
	tasks := make([]domain.Task, 0, len(ids))
	for _, id := range ids {
		t, err := e.Repo.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// horizonWindows builds one merged availability window per working day of the
// horizon, plus every event in range.
func (e Engine) horizonWindows(ctx context.Context, from time.Time) ([]domain.AvailabilityWindow, []domain.CalendarEvent, error) {
	var windows []domain.AvailabilityWindow
	var all []domain.CalendarEvent
	seen := map[string]bool{}
	for i := 0; i < e.Config.HorizonDays(); i++ {
		day := from.AddDate(0, 0, i)
		if _, ok := e.Config.WorkingHoursFor(day.Weekday()); !ok {
			continue
		}
		window, evs, err := e.availabilityForDay(ctx, day)
		if err != nil {
			return nil, nil, err
		}
		windows = append(windows, window)
		for _, ev := range evs {
			if !seen[ev.ID] {
				seen[ev.ID] = true
				all = append(all, ev)
			}
		}
	}
	return windows, all, nil
}

// collectSuggestions gathers scored slots across the horizon, keeping the
// best-scoring candidates overall rather than exhausting the first day.
func collectSuggestions(sctx schedule.SuggestContext, windows []domain.AvailabilityWindow, count int) []domain.SchedulingSuggestion {
	var out []domain.SchedulingSuggestion
	for _, w := range windows {
		out = append(out, schedule.GenerateSuggestions(sctx, w, count)...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Slot.Start.Before(out[j].Slot.Start)
	})
	if len(out) > count {
		out = out[:count]
	}
	return out
}

// tryDisplace relaxes availability by treating slots held only by
// strictly-lower-priority owned events as free, picks the best relaxed slot,
// and resolves who has to move. Appends the winning assignment on success.
func (e Engine) tryDisplace(sctx schedule.SuggestContext, task domain.Task, windows []domain.AvailabilityWindow, evs []domain.CalendarEvent, taskByEvent map[string]domain.Task, protected []schedule.ProtectedWindow, rules map[string]schedule.TaskTypeRule, now time.Time, assignments *[]domain.Assignment) ([]domain.Displacement, bool) {
	relaxed := schedule.CloneWindows(windows)
	changed := false
	for i := range relaxed {
		for j := range relaxed[i].Slots {
			s := &relaxed[i].Slots[j]
			if s.Available || s.OwningEventID == "" {
				continue
			}
			owner, owned := taskByEvent[s.OwningEventID]
			if !owned || owner.Priority.Rank() >= task.Priority.Rank() {
				continue
			}
			s.Available = true
			changed = true
		}
	}
	if !changed {
		return nil, false
	}

	// Suggest against relaxed availability, but without the owned events so
	// their overlap does not show up as a blocking conflict here.
	external := make([]domain.CalendarEvent, 0, len(evs))
	for _, ev := range evs {
		if ev.TaskID != nil {
			if owner, ok := taskByEvent[ev.ID]; ok && owner.Priority.Rank() < task.Priority.Rank() {
				continue
			}
		}
		external = append(external, ev)
	}
	relaxedCtx := sctx
	relaxedCtx.Events = external
	candidates := collectSuggestions(relaxedCtx, relaxed, 1)
	if len(candidates) == 0 {
		return nil, false
	}
	slot := candidates[0].Slot

	displacements, conflicts := schedule.ResolveDisplacements(schedule.DisplaceContext{
		Candidate:     task,
		Slot:          slot,
		Events:        evs,
		TaskByEventID: taskByEvent,
		Horizon:       windows,
		Rules:         rules,
		Buffers:       e.Config.SchedulingBuffers(),
		Protected:     protected,
		Now:           now,
	})
	if len(displacements) == 0 || schedule.HasBlockingConflict(conflicts) {
		return nil, false
	}
	*assignments = append(*assignments, domain.Assignment{
		TaskID:      task.ID,
		Status:      domain.AssignmentProposed,
		Suggestions: candidates,
	})
	return displacements, true
}

func proposalSummary(assignments []domain.Assignment, displacements []domain.Displacement) string {
	placed, stuck := 0, 0
	for _, a := range assignments {
		if a.Status == domain.AssignmentProposed {
			placed++
		} else {
			stuck++
		}
	}
	s := fmt.Sprintf("%d task(s) placed", placed)
	if stuck > 0 {
		s += fmt.Sprintf(", %d unschedulable", stuck)
	}
	if len(displacements) > 0 {
		s += fmt.Sprintf(", %d displacement(s) pending approval", len(displacements))
	}
	return s
}
