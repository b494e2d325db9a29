package engine

import (
	"context"
	"fmt"

	"braindump/internal/domain"
	"braindump/internal/events"
	"braindump/internal/proposal"
	"braindump/internal/repo"
	"braindump/internal/schedule"
)

// GetProposal looks up an active proposal.
func (e Engine) GetProposal(id string) (*proposal.Proposal, error) {
	p, ok := e.Proposals.Get(id)
	if !ok {
		return nil, repo.ErrNotFound
	}
	return p, nil
}

func (e Engine) SetApproval(proposalID, taskID string, patch proposal.ApprovalPatch) (*proposal.Proposal, error) {
	p, err := e.GetProposal(proposalID)
	if err != nil {
		return nil, err
	}
	p.SetApproval(taskID, patch)
	return p, nil
}

func (e Engine) ApproveAll(proposalID string) (*proposal.Proposal, error) {
	p, err := e.GetProposal(proposalID)
	if err != nil {
		return nil, err
	}
	p.ApproveAll()
	return p, nil
}

func (e Engine) RejectAll(proposalID string) (*proposal.Proposal, error) {
	p, err := e.GetProposal(proposalID)
	if err != nil {
		return nil, err
	}
	p.RejectAll()
	return p, nil
}

func (e Engine) SetDisplacementsApproved(proposalID string, approved bool) (*proposal.Proposal, error) {
	p, err := e.GetProposal(proposalID)
	if err != nil {
		return nil, err
	}
	p.SetDisplacementsApproved(approved)
	return p, nil
}

// RejectProposal finalizes a proposal without committing anything.
func (e Engine) RejectProposal(ctx context.Context, proposalID, actorID string) error {
	p, err := e.GetProposal(proposalID)
	if err != nil {
		return err
	}
	if err := p.Reject(); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "proposal.rejected", "proposal", p.ID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// ConfirmProposal consumes the proposal and queues its commit instructions.
// Planned slots are re-validated against the live calendar first: whoever
// commits first wins, a stale proposal fails with ErrScheduleConflict instead
// of double-booking.
func (e Engine) ConfirmProposal(ctx context.Context, proposalID, actorID string) ([]domain.CommitInstruction, error) {
	p, err := e.GetProposal(proposalID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if p.Status() == proposal.StatusPendingApproval && !now.After(p.ExpiresAt) && p.CanConfirm() {
		if err := e.validateProposalSlots(ctx, p); err != nil {
			return nil, err
		}
	}
	instructions, err := p.Confirm(now)
	if err != nil {
		return nil, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnqueueCalendarOps(ctx, tx, p.ID, instructions); err != nil {
		return nil, err
	}
	for _, in := range instructions {
		if in.Op != domain.OpCreateEvent || in.TaskID == "" {
			continue
		}
		t, err := e.Repo.GetTask(ctx, in.TaskID)
		if err != nil {
			return nil, err
		}
		if err := ensureTaskTransition(t.Status, "scheduled"); err != nil {
			return nil, err
		}
		t.Status = "scheduled"
		start, end := in.Slot.Start, in.Slot.End
		t.ScheduledStart = &start
		t.ScheduledEnd = &end
		t.SyncStatus = domain.SyncPending
		t.UpdatedAt = now.UTC()
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return nil, err
		}
	}
	if err := e.Events.Append(ctx, tx, "proposal.confirmed", "proposal", p.ID, actorID, events.EventPayload{
		"instruction_count": len(instructions),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return instructions, nil
}

// validateProposalSlots checks the proposal's planned placements against the
// calendar as it stands now. Events the proposal itself moves or deletes do
// not count as collisions.
func (e Engine) validateProposalSlots(ctx context.Context, p *proposal.Proposal) error {
	var slots []domain.TimeSlot
	for _, a := range p.Assignments {
		if a.Status != domain.AssignmentProposed {
			continue
		}
		st, ok := p.Approval(a.TaskID)
		if !ok || !st.Approved {
			continue
		}
		idx := st.SelectedSlotIndex
		if idx < 0 || idx >= len(a.Suggestions) {
			idx = a.RecommendedSlotIndex
		}
		slots = append(slots, a.Suggestions[idx].Slot)
	}
	touched := map[string]bool{}
	for _, d := range p.Displacements {
		touched[d.EventID] = true
		if d.Action == domain.DisplaceMove && d.ProposedSlot != nil {
			slots = append(slots, *d.ProposedSlot)
		}
	}
	if len(slots) == 0 {
		return nil
	}

	from, to := slots[0].Start, slots[0].End
	for _, s := range slots[1:] {
		if s.Start.Before(from) {
			from = s.Start
		}
		if s.End.After(to) {
			to = s.End
		}
	}
	current, err := e.Repo.ListEventsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	for _, s := range slots {
		for _, ev := range current {
			if ev.Status == domain.EventCancelled || touched[ev.ID] {
				continue
			}
			if schedule.RangesOverlap(s.Start, s.End, ev.Start, ev.End) {
				return fmt.Errorf("%w: %q now occupies %s-%s", ErrScheduleConflict,
					ev.Title, ev.Start.Format("15:04"), ev.End.Format("15:04"))
			}
		}
	}
	return nil
}

// ApplyPendingOps drains the calendar-write outbox into the local calendar,
// mirroring each op back onto its task's sync state. Failed ops stay visible
// with their error instead of blocking the rest of the queue.
func (e Engine) ApplyPendingOps(ctx context.Context, actorID string) (int, error) {
	ops, err := e.Repo.ListPendingCalendarOps(ctx)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, op := range ops {
		if err := e.applyOp(ctx, op, actorID); err != nil {
			if markErr := e.markOpFailed(ctx, op, err); markErr != nil {
				return applied, markErr
			}
			continue
		}
		applied++
	}
	return applied, nil
}

func (e Engine) applyOp(ctx context.Context, op domain.CalendarOp, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	switch op.Op {
	case domain.OpCreateEvent:
		if op.SlotStart == nil || op.SlotEnd == nil {
			return fmt.Errorf("create op %d has no slot", op.ID)
		}
		t, err := e.Repo.GetTask(ctx, op.TaskID)
		if err != nil {
			return err
		}
		if err := e.Repo.UpsertCalendar(ctx, tx, domain.Calendar{
			ID:          LocalCalendarID,
			Name:        "braindump",
			Primary:     true,
			RefreshedAt: e.now().UTC(),
		}); err != nil {
			return err
		}
		eventID := "bd-" + op.TaskID
		taskID := op.TaskID
		if err := e.Repo.InsertCalendarEvent(ctx, tx, domain.CalendarEvent{
			ID:         eventID,
			CalendarID: LocalCalendarID,
			Title:      t.Title,
			Start:      *op.SlotStart,
			End:        *op.SlotEnd,
			Status:     domain.EventConfirmed,
			TaskID:     &taskID,
		}); err != nil {
			return err
		}
		t.CalendarEventID = &eventID
		t.SyncStatus = domain.SyncSynced
		t.UpdatedAt = e.now().UTC()
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return err
		}
	case domain.OpMoveEvent:
		if op.SlotStart == nil || op.SlotEnd == nil {
			return fmt.Errorf("move op %d has no slot", op.ID)
		}
		if err := e.Repo.UpdateCalendarEventSlot(ctx, tx, op.EventID, *op.SlotStart, *op.SlotEnd); err != nil {
			return err
		}
		if op.TaskID != "" {
			t, err := e.Repo.GetTask(ctx, op.TaskID)
			if err != nil {
				return err
			}
			t.ScheduledStart = op.SlotStart
			t.ScheduledEnd = op.SlotEnd
			t.SyncStatus = domain.SyncSynced
			t.UpdatedAt = e.now().UTC()
			if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
				return err
			}
		}
	case domain.OpDeleteEvent:
		if err := e.Repo.DeleteCalendarEvent(ctx, tx, op.EventID); err != nil {
			return err
		}
		if op.TaskID != "" {
			t, err := e.Repo.GetTask(ctx, op.TaskID)
			if err != nil {
				return err
			}
			t.Status = "inbox"
			t.ScheduledStart = nil
			t.ScheduledEnd = nil
			t.CalendarEventID = nil
			t.SyncStatus = ""
			t.UpdatedAt = e.now().UTC()
			if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown calendar op %q", op.Op)
	}

	if err := e.Repo.MarkCalendarOp(ctx, tx, op.ID, "applied", ""); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "calendar_op.applied", "calendar_op", fmt.Sprintf("%d", op.ID), actorID, events.EventPayload{
		"op":      op.Op,
		"task_id": op.TaskID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) markOpFailed(ctx context.Context, op domain.CalendarOp, opErr error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.MarkCalendarOp(ctx, tx, op.ID, "failed", opErr.Error()); err != nil {
		return err
	}
	if op.TaskID != "" {
		if t, err := e.Repo.GetTask(ctx, op.TaskID); err == nil {
			t.SyncStatus = domain.SyncError
			t.UpdatedAt = e.now().UTC()
			if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// DailySummary captures today's availability and the inbox backlog as an
// event, for the cron trigger or the CLI to render.
func (e Engine) DailySummary(ctx context.Context) (domain.AvailabilityWindow, []domain.Task, error) {
	day := e.now().In(e.Config.Location())
	window, _, err := e.availabilityForDay(ctx, day)
	if err != nil {
		return domain.AvailabilityWindow{}, nil, err
	}
	backlog, err := e.Repo.ListUnscheduledTasks(ctx)
	if err != nil {
		return domain.AvailabilityWindow{}, nil, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AvailabilityWindow{}, nil, err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "summary.daily", "profile", e.Config.Profile.ID, "", events.EventPayload{
		"date":         window.Date,
		"free_minutes": window.TotalFreeMinutes,
		"busy_minutes": window.TotalBusyMinutes,
		"inbox_count":  len(backlog),
	}); err != nil {
		return domain.AvailabilityWindow{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AvailabilityWindow{}, nil, err
	}
	return window, backlog, nil
}

// SweepProposals drops finalized and expired proposals from the registry.
func (e Engine) SweepProposals() int {
	return e.Proposals.Sweep(e.now())
}
