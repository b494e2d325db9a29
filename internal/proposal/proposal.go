package proposal

import (
	"errors"
	"fmt"
	"time"

	"braindump/internal/domain"
)

type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusConfirmed       Status = "confirmed"
	StatusRejected        Status = "rejected"
	StatusExpired         Status = "expired"
)

var (
	ErrProposalExpired          = errors.New("proposal expired")
	ErrProposalAlreadyFinalized = errors.New("proposal already finalized")
	ErrNothingApproved          = errors.New("no task approved")
	ErrDisplacementsNotApproved = errors.New("displacements not approved")
)

// Proposal wraps one ScheduleProposal with its approval state for a single
// review cycle. It performs no I/O; Confirm only emits the commit instruction
// set for the calendar-write collaborator.
type Proposal struct {
	domain.ScheduleProposal

	status                Status
	approvals             map[string]domain.ApprovalState
	displacementsApproved bool
}

// New wraps a freshly assembled proposal in DRAFT state. Every assignment
// with suggestions starts approved at its recommended slot; unschedulable
// assignments start rejected since there is nothing to approve.
func New(p domain.ScheduleProposal) *Proposal {
	approvals := make(map[string]domain.ApprovalState, len(p.Assignments))
	for _, a := range p.Assignments {
		approvals[a.TaskID] = domain.ApprovalState{
			Approved:          a.Status == domain.AssignmentProposed,
			SelectedSlotIndex: a.RecommendedSlotIndex,
		}
	}
	return &Proposal{
		ScheduleProposal: p,
		status:           StatusDraft,
		approvals:        approvals,
	}
}

func (p *Proposal) Status() Status { return p.status }

// Submit moves the assembled proposal to PENDING_APPROVAL; it is called once
// when the proposal is handed back to the caller for review.
func (p *Proposal) Submit() {
	if p.status == StatusDraft {
		p.status = StatusPendingApproval
	}
}

// Approval returns the current per-task state; ok=false for unknown tasks.
func (p *Proposal) Approval(taskID string) (domain.ApprovalState, bool) {
	st, ok := p.approvals[taskID]
	return st, ok
}

// ApprovalPatch is a partial per-task approval update.
type ApprovalPatch struct {
	Approved          *bool
	SelectedSlotIndex *int
}

// SetApproval merges a partial update into a task's approval state and marks
// it modified. Unknown task IDs are a no-op; stale references never fail.
func (p *Proposal) SetApproval(taskID string, patch ApprovalPatch) {
	st, ok := p.approvals[taskID]
	if !ok {
		return
	}
	if patch.Approved != nil {
		st.Approved = *patch.Approved
	}
	if patch.SelectedSlotIndex != nil {
		st.SelectedSlotIndex = *patch.SelectedSlotIndex
	}
	st.Modified = true
	p.approvals[taskID] = st
}

// ApproveAll approves every schedulable assignment, preserving each task's
// previously chosen slot index.
func (p *Proposal) ApproveAll() {
	p.setAll(true)
}

// RejectAll clears every approval, preserving selected slot indexes.
func (p *Proposal) RejectAll() {
	p.setAll(false)
}

func (p *Proposal) setAll(approved bool) {
	for _, a := range p.Assignments {
		st := p.approvals[a.TaskID]
		if approved && a.Status != domain.AssignmentProposed {
			continue
		}
		st.Approved = approved
		st.Modified = true
		p.approvals[a.TaskID] = st
	}
}

// SetDisplacementsApproved gates the entire displacement set with one flag;
// there is no per-displacement partial approval.
func (p *Proposal) SetDisplacementsApproved(approved bool) {
	p.displacementsApproved = approved
}

func (p *Proposal) DisplacementsApproved() bool { return p.displacementsApproved }

// CanConfirm reports whether Confirm would pass the approval checks: at least
// one approved task, and displacements (if any) explicitly approved.
func (p *Proposal) CanConfirm() bool {
	if p.approvedCount() == 0 {
		return false
	}
	if len(p.Displacements) > 0 && !p.displacementsApproved {
		return false
	}
	return true
}

func (p *Proposal) approvedCount() int {
	n := 0
	for _, a := range p.Assignments {
		if a.Status != domain.AssignmentProposed {
			continue
		}
		if st := p.approvals[a.TaskID]; st.Approved {
			n++
		}
	}
	return n
}

// Reject finalizes the proposal without emitting anything.
func (p *Proposal) Reject() error {
	if p.finalized() {
		return fmt.Errorf("%w: %s", ErrProposalAlreadyFinalized, p.status)
	}
	p.status = StatusRejected
	return nil
}

// Confirm validates expiry and approval state, emits the ordered commit
// instruction set and transitions to CONFIRMED. A proposal is single-use.
func (p *Proposal) Confirm(now time.Time) ([]domain.CommitInstruction, error) {
	if p.finalized() {
		return nil, fmt.Errorf("%w: %s", ErrProposalAlreadyFinalized, p.status)
	}
	if now.After(p.ExpiresAt) {
		p.status = StatusExpired
		return nil, ErrProposalExpired
	}
	if p.approvedCount() == 0 {
		return nil, ErrNothingApproved
	}
	if len(p.Displacements) > 0 && !p.displacementsApproved {
		return nil, ErrDisplacementsNotApproved
	}

	var instructions []domain.CommitInstruction
	for _, a := range p.Assignments {
		if a.Status != domain.AssignmentProposed {
			continue
		}
		st := p.approvals[a.TaskID]
		if !st.Approved {
			continue
		}
		idx := st.SelectedSlotIndex
		if idx < 0 || idx >= len(a.Suggestions) {
			idx = a.RecommendedSlotIndex
		}
		slot := a.Suggestions[idx].Slot
		instructions = append(instructions, domain.CommitInstruction{
			Op:     domain.OpCreateEvent,
			TaskID: a.TaskID,
			Slot:   &slot,
		})
	}
	for _, d := range p.Displacements {
		switch d.Action {
		case domain.DisplaceMove:
			slot := *d.ProposedSlot
			instructions = append(instructions, domain.CommitInstruction{
				Op:      domain.OpMoveEvent,
				TaskID:  d.TaskID,
				EventID: d.EventID,
				Slot:    &slot,
			})
		case domain.DisplaceUnschedule:
			instructions = append(instructions, domain.CommitInstruction{
				Op:      domain.OpDeleteEvent,
				TaskID:  d.TaskID,
				EventID: d.EventID,
			})
		}
	}
	p.status = StatusConfirmed
	return instructions, nil
}

func (p *Proposal) finalized() bool {
	switch p.status {
	case StatusConfirmed, StatusRejected, StatusExpired:
		return true
	}
	return false
}
