package proposal

import (
	"errors"
	"testing"
	"time"

	"braindump/internal/domain"
)

var now = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

func slotAt(hour int) domain.TimeSlot {
	start := time.Date(2024, 1, 1, hour, 0, 0, 0, time.UTC)
	return domain.TimeSlot{Start: start, End: start.Add(time.Hour), Available: true}
}

func proposed(taskID string, slots ...domain.TimeSlot) domain.Assignment {
	a := domain.Assignment{TaskID: taskID, Status: domain.AssignmentProposed}
	for _, s := range slots {
		a.Suggestions = append(a.Suggestions, domain.SchedulingSuggestion{Slot: s, Score: 50})
	}
	return a
}

func newProposal(assignments []domain.Assignment, displacements []domain.Displacement) *Proposal {
	p := New(domain.ScheduleProposal{
		ID:            "p1",
		CreatedAt:     now,
		ExpiresAt:     now.Add(15 * time.Minute),
		Assignments:   assignments,
		Displacements: displacements,
	})
	p.Submit()
	return p
}

func TestNewAutoApprovesProposedAssignments(t *testing.T) {
	p := newProposal([]domain.Assignment{
		proposed("a", slotAt(9)),
		{TaskID: "b", Status: domain.AssignmentUnschedulable},
	}, nil)

	if p.Status() != StatusPendingApproval {
		t.Fatalf("status = %s", p.Status())
	}
	st, ok := p.Approval("a")
	if !ok || !st.Approved || st.Modified {
		t.Fatalf("schedulable approval: %+v", st)
	}
	st, ok = p.Approval("b")
	if !ok || st.Approved {
		t.Fatalf("unschedulable approval: %+v", st)
	}
}

func TestConfirmEmitsCreateInstructions(t *testing.T) {
	p := newProposal([]domain.Assignment{
		proposed("a", slotAt(9), slotAt(14)),
		proposed("b", slotAt(10)),
	}, nil)

	sel := 1
	p.SetApproval("a", ApprovalPatch{SelectedSlotIndex: &sel})

	instructions, err := p.Confirm(now)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(instructions) != 2 {
		t.Fatalf("expected 2 instructions, got %d", len(instructions))
	}
	if instructions[0].Op != domain.OpCreateEvent || instructions[0].TaskID != "a" {
		t.Fatalf("unexpected instruction: %+v", instructions[0])
	}
	if !instructions[0].Slot.Start.Equal(slotAt(14).Start) {
		t.Fatalf("selected slot ignored: %+v", instructions[0].Slot)
	}
	if p.Status() != StatusConfirmed {
		t.Fatalf("status = %s", p.Status())
	}
}

func TestConfirmIsSingleUse(t *testing.T) {
	p := newProposal([]domain.Assignment{proposed("a", slotAt(9))}, nil)
	if _, err := p.Confirm(now); err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	if _, err := p.Confirm(now); !errors.Is(err, ErrProposalAlreadyFinalized) {
		t.Fatalf("expected ErrProposalAlreadyFinalized, got %v", err)
	}
}

func TestConfirmAfterExpiry(t *testing.T) {
	p := newProposal([]domain.Assignment{proposed("a", slotAt(9))}, nil)
	if _, err := p.Confirm(now.Add(16 * time.Minute)); !errors.Is(err, ErrProposalExpired) {
		t.Fatalf("expected ErrProposalExpired, got %v", err)
	}
	if p.Status() != StatusExpired {
		t.Fatalf("status = %s", p.Status())
	}
	if _, err := p.Confirm(now); !errors.Is(err, ErrProposalAlreadyFinalized) {
		t.Fatalf("expired proposal must stay finalized, got %v", err)
	}
}

func TestConfirmRequiresSomethingApproved(t *testing.T) {
	p := newProposal([]domain.Assignment{proposed("a", slotAt(9))}, nil)
	p.RejectAll()
	if p.CanConfirm() {
		t.Fatal("nothing approved, CanConfirm should be false")
	}
	if _, err := p.Confirm(now); !errors.Is(err, ErrNothingApproved) {
		t.Fatalf("expected ErrNothingApproved, got %v", err)
	}
	// a failed approval check does not consume the proposal
	p.ApproveAll()
	if _, err := p.Confirm(now); err != nil {
		t.Fatalf("confirm after re-approval: %v", err)
	}
}

func TestApproveAllSkipsUnschedulable(t *testing.T) {
	p := newProposal([]domain.Assignment{
		proposed("a", slotAt(9)),
		{TaskID: "b", Status: domain.AssignmentUnschedulable},
	}, nil)
	p.RejectAll()
	p.ApproveAll()
	if st, _ := p.Approval("b"); st.Approved {
		t.Fatal("unschedulable task must not be approvable")
	}
	if st, _ := p.Approval("a"); !st.Approved {
		t.Fatal("schedulable task should be approved")
	}
}

func TestDisplacementsNeedExplicitApproval(t *testing.T) {
	moveTo := slotAt(15)
	p := newProposal(
		[]domain.Assignment{proposed("a", slotAt(9))},
		[]domain.Displacement{{
			EventID:      "bd-low",
			TaskID:       "low",
			OriginalSlot: slotAt(9),
			ProposedSlot: &moveTo,
			Action:       domain.DisplaceMove,
		}},
	)
	if p.CanConfirm() {
		t.Fatal("displacements pending, CanConfirm should be false")
	}
	if _, err := p.Confirm(now); !errors.Is(err, ErrDisplacementsNotApproved) {
		t.Fatalf("expected ErrDisplacementsNotApproved, got %v", err)
	}
	p.SetDisplacementsApproved(true)
	instructions, err := p.Confirm(now)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(instructions) != 2 {
		t.Fatalf("expected create + move, got %d", len(instructions))
	}
	last := instructions[len(instructions)-1]
	if last.Op != domain.OpMoveEvent || last.EventID != "bd-low" || last.Slot == nil {
		t.Fatalf("unexpected move instruction: %+v", last)
	}
}

func TestRejectFinalizes(t *testing.T) {
	p := newProposal([]domain.Assignment{proposed("a", slotAt(9))}, nil)
	if err := p.Reject(); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if err := p.Reject(); !errors.Is(err, ErrProposalAlreadyFinalized) {
		t.Fatalf("expected ErrProposalAlreadyFinalized, got %v", err)
	}
}

func TestSetApprovalIgnoresUnknownTask(t *testing.T) {
	p := newProposal([]domain.Assignment{proposed("a", slotAt(9))}, nil)
	yes := true
	p.SetApproval("ghost", ApprovalPatch{Approved: &yes})
	if _, ok := p.Approval("ghost"); ok {
		t.Fatal("unknown task must stay unknown")
	}
}

func TestRegistrySweep(t *testing.T) {
	r := NewRegistry()

	live := newProposal([]domain.Assignment{proposed("a", slotAt(9))}, nil)
	live.ID = "live"
	r.Put(live)

	done := newProposal([]domain.Assignment{proposed("b", slotAt(10))}, nil)
	done.ID = "done"
	if _, err := done.Confirm(now); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	r.Put(done)

	stale := newProposal([]domain.Assignment{proposed("c", slotAt(11))}, nil)
	stale.ID = "stale"
	stale.ExpiresAt = now.Add(-time.Minute)
	r.Put(stale)

	if removed := r.Sweep(now); removed != 2 {
		t.Fatalf("swept %d, want 2", removed)
	}
	if _, ok := r.Get("live"); !ok {
		t.Fatal("live proposal swept")
	}
	if _, ok := r.Get("done"); ok {
		t.Fatal("confirmed proposal kept")
	}
}
