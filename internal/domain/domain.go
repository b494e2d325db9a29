package domain

import "time"

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities for displacement decisions; higher wins.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

type EventStatus string

const (
	EventConfirmed EventStatus = "confirmed"
	EventTentative EventStatus = "tentative"
	EventCancelled EventStatus = "cancelled"
)

type SyncStatus string

const (
	SyncPending  SyncStatus = "pending"
	SyncSynced   SyncStatus = "synced"
	SyncError    SyncStatus = "error"
	SyncOrphaned SyncStatus = "orphaned"
)

// TimeSlot is an immutable half-open interval [Start, End).
type TimeSlot struct {
	Start            time.Time `json:"start" format:"date-time"`
	End              time.Time `json:"end" format:"date-time"`
	Available        bool      `json:"available"`
	OwningCalendarID string    `json:"owning_calendar_id,omitempty"`
	OwningEventID    string    `json:"owning_event_id,omitempty"`
}

func (s TimeSlot) Minutes() int {
	return int(s.End.Sub(s.Start) / time.Minute)
}

// AvailabilityWindow is the per-day free/busy breakdown at slot granularity.
// Slots are chronological and non-overlapping; totals cover working hours only.
type AvailabilityWindow struct {
	Date             string     `json:"date"`
	WorkingStart     string     `json:"working_start,omitempty"`
	WorkingEnd       string     `json:"working_end,omitempty"`
	Slots            []TimeSlot `json:"slots"`
	TotalFreeMinutes int        `json:"total_free_minutes"`
	TotalBusyMinutes int        `json:"total_busy_minutes"`
}

type CalendarEvent struct {
	ID         string      `json:"id"`
	CalendarID string      `json:"calendar_id"`
	Title      string      `json:"title"`
	Start      time.Time   `json:"start" format:"date-time"`
	End        time.Time   `json:"end" format:"date-time"`
	AllDay     bool        `json:"all_day"`
	Status     EventStatus `json:"status" enum:"confirmed,tentative,cancelled"`
	// TaskID links an event back to the task it mirrors. Events without a
	// task are external commitments and never displacement targets.
	TaskID *string `json:"task_id,omitempty"`
}

type Task struct {
	ID                  string     `json:"id"`
	Title               string     `json:"title"`
	Notes               string     `json:"notes,omitempty"`
	Priority            Priority   `json:"priority" enum:"high,medium,low"`
	TaskType            string     `json:"task_type"`
	Status              string     `json:"status" enum:"inbox,scheduled,done,dropped"`
	TimeEstimateMinutes *int       `json:"time_estimate_minutes,omitempty"`
	ScheduledStart      *time.Time `json:"scheduled_start,omitempty" format:"date-time"`
	ScheduledEnd        *time.Time `json:"scheduled_end,omitempty" format:"date-time"`
	CalendarEventID     *string    `json:"calendar_event_id,omitempty"`
	SyncStatus          SyncStatus `json:"sync_status,omitempty" enum:"pending,synced,error,orphaned"`
	CreatedAt           time.Time  `json:"created_at" format:"date-time"`
	UpdatedAt           time.Time  `json:"updated_at" format:"date-time"`
	CompletedAt         *time.Time `json:"completed_at,omitempty" format:"date-time"`
}

type ConflictKind string

const (
	ConflictOverlap             ConflictKind = "overlap"
	ConflictOutsideWorkingHours ConflictKind = "outside_working_hours"
	ConflictProtectedSlot       ConflictKind = "protected_slot"
)

type ConflictSeverity string

const (
	SeverityError   ConflictSeverity = "error"
	SeverityWarning ConflictSeverity = "warning"
	SeverityInfo    ConflictSeverity = "info"
)

// Conflict is advisory; error severity blocks direct placement.
type Conflict struct {
	Kind        ConflictKind     `json:"kind" enum:"overlap,outside_working_hours,protected_slot"`
	Severity    ConflictSeverity `json:"severity" enum:"error,warning,info"`
	Description string           `json:"description"`
	Resolution  string           `json:"resolution,omitempty"`
}

type ScoringFactor struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
	Max    int    `json:"max"`
	Reason string `json:"reason"`
}

type SchedulingSuggestion struct {
	Slot      TimeSlot        `json:"slot"`
	Score     int             `json:"score"`
	Reasoning string          `json:"reasoning"`
	Factors   []ScoringFactor `json:"factors"`
	Conflicts []Conflict      `json:"conflicts,omitempty"`
}

type DisplacementAction string

const (
	DisplaceMove       DisplacementAction = "move"
	DisplaceUnschedule DisplacementAction = "unschedule"
)

// Displacement proposes moving or unscheduling a lower-priority owned item.
// A nil ProposedSlot means no alternative was found within the horizon.
type Displacement struct {
	EventID      string             `json:"event_id"`
	TaskID       string             `json:"task_id,omitempty"`
	OriginalSlot TimeSlot           `json:"original_slot"`
	ProposedSlot *TimeSlot          `json:"proposed_slot,omitempty"`
	Action       DisplacementAction `json:"action" enum:"move,unschedule"`
	Reason       string             `json:"reason"`
}

type AssignmentStatus string

const (
	AssignmentProposed      AssignmentStatus = "proposed"
	AssignmentUnschedulable AssignmentStatus = "unschedulable"
)

// Assignment carries the scored suggestions for one task inside a proposal.
// Unschedulable tasks stay in the proposal so batch review shows every task.
type Assignment struct {
	TaskID               string                 `json:"task_id"`
	Status               AssignmentStatus       `json:"status" enum:"proposed,unschedulable"`
	Suggestions          []SchedulingSuggestion `json:"suggestions"`
	RecommendedSlotIndex int                    `json:"recommended_slot_index"`
}

type ScheduleProposal struct {
	ID            string         `json:"id"`
	CreatedAt     time.Time      `json:"created_at" format:"date-time"`
	ExpiresAt     time.Time      `json:"expires_at" format:"date-time"`
	Assignments   []Assignment   `json:"assignments"`
	Displacements []Displacement `json:"displacements,omitempty"`
	Summary       string         `json:"summary"`
}

// ApprovalState tracks one task's review decision inside a proposal cycle.
type ApprovalState struct {
	Approved          bool `json:"approved"`
	SelectedSlotIndex int  `json:"selected_slot_index"`
	Modified          bool `json:"modified"`
}

type CommitOp string

const (
	OpCreateEvent CommitOp = "create_event"
	OpMoveEvent   CommitOp = "move_event"
	OpDeleteEvent CommitOp = "delete_event"
)

// CommitInstruction is one ordered step handed to the calendar-write
// collaborator after a proposal is confirmed.
type CommitInstruction struct {
	Op         CommitOp  `json:"op" enum:"create_event,move_event,delete_event"`
	TaskID     string    `json:"task_id,omitempty"`
	EventID    string    `json:"event_id,omitempty"`
	CalendarID string    `json:"calendar_id,omitempty"`
	Slot       *TimeSlot `json:"slot,omitempty"`
}

// CalendarOp is one queued commit instruction in the write outbox. Ops are
// drained by the calendar-write collaborator, which owns retries and reports
// back per-op status.
type CalendarOp struct {
	ID         int64      `json:"id"`
	ProposalID string     `json:"proposal_id"`
	Seq        int        `json:"seq"`
	Op         CommitOp   `json:"op" enum:"create_event,move_event,delete_event"`
	TaskID     string     `json:"task_id,omitempty"`
	EventID    string     `json:"event_id,omitempty"`
	CalendarID string     `json:"calendar_id,omitempty"`
	SlotStart  *time.Time `json:"slot_start,omitempty" format:"date-time"`
	SlotEnd    *time.Time `json:"slot_end,omitempty" format:"date-time"`
	Status     string     `json:"status" enum:"pending,applied,failed"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at" format:"date-time"`
}

type Calendar struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	SourceURL   string    `json:"source_url,omitempty"`
	Primary     bool      `json:"primary"`
	RefreshedAt time.Time `json:"refreshed_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
