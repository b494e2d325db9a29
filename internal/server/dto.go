package server

import (
	"encoding/json"
	"time"

	"gopkg.in/yaml.v3"

	"braindump/internal/config"
	"braindump/internal/domain"
	"braindump/internal/proposal"
)

// Request payloads

type CreateTaskRequest struct {
	ID                  *string `json:"id,omitempty"`
	Title               string  `json:"title"`
	Notes               *string `json:"notes,omitempty"`
	Priority            string  `json:"priority,omitempty" enum:"high,medium,low"`
	Type                string  `json:"type,omitempty" enum:"deep_work,admin,call,errand"`
	TimeEstimateMinutes *int    `json:"time_estimate_minutes,omitempty"`
}

type UpdateTaskRequest struct {
	Title               *string `json:"title,omitempty"`
	Notes               *string `json:"notes,omitempty"`
	Priority            *string `json:"priority,omitempty" enum:"high,medium,low"`
	Type                *string `json:"type,omitempty" enum:"deep_work,admin,call,errand"`
	TimeEstimateMinutes *int    `json:"time_estimate_minutes,omitempty"`
	Status              *string `json:"status,omitempty" enum:"inbox,scheduled,done,dropped"`
}

type ImportCalendarRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	SourceURL string `json:"source_url,omitempty"`
	ICS       string `json:"ics"`
	Days      int    `json:"days,omitempty"`
}

type BuildProposalRequest struct {
	TaskIDs []string `json:"task_ids,omitempty"`
	From    *string  `json:"from,omitempty" format:"date-time"`
}

type ApprovalRequest struct {
	Approved          *bool `json:"approved,omitempty"`
	SelectedSlotIndex *int  `json:"selected_slot_index,omitempty"`
}

type DisplacementApprovalRequest struct {
	Approved bool `json:"approved"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Response payloads

type TaskResponse struct {
	ID                  string  `json:"id"`
	Title               string  `json:"title"`
	Notes               string  `json:"notes,omitempty"`
	Priority            string  `json:"priority" enum:"high,medium,low"`
	Type                string  `json:"type"`
	Status              string  `json:"status" enum:"inbox,scheduled,done,dropped"`
	TimeEstimateMinutes *int    `json:"time_estimate_minutes,omitempty"`
	ScheduledStart      *string `json:"scheduled_start,omitempty" format:"date-time"`
	ScheduledEnd        *string `json:"scheduled_end,omitempty" format:"date-time"`
	CalendarEventID     *string `json:"calendar_event_id,omitempty"`
	SyncStatus          string  `json:"sync_status,omitempty" enum:"pending,synced,error,orphaned"`
	CreatedAt           string  `json:"created_at" format:"date-time"`
	UpdatedAt           string  `json:"updated_at" format:"date-time"`
	CompletedAt         *string `json:"completed_at,omitempty" format:"date-time"`
}

type CalendarResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	SourceURL   string `json:"source_url,omitempty"`
	Primary     bool   `json:"primary"`
	RefreshedAt string `json:"refreshed_at" format:"date-time"`
	EventCount  int    `json:"event_count,omitempty"`
}

type ProposalResponse struct {
	ID                    string                `json:"id"`
	Status                string                `json:"status" enum:"draft,pending_approval,confirmed,rejected,expired"`
	CreatedAt             string                `json:"created_at" format:"date-time"`
	ExpiresAt             string                `json:"expires_at" format:"date-time"`
	Summary               string                `json:"summary"`
	Assignments           []AssignmentResponse  `json:"assignments"`
	Displacements         []domain.Displacement `json:"displacements,omitempty"`
	DisplacementsApproved bool                  `json:"displacements_approved"`
}

type AssignmentResponse struct {
	domain.Assignment
	Approval domain.ApprovalState `json:"approval"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type SummaryResponse struct {
	Window domain.AvailabilityWindow `json:"window"`
	Inbox  []TaskResponse            `json:"inbox"`
}

type AvailabilityBody struct {
	Window domain.AvailabilityWindow `json:"window"`
}

type SuggestionBody struct {
	domain.SchedulingSuggestion
}

type ConfirmResponse struct {
	Instructions []domain.CommitInstruction `json:"instructions"`
	AppliedOps   int                        `json:"applied_ops"`
}

type PrefsRequest struct {
	YAML string `json:"yaml"`
}

type PrefsResponse struct {
	ProfileID string `json:"profile_id"`
	Timezone  string `json:"timezone,omitempty"`
	YAML      string `json:"yaml"`
}

// Conversion helpers

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:                  t.ID,
		Title:               t.Title,
		Notes:               t.Notes,
		Priority:            string(t.Priority),
		Type:                t.TaskType,
		Status:              t.Status,
		TimeEstimateMinutes: t.TimeEstimateMinutes,
		ScheduledStart:      timePtrString(t.ScheduledStart),
		ScheduledEnd:        timePtrString(t.ScheduledEnd),
		CalendarEventID:     t.CalendarEventID,
		SyncStatus:          string(t.SyncStatus),
		CreatedAt:           t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:           t.UpdatedAt.Format(time.RFC3339),
		CompletedAt:         timePtrString(t.CompletedAt),
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t))
	}
	return out
}

func calendarResponse(c domain.Calendar) CalendarResponse {
	return CalendarResponse{
		ID:          c.ID,
		Name:        c.Name,
		SourceURL:   c.SourceURL,
		Primary:     c.Primary,
		RefreshedAt: c.RefreshedAt.Format(time.RFC3339),
	}
}

func proposalResponse(p *proposal.Proposal) ProposalResponse {
	assignments := make([]AssignmentResponse, 0, len(p.Assignments))
	for _, a := range p.Assignments {
		approval, _ := p.Approval(a.TaskID)
		assignments = append(assignments, AssignmentResponse{Assignment: a, Approval: approval})
	}
	return ProposalResponse{
		ID:                    p.ID,
		Status:                string(p.Status()),
		CreatedAt:             p.CreatedAt.Format(time.RFC3339),
		ExpiresAt:             p.ExpiresAt.Format(time.RFC3339),
		Summary:               p.Summary,
		Assignments:           assignments,
		Displacements:         p.Displacements,
		DisplacementsApproved: p.DisplacementsApproved(),
	}
}

func eventResponse(e domain.Event) EventResponse {
	payload := map[string]any{}
	if e.Payload != "" {
		_ = json.Unmarshal([]byte(e.Payload), &payload)
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, e := range items {
		out = append(out, eventResponse(e))
	}
	return out
}

func mapSuggestions(items []domain.SchedulingSuggestion) []SuggestionBody {
	out := make([]SuggestionBody, 0, len(items))
	for _, s := range items {
		out = append(out, SuggestionBody{SchedulingSuggestion: s})
	}
	return out
}

func prefsResponse(cfg *config.Config) PrefsResponse {
	raw, _ := yaml.Marshal(cfg)
	return PrefsResponse{
		ProfileID: cfg.Profile.ID,
		Timezone:  cfg.Profile.Timezone,
		YAML:      string(raw),
	}
}

func timePtrString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
