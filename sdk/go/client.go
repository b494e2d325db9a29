package braindumpsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Braindump HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID                  string  `json:"id"`
	Title               string  `json:"title"`
	Priority            string  `json:"priority"`
	Type                string  `json:"type"`
	Status              string  `json:"status"`
	TimeEstimateMinutes *int    `json:"time_estimate_minutes,omitempty"`
	ScheduledStart      *string `json:"scheduled_start,omitempty"`
	ScheduledEnd        *string `json:"scheduled_end,omitempty"`
	SyncStatus          string  `json:"sync_status,omitempty"`
}

// TimeSlot is a half-open interval.
type TimeSlot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}

// AvailabilityWindow is one day's free/busy breakdown.
type AvailabilityWindow struct {
	Date             string     `json:"date"`
	WorkingStart     string     `json:"working_start,omitempty"`
	WorkingEnd       string     `json:"working_end,omitempty"`
	Slots            []TimeSlot `json:"slots"`
	TotalFreeMinutes int        `json:"total_free_minutes"`
	TotalBusyMinutes int        `json:"total_busy_minutes"`
}

// Suggestion is one scored candidate slot.
type Suggestion struct {
	Slot      TimeSlot `json:"slot"`
	Score     int      `json:"score"`
	Reasoning string   `json:"reasoning"`
}

// Assignment is one task's placement inside a proposal.
type Assignment struct {
	TaskID               string       `json:"task_id"`
	Status               string       `json:"status"`
	Suggestions          []Suggestion `json:"suggestions"`
	RecommendedSlotIndex int          `json:"recommended_slot_index"`
}

// Proposal is a reviewable batch schedule.
type Proposal struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	ExpiresAt     string       `json:"expires_at"`
	Summary       string       `json:"summary"`
	Assignments   []Assignment `json:"assignments"`
	Displacements []any        `json:"displacements,omitempty"`
}

// ConfirmResult reports what a confirm wrote.
type ConfirmResult struct {
	Instructions []map[string]any `json:"instructions"`
	AppliedOps   int              `json:"applied_ops"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask captures a task.
func (c *Client) CreateTask(ctx context.Context, title, priority, taskType string, estimateMinutes int) (Task, error) {
	body := map[string]any{"title": title}
	if priority != "" {
		body["priority"] = priority
	}
	if taskType != "" {
		body["type"] = taskType
	}
	if estimateMinutes > 0 {
		body["time_estimate_minutes"] = estimateMinutes
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", body, &resp)
	return resp, err
}

// ListTasks returns tasks, optionally filtered by status.
func (c *Client) ListTasks(ctx context.Context, status string) ([]Task, error) {
	endpoint := "v0/tasks"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CompleteTask marks a task done.
func (c *Client) CompleteTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s/complete", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Availability returns the merged free/busy window for a date.
func (c *Client) Availability(ctx context.Context, date string) (AvailabilityWindow, error) {
	var resp struct {
		Window AvailabilityWindow `json:"window"`
	}
	endpoint := "v0/availability?date=" + url.QueryEscape(date)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Window, err
}

// Suggest returns scored candidate slots for a task on a date.
func (c *Client) Suggest(ctx context.Context, taskID, date string, count int) ([]Suggestion, error) {
	endpoint := fmt.Sprintf("v0/tasks/%s/suggestions?date=%s", url.PathEscape(taskID), url.QueryEscape(date))
	if count > 0 {
		endpoint = fmt.Sprintf("%s&count=%d", endpoint, count)
	}
	var resp []Suggestion
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ImportCalendar replaces a calendar snapshot from raw ICS text.
func (c *Client) ImportCalendar(ctx context.Context, calendarID, name, ics string) error {
	body := map[string]any{"id": calendarID, "name": name, "ics": ics}
	return c.do(ctx, http.MethodPost, "v0/calendars/import", body, nil)
}

// BuildProposal plans the given tasks, or every unscheduled task when ids is
// empty, and opens a review cycle.
func (c *Client) BuildProposal(ctx context.Context, taskIDs []string) (Proposal, error) {
	body := map[string]any{}
	if len(taskIDs) > 0 {
		body["task_ids"] = taskIDs
	}
	var resp Proposal
	err := c.do(ctx, http.MethodPost, "v0/proposals", body, &resp)
	return resp, err
}

// GetProposal fetches a proposal by id.
func (c *Client) GetProposal(ctx context.Context, id string) (Proposal, error) {
	var resp Proposal
	err := c.do(ctx, http.MethodGet, "v0/proposals/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ApproveAll approves every placement in a proposal.
func (c *Client) ApproveAll(ctx context.Context, id string) (Proposal, error) {
	var resp Proposal
	endpoint := fmt.Sprintf("v0/proposals/%s/approve-all", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// ApproveDisplacements records explicit consent for a proposal's displacements.
func (c *Client) ApproveDisplacements(ctx context.Context, id string, approved bool) (Proposal, error) {
	var resp Proposal
	endpoint := fmt.Sprintf("v0/proposals/%s/displacements", url.PathEscape(id))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"approved": approved}, &resp)
	return resp, err
}

// ConfirmProposal commits approved placements to the calendar.
func (c *Client) ConfirmProposal(ctx context.Context, id string) (ConfirmResult, error) {
	var resp ConfirmResult
	endpoint := fmt.Sprintf("v0/proposals/%s/confirm", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// RejectProposal discards a proposal.
func (c *Client) RejectProposal(ctx context.Context, id string) error {
	endpoint := fmt.Sprintf("v0/proposals/%s/reject", url.PathEscape(id))
	return c.do(ctx, http.MethodPost, endpoint, nil, nil)
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
