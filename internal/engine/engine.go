package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"braindump/internal/config"
	"braindump/internal/domain"
	"braindump/internal/events"
	"braindump/internal/ics"
	"braindump/internal/proposal"
	"braindump/internal/repo"
	"braindump/internal/schedule"
)

// LocalCalendarID is the calendar that mirrors scheduled tasks; only events
// on it are ever displacement targets.
const LocalCalendarID = "braindump"

// ErrScheduleConflict reports that a confirmed slot is no longer free:
// whichever proposal commits first wins, the second must fail rather than
// silently overwrite.
var ErrScheduleConflict = errors.New("slot no longer free")

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Proposals *proposal.Registry
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Config:    cfg,
		Proposals: proposal.NewRegistry(),
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// TaskCreateOptions are parameters for capturing a task.
type TaskCreateOptions struct {
	ID                  string
	Title               string
	Notes               string
	Priority            string
	TaskType            string
	TimeEstimateMinutes int
	ActorID             string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if e.Config == nil {
		return domain.Task{}, errors.New("config not loaded")
	}
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.Priority == "" {
		opts.Priority = string(domain.PriorityMedium)
	}
	if domain.Priority(opts.Priority).Rank() == 0 {
		return domain.Task{}, fmt.Errorf("invalid priority %q", opts.Priority)
	}
	if opts.TaskType == "" {
		opts.TaskType = "deep_work"
	}
	now := e.now().UTC()
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	t := domain.Task{
		ID:        id,
		Title:     opts.Title,
		Notes:     opts.Notes,
		Priority:  domain.Priority(opts.Priority),
		TaskType:  opts.TaskType,
		Status:    "inbox",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if opts.TimeEstimateMinutes > 0 {
		t.TimeEstimateMinutes = &opts.TimeEstimateMinutes
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.created", "task", t.ID, opts.ActorID, events.EventPayload{
		"title":    t.Title,
		"priority": t.Priority,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TaskUpdateOptions encapsulates allowed updates.
type TaskUpdateOptions struct {
	ID                  string
	Title               *string
	Notes               *string
	Priority            *string
	TaskType            *string
	TimeEstimateMinutes *int
	Status              string
	ActorID             string
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, opts.ID)
	if err != nil {
		return t, err
	}
	original := t.Status
	if opts.Title != nil {
		if *opts.Title == "" {
			return t, errors.New("title must not be empty")
		}
		t.Title = *opts.Title
	}
	if opts.Notes != nil {
		t.Notes = *opts.Notes
	}
	if opts.Priority != nil {
		if domain.Priority(*opts.Priority).Rank() == 0 {
			return t, fmt.Errorf("invalid priority %q", *opts.Priority)
		}
		t.Priority = domain.Priority(*opts.Priority)
	}
	if opts.TaskType != nil {
		t.TaskType = *opts.TaskType
	}
	if opts.TimeEstimateMinutes != nil {
		if *opts.TimeEstimateMinutes <= 0 {
			t.TimeEstimateMinutes = nil
		} else {
			t.TimeEstimateMinutes = opts.TimeEstimateMinutes
		}
	}
	if opts.Status != "" && opts.Status != t.Status {
		if err := ensureTaskTransition(t.Status, opts.Status); err != nil {
			return t, err
		}
		t.Status = opts.Status
		switch opts.Status {
		case "done":
			now := e.now().UTC()
			t.CompletedAt = &now
		case "inbox":
			t.ScheduledStart = nil
			t.ScheduledEnd = nil
			t.CompletedAt = nil
		}
	}
	t.UpdatedAt = e.now().UTC()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, "task.updated", "task", t.ID, opts.ActorID, events.EventPayload{
		"from_status": original,
		"to_status":   t.Status,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

func ensureTaskTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case "inbox":
		if newStatus == "scheduled" || newStatus == "done" || newStatus == "dropped" {
			return nil
		}
	case "scheduled":
		if newStatus == "done" || newStatus == "inbox" || newStatus == "dropped" {
			return nil
		}
	case "done", "dropped":
		if newStatus == "inbox" {
			return nil
		}
	}
	return fmt.Errorf("invalid task status transition %s -> %s", oldStatus, newStatus)
}

// CompleteTask marks a task done.
func (e Engine) CompleteTask(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	return e.UpdateTask(ctx, TaskUpdateOptions{ID: taskID, Status: "done", ActorID: actorID})
}

// ImportCalendarOptions describe one ICS ingestion.
type ImportCalendarOptions struct {
	CalendarID string
	Name       string
	SourceURL  string
	Body       []byte
	From       time.Time
	Days       int
	ActorID    string
}

// ImportCalendar parses an ICS payload and replaces the cached event snapshot
// for that calendar over the import range.
func (e Engine) ImportCalendar(ctx context.Context, opts ImportCalendarOptions) ([]domain.CalendarEvent, error) {
	if opts.CalendarID == "" {
		return nil, errors.New("calendar id required")
	}
	if opts.CalendarID == LocalCalendarID {
		return nil, fmt.Errorf("calendar id %q is reserved", LocalCalendarID)
	}
	if opts.Days <= 0 {
		opts.Days = e.Config.HorizonDays()
	}
	from := opts.From
	if from.IsZero() {
		from = e.now()
	}
	from = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, e.Config.Location())
	to := from.AddDate(0, 0, opts.Days)

	imported, err := ics.Import(opts.CalendarID, opts.Body, from, to)
	if err != nil {
		return nil, err
	}
	// Feed times arrive in whatever zone the feed used; present and cache
	// them in the profile's zone. An unresolvable zone degrades to the
	// parsed times instead of failing the import.
	if zone := e.Config.Profile.Timezone; zone != "" {
		for i := range imported {
			start, ok := schedule.ConvertTimezone(imported[i].Start, zone)
			if !ok {
				log.Printf("calendar %s: timezone %q unresolved, keeping event times as parsed", opts.CalendarID, zone)
				break
			}
			end, _ := schedule.ConvertTimezone(imported[i].End, zone)
			imported[i].Start = start
			imported[i].End = end
		}
	}

	name := opts.Name
	if name == "" {
		name = opts.CalendarID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertCalendar(ctx, tx, domain.Calendar{
		ID:          opts.CalendarID,
		Name:        name,
		SourceURL:   opts.SourceURL,
		RefreshedAt: e.now().UTC(),
	}); err != nil {
		return nil, err
	}
	if err := e.Repo.ReplaceCalendarEvents(ctx, tx, opts.CalendarID, imported); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, "calendar.imported", "calendar", opts.CalendarID, opts.ActorID, events.EventPayload{
		"event_count": len(imported),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return imported, nil
}
