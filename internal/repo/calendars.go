package repo

import (
	"context"
	"database/sql"
	"time"

	"braindump/internal/domain"
)

func (r Repo) UpsertCalendar(ctx context.Context, tx *sql.Tx, c domain.Calendar) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO calendars(id,name,source_url,is_primary,refreshed_at) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, source_url=excluded.source_url, is_primary=excluded.is_primary, refreshed_at=excluded.refreshed_at`,
		c.ID, c.Name, nullable(c.SourceURL), boolToInt(c.Primary), formatTime(c.RefreshedAt))
	return err
}

func (r Repo) GetCalendar(ctx context.Context, id string) (domain.Calendar, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,name,COALESCE(source_url,''),is_primary,refreshed_at FROM calendars WHERE id=?`, id)
	return scanCalendar(row.Scan)
}

func (r Repo) ListCalendars(ctx context.Context) ([]domain.Calendar, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(source_url,''),is_primary,refreshed_at FROM calendars ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Calendar
	for rows.Next() {
		c, err := scanCalendar(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCalendar(scan func(dest ...any) error) (domain.Calendar, error) {
	var c domain.Calendar
	var primary int
	var refreshed string
	err := scan(&c.ID, &c.Name, &c.SourceURL, &primary, &refreshed)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.Primary = primary != 0
	c.RefreshedAt = parseTime(refreshed)
	return c, nil
}

// ReplaceCalendarEvents swaps the cached event snapshot for one calendar.
func (r Repo) ReplaceCalendarEvents(ctx context.Context, tx *sql.Tx, calendarID string, events []domain.CalendarEvent) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM calendar_events WHERE calendar_id=?`, calendarID); err != nil {
		return err
	}
	for _, ev := range events {
		if err := r.InsertCalendarEvent(ctx, tx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) InsertCalendarEvent(ctx context.Context, tx *sql.Tx, ev domain.CalendarEvent) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO calendar_events(id,calendar_id,title,start_at,end_at,all_day,status,task_id) VALUES (?,?,?,?,?,?,?,?)`,
		ev.ID, ev.CalendarID, ev.Title, formatTime(ev.Start), formatTime(ev.End), boolToInt(ev.AllDay), string(ev.Status), nullableStrPtr(ev.TaskID))
	return err
}

func (r Repo) UpdateCalendarEventSlot(ctx context.Context, tx *sql.Tx, eventID string, start, end time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE calendar_events SET start_at=?, end_at=? WHERE id=?`,
		formatTime(start), formatTime(end), eventID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteCalendarEvent(ctx context.Context, tx *sql.Tx, eventID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM calendar_events WHERE id=?`, eventID)
	return err
}

func (r Repo) GetCalendarEvent(ctx context.Context, id string) (domain.CalendarEvent, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,calendar_id,title,start_at,end_at,all_day,status,task_id FROM calendar_events WHERE id=?`, id)
	return scanCalendarEvent(row.Scan)
}

// ListEventsBetween returns cached events from all calendars intersecting
// [from, to) in start order.
func (r Repo) ListEventsBetween(ctx context.Context, from, to time.Time) ([]domain.CalendarEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,calendar_id,title,start_at,end_at,all_day,status,task_id FROM calendar_events
WHERE start_at < ? AND end_at > ? ORDER BY start_at, id`,
		formatTime(to), formatTime(from))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.CalendarEvent
	for rows.Next() {
		ev, err := scanCalendarEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanCalendarEvent(scan func(dest ...any) error) (domain.CalendarEvent, error) {
	var ev domain.CalendarEvent
	var allDay int
	var start, end string
	var taskID sql.NullString
	err := scan(&ev.ID, &ev.CalendarID, &ev.Title, &start, &end, &allDay, &ev.Status, &taskID)
	if err == sql.ErrNoRows {
		return ev, ErrNotFound
	}
	if err != nil {
		return ev, err
	}
	ev.Start = parseTime(start)
	ev.End = parseTime(end)
	ev.AllDay = allDay != 0
	if taskID.Valid && taskID.String != "" {
		id := taskID.String
		ev.TaskID = &id
	}
	return ev, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
