package repo

import (
	"context"
	"database/sql"
	"time"

	"braindump/internal/domain"
)

// EnqueueCalendarOps appends a confirmed proposal's commit instructions to the
// write outbox in order.
func (r Repo) EnqueueCalendarOps(ctx context.Context, tx *sql.Tx, proposalID string, instructions []domain.CommitInstruction) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for i, in := range instructions {
		var slotStart, slotEnd any
		if in.Slot != nil {
			slotStart = formatTime(in.Slot.Start)
			slotEnd = formatTime(in.Slot.End)
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO calendar_ops(proposal_id,seq,op,task_id,event_id,calendar_id,slot_start,slot_end,status,created_at)
VALUES (?,?,?,?,?,?,?,?,'pending',?)`,
			proposalID, i, string(in.Op), nullable(in.TaskID), nullable(in.EventID), nullable(in.CalendarID), slotStart, slotEnd, now)
		if err != nil {
			return err
		}
	}
	return nil
}

// ListPendingCalendarOps returns queued ops in enqueue order.
func (r Repo) ListPendingCalendarOps(ctx context.Context) ([]domain.CalendarOp, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,proposal_id,seq,op,COALESCE(task_id,''),COALESCE(event_id,''),COALESCE(calendar_id,''),slot_start,slot_end,status,COALESCE(error,''),created_at
FROM calendar_ops WHERE status='pending' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.CalendarOp
	for rows.Next() {
		var op domain.CalendarOp
		var slotStart, slotEnd sql.NullString
		var createdAt string
		if err := rows.Scan(&op.ID, &op.ProposalID, &op.Seq, &op.Op, &op.TaskID, &op.EventID, &op.CalendarID,
			&slotStart, &slotEnd, &op.Status, &op.Error, &createdAt); err != nil {
			return nil, err
		}
		op.SlotStart = parseTimePtr(slotStart)
		op.SlotEnd = parseTimePtr(slotEnd)
		op.CreatedAt = parseTime(createdAt)
		out = append(out, op)
	}
	return out, rows.Err()
}

// MarkCalendarOp records the collaborator's outcome for one op.
func (r Repo) MarkCalendarOp(ctx context.Context, tx *sql.Tx, id int64, status, opError string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := tx.ExecContext(ctx, `UPDATE calendar_ops SET status=?, error=?, applied_at=? WHERE id=?`,
		status, nullable(opError), now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
