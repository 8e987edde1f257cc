package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/iliyamo/training-seat-pools/internal/database"
	"github.com/iliyamo/training-seat-pools/internal/model"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// eventRow mirrors the seat_events table.
type eventRow struct {
	ID           uint64         `db:"id"`
	Type         string         `db:"type"`
	PoolID       uint64         `db:"pool_id"`
	MemberID     sql.NullString `db:"member_id"`
	AssignmentID sql.NullInt64  `db:"assignment_id"`
	Payload      string         `db:"payload"`
	OccurredAt   time.Time      `db:"occurred_at"`
}

func (r eventRow) toModel() model.Event {
	e := model.Event{
		ID:         r.ID,
		Type:       model.EventType(r.Type),
		PoolID:     r.PoolID,
		MemberID:   nullString(r.MemberID),
		Payload:    json.RawMessage(r.Payload),
		OccurredAt: r.OccurredAt.UTC(),
	}
	if r.AssignmentID.Valid {
		id := uint64(r.AssignmentID.Int64)
		e.AssignmentID = &id
	}
	return e
}

// EventRepo provides append and read access to the seat_events table.
// There is no update path; rows only leave through PruneEvents.
type EventRepo struct{}

// AppendEvent inserts an event and populates its ID.
func (EventRepo) AppendEvent(ctx context.Context, h database.Handler, e *model.Event) error {
	payload := string(e.Payload)
	if payload == "" {
		payload = "{}"
	}
	query := h.Rebind(`INSERT INTO seat_events (type, pool_id, member_id, assignment_id, payload, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	res, err := h.ExecContext(ctx, query, string(e.Type), e.PoolID, e.MemberID, e.AssignmentID, payload, dbTime(e.OccurredAt))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	e.OccurredAt = dbTime(e.OccurredAt)
	e.Payload = json.RawMessage(payload)
	return nil
}

// ListEvents reads the feed in insertion order.
func (EventRepo) ListEvents(ctx context.Context, h database.Handler, f model.EventFilter) ([]model.Event, error) {
	where := []string{"id > ?"}
	args := []interface{}{f.SinceID}
	if f.PoolID != 0 {
		where = append(where, "pool_id = ?")
		args = append(args, f.PoolID)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Type))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	args = append(args, limit)
	query := `SELECT id, type, pool_id, member_id, assignment_id, payload, occurred_at FROM seat_events
		WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id LIMIT ?`
	var rows []eventRow
	if err := h.SelectContext(ctx, &rows, h.Rebind(query), args...); err != nil {
		return nil, err
	}
	events := make([]model.Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.toModel())
	}
	return events, nil
}

// PruneEvents deletes events that occurred before the cutoff and returns
// how many were removed.
func (EventRepo) PruneEvents(ctx context.Context, h database.Handler, before time.Time) (int64, error) {
	res, err := h.ExecContext(ctx, h.Rebind(`DELETE FROM seat_events WHERE occurred_at < ?`), dbTime(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
