package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/training-seat-pools/internal/database"
	"github.com/iliyamo/training-seat-pools/internal/model"
)

const assignmentColumns = `id, pool_id, member_id, course_id, status, granted_at, released_at, release_reason`

// AssignmentRepo provides data access to the seat_assignments table.  An
// active row carries an active_key unique across the table, so the database
// itself refuses a second active seat for the same (pool, member, course).
type AssignmentRepo struct{}

// activeKey identifies the seat an active assignment occupies.  The member
// id is length-prefixed so ids containing the separator cannot collide.
func activeKey(poolID uint64, memberID, courseID string) string {
	return fmt.Sprintf("%d:%d:%s:%s", poolID, len(memberID), memberID, courseID)
}

// CreateAssignment inserts an active assignment and populates its ID.
func (AssignmentRepo) CreateAssignment(ctx context.Context, h database.Handler, a *model.Assignment) error {
	query := h.Rebind(`INSERT INTO seat_assignments (pool_id, member_id, course_id, status, granted_at, active_key)
		VALUES (?, ?, ?, ?, ?, ?)`)
	res, err := h.ExecContext(ctx, query,
		a.PoolID, a.MemberID, a.CourseID, string(model.AssignmentActive), dbTime(a.GrantedAt),
		activeKey(a.PoolID, a.MemberID, a.CourseID),
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = uint64(id)
	a.Status = model.AssignmentActive
	a.GrantedAt = dbTime(a.GrantedAt)
	return nil
}

// GetAssignment returns an assignment by ID.
func (AssignmentRepo) GetAssignment(ctx context.Context, h database.Handler, id uint64) (model.Assignment, error) {
	var a model.Assignment
	query := h.Rebind(`SELECT ` + assignmentColumns + ` FROM seat_assignments WHERE id = ?`)
	if err := h.GetContext(ctx, &a, query, id); err != nil {
		return model.Assignment{}, database.WrapError(err)
	}
	return normalizeAssignment(a), nil
}

// GetAssignmentForUpdate returns an assignment by ID and locks the row.
func (AssignmentRepo) GetAssignmentForUpdate(ctx context.Context, h database.Handler, id uint64) (model.Assignment, error) {
	var a model.Assignment
	query := h.Rebind(`SELECT `+assignmentColumns+` FROM seat_assignments WHERE id = ?`) + database.ForUpdate(h)
	if err := h.GetContext(ctx, &a, query, id); err != nil {
		return model.Assignment{}, database.WrapError(err)
	}
	return normalizeAssignment(a), nil
}

// FindActiveAssignment returns the active assignment for a member and
// course in a pool, or database.ErrRecordNotFound.
func (AssignmentRepo) FindActiveAssignment(ctx context.Context, h database.Handler, poolID uint64, memberID, courseID string) (model.Assignment, error) {
	var a model.Assignment
	query := h.Rebind(`SELECT ` + assignmentColumns + ` FROM seat_assignments WHERE active_key = ?`)
	if err := h.GetContext(ctx, &a, query, activeKey(poolID, memberID, courseID)); err != nil {
		return model.Assignment{}, database.WrapError(err)
	}
	return normalizeAssignment(a), nil
}

// ListAssignments returns assignments matching the filter ordered by ID.
func (AssignmentRepo) ListAssignments(ctx context.Context, h database.Handler, f model.AssignmentFilter) ([]model.Assignment, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.PoolID != 0 {
		where = append(where, "pool_id = ?")
		args = append(args, f.PoolID)
	}
	if f.MemberID != "" {
		where = append(where, "member_id = ?")
		args = append(args, f.MemberID)
	}
	if f.CourseID != "" {
		where = append(where, "course_id = ?")
		args = append(args, f.CourseID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + assignmentColumns + ` FROM seat_assignments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	var out []model.Assignment
	if err := h.SelectContext(ctx, &out, h.Rebind(query), args...); err != nil {
		return nil, err
	}
	for i := range out {
		out[i] = normalizeAssignment(out[i])
	}
	return out, nil
}

// CountAssignments tallies a pool's rows by status.
func (AssignmentRepo) CountAssignments(ctx context.Context, h database.Handler, poolID uint64) (model.AssignmentCounts, error) {
	var c model.AssignmentCounts
	query := h.Rebind(`SELECT
		COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0) AS active,
		COALESCE(SUM(CASE WHEN status = 'released' THEN 1 ELSE 0 END), 0) AS released,
		COALESCE(SUM(CASE WHEN status = 'expired' THEN 1 ELSE 0 END), 0) AS expired
		FROM seat_assignments WHERE pool_id = ?`)
	if err := h.GetContext(ctx, &c, query, poolID); err != nil {
		return model.AssignmentCounts{}, err
	}
	return c, nil
}

// TerminateAssignment moves an active assignment to released or expired
// and frees its active_key.  It returns database.ErrRecordNotFound when the
// row is missing or no longer active.
func (AssignmentRepo) TerminateAssignment(ctx context.Context, h database.Handler, id uint64, status model.AssignmentStatus, reason *model.ReleaseReason, at time.Time) error {
	var r interface{}
	if reason != nil {
		r = string(*reason)
	}
	query := h.Rebind(`UPDATE seat_assignments SET status = ?, released_at = ?, release_reason = ?, active_key = NULL
		WHERE id = ? AND status = 'active'`)
	res, err := h.ExecContext(ctx, query, string(status), dbTime(at), r, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return database.ErrRecordNotFound
	}
	return nil
}

func normalizeAssignment(a model.Assignment) model.Assignment {
	a.GrantedAt = a.GrantedAt.UTC()
	if a.ReleasedAt != nil {
		t := a.ReleasedAt.UTC()
		a.ReleasedAt = &t
	}
	return a
}
