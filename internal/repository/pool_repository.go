// Package repository contains the SQL access for seat pools, assignments,
// events and the read-only organization directory.
package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/training-seat-pools/internal/database"
	"github.com/iliyamo/training-seat-pools/internal/model"
)

const poolColumns = `id, org_id, team_id, name, scope_kind, scope_team_id, scope_courses,
	capacity, used, valid_from, valid_until, allow_replace, state, created_at, updated_at`

// poolRow mirrors the seat_pools table.  The scope is spread over three
// columns and reassembled by toModel.
type poolRow struct {
	ID           uint64           `db:"id"`
	OrgID        string           `db:"org_id"`
	TeamID       sql.NullString   `db:"team_id"`
	Name         string           `db:"name"`
	ScopeKind    string           `db:"scope_kind"`
	ScopeTeamID  sql.NullString   `db:"scope_team_id"`
	ScopeCourses model.CourseList `db:"scope_courses"`
	Capacity     int              `db:"capacity"`
	Used         int              `db:"used"`
	ValidFrom    sql.NullTime     `db:"valid_from"`
	ValidUntil   sql.NullTime     `db:"valid_until"`
	AllowReplace bool             `db:"allow_replace"`
	State        string           `db:"state"`
	CreatedAt    time.Time        `db:"created_at"`
	UpdatedAt    time.Time        `db:"updated_at"`
}

func (r poolRow) toModel() model.SeatPool {
	p := model.SeatPool{
		ID:           r.ID,
		OrgID:        r.OrgID,
		TeamID:       nullString(r.TeamID),
		Name:         r.Name,
		Capacity:     r.Capacity,
		Used:         r.Used,
		Scope:        model.Scope{TeamID: nullString(r.ScopeTeamID), Courses: r.ScopeCourses},
		ValidFrom:    nullTime(r.ValidFrom),
		ValidUntil:   nullTime(r.ValidUntil),
		AllowReplace: r.AllowReplace,
		State:        model.PoolState(r.State),
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	return p
}

// PoolRepo provides data access to the seat_pools table.  The used column
// is only changed through the conditional counters below so that the
// capacity check and the increment are a single statement.
type PoolRepo struct{}

// CreatePool inserts a pool and populates its generated ID.
func (PoolRepo) CreatePool(ctx context.Context, h database.Handler, p *model.SeatPool) error {
	scope := p.Scope.Normalize()
	courses, err := scope.Courses.Value()
	if err != nil {
		return err
	}
	query := h.Rebind(`INSERT INTO seat_pools (org_id, team_id, name, scope_kind, scope_team_id, scope_courses,
		capacity, used, valid_from, valid_until, allow_replace, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	res, err := h.ExecContext(ctx, query,
		p.OrgID, p.TeamID, p.Name, string(scope.Kind()), scope.TeamID, courses,
		p.Capacity, p.Used, dbTimePtr(p.ValidFrom), dbTimePtr(p.ValidUntil), p.AllowReplace, string(p.State),
		dbTime(p.CreatedAt), dbTime(p.UpdatedAt),
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	p.Scope = scope
	return nil
}

// GetPool returns a pool by ID.
func (PoolRepo) GetPool(ctx context.Context, h database.Handler, id uint64) (model.SeatPool, error) {
	var row poolRow
	query := h.Rebind(`SELECT ` + poolColumns + ` FROM seat_pools WHERE id = ?`)
	if err := h.GetContext(ctx, &row, query, id); err != nil {
		return model.SeatPool{}, database.WrapError(err)
	}
	return row.toModel(), nil
}

// GetPoolForUpdate returns a pool by ID and locks the row until the
// surrounding transaction ends.
func (PoolRepo) GetPoolForUpdate(ctx context.Context, h database.Handler, id uint64) (model.SeatPool, error) {
	var row poolRow
	query := h.Rebind(`SELECT `+poolColumns+` FROM seat_pools WHERE id = ?`) + database.ForUpdate(h)
	if err := h.GetContext(ctx, &row, query, id); err != nil {
		return model.SeatPool{}, database.WrapError(err)
	}
	return row.toModel(), nil
}

// ListPools returns pools matching the filter ordered by ID.
func (PoolRepo) ListPools(ctx context.Context, h database.Handler, f model.PoolFilter) ([]model.SeatPool, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.OrgID != "" {
		where = append(where, "org_id = ?")
		args = append(args, f.OrgID)
	}
	if f.TeamID != "" {
		where = append(where, "team_id = ?")
		args = append(args, f.TeamID)
	}
	if len(f.States) > 0 {
		marks := make([]string, 0, len(f.States))
		for _, s := range f.States {
			marks = append(marks, "?")
			args = append(args, string(s))
		}
		where = append(where, "state IN ("+strings.Join(marks, ", ")+")")
	}
	query := `SELECT ` + poolColumns + ` FROM seat_pools`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	var rows []poolRow
	if err := h.SelectContext(ctx, &rows, h.Rebind(query), args...); err != nil {
		return nil, err
	}
	pools := make([]model.SeatPool, 0, len(rows))
	for _, r := range rows {
		pools = append(pools, r.toModel())
	}
	return pools, nil
}

// UpdatePool writes every mutable column except used.
func (PoolRepo) UpdatePool(ctx context.Context, h database.Handler, p *model.SeatPool) error {
	scope := p.Scope.Normalize()
	courses, err := scope.Courses.Value()
	if err != nil {
		return err
	}
	query := h.Rebind(`UPDATE seat_pools SET name = ?, capacity = ?, scope_kind = ?, scope_team_id = ?,
		scope_courses = ?, valid_from = ?, valid_until = ?, allow_replace = ?, state = ?, updated_at = ?
		WHERE id = ?`)
	res, err := h.ExecContext(ctx, query,
		p.Name, p.Capacity, string(scope.Kind()), scope.TeamID, courses,
		dbTimePtr(p.ValidFrom), dbTimePtr(p.ValidUntil), p.AllowReplace, string(p.State), dbTime(p.UpdatedAt),
		p.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return database.ErrRecordNotFound
	}
	p.Scope = scope
	return nil
}

// IncrementUsed consumes one seat if any is left.  The WHERE clause makes
// the capacity check and the increment one atomic statement; zero affected
// rows means the pool is full.
func (PoolRepo) IncrementUsed(ctx context.Context, h database.Handler, id uint64, at time.Time) (bool, error) {
	query := h.Rebind(`UPDATE seat_pools SET used = used + 1, updated_at = ? WHERE id = ? AND used < capacity`)
	res, err := h.ExecContext(ctx, query, dbTime(at), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DecrementUsed returns n seats to the pool without going below zero.
func (PoolRepo) DecrementUsed(ctx context.Context, h database.Handler, id uint64, n int, at time.Time) error {
	if n <= 0 {
		return nil
	}
	query := h.Rebind(`UPDATE seat_pools SET used = CASE WHEN used >= ? THEN used - ? ELSE 0 END, updated_at = ? WHERE id = ?`)
	_, err := h.ExecContext(ctx, query, n, n, dbTime(at), id)
	return err
}

// SetUsed overwrites the cached counter.  Only the resync pass calls it.
func (PoolRepo) SetUsed(ctx context.Context, h database.Handler, id uint64, used int, at time.Time) error {
	query := h.Rebind(`UPDATE seat_pools SET used = ?, updated_at = ? WHERE id = ?`)
	_, err := h.ExecContext(ctx, query, used, dbTime(at), id)
	return err
}

// dbTime normalizes timestamps to whole UTC seconds.  MySQL DATETIME has
// second precision and sqlite compares the stored text lexically, so every
// value written must share one layout.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func dbTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return dbTime(*t)
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
