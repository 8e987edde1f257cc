package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/training-seat-pools/internal/database"
	"github.com/iliyamo/training-seat-pools/internal/model"
)

// Create registers a new pool and returns its id.  The pool starts active
// unless its window opens in the future.
func (e *Engine) Create(ctx context.Context, spec model.PoolSpec) (uint64, error) {
	spec.OrgID = strings.TrimSpace(spec.OrgID)
	if spec.OrgID == "" {
		return 0, fmt.Errorf("%w: org_id is required", ErrInvalidRequest)
	}
	if spec.Capacity < 0 {
		return 0, ErrInvalidCapacity
	}
	if err := checkWindow(spec.ValidFrom, spec.ValidUntil); err != nil {
		return 0, err
	}
	scope := spec.Scope.Normalize()
	if err := e.scope.Validate(ctx, spec.OrgID, scope); err != nil {
		return 0, err
	}
	var teamID *string
	if spec.TeamID != nil && strings.TrimSpace(*spec.TeamID) != "" {
		t := strings.TrimSpace(*spec.TeamID)
		ok, err := e.scope.dir.TeamExists(ctx, spec.OrgID, t)
		if err != nil {
			return 0, fmt.Errorf("lookup team %q: %w", t, err)
		}
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnknownTeam, t)
		}
		teamID = &t
	}

	now := e.now()
	p := model.SeatPool{
		OrgID:        spec.OrgID,
		TeamID:       teamID,
		Name:         strings.TrimSpace(spec.Name),
		Capacity:     spec.Capacity,
		Scope:        scope,
		ValidFrom:    truncate(spec.ValidFrom),
		ValidUntil:   truncate(spec.ValidUntil),
		AllowReplace: e.cfg.DefaultAllowReplace,
		State:        model.PoolActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if spec.AllowReplace != nil {
		p.AllowReplace = *spec.AllowReplace
	}
	if p.Lapsed(now) {
		return 0, fmt.Errorf("%w: window already closed", ErrInvalidWindow)
	}
	if !p.Started(now) {
		p.State = model.PoolDraft
	}

	if err := e.db.TransactionContext(ctx, func(tx *database.Tx) error {
		return e.store.CreatePool(ctx, tx, &p)
	}); err != nil {
		return 0, fmt.Errorf("create pool: %w", err)
	}
	e.logger.Info("pool created",
		zap.Uint64("pool_id", p.ID),
		zap.String("org_id", p.OrgID),
		zap.String("scope", string(p.Scope.Kind())),
		zap.Int("capacity", p.Capacity),
		zap.String("state", string(p.State)))
	return p.ID, nil
}

// Update applies a patch to a pool and returns the stored result.
func (e *Engine) Update(ctx context.Context, id uint64, patch model.PoolPatch) (*model.SeatPool, error) {
	if patch.Capacity != nil && *patch.Capacity < 0 {
		return nil, ErrInvalidCapacity
	}
	unlock := e.locks.lock(id)
	defer unlock()

	current, err := e.loadPool(ctx, e.db, id, false)
	if err != nil {
		return nil, err
	}
	var scope *model.Scope
	if patch.Scope != nil {
		s := patch.Scope.Normalize()
		if !s.Equal(current.Scope) {
			if err := e.scope.Validate(ctx, current.OrgID, s); err != nil {
				return nil, err
			}
			scope = &s
		}
	}

	var out model.SeatPool
	err = e.inTx(ctx, func(tx *database.Tx, u *unit) error {
		p, err := e.loadPool(ctx, tx, id, true)
		if err != nil {
			return err
		}
		now := e.now()
		if p.State.Terminal() {
			return ErrPoolNotActive
		}
		if p.Lapsed(now) {
			if _, err := e.expireLocked(ctx, tx, u, &p, now); err != nil {
				return err
			}
			u.err = ErrPoolNotActive
			return nil
		}
		if scope != nil && !p.Scope.Equal(current.Scope) {
			return ErrConflict
		}

		var counts model.AssignmentCounts
		if scope != nil || patch.AllowReplace != nil || patch.Capacity != nil {
			counts, err = e.store.CountAssignments(ctx, tx, id)
			if err != nil {
				return fmt.Errorf("count assignments: %w", err)
			}
		}
		if patch.Name != nil {
			p.Name = strings.TrimSpace(*patch.Name)
		}
		if scope != nil {
			if counts.Active+counts.Released+counts.Expired > 0 {
				return ErrScopeLocked
			}
			p.Scope = *scope
		}
		if patch.Capacity != nil {
			c := *patch.Capacity
			if c < p.Used {
				return fmt.Errorf("%w: capacity %d, used %d", ErrCapacityBelowUsage, c, p.Used)
			}
			if p.State == model.PoolActive && c < p.Capacity {
				return fmt.Errorf("%w: active pools can only grow", ErrCapacityBelowUsage)
			}
			p.Capacity = c
		}
		used := p.Used
		if patch.AllowReplace != nil && *patch.AllowReplace != p.AllowReplace {
			p.AllowReplace = *patch.AllowReplace
			used = counts.Consumed(p.AllowReplace)
			if used > p.Capacity {
				return fmt.Errorf("%w: %d seats would be consumed", ErrCapacityBelowUsage, used)
			}
		}
		if patch.ValidFrom != nil {
			p.ValidFrom = truncate(patch.ValidFrom)
		}
		if patch.ClearValidUntil {
			p.ValidUntil = nil
		} else if patch.ValidUntil != nil {
			p.ValidUntil = truncate(patch.ValidUntil)
		}
		if err := checkWindow(p.ValidFrom, p.ValidUntil); err != nil {
			return err
		}
		if p.Lapsed(now) {
			return fmt.Errorf("%w: window already closed", ErrInvalidWindow)
		}
		switch {
		case p.State == model.PoolDraft && p.Started(now):
			p.State = model.PoolActive
		case p.State == model.PoolActive && !p.Started(now):
			if counts.Active > 0 || p.Used > 0 {
				return fmt.Errorf("%w: pool already has seats in use", ErrInvalidWindow)
			}
			p.State = model.PoolDraft
		}

		p.UpdatedAt = now
		if err := e.store.UpdatePool(ctx, tx, &p); err != nil {
			return fmt.Errorf("update pool: %w", err)
		}
		if used != p.Used {
			if err := e.store.SetUsed(ctx, tx, id, used, now); err != nil {
				return fmt.Errorf("set used: %w", err)
			}
			p.Used = used
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("pool updated", zap.Uint64("pool_id", id), zap.String("state", string(out.State)))
	return &out, nil
}

// Expire closes a pool and terminates every active assignment.  Expiring
// an expired or archived pool is a no-op.
func (e *Engine) Expire(ctx context.Context, id uint64) error {
	_, err := e.expire(ctx, id)
	return err
}

// expire returns the number of assignments it terminated.
func (e *Engine) expire(ctx context.Context, id uint64) (int, error) {
	var n int
	err := e.withPool(ctx, id, func(tx *database.Tx, u *unit) error {
		p, err := e.loadPool(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if p.State.Terminal() {
			return nil
		}
		n, err = e.expireLocked(ctx, tx, u, &p, e.now())
		return err
	})
	return n, err
}

// expireLocked moves p to expired inside the caller's transaction.  Active
// assignments become expired, not released, and their seats leave the used
// counter.  One pool-level expired event follows the per-seat ones.  The
// caller must hold the pool lock.
func (e *Engine) expireLocked(ctx context.Context, tx *database.Tx, u *unit, p *model.SeatPool, now time.Time) (int, error) {
	active, err := e.store.ListAssignments(ctx, tx, model.AssignmentFilter{PoolID: p.ID, Status: model.AssignmentActive})
	if err != nil {
		return 0, fmt.Errorf("list active assignments: %w", err)
	}
	for _, a := range active {
		if err := e.store.TerminateAssignment(ctx, tx, a.ID, model.AssignmentExpired, nil, now); err != nil {
			return 0, fmt.Errorf("expire assignment %d: %w", a.ID, err)
		}
		ev, err := seatEvent(model.EventExpired, a, now, model.SeatPayload{CourseID: a.CourseID})
		if err != nil {
			return 0, err
		}
		if err := u.record(ctx, e, tx, ev); err != nil {
			return 0, err
		}
		u.unenroll = append(u.unenroll, a)
	}
	if err := e.store.DecrementUsed(ctx, tx, p.ID, len(active), now); err != nil {
		return 0, fmt.Errorf("decrement used: %w", err)
	}
	p.Used -= len(active)
	if p.Used < 0 {
		p.Used = 0
	}
	p.State = model.PoolExpired
	p.UpdatedAt = now
	if err := e.store.UpdatePool(ctx, tx, p); err != nil {
		return 0, fmt.Errorf("update pool: %w", err)
	}
	ev, err := model.NewEvent(model.EventExpired, p.ID, now, model.PoolExpiredPayload{AssignmentsExpired: len(active)})
	if err != nil {
		return 0, fmt.Errorf("encode %s event: %w", model.EventExpired, err)
	}
	if err := u.record(ctx, e, tx, ev); err != nil {
		return 0, err
	}
	expiredPoolCounter.Inc()
	e.logger.Info("pool expired", zap.Uint64("pool_id", p.ID), zap.Int("assignments_expired", len(active)))
	return len(active), nil
}

// Archive retires a pool that no longer holds active seats.  Released
// seats that were burned do not block archiving.
func (e *Engine) Archive(ctx context.Context, id uint64) error {
	return e.withPool(ctx, id, func(tx *database.Tx, u *unit) error {
		p, err := e.loadPool(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if p.State == model.PoolArchived {
			return nil
		}
		counts, err := e.store.CountAssignments(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("count assignments: %w", err)
		}
		if counts.Active > 0 {
			return fmt.Errorf("%w: %d active", ErrPoolHasActiveAssignments, counts.Active)
		}
		p.State = model.PoolArchived
		p.UpdatedAt = e.now()
		if err := e.store.UpdatePool(ctx, tx, &p); err != nil {
			return fmt.Errorf("update pool: %w", err)
		}
		e.logger.Info("pool archived", zap.Uint64("pool_id", id))
		return nil
	})
}

// Activate promotes a draft pool whose window has opened.  It reports
// whether the pool changed state.
func (e *Engine) Activate(ctx context.Context, id uint64) (bool, error) {
	var changed bool
	err := e.withPool(ctx, id, func(tx *database.Tx, u *unit) error {
		p, err := e.loadPool(ctx, tx, id, true)
		if err != nil {
			return err
		}
		changed, err = e.activateLocked(ctx, tx, &p, e.now())
		return err
	})
	return changed, err
}

func (e *Engine) activateLocked(ctx context.Context, tx *database.Tx, p *model.SeatPool, now time.Time) (bool, error) {
	if p.State != model.PoolDraft || !p.Started(now) || p.Lapsed(now) {
		return false, nil
	}
	p.State = model.PoolActive
	p.UpdatedAt = now
	if err := e.store.UpdatePool(ctx, tx, p); err != nil {
		return false, fmt.Errorf("activate pool: %w", err)
	}
	e.logger.Info("pool activated", zap.Uint64("pool_id", p.ID))
	return true, nil
}

// Get returns a pool by id.
func (e *Engine) Get(ctx context.Context, id uint64) (model.SeatPool, error) {
	return e.loadPool(ctx, e.db, id, false)
}

// List returns the pools matching the filter.
func (e *Engine) List(ctx context.Context, f model.PoolFilter) ([]model.SeatPool, error) {
	pools, err := e.store.ListPools(ctx, e.db, f)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	return pools, nil
}

// Views projects pools for dashboards.  States are reported as of now, so
// a pool inside the warning horizon shows as expiring_soon and a lapsed one
// as expired.  f.States matches the reported state; pagination applies
// after that match.
func (e *Engine) Views(ctx context.Context, f model.PoolFilter) ([]model.PoolView, error) {
	want := make(map[model.PoolState]bool, len(f.States))
	for _, s := range f.States {
		want[s] = true
	}
	query := f
	if len(want) > 0 {
		query.States = storedStates(f.States)
		query.Limit, query.Offset = 0, 0
	}
	pools, err := e.List(ctx, query)
	if err != nil {
		return nil, err
	}
	now := e.now()
	horizon := e.cfg.ExpiringSoonHorizon()
	views := make([]model.PoolView, 0, len(pools))
	for _, p := range pools {
		v := model.NewPoolView(p, now, horizon)
		if len(want) > 0 && !want[v.State] {
			continue
		}
		views = append(views, v)
	}
	if len(want) == 0 {
		return views, nil
	}
	if f.Offset >= len(views) {
		return []model.PoolView{}, nil
	}
	views = views[f.Offset:]
	if f.Limit > 0 && f.Limit < len(views) {
		views = views[:f.Limit]
	}
	return views, nil
}

// storedStates lists the stored states a pool can be in while reporting
// any of the given states.
func storedStates(reported []model.PoolState) []model.PoolState {
	seen := make(map[model.PoolState]bool)
	var out []model.PoolState
	add := func(states ...model.PoolState) {
		for _, s := range states {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	for _, s := range reported {
		switch s {
		case model.PoolExpiringSoon:
			add(model.PoolActive)
		case model.PoolExpired:
			add(model.PoolExpired, model.PoolActive, model.PoolDraft)
		default:
			add(s)
		}
	}
	return out
}

// View projects one pool.
func (e *Engine) View(ctx context.Context, id uint64) (model.PoolView, error) {
	p, err := e.Get(ctx, id)
	if err != nil {
		return model.PoolView{}, err
	}
	return model.NewPoolView(p, e.now(), e.cfg.ExpiringSoonHorizon()), nil
}

// OrgKPIs aggregates an organization's pools.  Archived pools are left out
// of the seat totals.
func (e *Engine) OrgKPIs(ctx context.Context, orgID string) (model.OrgKPIs, error) {
	views, err := e.Views(ctx, model.PoolFilter{OrgID: orgID})
	if err != nil {
		return model.OrgKPIs{}, err
	}
	k := model.OrgKPIs{OrgID: orgID}
	for _, v := range views {
		if v.State == model.PoolArchived {
			continue
		}
		k.Pools++
		k.TotalSeats += v.Capacity
		k.UsedSeats += v.Used
		switch v.State {
		case model.PoolActive:
			k.ActivePools++
		case model.PoolExpiringSoon:
			k.ActivePools++
			k.ExpiringSoon++
		case model.PoolExpired:
			k.Expired++
		}
	}
	if k.TotalSeats > 0 {
		k.UtilizationRate = float64(k.UsedSeats) / float64(k.TotalSeats)
	}
	return k, nil
}

func checkWindow(from, until *time.Time) error {
	if from != nil && until != nil && !until.After(*from) {
		return ErrInvalidWindow
	}
	return nil
}

func truncate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC().Truncate(time.Second)
	return &v
}

func isNotFound(err error) bool {
	return errors.Is(err, database.ErrRecordNotFound)
}
