package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/training-seat-pools/internal/database"
	"github.com/iliyamo/training-seat-pools/internal/model"
)

// Grant draws one seat from the pool for the member on the course and
// returns the new assignment id.  When the member already holds the seat
// the error is a *DuplicateError carrying the existing id.
func (e *Engine) Grant(ctx context.Context, poolID uint64, memberID, courseID string) (id uint64, err error) {
	defer func() {
		result := Code(err)
		if result == "" {
			result = "granted"
		}
		grantCounter.WithLabelValues(result).Inc()
	}()

	memberID, courseID = strings.TrimSpace(memberID), strings.TrimSpace(courseID)
	if memberID == "" || courseID == "" {
		return 0, fmt.Errorf("%w: member_id and course_id are required", ErrInvalidRequest)
	}

	unlock := e.locks.lock(poolID)
	defer unlock()

	pool, err := e.loadPool(ctx, e.db, poolID, false)
	if err != nil {
		return 0, err
	}
	now := e.now()
	lapsed := pool.Lapsed(now) && !pool.State.Terminal()
	if !lapsed {
		if pool.State.Terminal() || !pool.Started(now) {
			return 0, ErrPoolNotActive
		}
		// Directory reads happen before the transaction opens so that a
		// single-connection store never waits on itself.
		ok, err := e.scope.Eligible(ctx, pool, memberID, courseID)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, ErrOutOfScope
		}
	}

	var enrolled bool
	err = e.inTx(ctx, func(tx *database.Tx, u *unit) error {
		p, err := e.loadPool(ctx, tx, poolID, true)
		if err != nil {
			return err
		}
		if p.Lapsed(now) && !p.State.Terminal() {
			if _, err := e.expireLocked(ctx, tx, u, &p, now); err != nil {
				return err
			}
			u.err = ErrPoolNotActive
			return nil
		}
		if _, err := e.activateLocked(ctx, tx, &p, now); err != nil {
			return err
		}
		if p.State != model.PoolActive {
			return ErrPoolNotActive
		}
		if !p.Scope.Equal(pool.Scope) || p.OrgID != pool.OrgID {
			return ErrConflict
		}

		existing, err := e.store.FindActiveAssignment(ctx, tx, poolID, memberID, courseID)
		switch {
		case err == nil:
			return &DuplicateError{AssignmentID: existing.ID}
		case !isNotFound(err):
			return fmt.Errorf("find active assignment: %w", err)
		}

		ok, err := e.store.IncrementUsed(ctx, tx, poolID, now)
		if err != nil {
			return fmt.Errorf("increment used: %w", err)
		}
		if !ok {
			return ErrPoolExhausted
		}
		a := model.Assignment{PoolID: poolID, MemberID: memberID, CourseID: courseID, GrantedAt: now}
		if err := e.store.CreateAssignment(ctx, tx, &a); err != nil {
			return fmt.Errorf("create assignment: %w", err)
		}
		if err := e.enroller.Enroll(ctx, memberID, courseID); err != nil {
			return fmt.Errorf("enroll member %s in course %s: %w", memberID, courseID, err)
		}
		enrolled = true
		ev, err := seatEvent(model.EventGranted, a, now, model.SeatPayload{CourseID: courseID})
		if err != nil {
			return err
		}
		if err := u.record(ctx, e, tx, ev); err != nil {
			return err
		}
		id = a.ID
		return nil
	})
	if err != nil {
		if enrolled {
			e.compensateEnroll(ctx, poolID, memberID, courseID)
		}
		return 0, err
	}
	e.logger.Debug("seat granted",
		zap.Uint64("pool_id", poolID),
		zap.Uint64("assignment_id", id),
		zap.String("member_id", memberID),
		zap.String("course_id", courseID))
	return id, nil
}

// compensateEnroll undoes an enrollment whose transaction did not commit.
func (e *Engine) compensateEnroll(ctx context.Context, poolID uint64, memberID, courseID string) {
	if err := e.enroller.Unenroll(context.WithoutCancel(ctx), memberID, courseID); err != nil {
		e.logger.Error("compensating unenroll failed",
			zap.Uint64("pool_id", poolID),
			zap.String("member_id", memberID),
			zap.String("course_id", courseID),
			zap.Error(err))
	}
}

// Release hands a seat back.  The counter only drops when the pool allows
// replacement; otherwise the seat stays consumed.  Unenrollment runs after
// commit and its failures are logged.
func (e *Engine) Release(ctx context.Context, assignmentID uint64, reason model.ReleaseReason) error {
	if !reason.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}
	a, err := e.store.GetAssignment(ctx, e.db, assignmentID)
	if isNotFound(err) {
		return fmt.Errorf("%w: %d", ErrAssignmentNotFound, assignmentID)
	}
	if err != nil {
		return fmt.Errorf("load assignment %d: %w", assignmentID, err)
	}

	var burned bool
	err = e.withPool(ctx, a.PoolID, func(tx *database.Tx, u *unit) error {
		cur, err := e.store.GetAssignmentForUpdate(ctx, tx, assignmentID)
		if err != nil {
			return fmt.Errorf("load assignment %d: %w", assignmentID, err)
		}
		if cur.Status != model.AssignmentActive {
			return fmt.Errorf("%w: %s", ErrAssignmentNotActive, cur.Status)
		}
		p, err := e.loadPool(ctx, tx, cur.PoolID, true)
		if err != nil {
			return err
		}
		now := e.now()
		if p.Lapsed(now) && !p.State.Terminal() {
			if _, err := e.expireLocked(ctx, tx, u, &p, now); err != nil {
				return err
			}
			u.err = ErrPoolNotActive
			return nil
		}
		if err := e.store.TerminateAssignment(ctx, tx, cur.ID, model.AssignmentReleased, &reason, now); err != nil {
			if isNotFound(err) {
				return ErrAssignmentNotActive
			}
			return fmt.Errorf("release assignment %d: %w", cur.ID, err)
		}
		burned = !p.AllowReplace
		if !burned {
			if err := e.store.DecrementUsed(ctx, tx, p.ID, 1, now); err != nil {
				return fmt.Errorf("decrement used: %w", err)
			}
		}
		ev, err := seatEvent(model.EventReleased, cur, now, model.SeatPayload{CourseID: cur.CourseID, Reason: reason, Burned: burned})
		if err != nil {
			return err
		}
		if err := u.record(ctx, e, tx, ev); err != nil {
			return err
		}
		u.unenroll = append(u.unenroll, cur)
		return nil
	})
	if err != nil {
		return err
	}
	releaseCounter.WithLabelValues(string(reason), strconv.FormatBool(burned)).Inc()
	e.logger.Debug("seat released",
		zap.Uint64("pool_id", a.PoolID),
		zap.Uint64("assignment_id", assignmentID),
		zap.String("reason", string(reason)),
		zap.Bool("burned", burned))
	return nil
}

// BulkRow is the outcome of one request of a bulk grant.
type BulkRow struct {
	Index        int    `json:"index"`
	MemberID     string `json:"member_id"`
	CourseID     string `json:"course_id"`
	AssignmentID uint64 `json:"assignment_id,omitempty"`
	Code         string `json:"code,omitempty"`
	Error        string `json:"error,omitempty"`
	err          error
}

// Err returns the row's failure, if any.
func (r BulkRow) Err() error { return r.err }

// OK reports whether the member holds the seat after the row, either
// newly granted or already present.
func (r BulkRow) OK() bool {
	return r.err == nil || errors.Is(r.err, ErrDuplicateAssignment)
}

// BulkChunk summarizes one batch of a bulk grant.  Rows [From, To) were
// applied together.
type BulkChunk struct {
	From       int  `json:"from"`
	To         int  `json:"to"`
	Granted    int  `json:"granted"`
	Duplicates int  `json:"duplicates"`
	Failed     int  `json:"failed"`
	Skipped    bool `json:"skipped,omitempty"`
}

// BulkResult aggregates a bulk grant.  Partial success is a normal outcome.
type BulkResult struct {
	BatchID    string      `json:"batch_id"`
	PoolID     uint64      `json:"pool_id"`
	Requested  int         `json:"requested"`
	Granted    int         `json:"granted"`
	Duplicates int         `json:"duplicates"`
	Failed     int         `json:"failed"`
	Chunks     []BulkChunk `json:"chunks"`
	Rows       []BulkRow   `json:"rows"`
}

// BulkGrant applies Grant to every request in chunks of the configured
// batch size.  Each row is its own atomic unit.  Cancellation is honoured
// between chunks: a chunk that has started is applied in full, and the
// rows of every later chunk fail with the context error.
func (e *Engine) BulkGrant(ctx context.Context, poolID uint64, reqs []model.SeatRequest) BulkResult {
	res := BulkResult{
		BatchID:   uuid.NewString(),
		PoolID:    poolID,
		Requested: len(reqs),
		Rows:      make([]BulkRow, 0, len(reqs)),
	}
	logger := e.logger.With(zap.Uint64("pool_id", poolID), zap.String("batch_id", res.BatchID))
	size := max(e.cfg.BatchSize, 1)
	chunkCtx := context.WithoutCancel(ctx)
	for start := 0; start < len(reqs); start += size {
		end := min(start+size, len(reqs))
		chunk := BulkChunk{From: start, To: end}
		stop := ctx.Err()
		chunk.Skipped = stop != nil
		for i := start; i < end; i++ {
			r := reqs[i]
			row := BulkRow{Index: i, MemberID: r.MemberID, CourseID: r.CourseID}
			if stop != nil {
				row.err = stop
			} else {
				row.AssignmentID, row.err = e.Grant(chunkCtx, poolID, r.MemberID, r.CourseID)
			}
			var dup *DuplicateError
			switch {
			case row.err == nil:
				chunk.Granted++
			case errors.As(row.err, &dup):
				row.AssignmentID = dup.AssignmentID
				chunk.Duplicates++
			default:
				chunk.Failed++
			}
			if row.err != nil {
				row.Code = Code(row.err)
				row.Error = row.err.Error()
			}
			res.Rows = append(res.Rows, row)
		}
		res.Granted += chunk.Granted
		res.Duplicates += chunk.Duplicates
		res.Failed += chunk.Failed
		res.Chunks = append(res.Chunks, chunk)
		logger.Debug("bulk chunk applied",
			zap.Int("from", start),
			zap.Int("to", end),
			zap.Int("granted", chunk.Granted),
			zap.Bool("skipped", chunk.Skipped))
	}
	logger.Info("bulk grant finished",
		zap.Int("requested", res.Requested),
		zap.Int("granted", res.Granted),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("failed", res.Failed),
		zap.Int("chunks", len(res.Chunks)))
	return res
}

// Assignment returns an assignment by id.
func (e *Engine) Assignment(ctx context.Context, id uint64) (model.Assignment, error) {
	a, err := e.store.GetAssignment(ctx, e.db, id)
	if isNotFound(err) {
		return model.Assignment{}, fmt.Errorf("%w: %d", ErrAssignmentNotFound, id)
	}
	return a, err
}

// ListAssignments returns the assignments matching the filter.
func (e *Engine) ListAssignments(ctx context.Context, f model.AssignmentFilter) ([]model.Assignment, error) {
	out, err := e.store.ListAssignments(ctx, e.db, f)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return out, nil
}
