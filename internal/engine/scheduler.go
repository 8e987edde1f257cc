package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/iliyamo/training-seat-pools/internal/database"
	"github.com/iliyamo/training-seat-pools/internal/model"
)

// Resync phases reported in RunError.
const (
	PhaseScan     = "scan"
	PhaseExpire   = "expire"
	PhaseActivate = "activate"
	PhaseWarn     = "warn"
	PhaseRecount  = "recount"
	PhasePrune    = "prune"
)

// RunError records one failure inside a resync run.  PoolID is zero for
// failures that are not tied to a pool.
type RunError struct {
	PoolID uint64 `json:"pool_id,omitempty"`
	Phase  string `json:"phase"`
	Error  string `json:"error"`
}

// RunSummary describes one resync run.
type RunSummary struct {
	RunID              string        `json:"run_id"`
	StartedAt          time.Time     `json:"started_at"`
	FinishedAt         time.Time     `json:"finished_at"`
	Duration           time.Duration `json:"duration"`
	Organizations      int           `json:"organizations"`
	PoolsScanned       int           `json:"pools_scanned"`
	PoolsExpired       int           `json:"pools_expired"`
	PoolsActivated     int           `json:"pools_activated"`
	AssignmentsExpired int           `json:"assignments_expired"`
	Warnings           int           `json:"warnings"`
	Corrections        int           `json:"corrections"`
	EventsPruned       int64         `json:"events_pruned"`
	Canceled           bool          `json:"canceled,omitempty"`
	Errors             []RunError    `json:"errors"`
}

// String renders a one-line human summary.
func (s RunSummary) String() string {
	return fmt.Sprintf("run %s: %s pools in %s, %d expired, %d activated, %d warned, %d corrected, %d errors",
		s.RunID, humanize.Comma(int64(s.PoolsScanned)), s.Duration.Round(time.Millisecond),
		s.PoolsExpired, s.PoolsActivated, s.Warnings, s.Corrections, len(s.Errors))
}

func (s *RunSummary) fail(poolID uint64, phase string, err error) {
	s.Errors = append(s.Errors, RunError{PoolID: poolID, Phase: phase, Error: err.Error()})
}

// Resyncer reconciles pool state with the ledger: it expires lapsed pools,
// activates due drafts, warns about pools about to close and corrects
// drifted used counters.  Concurrent triggers share one run.
type Resyncer struct {
	eng    *Engine
	logger *zap.Logger

	fmu    sync.Mutex
	flight *resyncFlight

	mu   sync.RWMutex
	last *RunSummary
}

// resyncFlight is a pass in progress.  Its context is cancelled once every
// caller waiting on it has gone.
type resyncFlight struct {
	cancel  context.CancelFunc
	waiters int
	done    chan struct{}
	summary RunSummary
	err     error
}

// NewResyncer returns a Resyncer for eng.
func NewResyncer(eng *Engine) *Resyncer {
	return &Resyncer{eng: eng, logger: eng.logger.Named("resync")}
}

// Run performs a resync pass, or joins the one already in flight.  A pool
// that fails is recorded in the summary and the pass continues; the error
// is only non-nil when the pool scan itself fails or the pass is cancelled.
//
// A caller whose ctx ends stops waiting, but the pass keeps going for the
// others.  The last waiter to leave cancels the pass and receives its
// partial summary.
func (r *Resyncer) Run(ctx context.Context) (RunSummary, error) {
	f := r.join(ctx)
	select {
	case <-f.done:
		return f.summary, f.err
	case <-ctx.Done():
	}

	r.fmu.Lock()
	f.waiters--
	last := f.waiters == 0
	r.fmu.Unlock()
	if !last {
		return RunSummary{}, ctx.Err()
	}
	f.cancel()
	<-f.done
	return f.summary, f.err
}

// join registers the caller on the pass in flight, starting one if needed.
func (r *Resyncer) join(ctx context.Context) *resyncFlight {
	r.fmu.Lock()
	defer r.fmu.Unlock()
	if f := r.flight; f != nil {
		f.waiters++
		return f
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if ctx.Err() != nil {
		cancel()
	}
	f := &resyncFlight{cancel: cancel, waiters: 1, done: make(chan struct{})}
	r.flight = f
	go func() {
		s, err := r.run(runCtx)
		cancel()
		r.fmu.Lock()
		f.summary, f.err = s, err
		if r.flight == f {
			r.flight = nil
		}
		r.fmu.Unlock()
		close(f.done)
	}()
	return f
}

// Last returns the most recent completed run.
func (r *Resyncer) Last() (RunSummary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return RunSummary{}, false
	}
	return *r.last, true
}

func (r *Resyncer) run(ctx context.Context) (RunSummary, error) {
	begin := time.Now()
	s := RunSummary{
		RunID:     ulid.Make().String(),
		StartedAt: r.eng.now(),
		Errors:    []RunError{},
	}
	logger := r.logger.With(zap.String("run_id", s.RunID))
	logger.Info("resync started")

	var runErr error
	pools, err := r.eng.store.ListPools(ctx, r.eng.db, model.PoolFilter{
		States: []model.PoolState{model.PoolDraft, model.PoolActive, model.PoolExpired},
	})
	if err != nil {
		s.Canceled = ctx.Err() != nil
		s.fail(0, PhaseScan, err)
		runErr = fmt.Errorf("scan pools: %w", err)
	}

	orgs := make(map[string]struct{})
	for _, p := range pools {
		if err := ctx.Err(); err != nil {
			s.Canceled = true
			runErr = err
			break
		}
		orgs[p.OrgID] = struct{}{}
		s.PoolsScanned++
		r.processPool(ctx, logger, p, &s)
	}
	s.Organizations = len(orgs)

	if runErr == nil {
		n, err := r.eng.Prune(ctx)
		if err != nil {
			s.fail(0, PhasePrune, err)
			logger.Error("prune failed", zap.String("phase", PhasePrune), zap.Error(err))
		}
		s.EventsPruned = n
	}

	s.FinishedAt = r.eng.now()
	s.Duration = time.Since(begin)
	resyncDuration.Observe(s.Duration.Seconds())
	resyncCorrectionCounter.Add(float64(s.Corrections))
	outcome := "ok"
	switch {
	case runErr != nil:
		outcome = "aborted"
	case len(s.Errors) > 0:
		outcome = "partial"
	}
	resyncRunCounter.WithLabelValues(outcome).Inc()

	r.mu.Lock()
	last := s
	r.last = &last
	r.mu.Unlock()

	logger.Info("resync finished",
		zap.String("outcome", outcome),
		zap.Int("pools_scanned", s.PoolsScanned),
		zap.Int("pools_expired", s.PoolsExpired),
		zap.Int("pools_activated", s.PoolsActivated),
		zap.Int("warnings", s.Warnings),
		zap.Int("corrections", s.Corrections),
		zap.Int("errors", len(s.Errors)),
		zap.Duration("duration", s.Duration))
	return s, runErr
}

// processPool runs every phase for one pool.  Failures are recorded and
// never propagate.
func (r *Resyncer) processPool(ctx context.Context, logger *zap.Logger, p model.SeatPool, s *RunSummary) {
	e := r.eng
	now := e.now()
	fail := func(phase string, err error) {
		s.fail(p.ID, phase, err)
		logger.Error("resync phase failed",
			zap.Uint64("pool_id", p.ID),
			zap.String("phase", phase),
			zap.Error(err))
	}

	if p.State != model.PoolExpired {
		if p.Lapsed(now) {
			n, err := e.expire(ctx, p.ID)
			if err != nil {
				fail(PhaseExpire, err)
				return
			}
			s.PoolsExpired++
			s.AssignmentsExpired += n
			return
		}
		if p.State == model.PoolDraft && p.Started(now) {
			ok, err := e.Activate(ctx, p.ID)
			if err != nil {
				fail(PhaseActivate, err)
				return
			}
			if ok {
				s.PoolsActivated++
				p.State = model.PoolActive
			}
		}
		if p.State == model.PoolActive && p.ExpiresWithin(now, e.cfg.ExpiringSoonHorizon()) {
			if err := e.warnExpiring(ctx, p.ID, s.RunID); err != nil {
				fail(PhaseWarn, err)
			} else {
				s.Warnings++
			}
		}
	}

	res, err := e.Recount(ctx, p.ID, s.RunID)
	if err != nil {
		fail(PhaseRecount, err)
		return
	}
	if res.Changed() {
		s.Corrections++
	}
}

// warnExpiring appends a non-mutating expiring_soon event for the pool.
func (e *Engine) warnExpiring(ctx context.Context, poolID uint64, runID string) error {
	return e.withPool(ctx, poolID, func(tx *database.Tx, u *unit) error {
		p, err := e.loadPool(ctx, tx, poolID, false)
		if err != nil {
			return err
		}
		if p.ValidUntil == nil {
			return nil
		}
		ev, err := model.NewEvent(model.EventExpiringSoon, p.ID, e.now(), model.ExpiringSoonPayload{
			OrgID:      p.OrgID,
			ValidUntil: *p.ValidUntil,
			Used:       p.Used,
			Capacity:   p.Capacity,
			RunID:      runID,
		})
		if err != nil {
			return err
		}
		return u.record(ctx, e, tx, ev)
	})
}

// RecountResult reports the used counter before and after a recount.
type RecountResult struct {
	PoolID uint64 `json:"pool_id"`
	Before int    `json:"before"`
	After  int    `json:"after"`
}

// Changed reports whether the recount corrected the counter.
func (r RecountResult) Changed() bool { return r.Before != r.After }

// Recount recomputes a pool's used counter from its ledger rows under the
// pool lock.  A mismatch is corrected and recorded as a resynced event.
func (e *Engine) Recount(ctx context.Context, poolID uint64, runID string) (RecountResult, error) {
	var res RecountResult
	err := e.withPool(ctx, poolID, func(tx *database.Tx, u *unit) error {
		p, err := e.loadPool(ctx, tx, poolID, true)
		if err != nil {
			return err
		}
		counts, err := e.store.CountAssignments(ctx, tx, poolID)
		if err != nil {
			return fmt.Errorf("count assignments: %w", err)
		}
		res = RecountResult{PoolID: poolID, Before: p.Used, After: counts.Consumed(p.AllowReplace)}
		if !res.Changed() {
			return nil
		}
		now := e.now()
		if err := e.store.SetUsed(ctx, tx, poolID, res.After, now); err != nil {
			return fmt.Errorf("set used: %w", err)
		}
		ev, err := model.NewEvent(model.EventResynced, poolID, now, model.ResyncPayload{
			Before: res.Before,
			After:  res.After,
			RunID:  runID,
		})
		if err != nil {
			return err
		}
		if err := u.record(ctx, e, tx, ev); err != nil {
			return err
		}
		e.logger.Warn("used counter corrected",
			zap.Uint64("pool_id", poolID),
			zap.String("run_id", runID),
			zap.Int("before", res.Before),
			zap.Int("after", res.After))
		return nil
	})
	return res, err
}
