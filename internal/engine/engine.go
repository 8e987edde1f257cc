package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/training-seat-pools/internal/config"
	"github.com/iliyamo/training-seat-pools/internal/database"
	"github.com/iliyamo/training-seat-pools/internal/model"
)

// Engine owns every write to seat pools, assignments and events.  Online
// commands and the resync scheduler share the same methods, so there is a
// single allocation algorithm for both paths.
type Engine struct {
	db       *database.DB
	store    Store
	scope    *ScopeResolver
	enroller Enroller
	subs     []Subscriber
	clock    Clock
	cfg      config.EngineConfig
	logger   *zap.Logger
	locks    *poolLocks
}

// Options carries the collaborators injected into an Engine.  Directory is
// required; everything else has a usable default.
type Options struct {
	Directory   Directory
	Enroller    Enroller
	Subscribers []Subscriber
	Clock       Clock
	Logger      *zap.Logger
	Config      config.EngineConfig
}

// New returns an Engine over db and store.  It panics when db, store or the
// directory is nil.
func New(db *database.DB, store Store, opts Options) *Engine {
	if db == nil || store == nil || opts.Directory == nil {
		panic("engine: nil database, store or directory")
	}
	e := &Engine{
		db:       db,
		store:    store,
		scope:    NewScopeResolver(opts.Directory),
		enroller: opts.Enroller,
		subs:     opts.Subscribers,
		clock:    opts.Clock,
		cfg:      opts.Config,
		logger:   opts.Logger,
		locks:    newPoolLocks(),
	}
	if e.enroller == nil {
		e.enroller = NopEnroller{}
	}
	if e.clock == nil {
		e.clock = SystemClock{}
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.cfg.BatchSize <= 0 {
		e.cfg.BatchSize = config.DefaultEngineConfig().BatchSize
	}
	return e
}

// Config returns the engine configuration.
func (e *Engine) Config() config.EngineConfig { return e.cfg }

// Scope returns the scope resolver used for eligibility checks.
func (e *Engine) Scope() *ScopeResolver { return e.scope }

// Subscribe adds a subscriber for committed events.  It must be called
// before the engine serves traffic.
func (e *Engine) Subscribe(s Subscriber) { e.subs = append(e.subs, s) }

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC().Truncate(time.Second)
}

// unit collects the side effects of one critical section.  They are
// applied only after the transaction commits.
type unit struct {
	events   []model.Event
	unenroll []model.Assignment
	// err is returned to the caller after a successful commit, for
	// commands that persist a state change and still fail (a write against
	// a lapsed pool expires it and then reports ErrPoolNotActive).
	err error
}

func (u *unit) record(ctx context.Context, e *Engine, h database.Handler, ev model.Event) error {
	if err := e.store.AppendEvent(ctx, h, &ev); err != nil {
		return fmt.Errorf("append %s event: %w", ev.Type, err)
	}
	u.events = append(u.events, ev)
	return nil
}

// withPool runs fn as the pool's critical section: the in-process pool
// lock is held for the whole transaction and the post-commit side effects.
func (e *Engine) withPool(ctx context.Context, poolID uint64, fn func(tx *database.Tx, u *unit) error) error {
	unlock := e.locks.lock(poolID)
	defer unlock()
	return e.inTx(ctx, fn)
}

// inTx runs fn in a transaction and applies the unit's side effects after
// commit.  The caller must hold the pool lock.
func (e *Engine) inTx(ctx context.Context, fn func(tx *database.Tx, u *unit) error) error {
	u := &unit{}
	if err := e.db.TransactionContext(ctx, func(tx *database.Tx) error {
		return fn(tx, u)
	}); err != nil {
		return err
	}
	e.afterCommit(ctx, u)
	return u.err
}

func (e *Engine) afterCommit(ctx context.Context, u *unit) {
	// Side effects of a committed unit run even when the caller's context
	// is already done.
	ctx = context.WithoutCancel(ctx)
	for _, a := range u.unenroll {
		if err := e.enroller.Unenroll(ctx, a.MemberID, a.CourseID); err != nil {
			e.logger.Warn("unenroll failed",
				zap.Uint64("pool_id", a.PoolID),
				zap.Uint64("assignment_id", a.ID),
				zap.String("member_id", a.MemberID),
				zap.String("course_id", a.CourseID),
				zap.Error(err))
		}
	}
	e.publish(ctx, u.events)
}

// loadPool reads a pool outside any transaction.
func (e *Engine) loadPool(ctx context.Context, h database.Handler, id uint64, forUpdate bool) (model.SeatPool, error) {
	var (
		p   model.SeatPool
		err error
	)
	if forUpdate {
		p, err = e.store.GetPoolForUpdate(ctx, h, id)
	} else {
		p, err = e.store.GetPool(ctx, h, id)
	}
	if errors.Is(err, database.ErrRecordNotFound) {
		return model.SeatPool{}, fmt.Errorf("%w: %d", ErrPoolNotFound, id)
	}
	if err != nil {
		return model.SeatPool{}, fmt.Errorf("load pool %d: %w", id, err)
	}
	return p, nil
}

// poolLocks hands out one mutex per pool id.  Entries are dropped when the
// last holder releases them, so the map only holds pools in use.
type poolLocks struct {
	mu sync.Mutex
	m  map[uint64]*poolLock
}

type poolLock struct {
	sync.Mutex
	refs int
}

func newPoolLocks() *poolLocks {
	return &poolLocks{m: make(map[uint64]*poolLock)}
}

// lock blocks until the pool's mutex is held and returns the release func.
func (l *poolLocks) lock(id uint64) func() {
	l.mu.Lock()
	pl, ok := l.m[id]
	if !ok {
		pl = &poolLock{}
		l.m[id] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.Lock()
	return func() {
		pl.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}

func (l *poolLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
