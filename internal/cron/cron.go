// Package cron runs recurring jobs such as the seat pool resync.
package cron

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler is a cron-like job scheduler.
type Scheduler struct {
	*cron.Cron
	logger *zap.Logger
}

// cronLogger adapts zap to the cron logger interface.
type cronLogger struct {
	logger *zap.SugaredLogger
}

// Info logs routine messages about cron's operation.
func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

// Error logs an error condition.
func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "err", err)...)
}

// NewScheduler returns a Scheduler whose jobs recover from panics and are
// skipped while a previous invocation is still running.
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("cron")
	cl := cronLogger{logger.Sugar()}
	return &Scheduler{
		Cron: cron.New(
			cron.WithLogger(cl),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
	}
}

// Shutdown stops the scheduler and waits up to 30 seconds for running jobs.
func (s *Scheduler) Shutdown() {
	ctx, cancel := context.WithTimeout(s.Cron.Stop(), 30*time.Second)
	defer func() { cancel() }()
	<-ctx.Done()
}

// Start starts the Scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
}

// AddFunc adds a job to the Scheduler.
func (s *Scheduler) AddFunc(spec string, fn func()) (int, error) {
	id, err := s.Cron.AddFunc(spec, fn)
	return int(id), err
}

// AddJob registers fn under a name.  Each invocation gets ctx and its
// failure is logged with the job name.
func (s *Scheduler) AddJob(ctx context.Context, name, spec string, fn func(context.Context) error) (int, error) {
	return s.AddFunc(spec, func() {
		start := time.Now()
		if err := fn(ctx); err != nil {
			s.logger.Error("job failed", zap.String("job", name), zap.Error(err))
			return
		}
		s.logger.Debug("job finished", zap.String("job", name), zap.Duration("took", time.Since(start)))
	})
}

// Remove removes a job from the Scheduler.
func (s *Scheduler) Remove(id int) {
	s.Cron.Remove(cron.EntryID(id))
}
