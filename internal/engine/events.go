package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/training-seat-pools/internal/model"
)

// seatEvent builds an event about one assignment.
func seatEvent(typ model.EventType, a model.Assignment, at time.Time, payload model.SeatPayload) (model.Event, error) {
	ev, err := model.NewEvent(typ, a.PoolID, at, payload)
	if err != nil {
		return model.Event{}, fmt.Errorf("encode %s event: %w", typ, err)
	}
	member, id := a.MemberID, a.ID
	ev.MemberID = &member
	ev.AssignmentID = &id
	return ev, nil
}

// publish fans committed events out to every subscriber in order.  A
// failing subscriber is logged and skipped; the events are already durable.
func (e *Engine) publish(ctx context.Context, events []model.Event) {
	for _, ev := range events {
		for _, s := range e.subs {
			if err := s.Notify(ctx, ev); err != nil {
				e.logger.Warn("event subscriber failed",
					zap.Uint64("event_id", ev.ID),
					zap.String("type", string(ev.Type)),
					zap.Uint64("pool_id", ev.PoolID),
					zap.Error(err))
			}
		}
	}
}

// Events reads the event feed.
func (e *Engine) Events(ctx context.Context, f model.EventFilter) ([]model.Event, error) {
	events, err := e.store.ListEvents(ctx, e.db, f)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// Prune deletes events older than the retention window.  A window of zero
// days keeps everything.
func (e *Engine) Prune(ctx context.Context) (int64, error) {
	cutoff, ok := e.cfg.RetentionCutoff(e.now())
	if !ok {
		return 0, nil
	}
	n, err := e.store.PruneEvents(ctx, e.db, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	if n > 0 {
		e.logger.Info("events pruned", zap.Int64("count", n), zap.Time("before", cutoff))
	}
	return n, nil
}
