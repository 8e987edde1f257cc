package engine

import (
	"context"
	"time"

	"github.com/iliyamo/training-seat-pools/internal/database"
	"github.com/iliyamo/training-seat-pools/internal/model"
)

// Store persists pools, assignments and events.  Every method takes the
// handler to run against so that the engine can compose them inside one
// transaction.  Lookups return database.ErrRecordNotFound for missing rows.
type Store interface {
	PoolStore
	AssignmentStore
	EventStore
}

// PoolStore persists seat_pools rows.
type PoolStore interface {
	CreatePool(ctx context.Context, h database.Handler, p *model.SeatPool) error
	GetPool(ctx context.Context, h database.Handler, id uint64) (model.SeatPool, error)
	// GetPoolForUpdate reads the pool and row-locks it where the driver
	// supports it.
	GetPoolForUpdate(ctx context.Context, h database.Handler, id uint64) (model.SeatPool, error)
	ListPools(ctx context.Context, h database.Handler, f model.PoolFilter) ([]model.SeatPool, error)
	// UpdatePool writes name, capacity, scope, window, allow_replace and
	// state.  The used counter is never written here.
	UpdatePool(ctx context.Context, h database.Handler, p *model.SeatPool) error
	// IncrementUsed adds one seat only while used < capacity.  It reports
	// false when the pool is full.
	IncrementUsed(ctx context.Context, h database.Handler, id uint64, at time.Time) (bool, error)
	// DecrementUsed removes n seats, never going below zero.
	DecrementUsed(ctx context.Context, h database.Handler, id uint64, n int, at time.Time) error
	SetUsed(ctx context.Context, h database.Handler, id uint64, used int, at time.Time) error
}

// AssignmentStore persists seat_assignments rows.
type AssignmentStore interface {
	CreateAssignment(ctx context.Context, h database.Handler, a *model.Assignment) error
	GetAssignment(ctx context.Context, h database.Handler, id uint64) (model.Assignment, error)
	GetAssignmentForUpdate(ctx context.Context, h database.Handler, id uint64) (model.Assignment, error)
	FindActiveAssignment(ctx context.Context, h database.Handler, poolID uint64, memberID, courseID string) (model.Assignment, error)
	ListAssignments(ctx context.Context, h database.Handler, f model.AssignmentFilter) ([]model.Assignment, error)
	CountAssignments(ctx context.Context, h database.Handler, poolID uint64) (model.AssignmentCounts, error)
	// TerminateAssignment moves an active row to released or expired.
	TerminateAssignment(ctx context.Context, h database.Handler, id uint64, status model.AssignmentStatus, reason *model.ReleaseReason, at time.Time) error
}

// EventStore persists the append-only seat_events log.
type EventStore interface {
	AppendEvent(ctx context.Context, h database.Handler, e *model.Event) error
	ListEvents(ctx context.Context, h database.Handler, f model.EventFilter) ([]model.Event, error)
	PruneEvents(ctx context.Context, h database.Handler, before time.Time) (int64, error)
}

// Directory answers identity and membership questions about organizations,
// teams, members and courses.  It is owned by the host platform; the engine
// only reads identifiers through it.
type Directory interface {
	OrgExists(ctx context.Context, orgID string) (bool, error)
	TeamExists(ctx context.Context, orgID, teamID string) (bool, error)
	CourseExists(ctx context.Context, orgID, courseID string) (bool, error)
	IsOrgMember(ctx context.Context, orgID, memberID string) (bool, error)
	IsTeamMember(ctx context.Context, teamID, memberID string) (bool, error)
	OrgCourses(ctx context.Context, orgID string) ([]string, error)
	TeamCourses(ctx context.Context, teamID string) ([]string, error)
}

// Enroller grants and revokes course access on the host learning platform.
type Enroller interface {
	Enroll(ctx context.Context, memberID, courseID string) error
	Unenroll(ctx context.Context, memberID, courseID string) error
}

// Subscriber receives every committed event.  Subscribers must treat
// events as read-only notifications.
type Subscriber interface {
	Notify(ctx context.Context, e model.Event) error
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// NopEnroller accepts every enrollment change without doing anything.
type NopEnroller struct{}

func (NopEnroller) Enroll(context.Context, string, string) error   { return nil }
func (NopEnroller) Unenroll(context.Context, string, string) error { return nil }

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, e model.Event) error

// Notify calls f.
func (f SubscriberFunc) Notify(ctx context.Context, e model.Event) error { return f(ctx, e) }
