// Package engine implements the seat pool allocation engine: the pool
// registry, the allocation ledger, scope resolution, the event log and the
// resync scheduler.  Every mutation of pool or assignment state goes
// through this package.
package engine

import (
	"context"
	"errors"
	"fmt"
)

// Allocation failures.  Callers compare with errors.Is; the HTTP layer maps
// each to a status code.
var (
	// ErrPoolExhausted is returned when every seat of the pool is consumed.
	// It clears once capacity is raised or a replaceable seat is released.
	ErrPoolExhausted = errors.New("pool exhausted")

	// ErrPoolNotActive is returned when the pool is draft, expired or
	// archived.
	ErrPoolNotActive = errors.New("pool not active")

	// ErrOutOfScope is returned when the member or course is not covered by
	// the pool's scope.
	ErrOutOfScope = errors.New("member or course out of pool scope")

	// ErrDuplicateAssignment is returned when the member already holds an
	// active seat for the course in this pool.  Callers may treat it as
	// success; the wrapping *DuplicateError carries the existing id.
	ErrDuplicateAssignment = errors.New("duplicate assignment")

	// ErrCapacityBelowUsage is returned when an update would shrink the
	// pool below its consumed seats, or shrink an active pool at all.
	ErrCapacityBelowUsage = errors.New("capacity below usage")

	// ErrPoolHasActiveAssignments is returned when archiving a pool that
	// still has active seats.
	ErrPoolHasActiveAssignments = errors.New("pool has active assignments")

	// ErrScopeLocked is returned when changing the scope of a pool that
	// already has assignments.
	ErrScopeLocked = errors.New("scope is immutable once seats were assigned")

	// ErrAssignmentNotActive is returned when releasing a seat that is
	// already released or expired.
	ErrAssignmentNotActive = errors.New("assignment not active")

	ErrPoolNotFound       = errors.New("pool not found")
	ErrAssignmentNotFound = errors.New("assignment not found")
	ErrInvalidCapacity    = errors.New("capacity must be zero or greater")
	ErrInvalidWindow      = errors.New("valid_until must be after valid_from")
	ErrInvalidReason      = errors.New("unknown release reason")
	ErrUnknownOrg         = errors.New("unknown organization")
	ErrUnknownTeam        = errors.New("unknown team")
	ErrUnknownCourse      = errors.New("unknown course")
	ErrInvalidRequest     = errors.New("invalid request")

	// ErrConflict is returned when another writer changed the pool between
	// the scope check and the locked read.
	ErrConflict = errors.New("concurrent pool update")
)

// DuplicateError reports the assignment that already occupies the seat.
type DuplicateError struct {
	AssignmentID uint64
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s: assignment %d", ErrDuplicateAssignment, e.AssignmentID)
}

// Unwrap lets errors.Is match ErrDuplicateAssignment.
func (e *DuplicateError) Unwrap() error { return ErrDuplicateAssignment }

// Code returns a stable machine-readable name for an engine error, or
// "internal" for anything else.  It is used in bulk results and API
// payloads.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPoolExhausted):
		return "pool_exhausted"
	case errors.Is(err, ErrPoolNotActive):
		return "pool_not_active"
	case errors.Is(err, ErrOutOfScope):
		return "out_of_scope"
	case errors.Is(err, ErrDuplicateAssignment):
		return "duplicate_assignment"
	case errors.Is(err, ErrCapacityBelowUsage):
		return "capacity_below_usage"
	case errors.Is(err, ErrPoolHasActiveAssignments):
		return "pool_has_active_assignments"
	case errors.Is(err, ErrScopeLocked):
		return "scope_locked"
	case errors.Is(err, ErrAssignmentNotActive):
		return "assignment_not_active"
	case errors.Is(err, ErrPoolNotFound):
		return "pool_not_found"
	case errors.Is(err, ErrAssignmentNotFound):
		return "assignment_not_found"
	case errors.Is(err, ErrInvalidCapacity), errors.Is(err, ErrInvalidWindow),
		errors.Is(err, ErrInvalidReason), errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrUnknownOrg), errors.Is(err, ErrUnknownTeam), errors.Is(err, ErrUnknownCourse):
		return "unknown_reference"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "internal"
}
