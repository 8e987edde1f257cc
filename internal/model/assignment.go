package model

import "time"

// AssignmentStatus is the state of a ledger row.
type AssignmentStatus string

const (
	AssignmentActive   AssignmentStatus = "active"
	AssignmentReleased AssignmentStatus = "released"
	AssignmentExpired  AssignmentStatus = "expired"
)

// ReleaseReason tags why a seat was handed back.
type ReleaseReason string

const (
	ReleaseManual           ReleaseReason = "manual"
	ReleaseMemberRemoved    ReleaseReason = "member_removed"
	ReleaseCourseUnenrolled ReleaseReason = "course_unenrolled"
)

// Valid reports whether r is a known release reason.
func (r ReleaseReason) Valid() bool {
	switch r {
	case ReleaseManual, ReleaseMemberRemoved, ReleaseCourseUnenrolled:
		return true
	}
	return false
}

// Assignment is one seat drawn from a pool for a member on a course.  It
// corresponds to a row in the `seat_assignments` table.  At most one active
// assignment exists per (pool, member, course).
type Assignment struct {
	ID            uint64           `db:"id" json:"id"`                                   // seat_assignments.id
	PoolID        uint64           `db:"pool_id" json:"pool_id"`                         // seat_assignments.pool_id
	MemberID      string           `db:"member_id" json:"member_id"`                     // seat_assignments.member_id
	CourseID      string           `db:"course_id" json:"course_id"`                     // seat_assignments.course_id
	Status        AssignmentStatus `db:"status" json:"status"`                           // seat_assignments.status
	GrantedAt     time.Time        `db:"granted_at" json:"granted_at"`                   // seat_assignments.granted_at
	ReleasedAt    *time.Time       `db:"released_at" json:"released_at,omitempty"`       // seat_assignments.released_at (nullable)
	ReleaseReason *ReleaseReason   `db:"release_reason" json:"release_reason,omitempty"` // seat_assignments.release_reason (nullable)
}

// AssignmentFilter narrows assignment listings.  Zero values match everything.
type AssignmentFilter struct {
	PoolID   uint64
	MemberID string
	CourseID string
	Status   AssignmentStatus
	Limit    int
	Offset   int
}

// AssignmentCounts tallies a pool's ledger rows by status.
type AssignmentCounts struct {
	Active   int `db:"active"`
	Released int `db:"released"`
	Expired  int `db:"expired"`
}

// Consumed returns the number of seats the ledger says are used.  Released
// seats stay consumed when the pool does not allow replacement.
func (c AssignmentCounts) Consumed(allowReplace bool) int {
	if allowReplace {
		return c.Active
	}
	return c.Active + c.Released
}

// SeatRequest is one (member, course) pair submitted to a bulk grant.
type SeatRequest struct {
	MemberID string `json:"member_id"`
	CourseID string `json:"course_id"`
}
