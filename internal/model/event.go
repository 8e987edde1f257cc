package model

import (
	"encoding/json"
	"time"
)

// EventType classifies an entry of the append-only event log.
type EventType string

const (
	EventGranted      EventType = "granted"
	EventReleased     EventType = "released"
	EventExpired      EventType = "expired"
	EventResynced     EventType = "resynced"
	EventExpiringSoon EventType = "expiring_soon"
)

// Event is an immutable record of a pool or seat transition.  It corresponds
// to a row in the `seat_events` table.  Rows are only ever inserted, and
// only removed by the retention pruner.
type Event struct {
	ID           uint64          `db:"id" json:"id"`                                 // seat_events.id
	Type         EventType       `db:"type" json:"type"`                             // seat_events.type
	PoolID       uint64          `db:"pool_id" json:"pool_id"`                       // seat_events.pool_id
	MemberID     *string         `db:"member_id" json:"member_id,omitempty"`         // seat_events.member_id (nullable for pool events)
	AssignmentID *uint64         `db:"assignment_id" json:"assignment_id,omitempty"` // seat_events.assignment_id (nullable)
	Payload      json.RawMessage `db:"payload" json:"payload,omitempty"`             // seat_events.payload
	OccurredAt   time.Time       `db:"occurred_at" json:"occurred_at"`               // seat_events.occurred_at
}

// EventFilter narrows reads of the event feed.
type EventFilter struct {
	SinceID uint64
	PoolID  uint64
	Type    EventType
	Limit   int
}

// SeatPayload is attached to granted, released and expired events.
type SeatPayload struct {
	CourseID string        `json:"course_id"`
	Reason   ReleaseReason `json:"reason,omitempty"`
	Burned   bool          `json:"burned,omitempty"`
}

// PoolExpiredPayload is attached to the pool-level expired event, the one
// without a member.
type PoolExpiredPayload struct {
	AssignmentsExpired int `json:"assignments_expired"`
}

// ResyncPayload is attached to resynced events.
type ResyncPayload struct {
	Before int    `json:"before"`
	After  int    `json:"after"`
	RunID  string `json:"run_id,omitempty"`
}

// ExpiringSoonPayload is attached to expiring_soon notifications.
type ExpiringSoonPayload struct {
	OrgID      string    `json:"org_id"`
	ValidUntil time.Time `json:"valid_until"`
	Used       int       `json:"used"`
	Capacity   int       `json:"capacity"`
	RunID      string    `json:"run_id,omitempty"`
}

// NewEvent builds an event with a JSON-encoded payload.  A nil payload is
// stored as an empty object.
func NewEvent(typ EventType, poolID uint64, at time.Time, payload any) (Event, error) {
	raw := json.RawMessage(`{}`)
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Event{}, err
		}
		raw = b
	}
	return Event{Type: typ, PoolID: poolID, Payload: raw, OccurredAt: at}, nil
}
