// Package queue defines the seat event message carried over RabbitMQ and
// the digest consumer that turns it into a human-readable log.
package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/iliyamo/training-seat-pools/internal/model"
)

// DefaultQueue is the durable queue seat events are published to.
const DefaultQueue = "seat.events"

// SeatEventMessage is the wire form of a committed event.  It carries
// enough for consumers to log, notify or feed analytics without querying
// the engine.
type SeatEventMessage struct {
	EventID      uint64          `json:"event_id"`
	Type         model.EventType `json:"type"`
	PoolID       uint64          `json:"pool_id"`
	MemberID     string          `json:"member_id,omitempty"`
	AssignmentID uint64          `json:"assignment_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// NewMessage converts a stored event.
func NewMessage(e model.Event) SeatEventMessage {
	m := SeatEventMessage{
		EventID:    e.ID,
		Type:       e.Type,
		PoolID:     e.PoolID,
		Payload:    e.Payload,
		OccurredAt: e.OccurredAt,
	}
	if e.MemberID != nil {
		m.MemberID = *e.MemberID
	}
	if e.AssignmentID != nil {
		m.AssignmentID = *e.AssignmentID
	}
	return m
}

// DigestLine renders m as one log line.  now anchors relative times.
func DigestLine(m SeatEventMessage, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s | pool=%d | event=%d",
		m.OccurredAt.UTC().Format(time.RFC3339), m.Type, m.PoolID, m.EventID)
	if m.MemberID != "" {
		fmt.Fprintf(&b, " | member=%q", m.MemberID)
	}
	if m.AssignmentID != 0 {
		fmt.Fprintf(&b, " | assignment=%d", m.AssignmentID)
	}

	switch {
	case m.Type == model.EventExpired && m.MemberID == "":
		var p model.PoolExpiredPayload
		if json.Unmarshal(m.Payload, &p) == nil {
			fmt.Fprintf(&b, " | pool closed, %s seats expired", humanize.Comma(int64(p.AssignmentsExpired)))
		}
	case m.Type == model.EventGranted, m.Type == model.EventReleased, m.Type == model.EventExpired:
		var p model.SeatPayload
		if json.Unmarshal(m.Payload, &p) == nil {
			fmt.Fprintf(&b, " | course=%q", p.CourseID)
			if p.Reason != "" {
				fmt.Fprintf(&b, " | reason=%s", p.Reason)
			}
			if p.Burned {
				b.WriteString(" | seat burned")
			}
		}
	case m.Type == model.EventResynced:
		var p model.ResyncPayload
		if json.Unmarshal(m.Payload, &p) == nil {
			fmt.Fprintf(&b, " | used %s -> %s", humanize.Comma(int64(p.Before)), humanize.Comma(int64(p.After)))
		}
	case m.Type == model.EventExpiringSoon:
		var p model.ExpiringSoonPayload
		if json.Unmarshal(m.Payload, &p) == nil {
			fmt.Fprintf(&b, " | org=%q | %s of %s seats used | closes %s",
				p.OrgID, humanize.Comma(int64(p.Used)), humanize.Comma(int64(p.Capacity)),
				humanize.RelTime(p.ValidUntil, now, "ago", "from now"))
		}
	}
	return b.String()
}
