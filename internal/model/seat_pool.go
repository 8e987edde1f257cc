package model

import (
	"time"
)

// PoolState is the lifecycle state of a seat pool.
type PoolState string

const (
	PoolDraft        PoolState = "draft"
	PoolActive       PoolState = "active"
	PoolExpiringSoon PoolState = "expiring_soon"
	PoolExpired      PoolState = "expired"
	PoolArchived     PoolState = "archived"
)

// Valid reports whether s is one of the known pool states.
func (s PoolState) Valid() bool {
	switch s {
	case PoolDraft, PoolActive, PoolExpiringSoon, PoolExpired, PoolArchived:
		return true
	}
	return false
}

// Terminal reports whether no further seats can ever be drawn from a pool
// in this state.
func (s PoolState) Terminal() bool {
	return s == PoolExpired || s == PoolArchived
}

// SeatPool is a capacity-bounded, scope-bounded grant of course seats issued
// to an organization or one of its teams.  It corresponds to a row in the
// `seat_pools` table.
//
// Fields:
//
//	ID           – primary key identifier.
//	OrgID        – owning organization.
//	TeamID       – owning team (nil for organization-level pools).
//	Name         – display label used by admin views.
//	Capacity     – number of purchased seats.
//	Used         – cached count of consumed seats; never exceeds Capacity.
//	Scope        – which members and courses the pool may cover.
//	ValidFrom    – start of the validity window (nil = immediately).
//	ValidUntil   – end of the validity window (nil = unbounded).
//	AllowReplace – whether a released seat returns to the pool.
//	State        – stored lifecycle state.
type SeatPool struct {
	ID           uint64     `db:"id" json:"id"`                       // seat_pools.id
	OrgID        string     `db:"org_id" json:"org_id"`               // seat_pools.org_id
	TeamID       *string    `db:"team_id" json:"team_id,omitempty"`   // seat_pools.team_id (nullable)
	Name         string     `db:"name" json:"name"`                   // seat_pools.name
	Capacity     int        `db:"capacity" json:"capacity"`           // seat_pools.capacity
	Used         int        `db:"used" json:"used"`                   // seat_pools.used
	Scope        Scope      `db:"-" json:"scope"`                     // scope_kind + scope_team_id + scope_courses
	ValidFrom    *time.Time `db:"valid_from" json:"valid_from"`       // seat_pools.valid_from (nullable)
	ValidUntil   *time.Time `db:"valid_until" json:"valid_until"`     // seat_pools.valid_until (nullable)
	AllowReplace bool       `db:"allow_replace" json:"allow_replace"` // seat_pools.allow_replace
	State        PoolState  `db:"state" json:"state"`                 // seat_pools.state
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`       // seat_pools.created_at
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`       // seat_pools.updated_at
}

// Available returns the number of seats that can still be granted.
func (p SeatPool) Available() int {
	if p.Used >= p.Capacity {
		return 0
	}
	return p.Capacity - p.Used
}

// UtilizationRate returns used/capacity in [0, 1].  An empty pool reports 0.
func (p SeatPool) UtilizationRate() float64 {
	if p.Capacity <= 0 {
		return 0
	}
	return float64(p.Used) / float64(p.Capacity)
}

// Lapsed reports whether the validity window has closed at now.
func (p SeatPool) Lapsed(now time.Time) bool {
	return p.ValidUntil != nil && !now.Before(*p.ValidUntil)
}

// Started reports whether the validity window has opened at now.
func (p SeatPool) Started(now time.Time) bool {
	return p.ValidFrom == nil || !now.Before(*p.ValidFrom)
}

// ExpiresWithin reports whether an open pool closes inside the horizon.
func (p SeatPool) ExpiresWithin(now time.Time, horizon time.Duration) bool {
	if p.ValidUntil == nil || p.Lapsed(now) {
		return false
	}
	return p.ValidUntil.Sub(now) <= horizon
}

// EffectiveState is the state reported to dashboards.  Stored pools are
// never expiring_soon; that state is derived from the horizon.  A pool whose
// window has lapsed reports expired even before the scheduler catches it.
func (p SeatPool) EffectiveState(now time.Time, horizon time.Duration) PoolState {
	switch p.State {
	case PoolDraft:
		if p.Lapsed(now) {
			return PoolExpired
		}
		return PoolDraft
	case PoolActive:
		if p.Lapsed(now) {
			return PoolExpired
		}
		if p.ExpiresWithin(now, horizon) {
			return PoolExpiringSoon
		}
		return PoolActive
	}
	return p.State
}

// PoolFilter narrows pool listings.  Zero values match everything.
type PoolFilter struct {
	OrgID  string
	TeamID string
	States []PoolState
	Limit  int
	Offset int
}

// PoolSpec carries the fields accepted when creating a pool.
type PoolSpec struct {
	OrgID        string     `json:"org_id"`
	TeamID       *string    `json:"team_id,omitempty"`
	Name         string     `json:"name"`
	Capacity     int        `json:"capacity"`
	Scope        Scope      `json:"scope"`
	ValidFrom    *time.Time `json:"valid_from,omitempty"`
	ValidUntil   *time.Time `json:"valid_until,omitempty"`
	AllowReplace *bool      `json:"allow_replace,omitempty"` // nil = configured default
}

// PoolPatch carries the optional fields accepted when updating a pool.  Nil
// pointers leave the stored value untouched.  ClearValidUntil removes the
// end of the window.
type PoolPatch struct {
	Name            *string    `json:"name,omitempty"`
	Capacity        *int       `json:"capacity,omitempty"`
	Scope           *Scope     `json:"scope,omitempty"`
	ValidFrom       *time.Time `json:"valid_from,omitempty"`
	ValidUntil      *time.Time `json:"valid_until,omitempty"`
	ClearValidUntil bool       `json:"clear_valid_until,omitempty"`
	AllowReplace    *bool      `json:"allow_replace,omitempty"`
}
