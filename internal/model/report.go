package model

import "time"

// PoolView is the row shape the dashboards consume.
type PoolView struct {
	ID              uint64     `json:"id"`
	OrgID           string     `json:"org_id"`
	TeamID          *string    `json:"team_id,omitempty"`
	Name            string     `json:"name"`
	ScopeKind       ScopeKind  `json:"scope_kind"`
	Capacity        int        `json:"capacity"`
	Used            int        `json:"used"`
	UtilizationRate float64    `json:"utilization_rate"`
	State           PoolState  `json:"state"`
	ValidUntil      *time.Time `json:"valid_until"`
	AllowReplace    bool       `json:"allow_replace"`
}

// NewPoolView projects a pool for reporting at the given instant.
func NewPoolView(p SeatPool, now time.Time, horizon time.Duration) PoolView {
	return PoolView{
		ID:              p.ID,
		OrgID:           p.OrgID,
		TeamID:          p.TeamID,
		Name:            p.Name,
		ScopeKind:       p.Scope.Kind(),
		Capacity:        p.Capacity,
		Used:            p.Used,
		UtilizationRate: p.UtilizationRate(),
		State:           p.EffectiveState(now, horizon),
		ValidUntil:      p.ValidUntil,
		AllowReplace:    p.AllowReplace,
	}
}

// OrgKPIs aggregates an organization's pools.  Archived pools are excluded
// from capacity totals.
type OrgKPIs struct {
	OrgID           string  `json:"org_id"`
	Pools           int     `json:"pools"`
	TotalSeats      int     `json:"total_seats"`
	UsedSeats       int     `json:"used_seats"`
	UtilizationRate float64 `json:"utilization_rate"`
	ActivePools     int     `json:"active_pools"`
	ExpiringSoon    int     `json:"expiring_soon"`
	Expired         int     `json:"expired"`
}
