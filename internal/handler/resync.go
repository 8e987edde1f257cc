package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/training-seat-pools/internal/model"
)

// TriggerResync handles POST /v1/resync.  A trigger that arrives while a
// run is in flight waits for and returns that run's summary.
func (h *SeatPoolHandler) TriggerResync(c echo.Context) error {
	s, err := h.Resync.Run(c.Request().Context())
	if err != nil {
		h.logError(c, err)
		return c.JSON(http.StatusServiceUnavailable, echo.Map{
			"error":   "resync_aborted",
			"message": err.Error(),
			"summary": s,
		})
	}
	return c.JSON(http.StatusOK, s)
}

// LastResync handles GET /v1/resync/last.
func (h *SeatPoolHandler) LastResync(c echo.Context) error {
	s, ok := h.Resync.Last()
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found", "message": "no resync has run yet"})
	}
	return c.JSON(http.StatusOK, s)
}

// ListEvents handles GET /v1/events.  Consumers page forward with since_id
// set to the last id they saw.
func (h *SeatPoolHandler) ListEvents(c echo.Context) error {
	var f model.EventFilter
	if v := c.QueryParam("since_id"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return badRequest(c, "invalid since_id")
		}
		f.SinceID = n
	}
	if v := c.QueryParam("pool_id"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return badRequest(c, "invalid pool_id")
		}
		f.PoolID = n
	}
	f.Type = model.EventType(strings.TrimSpace(c.QueryParam("type")))
	f.Limit, _ = page(c)
	events, err := h.Engine.Events(c.Request().Context(), f)
	if err != nil {
		return h.respondError(c, err)
	}
	next := f.SinceID
	if len(events) > 0 {
		next = events[len(events)-1].ID
	}
	return c.JSON(http.StatusOK, echo.Map{"data": events, "next_since_id": next})
}

// Status handles GET /v1/status and reports the engine settings other
// services read, such as the invitation lifetime.
func (h *SeatPoolHandler) Status(c echo.Context) error {
	cfg := h.Engine.Config()
	resp := echo.Map{
		"default_allow_replace":  cfg.DefaultAllowReplace,
		"invitation_expire_days": cfg.InvitationExpireDays,
		"invitation_ttl":         cfg.InvitationTTL().String(),
		"batch_size":             cfg.BatchSize,
		"data_retention_days":    cfg.DataRetentionDays,
		"expiring_soon_days":     cfg.ExpiringSoonDays,
		"resync_schedule":        cfg.ResyncSchedule,
	}
	if s, ok := h.Resync.Last(); ok {
		resp["last_resync"] = s.String()
	}
	return c.JSON(http.StatusOK, resp)
}
