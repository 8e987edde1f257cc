// Package handler exposes the seat pool engine over HTTP.
package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/training-seat-pools/internal/engine"
	"github.com/iliyamo/training-seat-pools/internal/model"
)

// SeatPoolHandler adapts the allocation engine to HTTP.  Handlers only bind
// and validate input, call the engine and map its errors.
type SeatPoolHandler struct {
	Engine *engine.Engine
	Resync *engine.Resyncer
	Logger *zap.Logger
}

// NewSeatPoolHandler constructs a SeatPoolHandler and panics if the engine
// or resyncer is nil.
func NewSeatPoolHandler(eng *engine.Engine, resync *engine.Resyncer, logger *zap.Logger) *SeatPoolHandler {
	if eng == nil || resync == nil {
		panic("nil dependency passed to NewSeatPoolHandler")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SeatPoolHandler{Engine: eng, Resync: resync, Logger: logger.Named("http")}
}

func (h *SeatPoolHandler) logError(c echo.Context, err error) {
	h.Logger.Error("request failed",
		zap.String("method", c.Request().Method),
		zap.String("path", c.Path()),
		zap.Any("actor", c.Get("user_id")),
		zap.Error(err))
}

// CreatePool handles POST /v1/pools.
func (h *SeatPoolHandler) CreatePool(c echo.Context) error {
	var spec model.PoolSpec
	if err := c.Bind(&spec); err != nil {
		return badRequest(c, "invalid request body")
	}
	ctx := c.Request().Context()
	id, err := h.Engine.Create(ctx, spec)
	if err != nil {
		return h.respondError(c, err)
	}
	p, err := h.Engine.Get(ctx, id)
	if err != nil {
		// the pool exists; report at least its id
		return c.JSON(http.StatusCreated, echo.Map{"id": id})
	}
	return c.JSON(http.StatusCreated, p)
}

// UpdatePool handles PATCH /v1/pools/:id.
func (h *SeatPoolHandler) UpdatePool(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	var patch model.PoolPatch
	if err := c.Bind(&patch); err != nil {
		return badRequest(c, "invalid request body")
	}
	p, err := h.Engine.Update(c.Request().Context(), id, patch)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

// ExpirePool handles POST /v1/pools/:id/expire.
func (h *SeatPoolHandler) ExpirePool(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if err := h.Engine.Expire(c.Request().Context(), id); err != nil {
		return h.respondError(c, err)
	}
	return h.poolView(c, id)
}

// ArchivePool handles POST /v1/pools/:id/archive.
func (h *SeatPoolHandler) ArchivePool(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if err := h.Engine.Archive(c.Request().Context(), id); err != nil {
		return h.respondError(c, err)
	}
	return h.poolView(c, id)
}

// GetPool handles GET /v1/pools/:id.
func (h *SeatPoolHandler) GetPool(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	return h.poolView(c, id)
}

func (h *SeatPoolHandler) poolView(c echo.Context, id uint64) error {
	v, err := h.Engine.View(c.Request().Context(), id)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

// ListPools handles GET /v1/pools.  Supported filters: org_id, team_id and
// state (comma separated).  state matches the reported state, so
// expiring_soon and lapsed-but-unswept pools are found too.
func (h *SeatPoolHandler) ListPools(c echo.Context) error {
	limit, offset := page(c)
	f := model.PoolFilter{
		OrgID:  strings.TrimSpace(c.QueryParam("org_id")),
		TeamID: strings.TrimSpace(c.QueryParam("team_id")),
		Limit:  limit,
		Offset: offset,
	}
	if raw := strings.TrimSpace(c.QueryParam("state")); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st := model.PoolState(strings.ToLower(strings.TrimSpace(s)))
			if !st.Valid() {
				return badRequest(c, "unknown state "+string(st))
			}
			f.States = append(f.States, st)
		}
	}
	views, err := h.Engine.Views(c.Request().Context(), f)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"data":   views,
		"limit":  limit,
		"offset": offset,
	})
}

// OrgKPIs handles GET /v1/orgs/:id/kpis.
func (h *SeatPoolHandler) OrgKPIs(c echo.Context) error {
	org := strings.TrimSpace(c.Param("id"))
	if org == "" {
		return badRequest(c, "invalid organization id")
	}
	k, err := h.Engine.OrgKPIs(c.Request().Context(), org)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, k)
}
