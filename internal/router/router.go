// Package router wires HTTP routes to handlers and middleware.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/training-seat-pools/internal/config"
	"github.com/iliyamo/training-seat-pools/internal/database"
	"github.com/iliyamo/training-seat-pools/internal/handler"
	"github.com/iliyamo/training-seat-pools/internal/middleware"
	"github.com/iliyamo/training-seat-pools/internal/utils"
)

// Deps carries what the route groups need besides the handler.  Redis may
// be nil, which turns caching and rate limiting off.
type Deps struct {
	Config config.Config
	DB     *database.DB
	Redis  *redis.Client
	Logger *zap.Logger
}

// RegisterRoutes registers unauthenticated routes: liveness, readiness and
// prometheus metrics.
func RegisterRoutes(e *echo.Echo, db *database.DB) {
	e.GET("/healthz", handler.Health)
	if db != nil {
		e.GET("/readyz", handler.Ready(db))
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterCommands registers the state-changing endpoints under /v1.  They
// require a valid JWT with the ADMIN or MANAGER role.
func RegisterCommands(e *echo.Echo, h *handler.SeatPoolHandler, d Deps) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(d.Config.JWT.Secret, d.Config.JWT.Issuer),
		middleware.RequireRole(utils.RoleAdmin, utils.RoleManager),
		middleware.NewTokenBucket(d.Config.RateLimit, d.Redis, d.Logger),
		middleware.InvalidateCache(d.Config.Cache, d.Redis, d.Logger),
	)
	g.POST("/pools", h.CreatePool)
	g.PATCH("/pools/:id", h.UpdatePool)
	g.POST("/pools/:id/seats", h.GrantSeat)
	g.POST("/pools/:id/seats/bulk", h.BulkGrant)
	g.POST("/pools/:id/expire", h.ExpirePool)
	g.POST("/pools/:id/archive", h.ArchivePool)
	g.DELETE("/assignments/:id", h.ReleaseSeat)
	g.POST("/resync", h.TriggerResync)
}

// RegisterQueries registers the read-only endpoints under /v1.  Any
// authenticated role may call them; responses are cached in Redis.
func RegisterQueries(e *echo.Echo, h *handler.SeatPoolHandler, d Deps) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(d.Config.JWT.Secret, d.Config.JWT.Issuer),
		middleware.RequireRole(utils.RoleAdmin, utils.RoleManager, utils.RoleViewer),
		middleware.NewTokenBucket(d.Config.RateLimit, d.Redis, d.Logger),
	)
	cache := middleware.NewRedisCache(d.Config.Cache, d.Redis, d.Logger)
	g.GET("/pools", h.ListPools, cache)
	g.GET("/pools/:id", h.GetPool, cache)
	g.GET("/pools/:id/assignments", h.ListAssignments, cache)
	g.GET("/orgs/:id/kpis", h.OrgKPIs, cache)
	// The feed, resync status and settings are read live.
	g.GET("/events", h.ListEvents)
	g.GET("/resync/last", h.LastResync)
	g.GET("/status", h.Status)
}

// Register installs every route group.
func Register(e *echo.Echo, h *handler.SeatPoolHandler, d Deps) {
	RegisterRoutes(e, d.DB)
	RegisterCommands(e, h, d)
	RegisterQueries(e, h, d)
}
