package router_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/training-seat-pools/internal/config"
	"github.com/iliyamo/training-seat-pools/internal/database/dbtest"
	"github.com/iliyamo/training-seat-pools/internal/engine"
	"github.com/iliyamo/training-seat-pools/internal/handler"
	"github.com/iliyamo/training-seat-pools/internal/repository"
	"github.com/iliyamo/training-seat-pools/internal/router"
	"github.com/iliyamo/training-seat-pools/internal/utils"
)

const secret = "router-secret"

func newEcho(t *testing.T) *echo.Echo {
	t.Helper()
	db := dbtest.OpenSQLite(t)
	ctx := context.Background()
	for _, q := range []string{
		`INSERT INTO organizations (id, name) VALUES ('org-1', 'Acme')`,
		`INSERT INTO org_members (org_id, member_id) VALUES ('org-1', 'ann')`,
		`INSERT INTO courses (id, org_id, title) VALUES ('c1', 'org-1', 'Go')`,
	} {
		_, err := db.ExecContext(ctx, q)
		require.NoError(t, err)
	}
	cfg, err := config.Parse(map[string]string{"JWT_SECRET": secret, "JWT_ISSUER": "seat-pools"})
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	eng := engine.New(db, repository.NewSeatStore(), engine.Options{
		Directory: repository.NewDirectoryRepo(db),
		Logger:    logger,
		Config:    cfg.Engine,
	})
	h := handler.NewSeatPoolHandler(eng, engine.NewResyncer(eng), logger)
	e := echo.New()
	router.Register(e, h, router.Deps{Config: cfg, DB: db, Logger: logger})
	return e
}

func request(t *testing.T, e *echo.Echo, method, path, role, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if role != "" {
		tok, err := utils.NewAccessToken(secret, "seat-pools", "tester", role, time.Hour)
		require.NoError(t, err)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok.Token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCapabilityChecks(t *testing.T) {
	e := newEcho(t)
	create := `{"org_id":"org-1","capacity":2}`

	assert.Equal(t, http.StatusUnauthorized, request(t, e, http.MethodPost, "/v1/pools", "", create).Code)
	assert.Equal(t, http.StatusForbidden, request(t, e, http.MethodPost, "/v1/pools", utils.RoleViewer, create).Code)
	assert.Equal(t, http.StatusCreated, request(t, e, http.MethodPost, "/v1/pools", utils.RoleManager, create).Code)

	assert.Equal(t, http.StatusUnauthorized, request(t, e, http.MethodGet, "/v1/pools", "", "").Code)
	assert.Equal(t, http.StatusOK, request(t, e, http.MethodGet, "/v1/pools", utils.RoleViewer, "").Code)
	assert.Equal(t, http.StatusForbidden, request(t, e, http.MethodGet, "/v1/pools", "GUEST", "").Code)

	rec := request(t, e, http.MethodPost, "/v1/pools/1/seats", utils.RoleAdmin, `{"member_id":"ann","course_id":"c1"}`)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusForbidden, request(t, e, http.MethodPost, "/v1/resync", utils.RoleViewer, "").Code)
}

func TestPublicRoutes(t *testing.T) {
	e := newEcho(t)
	assert.Equal(t, http.StatusOK, request(t, e, http.MethodGet, "/healthz", "", "").Code)
	assert.Equal(t, http.StatusOK, request(t, e, http.MethodGet, "/readyz", "", "").Code)

	rec := request(t, e, http.MethodPost, "/v1/pools", utils.RoleAdmin, `{"org_id":"org-1","capacity":1}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = request(t, e, http.MethodPost, "/v1/pools/1/seats", utils.RoleAdmin, `{"member_id":"ann","course_id":"c1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = request(t, e, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "seatpool_ledger_grants_total")
}
