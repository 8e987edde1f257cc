package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "mysql", cfg.DB.Driver)
	assert.Equal(t, DefaultEngineConfig(), cfg.Engine)
	assert.Equal(t, 7*24*time.Hour, cfg.Engine.ExpiringSoonHorizon())
	assert.Equal(t, 7*24*time.Hour, cfg.Engine.InvitationTTL())
	assert.Equal(t, "seat.events", cfg.AMQP.Queue)
	assert.True(t, cfg.Cache.Caches("get"))
	assert.False(t, cfg.Cache.Caches("POST"))
	assert.Equal(t, "root@tcp(127.0.0.1:3306)/seat_pools?charset=utf8mb4&parseTime=true&loc=UTC", cfg.DB.DataSource())
}

func TestParseOverrides(t *testing.T) {
	cfg, err := Parse(map[string]string{
		"DB_DRIVER":               "sqlite",
		"DB_DSN":                  "file:x.db",
		"DEFAULT_ALLOW_REPLACE":   "true",
		"BATCH_SIZE":              "25",
		"DATA_RETENTION_DAYS":     "0",
		"RESYNC_SCHEDULE":         "*/15 * * * *",
		"CACHE_METHODS":           "GET,HEAD",
		"RATE_LIMIT_BURST":        "5",
		"RATE_LIMIT_REFILL_EVERY": "2s",
	})
	require.NoError(t, err)

	assert.Equal(t, "file:x.db", cfg.DB.DataSource())
	assert.True(t, cfg.Engine.DefaultAllowReplace)
	assert.Equal(t, 25, cfg.Engine.BatchSize)
	assert.True(t, cfg.Cache.Caches("HEAD"))
	assert.Equal(t, 5, cfg.RateLimit.Capacity)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 10*time.Minute, cfg.RateLimit.TTL)

	_, ok := cfg.Engine.RetentionCutoff(time.Now())
	assert.False(t, ok)
}

func TestParseRejectsInvalid(t *testing.T) {
	for name, environ := range map[string]map[string]string{
		"driver":    {"DB_DRIVER": "postgres"},
		"batch":     {"BATCH_SIZE": "0"},
		"schedule":  {"RESYNC_SCHEDULE": "every tuesday"},
		"retention": {"DATA_RETENTION_DAYS": "-1"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(environ)
			assert.Error(t, err)
		})
	}
}

func TestRetentionCutoff(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	cutoff, ok := EngineConfig{DataRetentionDays: 30}.RetentionCutoff(now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 2, 8, 0, 0, 0, 0, time.UTC), cutoff)
}

func TestRequireJWT(t *testing.T) {
	assert.ErrorIs(t, Config{}.RequireJWT(), ErrMissingJWTSecret)
	assert.NoError(t, Config{JWT: JWTConfig{Secret: "s"}}.RequireJWT())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("EXPIRING_SOON_DAYS=3\n"), 0o600))
	t.Setenv("EXPIRING_SOON_DAYS", "")
	os.Unsetenv("EXPIRING_SOON_DAYS")

	cfg, err := Load(path, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Engine.ExpiringSoonDays)
}
