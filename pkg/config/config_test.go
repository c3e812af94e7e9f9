package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/promptdeck/agentgate/pkg/config"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
// Invariant: the daemon must boot with safe defaults in dev mode.
func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "DATABASE_URL", "AGENTGATE_DB", "AGENTGATE_SECRET",
		"AGENTGATE_TOKEN_TTL", "REDIS_ADDR", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"AUTO_APPLY_CAP", "AGENTGATE_PROFILE", "OTEL_ENABLED", "EXPORT_DIR",
	} {
		t.Setenv(key, "")
	}

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Empty(t, cfg.DatabaseURL, "empty database URL selects SQLite")
	assert.Equal(t, "agentgate.db", cfg.DBPath)
	assert.Empty(t, cfg.MasterSecret, "auth is opt-in")
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 5, cfg.RateRPS)
	assert.Equal(t, 10, cfg.RateBurst)
	assert.False(t, cfg.TelemetryEnabled)
	assert.Equal(t, "exports", cfg.ExportDir)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
// Invariant: ops can control config via standard 12-factor env vars.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DATABASE_URL", "postgres://production:5432/agentgate")
	t.Setenv("AGENTGATE_SECRET", "super-secret")
	t.Setenv("AGENTGATE_TOKEN_TTL", "90m")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("RATE_LIMIT_RPS", "2")
	t.Setenv("RATE_LIMIT_BURST", "4")
	t.Setenv("AUTO_APPLY_CAP", "3")
	t.Setenv("OTEL_ENABLED", "true")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "postgres://production:5432/agentgate", cfg.DatabaseURL)
	assert.Equal(t, "super-secret", cfg.MasterSecret)
	assert.Equal(t, 90*time.Minute, cfg.TokenTTL)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.RateRPS)
	assert.Equal(t, 4, cfg.RateBurst)
	assert.Equal(t, 3, cfg.AutoApplyCap)
	assert.True(t, cfg.TelemetryEnabled)
}

// TestLoad_MalformedNumbers verifies typed overrides fall back rather
// than panic or half-apply.
func TestLoad_MalformedNumbers(t *testing.T) {
	t.Setenv("RATE_LIMIT_RPS", "fast")
	t.Setenv("RATE_LIMIT_BURST", "lots")
	t.Setenv("AGENTGATE_TOKEN_TTL", "soon")

	cfg := config.Load()

	assert.Equal(t, 5, cfg.RateRPS)
	assert.Equal(t, 10, cfg.RateBurst)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
}
