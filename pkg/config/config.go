// Package config loads daemon configuration from environment variables
// and seed rule profiles from YAML.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string

	// DatabaseURL selects Postgres when set; empty falls back to the
	// SQLite file at DBPath.
	DatabaseURL string
	DBPath      string

	// MasterSecret feeds surface-token derivation. Empty disables auth.
	MasterSecret string
	TokenTTL     time.Duration

	// RedisAddr selects the shared rate-limit store; empty keeps the
	// in-process limiter.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RateRPS       int
	RateBurst     int

	// AutoApplyCap bounds policy-triggered applies per session.
	AutoApplyCap int
	AutoApplyTTL time.Duration

	// ProfilePath names a YAML rules profile seeded on first boot.
	ProfilePath string

	// ExportDir is where evidence bundles land with the file sink.
	ExportDir string

	TelemetryEnabled bool
	OTLPEndpoint     string
	Environment      string
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbPath := os.Getenv("AGENTGATE_DB")
	if dbPath == "" {
		dbPath = "agentgate.db"
	}

	otlpEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}

	environment := os.Getenv("ENVIRONMENT")
	if environment == "" {
		environment = "development"
	}

	exportDir := os.Getenv("EXPORT_DIR")
	if exportDir == "" {
		exportDir = "exports"
	}

	return &Config{
		Port:     port,
		LogLevel: logLevel,

		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBPath:      dbPath,

		MasterSecret: os.Getenv("AGENTGATE_SECRET"),
		TokenTTL:     envDuration("AGENTGATE_TOKEN_TTL", 24*time.Hour),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),
		RateRPS:       envInt("RATE_LIMIT_RPS", 5),
		RateBurst:     envInt("RATE_LIMIT_BURST", 10),

		AutoApplyCap: envInt("AUTO_APPLY_CAP", 0),
		AutoApplyTTL: envDuration("AUTO_APPLY_TTL", 0),

		ProfilePath: os.Getenv("AGENTGATE_PROFILE"),
		ExportDir:   exportDir,

		TelemetryEnabled: os.Getenv("OTEL_ENABLED") == "true",
		OTLPEndpoint:     otlpEndpoint,
		Environment:      environment,
	}
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
