package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/promptdeck/agentgate/pkg/api"
	"github.com/promptdeck/agentgate/pkg/approvals"
	"github.com/promptdeck/agentgate/pkg/audit"
	"github.com/promptdeck/agentgate/pkg/config"
	"github.com/promptdeck/agentgate/pkg/events"
	"github.com/promptdeck/agentgate/pkg/observability"
	"github.com/promptdeck/agentgate/pkg/policy"
	"github.com/promptdeck/agentgate/pkg/preview"
	"github.com/promptdeck/agentgate/pkg/security"
	"github.com/promptdeck/agentgate/pkg/store"
	"github.com/promptdeck/agentgate/pkg/throttle"
	"github.com/promptdeck/agentgate/pkg/tools"

	_ "github.com/lib/pq" // Postgres driver
)

// dataStore is what serve needs from a backend: the approvals store
// plus preference reads and writes.
type dataStore interface {
	approvals.Store
	policy.PreferenceStore
}

func runServe(stdout, stderr io.Writer) int {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	ctx := context.Background()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "store: %v\n", err)
		return 1
	}
	defer closeStore()

	var provider *observability.Provider
	if cfg.TelemetryEnabled {
		provider, err = observability.New(ctx, &observability.Config{
			ServiceName:    "agentgated",
			ServiceVersion: "1.0.0",
			Environment:    cfg.Environment,
			OTLPEndpoint:   cfg.OTLPEndpoint,
			SampleRate:     1.0,
			BatchTimeout:   5 * time.Second,
			Enabled:        true,
			Insecure:       cfg.Environment == "development",
		})
		if err != nil {
			fmt.Fprintf(stderr, "observability: %v\n", err)
			return 1
		}
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = provider.Shutdown(shutCtx)
		}()
	}

	bus := events.NewBus(logger)
	auditor := audit.NewLogger()
	stopRecorder := audit.RecordLifecycle(bus, auditor)
	defer stopRecorder()

	registry := tools.NewRegistry(audit.ExecutionHook(auditor))
	registerStubExecutors(registry, logger)

	caps := security.FromEnv()
	logger.Info("capability grants", "file_write", caps.FileWrite, "code_execution", caps.CodeExecution)

	engine, err := policy.NewEngine(st, logger)
	if err != nil {
		fmt.Fprintf(stderr, "policy engine: %v\n", err)
		return 1
	}

	svc := approvals.NewService(st, bus, security.NewGate(caps), registry).
		WithLogger(logger).
		WithPolicyEngine(engine).
		WithLimiter(throttle.NewSessionLimiter(cfg.AutoApplyCap, cfg.AutoApplyTTL))

	if provider != nil {
		metrics, err := provider.ApprovalMetrics()
		if err != nil {
			fmt.Fprintf(stderr, "metrics: %v\n", err)
			return 1
		}
		svc.WithMetrics(metrics)
	}

	if cfg.ProfilePath != "" {
		profile, err := config.LoadRulesProfile(cfg.ProfilePath)
		if err != nil {
			fmt.Fprintf(stderr, "profile: %v\n", err)
			return 1
		}
		seeded, err := config.SeedPreferences(ctx, st, profile)
		if err != nil {
			fmt.Fprintf(stderr, "profile: %v\n", err)
			return 1
		}
		if seeded {
			logger.Info("seeded rules profile", "path", cfg.ProfilePath, "name", profile.Name)
		}
	}

	server := api.NewServer(svc, bus, st).WithLogger(logger).WithAudit(auditor)

	if cfg.MasterSecret != "" {
		issuer, err := api.NewTokenIssuer([]byte(cfg.MasterSecret), cfg.TokenTTL)
		if err != nil {
			fmt.Fprintf(stderr, "auth: %v\n", err)
			return 1
		}
		server.WithAuth(issuer)
		logger.Info("bearer auth enabled", "token_ttl", cfg.TokenTTL)
	} else {
		logger.Warn("AGENTGATE_SECRET not set; the bridge API is unauthenticated")
	}

	if cfg.RedisAddr != "" {
		server.WithLimiter(api.NewRedisLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RateRPS, cfg.RateBurst))
		logger.Info("redis rate limiting enabled", "addr", cfg.RedisAddr)
	} else {
		server.WithLimiter(api.NewMemoryLimiter(cfg.RateRPS, cfg.RateBurst))
	}

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("bridge API listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		fmt.Fprintf(stderr, "server: %v\n", err)
		return 1
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("shutdown", "error", err)
		return 1
	}
	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// openStore picks Postgres when DATABASE_URL is set and falls back to
// the SQLite file otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dataStore, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Info("DATABASE_URL not set, using sqlite", "path", cfg.DBPath)
		st, err := store.OpenSQLite(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("postgres ping: %w", err)
	}
	st, err := store.NewPostgresStore(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	logger.Info("postgres connected")
	return st, func() { _ = db.Close() }, nil
}

// registerStubExecutors wires placeholder executors for every tool
// family. Real executors belong to the agent runtime embedding the
// service; the standalone daemon only acknowledges the decision.
func registerStubExecutors(registry *tools.Registry, logger *slog.Logger) {
	for _, tool := range []preview.Tool{preview.ToolFile, preview.ToolEdit, preview.ToolTerminal, preview.ToolSearch, preview.ToolContext} {
		registry.Register(tool, tools.ExecutorFunc(func(context.Context, map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"acknowledged": true}, nil
		}))
	}
	logger.Warn("stub executors registered; applies acknowledge without side effects")
}
