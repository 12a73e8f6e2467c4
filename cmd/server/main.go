/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the funding ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the logger
  3. Initialize SQLite store (applies migrations)
  4. Load the ledger policy
  5. Create ledger, metrics registry and API handler
  6. Start drift verification scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port       HTTP server port (PORT, default: 8080)
  -db         SQLite database path (DATABASE_PATH, default: ledger.db)
              Use ":memory:" for in-memory database
  -log-level  debug, info, warn, error (LOG_LEVEL, default: info)
  -log-json   JSON log output (LOG_JSON)
  -policy     Ledger policy JSON file (LEDGER_POLICY_FILE)

ENVIRONMENT:
  RETRY_MAX_ATTEMPTS, RETRY_BASE_DELAY, RETRY_MAX_DELAY,
  RECONCILE_ENABLED, RECONCILE_INTERVAL. See config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/warp/funding-ledger/api"
	"github.com/warp/funding-ledger/config"
	"github.com/warp/funding-ledger/factory"
	"github.com/warp/funding-ledger/ledger"
	"github.com/warp/funding-ledger/logging"
	"github.com/warp/funding-ledger/store/sqlite"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logging.New(cfg.LogLevel, cfg.LogJSON)

	// Initialize store
	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("failed to initialize database")
	}
	defer store.Close()

	policy, err := factory.LoadPolicyFile(cfg.PolicyFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.PolicyFile).Msg("failed to load ledger policy")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	l := ledger.New(store, ledger.Config{
		Rules:        policy.Rules,
		Cancellation: policy.Cancellation,
		Retry:        cfg.Retry,
		Audit:        ledger.MultiSink(store, ledger.LogAuditSink{Log: log.With().Str("component", "audit").Logger()}),
		Metrics:      ledger.NewMetrics(reg),
		Logger:       &log,
	})

	handler := api.NewHandler(l, store, log)
	handler.Scheduler.Enabled = cfg.ReconcileEnabled
	handler.Scheduler.CheckInterval = cfg.ReconcileInterval
	handler.Scheduler.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, reg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Int("port", cfg.Port).Str("db", cfg.DatabasePath).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	handler.Scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
