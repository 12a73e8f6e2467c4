// Package config provides server configuration loading from .env, the
// environment and command-line flags, in increasing precedence.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/warp/funding-ledger/ledger"
)

// Config holds all configuration for the server.
type Config struct {
	Port         int
	DatabasePath string
	LogLevel     string
	LogJSON      bool
	PolicyFile   string

	Retry ledger.RetryConfig

	ReconcileEnabled  bool
	ReconcileInterval time.Duration
}

// Load reads configuration. A missing .env file is not an error.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	var errs []string
	cfg := &Config{
		Port:              intEnv("PORT", 8080, &errs),
		DatabasePath:      stringEnv("DATABASE_PATH", "ledger.db"),
		LogLevel:          strings.ToLower(stringEnv("LOG_LEVEL", "info")),
		LogJSON:           boolEnv("LOG_JSON", false, &errs),
		PolicyFile:        os.Getenv("LEDGER_POLICY_FILE"),
		ReconcileEnabled:  boolEnv("RECONCILE_ENABLED", true, &errs),
		ReconcileInterval: durationEnv("RECONCILE_INTERVAL", time.Hour, &errs),
		Retry: ledger.RetryConfig{
			MaxAttempts: intEnv("RETRY_MAX_ATTEMPTS", 3, &errs),
			BaseDelay:   durationEnv("RETRY_BASE_DELAY", 10*time.Millisecond, &errs),
			MaxDelay:    durationEnv("RETRY_MAX_DELAY", 200*time.Millisecond, &errs),
		},
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fs.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, `SQLite database path (":memory:" for in-memory)`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "write JSON logs")
	fs.StringVar(&cfg.PolicyFile, "policy", cfg.PolicyFile, "ledger policy JSON file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return cfg, nil
}

func (c *Config) validate() []string {
	var errs []string
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be between 1 and 65535, got %d", c.Port))
	}
	if c.DatabasePath == "" {
		errs = append(errs, "DATABASE_PATH is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if c.Retry.BaseDelay <= 0 {
		errs = append(errs, "RETRY_BASE_DELAY must be positive")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		errs = append(errs, "RETRY_MAX_DELAY must not be below RETRY_BASE_DELAY")
	}
	if c.ReconcileEnabled && c.ReconcileInterval <= 0 {
		errs = append(errs, "RECONCILE_INTERVAL must be positive when reconciliation is enabled")
	}
	return errs
}

func stringEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int, errs *[]string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be an integer, got %q", key, v))
		return def
	}
	return n
}

func boolEnv(key string, def bool, errs *[]string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be a boolean, got %q", key, v))
		return def
	}
	return b
}

func durationEnv(key string, def time.Duration, errs *[]string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be a duration, got %q", key, v))
		return def
	}
	return d
}
