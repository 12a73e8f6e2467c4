package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/funding-ledger/config"
)

var keys = []string{
	"PORT", "DATABASE_PATH", "LOG_LEVEL", "LOG_JSON", "LEDGER_POLICY_FILE",
	"RETRY_MAX_ATTEMPTS", "RETRY_BASE_DELAY", "RETRY_MAX_DELAY",
	"RECONCILE_ENABLED", "RECONCILE_INTERVAL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "ledger.db", cfg.DatabasePath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.LogJSON)
	assert.Empty(t, cfg.PolicyFile)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 200*time.Millisecond, cfg.Retry.MaxDelay)
	assert.True(t, cfg.ReconcileEnabled)
	assert.Equal(t, time.Hour, cfg.ReconcileInterval)
}

func TestLoad_EnvironmentAndFlags(t *testing.T) {
	// GIVEN: Environment overrides
	// WHEN: Flags are also passed
	// THEN: Flags win over the environment

	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("DATABASE_PATH", "/tmp/env.db")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("RECONCILE_INTERVAL", "15m")
	t.Setenv("RECONCILE_ENABLED", "false")

	cfg, err := config.Load([]string{"-port", "9100", "-log-json", "-policy", "policy.json"})
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "/tmp/env.db", cfg.DatabasePath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.LogJSON)
	assert.Equal(t, "policy.json", cfg.PolicyFile)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.False(t, cfg.ReconcileEnabled)
	assert.Equal(t, 15*time.Minute, cfg.ReconcileInterval)
}

func TestLoad_AggregatesErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "eighty")
	t.Setenv("LOG_LEVEL", "verbose")
	t.Setenv("RETRY_BASE_DELAY", "1s")
	t.Setenv("RETRY_MAX_DELAY", "10ms")

	_, err := config.Load(nil)
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "configuration validation failed")
	assert.Contains(t, msg, `PORT must be an integer, got "eighty"`)
	assert.Contains(t, msg, "LOG_LEVEL must be")
	assert.Contains(t, msg, "RETRY_MAX_DELAY must not be below RETRY_BASE_DELAY")
}

func TestLoad_UnknownFlag(t *testing.T) {
	clearEnv(t)
	_, err := config.Load([]string{"-verbose"})
	assert.Error(t, err)
}
