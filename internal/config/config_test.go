package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "localhost:6379", cfg.Cache.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Cache.EntityStatusTTL)
	assert.Equal(t, time.Hour, cfg.Cache.ReportTTL)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "claude-opus-4-6", cfg.Anthropic.OpusModel)
	assert.Equal(t, int64(16384), cfg.Anthropic.SynthesisTokens)
	assert.Equal(t, "sonar-deep-research", cfg.Perplexity.ResearchModel)
	assert.Equal(t, 3, cfg.Reconcile.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Reconcile.InitialBackoff)
	assert.Equal(t, 2, cfg.Worker.Concurrency)
	assert.Equal(t, 15*time.Minute, cfg.Worker.LockDuration)
	assert.Equal(t, 24, cfg.Monitoring.LookbackHours)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("INTEL_STORE_DRIVER", "sqlite")
	t.Setenv("INTEL_ANTHROPIC_KEY", "sk-test")
	t.Setenv("INTEL_WORKER_CONCURRENCY", "4")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "sk-test", cfg.Anthropic.Key)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.Error(t, InitLogger(LogConfig{Level: "loud"}))
}
