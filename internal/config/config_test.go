package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
reconcileInterval: 1m
waveDeadline: 10m
parallel: true
kindConcurrency:
  Deployment: 2
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, 10*time.Minute, cfg.WaveDeadline)
	assert.True(t, cfg.Parallel)
	// Kind keys keep their case; a folded "deployment" would never match
	// a live kind.
	assert.Equal(t, 2, cfg.KindConcurrency["Deployment"])
	assert.NotContains(t, cfg.KindConcurrency, "deployment")
	// Untouched fields keep their defaults.
	assert.Equal(t, Default().AutoscaleInterval, cfg.AutoscaleInterval)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*EngineConfig)
	}{
		{"zero interval", func(c *EngineConfig) { c.ReconcileInterval = 0 }},
		{"no snapshot dir", func(c *EngineConfig) { c.SnapshotDir = "" }},
		{"zero apply attempts", func(c *EngineConfig) { c.MaxApplyAttempts = 0 }},
		{"negative concurrency", func(c *EngineConfig) { c.DefaultConcurrency = -1 }},
		{"bad kind override", func(c *EngineConfig) {
			c.KindConcurrency = map[string]int{"Service": 0}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
