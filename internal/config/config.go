/*
Copyright 2025 The Wave Engine Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads and validates the engine configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"sigs.k8s.io/yaml"
)

// EngineConfig is the full runtime configuration. Every field has a default
// usable out of the box; a config file and WAVE_ENGINE_* environment
// variables override it.
type EngineConfig struct {
	// SnapshotDir is the directory holding the desired-state YAML
	// documents.
	SnapshotDir string `mapstructure:"snapshotDir"`

	// ReconcileInterval is the steady-state drift pass period.
	ReconcileInterval time.Duration `mapstructure:"reconcileInterval"`

	// AutoscaleInterval is the decision loop period, typically shorter
	// than the reconcile interval.
	AutoscaleInterval time.Duration `mapstructure:"autoscaleInterval"`

	// CollectInterval is the metrics sampling period.
	CollectInterval time.Duration `mapstructure:"collectInterval"`

	// WaveDeadline bounds how long one wave may await health.
	WaveDeadline time.Duration `mapstructure:"waveDeadline"`

	// MaxApplyAttempts caps retries per backend write.
	MaxApplyAttempts uint `mapstructure:"maxApplyAttempts"`

	// RetryBaseDelay is the initial apply backoff interval.
	RetryBaseDelay time.Duration `mapstructure:"retryBaseDelay"`

	// Parallel disables wave ordering for rollouts.
	Parallel bool `mapstructure:"parallel"`

	// DefaultConcurrency bounds concurrent applies per resource kind.
	DefaultConcurrency int `mapstructure:"defaultConcurrency"`

	// KindConcurrency overrides the bound for specific kinds.
	KindConcurrency map[string]int `mapstructure:"kindConcurrency"`

	// MetricsAddr is the listen address for the Prometheus endpoint.
	// Empty disables the endpoint.
	MetricsAddr string `mapstructure:"metricsAddr"`

	// AuditBuffer is the audit sink queue size.
	AuditBuffer int `mapstructure:"auditBuffer"`

	// Debug raises log verbosity.
	Debug bool `mapstructure:"debug"`
}

// Default returns the built-in configuration.
func Default() EngineConfig {
	return EngineConfig{
		SnapshotDir:        "./snapshot",
		ReconcileInterval:  30 * time.Second,
		AutoscaleInterval:  10 * time.Second,
		CollectInterval:    5 * time.Second,
		WaveDeadline:       5 * time.Minute,
		MaxApplyAttempts:   4,
		RetryBaseDelay:     250 * time.Millisecond,
		DefaultConcurrency: 4,
		MetricsAddr:        ":9090",
		AuditBuffer:        256,
	}
}

// Load reads configuration from the given file, if any, layered over the
// defaults and under WAVE_ENGINE_* environment variables.
func Load(path string) (EngineConfig, error) {
	cfg := Default()

	v := viper.New()
	v.SetDefault("snapshotDir", cfg.SnapshotDir)
	v.SetDefault("reconcileInterval", cfg.ReconcileInterval)
	v.SetDefault("autoscaleInterval", cfg.AutoscaleInterval)
	v.SetDefault("collectInterval", cfg.CollectInterval)
	v.SetDefault("waveDeadline", cfg.WaveDeadline)
	v.SetDefault("maxApplyAttempts", cfg.MaxApplyAttempts)
	v.SetDefault("retryBaseDelay", cfg.RetryBaseDelay)
	v.SetDefault("parallel", cfg.Parallel)
	v.SetDefault("defaultConcurrency", cfg.DefaultConcurrency)
	v.SetDefault("metricsAddr", cfg.MetricsAddr)
	v.SetDefault("auditBuffer", cfg.AuditBuffer)
	v.SetDefault("debug", cfg.Debug)

	v.SetEnvPrefix("WAVE_ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	if path != "" {
		// viper folds every key to lower case, which would mangle the
		// kind-keyed concurrency map ("Deployment" -> "deployment" never
		// matches a live kind). Take that map from the raw file instead.
		kinds, err := loadKindConcurrency(path)
		if err != nil {
			return cfg, err
		}
		if kinds != nil {
			cfg.KindConcurrency = kinds
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadKindConcurrency(path string) (map[string]int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var doc struct {
		KindConcurrency map[string]int `json:"kindConcurrency"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse kindConcurrency in %s: %w", path, err)
	}
	return doc.KindConcurrency, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *EngineConfig) Validate() error {
	if c.SnapshotDir == "" {
		return fmt.Errorf("snapshotDir must be set")
	}
	for name, d := range map[string]time.Duration{
		"reconcileInterval": c.ReconcileInterval,
		"autoscaleInterval": c.AutoscaleInterval,
		"collectInterval":   c.CollectInterval,
		"waveDeadline":      c.WaveDeadline,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.MaxApplyAttempts == 0 {
		return fmt.Errorf("maxApplyAttempts must be at least 1")
	}
	if c.DefaultConcurrency <= 0 {
		return fmt.Errorf("defaultConcurrency must be positive, got %d", c.DefaultConcurrency)
	}
	for kind, n := range c.KindConcurrency {
		if n <= 0 {
			return fmt.Errorf("kindConcurrency[%s] must be positive, got %d", kind, n)
		}
	}
	return nil
}
