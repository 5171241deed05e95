// Package config loads and hot-reloads rigs' YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration tree, loaded from a YAML file with
// ${VAR}-style environment expansion applied before parsing.
type Config struct {
	General  GeneralConfig             `yaml:"general"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Routing  RoutingConfig             `yaml:"routing"`
	Assayer  AssayerConfig             `yaml:"assayer"`
	Database DatabaseConfig            `yaml:"database"`
	Cache    CacheConfig               `yaml:"cache"`
	Server   ServerConfig              `yaml:"server"`
	Temporal TemporalConfig            `yaml:"temporal"`
}

// GeneralConfig holds the Dispatch/Foreman-wide knobs from spec §6.
type GeneralConfig struct {
	Strategy               string `yaml:"strategy"`
	RefreshIntervalSeconds int    `yaml:"refresh_interval_seconds"`
	ForemanIdleMS          int    `yaml:"foreman_idle_ms"`
	WorkerTimeoutSeconds   int    `yaml:"worker_timeout_seconds"`
	MaxRetries             int    `yaml:"max_retries"`
	ShutdownGraceSeconds   int    `yaml:"shutdown_grace_seconds"`
}

// ProviderConfig configures one Polecat/Tank pair.
type ProviderConfig struct {
	Enabled        bool         `yaml:"enabled"`
	Model          string       `yaml:"model"`
	Endpoint       string       `yaml:"endpoint,omitempty"`
	APIKeyRef      string       `yaml:"api_key_ref,omitempty"` // internal/secrets lookup key
	ThresholdYellow float64     `yaml:"threshold_yellow"`
	ThresholdRed    float64     `yaml:"threshold_red"`
	Limits         ProviderLimits `yaml:"limits"`
}

// ProviderLimits is the Tank's capacity/window configuration.
type ProviderLimits struct {
	TokensPerWindow  int64   `yaml:"tokens_per_window"`
	WindowHours      float64 `yaml:"window_hours"`
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	WeeklyCap        int64   `yaml:"weekly_cap,omitempty"`
	DailyCap         int64   `yaml:"daily_cap,omitempty"`
}

// RoutingConfig holds the task-type/provider affinity matrix.
type RoutingConfig struct {
	Affinity map[string]map[string]float64 `yaml:"affinity"`
}

// AssayerConfig names the model used by each Assayer pipeline stage.
type AssayerConfig struct {
	PlannerModel   string `yaml:"planner_model"`
	OptimizerModel string `yaml:"optimizer_model"`
	EstimatorModel string `yaml:"estimator_model"`
	QualityModel   string `yaml:"quality_model"`
}

// DatabaseConfig configures the Postgres repository.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// CacheConfig configures the Assayer's memoization cache.
type CacheConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Backend  string `yaml:"backend"` // "memory" or "redis"
	RedisURL string `yaml:"redis_url,omitempty"`
}

// ServerConfig configures the operator HTTP/WS surface.
type ServerConfig struct {
	HTTPPort  int    `yaml:"http_port"`
	JWTSecret string `yaml:"jwt_secret_ref"` // internal/secrets lookup key
}

// TemporalConfig configures the optional Temporal-backed convoy engine.
// When Enabled is false, rigsd plans and inserts convoy beads inline
// instead of durably, which is fine for single-process deployments that
// don't need a planning step to survive a restart.
type TemporalConfig struct {
	Enabled   bool   `yaml:"enabled"`
	HostPort  string `yaml:"host_port"`
	Namespace string `yaml:"namespace"`
	TaskQueue string `yaml:"task_queue"`
}

// DefaultConfig returns the configuration rigs starts with when no file is
// supplied, matching the spec's documented defaults for §6.
func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			Strategy:               "balanced",
			RefreshIntervalSeconds: 30,
			ForemanIdleMS:          5000,
			WorkerTimeoutSeconds:   600,
			MaxRetries:             3,
			ShutdownGraceSeconds:   30,
		},
		Providers: map[string]ProviderConfig{},
		Routing: RoutingConfig{
			Affinity: map[string]map[string]float64{},
		},
		Database: DatabaseConfig{},
		Cache: CacheConfig{
			Enabled: true,
			Backend: "memory",
		},
		Server: ServerConfig{
			HTTPPort: 8090,
		},
		Temporal: TemporalConfig{
			Enabled:   false,
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "rigs-convoys",
		},
	}
}

// LoadConfigFromFile reads a YAML config file, expanding ${VAR} references
// against the process environment before parsing, and merges it over
// DefaultConfig so omitted sections keep their defaults.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the subset of configuration invariants that cannot be
// expressed in the type system (strategy enum, threshold ordering).
func (c *Config) Validate() error {
	switch c.General.Strategy {
	case "conservative", "balanced", "aggressive":
	default:
		return fmt.Errorf("config: general.strategy %q is not one of conservative|balanced|aggressive", c.General.Strategy)
	}
	for name, p := range c.Providers {
		if p.ThresholdRed > p.ThresholdYellow {
			return fmt.Errorf("config: providers.%s: threshold_red (%v) must be <= threshold_yellow (%v)", name, p.ThresholdRed, p.ThresholdYellow)
		}
	}
	return nil
}
