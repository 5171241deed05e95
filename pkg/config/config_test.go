package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.General.Strategy != "balanced" {
		t.Errorf("expected balanced strategy, got %q", cfg.General.Strategy)
	}
	if cfg.General.RefreshIntervalSeconds != 30 {
		t.Errorf("expected 30s refresh interval, got %d", cfg.General.RefreshIntervalSeconds)
	}
	if cfg.General.MaxRetries != 3 {
		t.Errorf("expected max_retries 3, got %d", cfg.General.MaxRetries)
	}
	if cfg.Cache.Backend != "memory" {
		t.Errorf("expected memory cache backend, got %q", cfg.Cache.Backend)
	}
}

func TestDefaultConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestValidate_RejectsUnknownStrategy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.General.Strategy = "reckless"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestValidate_RejectsInvertedThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers["claude"] = ProviderConfig{ThresholdYellow: 0.2, ThresholdRed: 0.5}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when threshold_red exceeds threshold_yellow")
	}
}

func TestLoadConfigFromFile_ExpandsEnv(t *testing.T) {
	t.Setenv("RIGS_TEST_DSN", "postgres://example/db")

	dir := t.TempDir()
	path := filepath.Join(dir, "rigs.yaml")
	body := "database:\n  dsn: \"${RIGS_TEST_DSN}\"\ngeneral:\n  strategy: aggressive\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFromFile: %v", err)
	}
	if cfg.Database.DSN != "postgres://example/db" {
		t.Errorf("expected expanded DSN, got %q", cfg.Database.DSN)
	}
	if cfg.General.Strategy != "aggressive" {
		t.Errorf("expected aggressive strategy, got %q", cfg.General.Strategy)
	}
	// Unset sections keep defaults.
	if cfg.General.MaxRetries != 3 {
		t.Errorf("expected default max_retries to survive partial override, got %d", cfg.General.MaxRetries)
	}
}

func TestLoadConfigFromFile_MissingFile(t *testing.T) {
	if _, err := LoadConfigFromFile("/nonexistent/rigs.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}
