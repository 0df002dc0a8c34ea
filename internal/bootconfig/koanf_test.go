// SPDX-License-Identifier: AGPL-3.0-or-later

package bootconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if len(cfg.Seeds) != 1 || cfg.Seeds[0] != "127.0.0.1:11210" {
		t.Errorf("Seeds = %v, want [127.0.0.1:11210]", cfg.Seeds)
	}
	if cfg.TLS.Enabled {
		t.Error("TLS.Enabled should be false by default")
	}
	if cfg.Timeouts.KeyValue != 2500*time.Millisecond {
		t.Errorf("Timeouts.KeyValue = %v, want 2.5s", cfg.Timeouts.KeyValue)
	}
	if cfg.Pool.MaxEndpoints != 12 {
		t.Errorf("Pool.MaxEndpoints = %d, want 12", cfg.Pool.MaxEndpoints)
	}
	if cfg.Retry.Multiplier != 1.5 {
		t.Errorf("Retry.Multiplier = %v, want 1.5", cfg.Retry.Multiplier)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoadAppliesFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "couchkit.yaml")
	yaml := "seeds:\n  - db-1.internal:11210\n  - db-2.internal:11210\nlogging:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("COUCHKIT_POOL_MAX_ENDPOINTS", "24")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Seeds) != 2 || cfg.Seeds[1] != "db-2.internal:11210" {
		t.Errorf("Seeds = %v, want two db-*.internal entries", cfg.Seeds)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug (from file)", cfg.Logging.Level)
	}
	if cfg.Pool.MaxEndpoints != 24 {
		t.Errorf("Pool.MaxEndpoints = %d, want 24 (from env)", cfg.Pool.MaxEndpoints)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Setenv("COUCHKIT_LOG_LEVEL", "verbose")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for an unsupported log level")
	}
}

func TestExpandCommaSeparatedSeeds(t *testing.T) {
	t.Setenv("COUCHKIT_SEEDS", "a.internal:11210, b.internal:11210")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Seeds) != 2 || cfg.Seeds[0] != "a.internal:11210" || cfg.Seeds[1] != "b.internal:11210" {
		t.Errorf("Seeds = %v, want [a.internal:11210 b.internal:11210]", cfg.Seeds)
	}
}
