// SPDX-License-Identifier: AGPL-3.0-or-later

package bootconfig

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/couchkit/internal/validation"
)

// DefaultConfigPaths lists the paths searched for a bootstrap config file,
// in priority order. The first one found wins.
var DefaultConfigPaths = []string{
	"couchkit.yaml",
	"couchkit.yml",
	"/etc/couchkit/couchkit.yaml",
}

// ConfigPathEnvVar overrides the search paths with an exact file.
const ConfigPathEnvVar = "COUCHKIT_CONFIG_PATH"

// envPrefix is stripped from environment variable names before they are
// lowercased and dotted into koanf paths.
const envPrefix = "COUCHKIT_"

// Load builds the bootstrap Config from three layered sources, in
// increasing priority: built-in defaults, an optional YAML file, then
// environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("bootconfig: load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("bootconfig: load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("bootconfig: load environment: %w", err)
	}

	if err := expandCommaSeparated(k, "seeds"); err != nil {
		return nil, fmt.Errorf("bootconfig: expand seeds: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("bootconfig: unmarshal: %w", err)
	}

	if verr := validation.ValidateStruct(cfg); verr != nil {
		return nil, fmt.Errorf("bootconfig: %w", verr)
	}

	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envMappings maps environment variable suffixes (after envPrefix, already
// lowercased) to koanf dotted paths. An explicit table, rather than a
// blanket underscore-to-dot rewrite, because several field names (e.g.
// min_endpoints) contain underscores themselves.
var envMappings = map[string]string{
	"seeds":  "seeds",
	"bucket": "bucket",

	"tls_enabled":              "tls.enabled",
	"tls_cert_file":            "tls.cert_file",
	"tls_key_file":             "tls.key_file",
	"tls_ca_file":              "tls.ca_file",
	"tls_insecure_skip_verify": "tls.insecure_skip_verify",

	"timeout_connect":    "timeouts.connect",
	"timeout_key_value":  "timeouts.key_value",
	"timeout_query":      "timeouts.query",
	"timeout_view":       "timeouts.view",
	"timeout_analytics":  "timeouts.analytics",
	"timeout_management": "timeouts.management",

	"pool_min_endpoints": "pool.min_endpoints",
	"pool_max_endpoints": "pool.max_endpoints",

	"retry_initial_interval": "retry.initial_interval",
	"retry_max_interval":     "retry.max_interval",
	"retry_multiplier":       "retry.multiplier",
	"retry_max_elapsed_time": "retry.max_elapsed_time",

	"log_level":  "logging.level",
	"log_format": "logging.format",
}

// envTransform maps COUCHKIT_<KEY> environment variables onto koanf paths
// using envMappings; unmapped variables are skipped so unrelated
// environment noise doesn't leak into the config tree.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}

// expandCommaSeparated splits an environment-sourced comma list into a
// koanf slice; values arriving from the YAML file are already sequences
// and are left untouched.
func expandCommaSeparated(k *koanf.Koanf, path string) error {
	val := k.Get(path)
	switch val.(type) {
	case []interface{}, []string, nil:
		return nil
	}

	str, ok := val.(string)
	if !ok || str == "" {
		return nil
	}

	parts := strings.Split(str, ",")
	trimmed := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			trimmed = append(trimmed, p)
		}
	}
	if len(trimmed) == 0 {
		return nil
	}
	return k.Set(path, trimmed)
}
