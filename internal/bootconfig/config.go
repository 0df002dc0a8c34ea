// SPDX-License-Identifier: AGPL-3.0-or-later

package bootconfig

import "time"

// Config is the client's own bootstrap configuration: where to find seed
// nodes and how to behave while talking to them. It is distinct from
// clustertopo.ClusterConfig, which is the live topology snapshot the
// dispatcher reconciles against once connected.
type Config struct {
	Seeds  []string `koanf:"seeds" validate:"required,min=1,dive,hostname_port"`
	Bucket string   `koanf:"bucket" validate:"omitempty,max=100"`

	TLS      TLSConfig     `koanf:"tls"`
	Timeouts TimeoutConfig `koanf:"timeouts"`
	Pool     PoolConfig    `koanf:"pool"`
	Retry    RetryConfig   `koanf:"retry"`
	Logging  LoggingConfig `koanf:"logging"`
}

// TLSConfig controls whether the client dials nodes over TLS and which
// material to present/trust. CertFile/KeyFile are for client-certificate
// authentication; CAFile overrides the system trust store.
type TLSConfig struct {
	Enabled            bool   `koanf:"enabled"`
	CertFile           string `koanf:"cert_file" validate:"omitempty,file"`
	KeyFile            string `koanf:"key_file" validate:"omitempty,file"`
	CAFile             string `koanf:"ca_file" validate:"omitempty,file"`
	InsecureSkipVerify bool   `koanf:"insecure_skip_verify"`
}

// TimeoutConfig holds per-service-type default timeouts, applied to a
// Request when the caller doesn't supply one explicitly.
type TimeoutConfig struct {
	Connect    time.Duration `koanf:"connect" validate:"min=0"`
	KeyValue   time.Duration `koanf:"key_value" validate:"min=0"`
	Query      time.Duration `koanf:"query" validate:"min=0"`
	View       time.Duration `koanf:"view" validate:"min=0"`
	Analytics  time.Duration `koanf:"analytics" validate:"min=0"`
	Management time.Duration `koanf:"management" validate:"min=0"`
}

// PoolConfig bounds the number of endpoints a Service keeps open to one
// node for one service type.
type PoolConfig struct {
	MinEndpoints int `koanf:"min_endpoints" validate:"min=0"`
	MaxEndpoints int `koanf:"max_endpoints" validate:"min=1,gtefield=MinEndpoints"`
}

// RetryConfig parameterizes the backoff.ExponentialBackOff used by the
// default best-effort RetryStrategy.
type RetryConfig struct {
	InitialInterval time.Duration `koanf:"initial_interval" validate:"min=0"`
	MaxInterval     time.Duration `koanf:"max_interval" validate:"min=0"`
	Multiplier      float64       `koanf:"multiplier" validate:"min=1"`
	MaxElapsedTime  time.Duration `koanf:"max_elapsed_time" validate:"min=0"`
}

// LoggingConfig controls the zerolog setup used across the engine.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// Default returns the bootstrap configuration applied before any config
// file or environment override is layered on top.
func Default() *Config {
	return &Config{
		Seeds: []string{"127.0.0.1:11210"},
		TLS: TLSConfig{
			Enabled: false,
		},
		Timeouts: TimeoutConfig{
			Connect:    10 * time.Second,
			KeyValue:   2500 * time.Millisecond,
			Query:      75 * time.Second,
			View:       75 * time.Second,
			Analytics:  75 * time.Second,
			Management: 75 * time.Second,
		},
		Pool: PoolConfig{
			MinEndpoints: 1,
			MaxEndpoints: 12,
		},
		Retry: RetryConfig{
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      1.5,
			MaxElapsedTime:  30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
