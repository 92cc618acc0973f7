// Package config loads host configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Patterns selecting how webview content reaches the host
const (
	PatternBrownfield = "brownfield"
	PatternIsolation  = "isolation"
)

// Config holds the ipc-host settings
type Config struct {
	ListenAddr   string   `env:"IPC_LISTEN_ADDR" envDefault:"127.0.0.1:8787"`
	InvokeKey    string   `env:"IPC_INVOKE_KEY"`
	LocalOrigins []string `env:"IPC_LOCAL_ORIGINS" envSeparator:"," envDefault:"tauri://localhost,http://tauri.localhost"`

	Pattern            string `env:"IPC_PATTERN" envDefault:"brownfield"`
	IsolationOrigin    string `env:"IPC_ISOLATION_ORIGIN"`
	IsolationSecretARN string `env:"IPC_ISOLATION_SECRET_ARN"`

	CapabilityFile      string `env:"IPC_CAPABILITY_FILE"`
	CapabilityParameter string `env:"IPC_CAPABILITY_PARAMETER"`

	PluginTable     string        `env:"IPC_PLUGIN_TABLE"`
	MetricNamespace string        `env:"IPC_METRIC_NAMESPACE"`
	MetricInterval  time.Duration `env:"IPC_METRIC_INTERVAL" envDefault:"1m"`

	ResponseTimeout time.Duration `env:"IPC_RESPONSE_TIMEOUT" envDefault:"30s"`
	Workers         int           `env:"IPC_WORKERS" envDefault:"8"`
	QueueDepth      int           `env:"IPC_QUEUE_DEPTH" envDefault:"64"`

	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"ipc-host"`
	OTelEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the host configuration
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that depend on each other
func (c Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("IPC_LISTEN_ADDR is required"))
	}
	switch c.Pattern {
	case PatternBrownfield:
	case PatternIsolation:
		if c.IsolationOrigin == "" {
			errs = append(errs, errors.New("IPC_ISOLATION_ORIGIN is required for the isolation pattern"))
		}
		// The isolation frame is served separately and must share the key
		if c.IsolationSecretARN == "" {
			errs = append(errs, errors.New("IPC_ISOLATION_SECRET_ARN is required for the isolation pattern"))
		}
	default:
		errs = append(errs, fmt.Errorf("IPC_PATTERN must be %q or %q, got %q", PatternBrownfield, PatternIsolation, c.Pattern))
	}
	if c.CapabilityFile != "" && c.CapabilityParameter != "" {
		errs = append(errs, errors.New("set only one of IPC_CAPABILITY_FILE and IPC_CAPABILITY_PARAMETER"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("IPC_WORKERS must be at least 1, got %d", c.Workers))
	}
	if c.QueueDepth < 0 {
		errs = append(errs, fmt.Errorf("IPC_QUEUE_DEPTH must not be negative, got %d", c.QueueDepth))
	}
	if c.ResponseTimeout < 0 {
		errs = append(errs, fmt.Errorf("IPC_RESPONSE_TIMEOUT must not be negative, got %s", c.ResponseTimeout))
	}
	if c.MetricNamespace != "" && c.MetricInterval <= 0 {
		errs = append(errs, errors.New("IPC_METRIC_INTERVAL must be positive when metrics are enabled"))
	}
	return errors.Join(errs...)
}

// Isolated reports whether the isolation pattern is enabled
func (c Config) Isolated() bool {
	return c.Pattern == PatternIsolation
}
