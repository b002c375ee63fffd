package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config is the immutable process configuration, loaded once at
// startup from the environment, built on caarlos0/env + validator.
type Config struct {
	Env string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`

	// Queues is the allowlist enforced by the Producer (spec.md §4.2
	// step 1): a comma-separated list of queue names.
	Queues []string `env:"QUEUES" envDefault:"default" envSeparator:","`

	// QueueRoutes maps queue name (or glob pattern) to database alias,
	// comma-separated "pattern=alias" pairs, e.g. "reports.*=analytics".
	QueueRoutes map[string]string `env:"QUEUE_ROUTES" envSeparator:"," envKeyValSeparator:"="`

	WorkerConcurrency int `env:"WORKER_CONCURRENCY" envDefault:"10" validate:"min=1,max=1000"`
	ClaimBatchSize    int `env:"CLAIM_BATCH_SIZE" envDefault:"10" validate:"min=1,max=1000"`

	PollMinBackoffMS int `env:"POLL_MIN_BACKOFF_MS" envDefault:"200" validate:"min=1"`
	PollMaxBackoffMS int `env:"POLL_MAX_BACKOFF_MS" envDefault:"5000" validate:"min=1"`

	// AgingFactorSeconds is the divisor applied to a row's queued
	// duration when computing effective_priority (spec.md §4.3); 0
	// disables aging.
	AgingFactorSeconds int `env:"AGING_FACTOR_SECONDS" envDefault:"0" validate:"min=0"`

	LeaseSeconds     int `env:"LEASE_SECONDS" envDefault:"300" validate:"min=1"`
	HeartbeatSeconds int `env:"HEARTBEAT_SECONDS" envDefault:"30" validate:"min=1"`

	ReclaimIntervalSeconds  int  `env:"RECLAIM_INTERVAL_SECONDS" envDefault:"15" validate:"min=1"`
	ReclaimGraceSeconds     int  `env:"RECLAIM_GRACE_SECONDS" envDefault:"5" validate:"min=0"`
	ReclaimBatchSize        int  `env:"RECLAIM_BATCH_SIZE" envDefault:"100" validate:"min=1"`
	ReclaimIncludeNullLease bool `env:"RECLAIM_INCLUDE_NULL_LEASE" envDefault:"true"`

	RetryBaseBackoffSeconds int `env:"RETRY_BASE_BACKOFF_SECONDS" envDefault:"30" validate:"min=1"`
	RetryMaxBackoffSeconds  int `env:"RETRY_MAX_BACKOFF_SECONDS" envDefault:"3600" validate:"min=1"`

	PeriodicTickSeconds int `env:"PERIODIC_TICK_SECONDS" envDefault:"1" validate:"min=1"`
	PeriodicBatchSize   int `env:"PERIODIC_BATCH_SIZE" envDefault:"100" validate:"min=1"`

	ExecutorCommand        string `env:"EXECUTOR_COMMAND" envDefault:"reproq-exec" validate:"required"`
	MaxPayloadBytes        int    `env:"MAX_PAYLOAD_BYTES" envDefault:"1048576" validate:"min=1"`
	ShutdownTimeoutSeconds int    `env:"SHUTDOWN_TIMEOUT_SECONDS" envDefault:"30" validate:"min=1"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) PollMinBackoff() time.Duration {
	return time.Duration(c.PollMinBackoffMS) * time.Millisecond
}

func (c *Config) PollMaxBackoff() time.Duration {
	return time.Duration(c.PollMaxBackoffMS) * time.Millisecond
}

func (c *Config) AgingFactor() time.Duration {
	return time.Duration(c.AgingFactorSeconds) * time.Second
}

func (c *Config) LeaseDuration() time.Duration {
	return time.Duration(c.LeaseSeconds) * time.Second
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

func (c *Config) ReclaimInterval() time.Duration {
	return time.Duration(c.ReclaimIntervalSeconds) * time.Second
}

func (c *Config) ReclaimGrace() time.Duration {
	return time.Duration(c.ReclaimGraceSeconds) * time.Second
}

func (c *Config) RetryBaseBackoff() time.Duration {
	return time.Duration(c.RetryBaseBackoffSeconds) * time.Second
}

func (c *Config) RetryMaxBackoff() time.Duration {
	return time.Duration(c.RetryMaxBackoffSeconds) * time.Second
}

func (c *Config) PeriodicTickInterval() time.Duration {
	return time.Duration(c.PeriodicTickSeconds) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// QueueAllowlist trims whitespace around each configured queue name.
func (c *Config) QueueAllowlist() []string {
	out := make([]string, 0, len(c.Queues))
	for _, q := range c.Queues {
		q = strings.TrimSpace(q)
		if q != "" {
			out = append(out, q)
		}
	}
	return out
}
