// Package config loads the process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
)

var ErrMissingRequired = errors.New("missing required configuration")

// Backends selectable with STORE and DISPATCH_INDEX.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

type Config struct {
	DatabaseURL string `envconfig:"DATABASE_URL"`
	RedisURL    string `envconfig:"REDIS_URL"`

	Store         string `envconfig:"STORE" default:"postgres"`
	DispatchIndex string `envconfig:"DISPATCH_INDEX" default:"redis"`

	HTTPAddr          string `envconfig:"HTTP_ADDR" default:":8000"`
	BrowserServiceURL string `envconfig:"BROWSER_SERVICE_URL" default:"http://browser-service:3000"`

	// Alerts go to the log always and to NSQ when NSQD_ADDR is set.
	NSQDAddr   string `envconfig:"NSQD_ADDR"`
	AlertTopic string `envconfig:"ALERT_TOPIC" default:"automation.alerts"`
	AuditTopic string `envconfig:"AUDIT_TOPIC" default:"automation.audit"`
	// AuditActions limits the audit trail, e.g. "job.failed,job.timed_out".
	// Empty records every action.
	AuditActions []string `envconfig:"AUDIT_ACTIONS"`

	SweepReconcile string `envconfig:"SWEEP_RECONCILE" default:"@every 1m"`
	SweepTimeout   string `envconfig:"SWEEP_TIMEOUT" default:"@every 30s"`
	SweepActivate  string `envconfig:"SWEEP_ACTIVATE" default:"@every 15s"`
	SweepHealth    string `envconfig:"SWEEP_HEALTH" default:"@every 5m"`

	// Live transport
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"30s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"90s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	// LiveAPIKeys maps bearer tokens to subjects with global access.
	// Empty accepts every subscriber.
	LiveAPIKeys map[string]string `envconfig:"LIVE_API_KEYS"`

	// Per-client create admission. Zero rate disables it.
	CreateRate  float64 `envconfig:"CREATE_RATE" default:"0"`
	CreateBurst int     `envconfig:"CREATE_BURST" default:"10"`

	// WorkerConcurrency runs an in-process execution backend. Zero
	// leaves execution to the browser service.
	WorkerConcurrency int `envconfig:"WORKER_CONCURRENCY" default:"0"`

	DefaultMaxRetries int           `envconfig:"DEFAULT_MAX_RETRIES" default:"3"`
	DefaultTimeout    time.Duration `envconfig:"DEFAULT_JOB_TIMEOUT" default:"1h"`
	ShutdownTimeout   time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	// Resilience
	BootstrapRetryAttempts int           `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelay    time.Duration `envconfig:"BOOTSTRAP_RETRY_DELAY" default:"2s"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	// Ignore errors, as env vars might be set in the shell.
	_ = godotenv.Load(".env")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: DATABASE_URL", ErrMissingRequired)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config: STORE must be %s or %s, got %q", BackendPostgres, BackendMemory, c.Store)
	}
	switch c.DispatchIndex {
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%w: REDIS_URL", ErrMissingRequired)
		}
	case BackendPostgres:
		if c.Store != BackendPostgres {
			return errors.New("config: DISPATCH_INDEX=postgres requires STORE=postgres")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config: DISPATCH_INDEX must be %s, %s or %s, got %q",
			BackendRedis, BackendPostgres, BackendMemory, c.DispatchIndex)
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("%w: HTTP_ADDR", ErrMissingRequired)
	}
	if c.CreateRate < 0 || c.CreateBurst < 0 {
		return errors.New("config: CREATE_RATE and CREATE_BURST must not be negative")
	}
	if c.HeartbeatInterval <= 0 || c.IdleTimeout <= c.HeartbeatInterval {
		return errors.New("config: IDLE_TIMEOUT must exceed a positive HEARTBEAT_INTERVAL")
	}
	return nil
}

// Engine returns the library configuration.
func (c *Config) Engine() automation.Config {
	ec := automation.DefaultConfig()
	ec.DefaultMaxRetries = c.DefaultMaxRetries
	ec.DefaultTimeout = c.DefaultTimeout
	ec.ReconcileSchedule = c.SweepReconcile
	ec.TimeoutSchedule = c.SweepTimeout
	ec.ActivateSchedule = c.SweepActivate
	ec.HealthSchedule = c.SweepHealth
	ec.ShutdownTimeout = c.ShutdownTimeout
	return ec
}
