package automation

import "time"

// Config holds the engine-level settings of an Orchestrator.
type Config struct {
	// DefaultListLimit applies when a list query has no limit.
	DefaultListLimit int

	// MaxListLimit bounds the page size of a list query.
	MaxListLimit int

	// DefaultMaxRetries is assigned to jobs created without max_retries.
	DefaultMaxRetries int

	// DefaultTimeout is assigned to jobs created without timeout_seconds.
	DefaultTimeout time.Duration

	// ReconcileSchedule runs every backstop and repairs the dispatch index
	// against the store.
	ReconcileSchedule string

	// TimeoutSchedule force-fails running jobs past their timeout.
	TimeoutSchedule string

	// ActivateSchedule promotes pending jobs whose gates have opened.
	ActivateSchedule string

	// HealthSchedule checks queue depth and failure rate and raises
	// alerts.
	HealthSchedule string

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with the stock defaults.
func DefaultConfig() Config {
	return Config{
		DefaultListLimit:  50,
		MaxListLimit:      200,
		DefaultMaxRetries: 3,
		DefaultTimeout:    time.Hour,
		ReconcileSchedule: "@every 1m",
		TimeoutSchedule:   "@every 30s",
		ActivateSchedule:  "@every 15s",
		HealthSchedule:    "@every 5m",
		ShutdownTimeout:   30 * time.Second,
	}
}
