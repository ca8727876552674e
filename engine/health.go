package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
)

// System health thresholds.
const (
	// FailureWindow is the look-back of the failure counter.
	FailureWindow = time.Hour
	// FailureThreshold is the failure count at which the job queue
	// degrades. A warning is raised once it is exceeded.
	FailureThreshold = 5
	// StaleQueueAge is how long a job may wait in the queue unclaimed.
	StaleQueueAge = 30 * time.Minute
)

// HealthStatus grades the job queue.
type HealthStatus string

const (
	HealthHealthy HealthStatus = "healthy"
	HealthWarning HealthStatus = "warning"
)

// Warning categories.
const (
	WarningFailureRate = "failure_rate"
	WarningStaleQueue  = "stale_queue"
)

// Warning is one condition an operator should look at.
type Warning struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Count    int    `json:"count"`
}

// SystemHealth is a point-in-time report on dispatch and execution.
type SystemHealth struct {
	Status HealthStatus `json:"status"`
	// QueueSizes is the dispatch index depth keyed by tier name.
	QueueSizes map[string]int `json:"queue_sizes"`
	job.Load
	Warnings  []Warning `json:"alerts"`
	CheckedAt time.Time `json:"timestamp"`
}

// SystemHealth reads the dispatch index depth and the execution counters
// and grades them.
func (eng *Engine) SystemHealth(ctx context.Context) (*SystemHealth, error) {
	now := eng.clock()
	depth, err := eng.index.Depth(ctx)
	if err != nil {
		return nil, fmt.Errorf("automation/engine: index depth: %w", err)
	}
	load, err := eng.store.Load(ctx, now.Add(-FailureWindow), now.Add(-StaleQueueAge))
	if err != nil {
		return nil, fmt.Errorf("automation/engine: job load: %w", err)
	}

	h := &SystemHealth{
		Status:     HealthHealthy,
		QueueSizes: make(map[string]int, len(job.Tiers)),
		Load:       *load,
		Warnings:   []Warning{},
		CheckedAt:  now,
	}
	for _, p := range job.Tiers {
		h.QueueSizes[p.String()] = depth[p]
	}
	if load.FailedRecently > FailureThreshold {
		h.Warnings = append(h.Warnings, Warning{
			Category: WarningFailureRate,
			Message:  fmt.Sprintf("%d jobs failed in the last hour", load.FailedRecently),
			Count:    load.FailedRecently,
		})
	}
	if load.StaleQueued > 0 {
		h.Warnings = append(h.Warnings, Warning{
			Category: WarningStaleQueue,
			Message:  fmt.Sprintf("%d jobs have been queued for over %d minutes", load.StaleQueued, int(StaleQueueAge.Minutes())),
			Count:    load.StaleQueued,
		})
	}
	if len(h.Warnings) > 0 || load.FailedRecently >= FailureThreshold {
		h.Status = HealthWarning
	}
	return h, nil
}
