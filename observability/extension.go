package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/evanramirez88/restaurant-consulting-site/automation/ext"
	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobCreated   = (*MetricsExtension)(nil)
	_ ext.JobQueued    = (*MetricsExtension)(nil)
	_ ext.JobClaimed   = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobCancelled = (*MetricsExtension)(nil)
	_ ext.JobRetried   = (*MetricsExtension)(nil)
	_ ext.JobTimedOut  = (*MetricsExtension)(nil)
)

const meterName = "github.com/evanramirez88/restaurant-consulting-site/automation/observability"

// MetricsExtension records lifecycle counters. Every counter carries the
// job_type and priority attributes.
type MetricsExtension struct {
	JobCreated   metric.Int64Counter
	JobQueued    metric.Int64Counter
	JobClaimed   metric.Int64Counter
	JobCompleted metric.Int64Counter
	JobFailed    metric.Int64Counter
	JobCancelled metric.Int64Counter
	JobRetried   metric.Int64Counter
	JobTimedOut  metric.Int64Counter
	JobDuration  metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{job}"))
		return c
	}
	duration, _ := meter.Float64Histogram("automation.job.duration",
		metric.WithDescription("Wall time from claim to completion"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		JobCreated:   counter("automation.job.created", "Jobs created"),
		JobQueued:    counter("automation.job.queued", "Jobs entering the dispatch index"),
		JobClaimed:   counter("automation.job.claimed", "Jobs claimed by an execution backend"),
		JobCompleted: counter("automation.job.completed", "Jobs completed"),
		JobFailed:    counter("automation.job.failed", "Jobs failed"),
		JobCancelled: counter("automation.job.cancelled", "Jobs cancelled"),
		JobRetried:   counter("automation.job.retried", "Jobs re-queued by retry"),
		JobTimedOut:  counter("automation.job.timed_out", "Jobs force-failed by the timeout sweep"),
		JobDuration:  duration,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func attrs(j *job.Job) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("job_type", string(j.Type)),
		attribute.String("priority", j.Priority.String()),
	)
}

func (m *MetricsExtension) OnJobCreated(ctx context.Context, j *job.Job) error {
	m.JobCreated.Add(ctx, 1, attrs(j))
	return nil
}

func (m *MetricsExtension) OnJobQueued(ctx context.Context, j *job.Job) error {
	m.JobQueued.Add(ctx, 1, attrs(j))
	return nil
}

func (m *MetricsExtension) OnJobClaimed(ctx context.Context, j *job.Job, _ id.WorkerID) error {
	m.JobClaimed.Add(ctx, 1, attrs(j))
	return nil
}

func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.JobCompleted.Add(ctx, 1, attrs(j))
	m.JobDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("job_type", string(j.Type)),
	))
	return nil
}

func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1, attrs(j))
	return nil
}

func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.JobCancelled.Add(ctx, 1, attrs(j))
	return nil
}

func (m *MetricsExtension) OnJobRetried(ctx context.Context, j *job.Job, _ int) error {
	m.JobRetried.Add(ctx, 1, attrs(j))
	return nil
}

func (m *MetricsExtension) OnJobTimedOut(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.JobTimedOut.Add(ctx, 1, attrs(j))
	return nil
}
