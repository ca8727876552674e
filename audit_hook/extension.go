package audithook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/evanramirez88/restaurant-consulting-site/automation/ext"
	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
)

var (
	_ ext.Extension    = (*Extension)(nil)
	_ ext.JobCreated   = (*Extension)(nil)
	_ ext.JobQueued    = (*Extension)(nil)
	_ ext.JobClaimed   = (*Extension)(nil)
	_ ext.JobCompleted = (*Extension)(nil)
	_ ext.JobFailed    = (*Extension)(nil)
	_ ext.JobCancelled = (*Extension)(nil)
	_ ext.JobRetried   = (*Extension)(nil)
	_ ext.JobTimedOut  = (*Extension)(nil)
)

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id"`
	ClientID   uuid.UUID      `json:"client_id"`
	JobType    job.Type       `json:"job_type"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
	At         time.Time      `json:"at"`
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity values.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension records an audit event for each job lifecycle hook.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Extension that records through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Extension) Name() string { return "audit-hook" }

func (e *Extension) OnJobCreated(ctx context.Context, j *job.Job) error {
	return e.record(ctx, j, ActionJobCreated, SeverityInfo, OutcomeSuccess, nil,
		"status", string(j.Status),
		"priority", job.PriorityKey(j.Priority),
		"depends_on", len(j.DependsOn),
	)
}

func (e *Extension) OnJobQueued(ctx context.Context, j *job.Job) error {
	return e.record(ctx, j, ActionJobQueued, SeverityInfo, OutcomeSuccess, nil,
		"priority", job.PriorityKey(j.Priority),
	)
}

func (e *Extension) OnJobClaimed(ctx context.Context, j *job.Job, workerID id.WorkerID) error {
	return e.record(ctx, j, ActionJobClaimed, SeverityInfo, OutcomeSuccess, nil,
		"worker_id", workerID.String(),
	)
}

func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return e.record(ctx, j, ActionJobCompleted, SeverityInfo, OutcomeSuccess, nil,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobFailed is critical once the retry budget is spent.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	sev := SeverityWarning
	if j.RetryCount >= j.MaxRetries {
		sev = SeverityCritical
	}
	return e.record(ctx, j, ActionJobFailed, sev, OutcomeFailure, jobErr,
		"retry_count", j.RetryCount,
		"max_retries", j.MaxRetries,
	)
}

func (e *Extension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	return e.record(ctx, j, ActionJobCancelled, SeverityWarning, OutcomeFailure, nil)
}

func (e *Extension) OnJobRetried(ctx context.Context, j *job.Job, attempt int) error {
	return e.record(ctx, j, ActionJobRetried, SeverityWarning, OutcomeSuccess, nil,
		"attempt", attempt,
		"max_retries", j.MaxRetries,
	)
}

func (e *Extension) OnJobTimedOut(ctx context.Context, j *job.Job, timeout time.Duration) error {
	return e.record(ctx, j, ActionJobTimedOut, SeverityCritical, OutcomeFailure, nil,
		"timeout_seconds", int(timeout.Seconds()),
	)
}

// record builds and sends an event if the action is enabled. Recorder
// failures are logged and never returned.
func (e *Extension) record(ctx context.Context, j *job.Job, action, severity, outcome string, err error, kvPairs ...any) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   ResourceJob,
		Category:   CategoryJob,
		ResourceID: j.ID.String(),
		ClientID:   j.ClientID,
		JobType:    j.Type,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
		At:         e.now().UTC(),
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit event not recorded",
			slog.String("action", action),
			slog.String("job_id", evt.ResourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}

// LogRecorder writes events to a logger under the "audit" message.
type LogRecorder struct {
	Logger *slog.Logger
}

func (r LogRecorder) Record(ctx context.Context, evt *AuditEvent) error {
	r.Logger.InfoContext(ctx, "audit",
		slog.String("action", evt.Action),
		slog.String("job_id", evt.ResourceID),
		slog.String("client_id", evt.ClientID.String()),
		slog.String("severity", evt.Severity),
		slog.String("outcome", evt.Outcome),
		slog.Any("metadata", evt.Metadata),
	)
	return nil
}

// Publisher is satisfied by *nsq.Producer.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// NSQRecorder publishes each event as JSON to an NSQ topic.
type NSQRecorder struct {
	pub   Publisher
	topic string
}

// NewNSQRecorder creates a recorder publishing to topic.
func NewNSQRecorder(pub Publisher, topic string) *NSQRecorder {
	return &NSQRecorder{pub: pub, topic: topic}
}

func (r *NSQRecorder) Record(_ context.Context, evt *AuditEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("automation/audit: encode: %w", err)
	}
	if err := r.pub.Publish(r.topic, body); err != nil {
		return fmt.Errorf("automation/audit: publish %s: %w", r.topic, err)
	}
	return nil
}

// Multi records to every recorder and joins the errors.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, evt *AuditEvent) error {
	var errs error
	for _, r := range m {
		errs = errors.Join(errs, r.Record(ctx, evt))
	}
	return errs
}
