// Package alert raises operator alerts for jobs that fail or time out.
//
// An Alerter is an engine extension. It builds an Alert from the failed
// job and hands it to a Sink: a log sink, an NSQ topic, or several of
// them through Multi. Sink errors are logged and never fail the mutation
// that raised the alert.
package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
	"github.com/evanramirez88/restaurant-consulting-site/automation/ext"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
)

// Severity ranks an alert.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Category groups alerts by cause.
const (
	CategoryJobTimeout = "job_timeout"
	CategoryJobFailure = "job_failure"
)

// Alert is one notification.
type Alert struct {
	Severity  Severity       `json:"severity"`
	Category  string         `json:"category"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	ClientID  uuid.UUID      `json:"client_id,omitempty"`
	JobID     string         `json:"job_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Sink delivers alerts.
type Sink interface {
	Send(ctx context.Context, a Alert) error
}

// LogSink writes alerts to a logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Send(ctx context.Context, a Alert) error {
	level := slog.LevelInfo
	switch a.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityError:
		level = slog.LevelError
	}
	s.Logger.Log(ctx, level, a.Title,
		slog.String("category", a.Category),
		slog.String("message", a.Message),
		slog.String("client_id", a.ClientID.String()),
		slog.String("job_id", a.JobID),
	)
	return nil
}

// Publisher is satisfied by *nsq.Producer.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// NSQSink publishes alerts as JSON to an NSQ topic.
type NSQSink struct {
	pub   Publisher
	topic string
}

// NewNSQSink creates a sink publishing to topic through pub.
func NewNSQSink(pub Publisher, topic string) *NSQSink {
	return &NSQSink{pub: pub, topic: topic}
}

// DialNSQ creates an NSQ producer for nsqd at addr and a sink on topic.
// The producer connects lazily on the first publish.
func DialNSQ(addr, topic string) (*NSQSink, *nsq.Producer, error) {
	p, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("automation/alert: nsq producer: %w", err)
	}
	return NewNSQSink(p, topic), p, nil
}

func (s *NSQSink) Send(_ context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("automation/alert: encode: %w", err)
	}
	if err := s.pub.Publish(s.topic, body); err != nil {
		return fmt.Errorf("automation/alert: publish %s: %w", s.topic, err)
	}
	return nil
}

// Multi fans an alert out to every sink. All sinks are tried; the
// errors are joined.
type Multi []Sink

func (m Multi) Send(ctx context.Context, a Alert) error {
	var errs error
	for _, s := range m {
		errs = errors.Join(errs, s.Send(ctx, a))
	}
	return errs
}

// Compile-time interface checks.
var (
	_ ext.Extension   = (*Alerter)(nil)
	_ ext.JobFailed   = (*Alerter)(nil)
	_ ext.JobTimedOut = (*Alerter)(nil)
)

// Alerter raises alerts from job lifecycle hooks.
type Alerter struct {
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewAlerter creates the alert extension.
func NewAlerter(sink Sink, logger *slog.Logger) *Alerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Alerter{sink: sink, logger: logger, now: time.Now}
}

func (a *Alerter) Name() string { return "alerts" }

// OnJobTimedOut raises an error alert.
func (a *Alerter) OnJobTimedOut(ctx context.Context, j *job.Job, timeout time.Duration) error {
	a.send(ctx, a.build(j, SeverityError, CategoryJobTimeout,
		fmt.Sprintf("Job %s timed out", j.Type),
		fmt.Sprintf("Job %s exceeded its %s timeout", j.ID, timeout),
		map[string]any{"timeout_seconds": j.TimeoutSeconds},
	))
	return nil
}

// OnJobFailed raises a warning alert. Timeouts already raised their
// own alert and are skipped here.
func (a *Alerter) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	if errors.Is(jobErr, automation.ErrTimeout) {
		return nil
	}
	a.send(ctx, a.build(j, SeverityWarning, CategoryJobFailure,
		fmt.Sprintf("Job %s failed", j.Type),
		jobErr.Error(),
		map[string]any{"retry_count": j.RetryCount, "max_retries": j.MaxRetries},
	))
	return nil
}

func (a *Alerter) build(j *job.Job, sev Severity, category, title, msg string, meta map[string]any) Alert {
	return Alert{
		Severity:  sev,
		Category:  category,
		Title:     title,
		Message:   msg,
		ClientID:  j.ClientID,
		JobID:     j.ID.String(),
		Metadata:  meta,
		CreatedAt: a.now().UTC(),
	}
}

func (a *Alerter) send(ctx context.Context, al Alert) {
	if err := a.sink.Send(ctx, al); err != nil {
		a.logger.Error("alert delivery failed",
			slog.String("category", al.Category),
			slog.String("job_id", al.JobID),
			slog.String("error", err.Error()),
		)
	}
}
