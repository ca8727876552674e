package job

import (
	"slices"
	"time"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Statuses lists every status.
var Statuses = []Status{
	StatusPending, StatusQueued, StatusRunning, StatusPaused,
	StatusCompleted, StatusFailed, StatusCancelled,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return slices.Contains(Statuses, s) }

// ParseStatus validates s as a status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", automation.Validationf("unknown status %q", s)
	}
	return st, nil
}

// Terminal reports whether no forward edge leaves s. Failed and cancelled
// jobs can still be retried.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Cancellable reports whether s has an edge to cancelled.
func (s Status) Cancellable() bool {
	switch s {
	case StatusPending, StatusQueued, StatusRunning, StatusPaused:
		return true
	}
	return false
}

// Retryable reports whether s has the retry edge back to queued.
func (s Status) Retryable() bool { return s == StatusFailed || s == StatusCancelled }

var edges = map[Status][]Status{
	StatusPending: {StatusQueued, StatusCancelled},
	StatusQueued:  {StatusRunning, StatusCancelled},
	StatusRunning: {StatusCompleted, StatusFailed, StatusPaused, StatusCancelled},
	StatusPaused:  {StatusCancelled},
}

// CanTransition reports whether from → to is a forward edge. Retry edges
// are not included.
func CanTransition(from, to Status) bool {
	return slices.Contains(edges[from], to)
}

// Transition moves j to status to, stamping lifecycle timestamps.
// Entering running sets started_at; entering a terminal status sets
// completed_at. Each is written only if unset. Outcome must be nil unless
// to is completed or failed, and then must match.
func Transition(j *Job, to Status, outcome Outcome, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return &automation.TransitionError{From: string(j.Status), To: string(to)}
	}
	if outcome != nil && outcome.status() != to {
		return automation.Validationf("outcome not allowed for status %s", to)
	}
	now = now.UTC()
	switch to {
	case StatusQueued:
		j.QueuedAt = &now
	case StatusRunning:
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
		j.HeartbeatAt = &now
	case StatusCompleted:
		if outcome == nil {
			outcome = Success{}
		}
	case StatusFailed:
		if outcome == nil {
			outcome = Failure{}
		}
	}
	if to.Terminal() && j.CompletedAt == nil {
		j.CompletedAt = &now
	}
	j.Status = to
	j.Outcome = outcome
	j.Touch(now)
	return nil
}

// Requeue applies the retry edge: failed or cancelled back to queued,
// bounded by max_retries. It increments retry_count and clears the outcome,
// the progress and the attempt timestamps.
func Requeue(j *Job, now time.Time) error {
	if !j.Status.Retryable() {
		return automation.ErrNotRetryable
	}
	if j.RetryCount >= j.MaxRetries {
		return automation.ErrRetriesExhausted
	}
	now = now.UTC()
	j.RetryCount++
	j.Outcome = nil
	j.Progress = 0
	j.ProgressMessage = ""
	j.StartedAt = nil
	j.CompletedAt = nil
	j.HeartbeatAt = nil
	j.QueuedAt = &now
	j.Status = StatusQueued
	j.Touch(now)
	return nil
}
