package ext

import (
	"context"
	"time"

	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
)

// Extension is the base interface all extensions implement.
type Extension interface {
	Name() string
}

// Op names the engine operation that committed a mutation.
type Op string

const (
	OpCreate   Op = "create"
	OpUpdate   Op = "update"
	OpCancel   Op = "cancel"
	OpRetry    Op = "retry"
	OpClaim    Op = "claim"
	OpActivate Op = "activate"
	OpTimeout  Op = "timeout"
)

// Change describes one committed mutation.
type Change struct {
	Op   Op
	From job.Status
	// Worker is set on OpClaim.
	Worker id.WorkerID
}

// StatusChanged reports whether the mutation moved the job's status.
func (c Change) StatusChanged(j *job.Job) bool { return c.From != j.Status }

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobChanged is called once for every committed mutation of a job, in
// commit order. Lifecycle hooks run while the engine holds the job's write
// lock and must not write the same job back through the engine.
type JobChanged interface {
	OnJobChanged(ctx context.Context, j *job.Job, c Change) error
}

// JobCreated is called after a job is persisted.
type JobCreated interface {
	OnJobCreated(ctx context.Context, j *job.Job) error
}

// JobQueued is called when a job enters the dispatch index.
type JobQueued interface {
	OnJobQueued(ctx context.Context, j *job.Job) error
}

// JobClaimed is called when an execution backend claims a job.
type JobClaimed interface {
	OnJobClaimed(ctx context.Context, j *job.Job, workerID id.WorkerID) error
}

// JobCompleted is called when a job reaches completed.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job reaches failed, including timeouts.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error
}

// JobCancelled is called when a job reaches cancelled.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job) error
}

// JobRetried is called after a retry re-queues a job.
type JobRetried interface {
	OnJobRetried(ctx context.Context, j *job.Job, attempt int) error
}

// JobTimedOut is called when the timeout sweep force-fails a job.
type JobTimedOut interface {
	OnJobTimedOut(ctx context.Context, j *job.Job, timeout time.Duration) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
