package ext

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
)

// entry pairs a hook with the extension name captured at registration.
type entry[H any] struct {
	name string
	hook H
}

func add[H any](dst []entry[H], e Extension) []entry[H] {
	if h, ok := e.(H); ok {
		dst = append(dst, entry[H]{e.Name(), h})
	}
	return dst
}

// Registry holds registered extensions and dispatches lifecycle events to
// them. Hooks are type-cached at registration so emit calls iterate only
// over extensions implementing the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobChanged   []entry[JobChanged]
	jobCreated   []entry[JobCreated]
	jobQueued    []entry[JobQueued]
	jobClaimed   []entry[JobClaimed]
	jobCompleted []entry[JobCompleted]
	jobFailed    []entry[JobFailed]
	jobCancelled []entry[JobCancelled]
	jobRetried   []entry[JobRetried]
	jobTimedOut  []entry[JobTimedOut]
	shutdown     []entry[Shutdown]
}

// NewRegistry creates an extension registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension. Extensions are notified in registration
// order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	r.jobChanged = add(r.jobChanged, e)
	r.jobCreated = add(r.jobCreated, e)
	r.jobQueued = add(r.jobQueued, e)
	r.jobClaimed = add(r.jobClaimed, e)
	r.jobCompleted = add(r.jobCompleted, e)
	r.jobFailed = add(r.jobFailed, e)
	r.jobCancelled = add(r.jobCancelled, e)
	r.jobRetried = add(r.jobRetried, e)
	r.jobTimedOut = add(r.jobTimedOut, e)
	r.shutdown = add(r.shutdown, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// Emit notifies extensions of a committed mutation: JobChanged always,
// then the hooks matching the status the job entered.
func (r *Registry) Emit(ctx context.Context, j *job.Job, c Change) {
	r.EmitJobChanged(ctx, j, c)
	if c.Op == OpCreate {
		r.EmitJobCreated(ctx, j)
	}
	if !c.StatusChanged(j) && c.Op != OpCreate {
		return
	}
	switch j.Status {
	case job.StatusRunning:
		if c.Op == OpClaim {
			r.EmitJobClaimed(ctx, j, c.Worker)
		}
	case job.StatusQueued:
		r.EmitJobQueued(ctx, j)
		if c.Op == OpRetry {
			r.EmitJobRetried(ctx, j, j.RetryCount)
		}
	case job.StatusCompleted:
		var elapsed time.Duration
		if j.StartedAt != nil && j.CompletedAt != nil {
			elapsed = j.CompletedAt.Sub(*j.StartedAt)
		}
		r.EmitJobCompleted(ctx, j, elapsed)
	case job.StatusFailed:
		jobErr := errors.New(j.ErrorMessage())
		if c.Op == OpTimeout {
			jobErr = automation.ErrTimeout
			r.EmitJobTimedOut(ctx, j, j.Timeout())
		}
		r.EmitJobFailed(ctx, j, jobErr)
	case job.StatusCancelled:
		r.EmitJobCancelled(ctx, j)
	}
}

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

func (r *Registry) EmitJobChanged(ctx context.Context, j *job.Job, c Change) {
	for _, e := range r.jobChanged {
		r.check("OnJobChanged", e.name, e.hook.OnJobChanged(ctx, j, c))
	}
}

func (r *Registry) EmitJobCreated(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCreated {
		r.check("OnJobCreated", e.name, e.hook.OnJobCreated(ctx, j))
	}
}

func (r *Registry) EmitJobQueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobQueued {
		r.check("OnJobQueued", e.name, e.hook.OnJobQueued(ctx, j))
	}
}

func (r *Registry) EmitJobClaimed(ctx context.Context, j *job.Job, workerID id.WorkerID) {
	for _, e := range r.jobClaimed {
		r.check("OnJobClaimed", e.name, e.hook.OnJobClaimed(ctx, j, workerID))
	}
}

func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		r.check("OnJobCompleted", e.name, e.hook.OnJobCompleted(ctx, j, elapsed))
	}
}

func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		r.check("OnJobFailed", e.name, e.hook.OnJobFailed(ctx, j, jobErr))
	}
}

func (r *Registry) EmitJobCancelled(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCancelled {
		r.check("OnJobCancelled", e.name, e.hook.OnJobCancelled(ctx, j))
	}
}

func (r *Registry) EmitJobRetried(ctx context.Context, j *job.Job, attempt int) {
	for _, e := range r.jobRetried {
		r.check("OnJobRetried", e.name, e.hook.OnJobRetried(ctx, j, attempt))
	}
}

func (r *Registry) EmitJobTimedOut(ctx context.Context, j *job.Job, timeout time.Duration) {
	for _, e := range r.jobTimedOut {
		r.check("OnJobTimedOut", e.name, e.hook.OnJobTimedOut(ctx, j, timeout))
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		r.check("OnShutdown", e.name, e.hook.OnShutdown(ctx))
	}
}

// check logs a hook error. Hook errors never propagate.
func (r *Registry) check(hook, extName string, err error) {
	if err == nil {
		return
	}
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
