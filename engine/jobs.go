package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
	"github.com/evanramirez88/restaurant-consulting-site/automation/clients"
	"github.com/evanramirez88/restaurant-consulting-site/automation/ext"
	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
	mw "github.com/evanramirez88/restaurant-consulting-site/automation/middleware"
	"github.com/evanramirez88/restaurant-consulting-site/automation/resolver"
)

// maxCommitAttempts bounds the compare-and-set retries of one mutation.
const maxCommitAttempts = 5

// errUnchanged tells mutate that fn decided not to write.
var errUnchanged = errors.New("unchanged")

// CreateRequest carries the inputs of Create. Nil optional fields take
// their defaults: priority normal, scheduled now, retry_on_failure true,
// max_retries and timeout from the engine config.
type CreateRequest struct {
	ClientID       uuid.UUID      `json:"client_id"`
	Type           job.Type       `json:"job_type"`
	Priority       *job.Priority  `json:"priority,omitempty"`
	Config         map[string]any `json:"config,omitempty"`
	ScheduledAt    *time.Time     `json:"scheduled_at,omitempty"`
	DependsOn      []id.JobID     `json:"depends_on,omitempty"`
	RetryOnFailure *bool          `json:"retry_on_failure,omitempty"`
	MaxRetries     *int           `json:"max_retries,omitempty"`
	TimeoutSeconds *int           `json:"timeout_seconds,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Validate checks the request in isolation.
func (r CreateRequest) Validate() error {
	if r.ClientID == uuid.Nil {
		return automation.Validationf("client_id is required")
	}
	if !r.Type.Valid() {
		return automation.Validationf("unknown job_type %q", r.Type)
	}
	if r.Priority != nil && !r.Priority.Valid() {
		return automation.Validationf("priority must be 0-3, got %d", *r.Priority)
	}
	if r.MaxRetries != nil && *r.MaxRetries < 0 {
		return automation.Validationf("max_retries must not be negative")
	}
	if r.TimeoutSeconds != nil && *r.TimeoutSeconds <= 0 {
		return automation.Validationf("timeout_seconds must be positive")
	}
	for _, d := range r.DependsOn {
		if d.IsNil() || d.Prefix() != id.PrefixJob {
			return automation.Validationf("depends_on contains an invalid job id")
		}
	}
	return nil
}

func (eng *Engine) newJob(r CreateRequest, now time.Time) *job.Job {
	j := &job.Job{
		Entity:         automation.Entity{CreatedAt: now, UpdatedAt: now},
		ID:             id.NewJobID(),
		ClientID:       r.ClientID,
		Type:           r.Type,
		Priority:       job.PriorityNormal,
		Config:         r.Config,
		ScheduledAt:    now,
		RetryOnFailure: true,
		MaxRetries:     eng.config.DefaultMaxRetries,
		TimeoutSeconds: int(eng.config.DefaultTimeout / time.Second),
		DependsOn:      resolver.Normalize(r.DependsOn),
		Metadata:       r.Metadata,
	}
	if r.Priority != nil {
		j.Priority = *r.Priority
	}
	if r.ScheduledAt != nil {
		j.ScheduledAt = r.ScheduledAt.UTC()
	}
	if r.RetryOnFailure != nil {
		j.RetryOnFailure = *r.RetryOnFailure
	}
	if r.MaxRetries != nil {
		j.MaxRetries = *r.MaxRetries
	}
	if r.TimeoutSeconds != nil {
		j.TimeoutSeconds = *r.TimeoutSeconds
	}
	if j.Config == nil {
		j.Config = map[string]any{}
	}
	if j.Metadata == nil {
		j.Metadata = map[string]any{}
	}
	return j
}

// Create persists a new job. It starts queued when every dependency is
// completed and scheduled_at has passed, pending otherwise.
func (eng *Engine) Create(ctx context.Context, r CreateRequest) (*job.Job, error) {
	var out *job.Job
	err := eng.run(ctx, mw.Call{Op: string(ext.OpCreate), ClientID: r.ClientID}, func(ctx context.Context) error {
		if err := r.Validate(); err != nil {
			return err
		}
		if eng.limiter != nil && !eng.limiter.Allow(r.ClientID.String()) {
			return automation.ErrRateLimited
		}
		c, err := eng.directory.GetClient(ctx, r.ClientID)
		if err != nil {
			return err
		}

		now := eng.clock()
		j := eng.newJob(r, now)
		j.ClientName = c.Name
		if err := eng.resolver.Check(ctx, j.ID, j.DependsOn); err != nil {
			return err
		}
		status, err := eng.resolver.InitialStatus(ctx, j.DependsOn, j.ScheduledAt, now)
		if err != nil {
			return err
		}
		j.Status = status
		if status == job.StatusQueued {
			j.QueuedAt = &now
		}
		unlock := eng.locks.lock(j.ID)
		defer unlock()
		if err := eng.store.CreateJob(ctx, j); err != nil {
			return fmt.Errorf("automation/engine: create job: %w", err)
		}
		// A dependency may have completed between the status computation
		// and the insert; its activation pass could not see this job yet.
		if status == job.StatusPending && len(j.DependsOn) > 0 {
			j = eng.promote(ctx, j)
		}
		eng.publish(ctx, j, ext.Change{Op: ext.OpCreate}, j.Priority)
		out = j
		return nil
	})
	return out, err
}

// promote queues a freshly inserted pending job whose gates are already
// open. The stored copy is returned unchanged when it stays pending or
// the write fails.
func (eng *Engine) promote(ctx context.Context, j *job.Job) *job.Job {
	now := eng.clock()
	ready, err := eng.resolver.Ready(ctx, j, now)
	if err != nil || !ready {
		return j
	}
	q := j.Clone()
	if err := job.Transition(q, job.StatusQueued, nil, now); err != nil {
		return j
	}
	if err := eng.store.UpdateJob(ctx, q); err != nil {
		eng.logger.Warn("post-insert activation failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return j
	}
	return q
}

// Get returns a job with its client name resolved.
func (eng *Engine) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	eng.decorate(ctx, j)
	return j, nil
}

// List returns jobs matching q, ordered by priority descending then
// created_at descending. A zero limit takes the configured default.
func (eng *Engine) List(ctx context.Context, q job.Query) ([]*job.Job, error) {
	if q.Limit == 0 {
		q.Limit = eng.config.DefaultListLimit
	}
	if q.Limit < 0 || q.Limit > eng.config.MaxListLimit {
		return nil, automation.Validationf("limit must be 1-%d, got %d", eng.config.MaxListLimit, q.Limit)
	}
	if q.Offset < 0 {
		return nil, automation.Validationf("offset must not be negative")
	}
	if q.Status != "" && !q.Status.Valid() {
		return nil, automation.Validationf("unknown status %q", q.Status)
	}
	if q.Type != "" && !q.Type.Valid() {
		return nil, automation.Validationf("unknown job_type %q", q.Type)
	}
	if q.Priority != nil && !q.Priority.Valid() {
		return nil, automation.Validationf("priority must be 0-3, got %d", *q.Priority)
	}
	jobs, err := eng.store.ListJobs(ctx, q)
	if err != nil {
		return nil, err
	}
	eng.decorate(ctx, jobs...)
	return jobs, nil
}

// Stats summarizes the job store.
func (eng *Engine) Stats(ctx context.Context) (*job.Stats, error) {
	return eng.store.Stats(ctx, job.StartOfDay(eng.clock()))
}

// Update merges p into the latest stored copy of the job. Status changes
// follow the lifecycle edges; queued is reachable only from pending and
// only once every dependency has completed. Cancelled behaves as Cancel.
// An empty patch returns the job unchanged and emits nothing.
func (eng *Engine) Update(ctx context.Context, jobID id.JobID, p job.Patch) (*job.Job, error) {
	op := ext.OpUpdate
	if p.Status != nil && *p.Status == job.StatusCancelled {
		op = ext.OpCancel
	}
	var out *job.Job
	err := eng.run(ctx, mw.Call{Op: string(op), JobID: jobID}, func(ctx context.Context) error {
		if p.Empty() {
			j, err := eng.Get(ctx, jobID)
			out = j
			return err
		}
		if err := p.Validate(); err != nil {
			return err
		}
		j, err := eng.mutate(ctx, jobID, ext.Change{Op: op}, func(j *job.Job, now time.Time) error {
			if p.Status != nil && *p.Status != j.Status {
				if err := eng.guardStatus(ctx, j, *p.Status); err != nil {
					return err
				}
			}
			return p.Apply(j, now)
		})
		if err != nil {
			return err
		}
		if j.Status == job.StatusPending && p.ScheduledAt != nil {
			if activated, err := eng.activate(ctx, j.ID); err == nil && activated != nil {
				j = activated
			}
		}
		eng.decorate(ctx, j)
		out = j
		return nil
	})
	return out, err
}

// guardStatus applies the engine-level gates on top of the edge table.
func (eng *Engine) guardStatus(ctx context.Context, j *job.Job, to job.Status) error {
	switch to {
	case job.StatusCancelled:
		if !j.Status.Cancellable() {
			return automation.ErrNotCancellable
		}
	case job.StatusQueued:
		if j.Status != job.StatusPending {
			return &automation.TransitionError{From: string(j.Status), To: string(to)}
		}
		ok, err := eng.resolver.Satisfied(ctx, j.DependsOn)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: dependencies not completed", &automation.TransitionError{From: string(j.Status), To: string(to)})
		}
	}
	return nil
}

// Cancel moves a pending, queued, running or paused job to cancelled.
// Cancelling a running job only records the request; the execution
// backend observes it through Heartbeat or Get and stops on its own.
func (eng *Engine) Cancel(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var out *job.Job
	err := eng.run(ctx, mw.Call{Op: string(ext.OpCancel), JobID: jobID}, func(ctx context.Context) error {
		j, err := eng.mutate(ctx, jobID, ext.Change{Op: ext.OpCancel}, func(j *job.Job, now time.Time) error {
			if !j.Status.Cancellable() {
				return automation.ErrNotCancellable
			}
			return job.Transition(j, job.StatusCancelled, nil, now)
		})
		if err != nil {
			return err
		}
		out = j
		return nil
	})
	return out, err
}

// Retry re-queues a failed or cancelled job in its current tier. It fails
// with automation.ErrRetriesExhausted once retry_count reaches
// max_retries.
func (eng *Engine) Retry(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var out *job.Job
	err := eng.run(ctx, mw.Call{Op: string(ext.OpRetry), JobID: jobID}, func(ctx context.Context) error {
		j, err := eng.mutate(ctx, jobID, ext.Change{Op: ext.OpRetry}, func(j *job.Job, now time.Time) error {
			return job.Requeue(j, now)
		})
		if err != nil {
			return err
		}
		out = j
		return nil
	})
	return out, err
}

// opHeartbeat marks a mutation that is persisted but never published.
const opHeartbeat ext.Op = "heartbeat"

// mutate applies fn to the latest stored copy of a job under the job's
// write lock and commits it with a version check. A version conflict means
// another process wrote in between; the read-apply-write is repeated on
// the fresh copy so disjoint field updates both survive.
//
// The commit reaches the dispatch index and the extensions before the lock
// is released, so listeners see a job's versions in commit order. c.From
// is filled from the stored copy. Dependents of a job that just completed
// are activated after release.
func (eng *Engine) mutate(ctx context.Context, jobID id.JobID, c ext.Change, fn func(j *job.Job, now time.Time) error) (*job.Job, error) {
	j, err := eng.write(ctx, jobID, &c, fn)
	if err == nil && c.StatusChanged(j) && j.Status == job.StatusCompleted {
		eng.activateDependents(ctx, j.ID)
	}
	return j, err
}

func (eng *Engine) write(ctx context.Context, jobID id.JobID, c *ext.Change, fn func(j *job.Job, now time.Time) error) (*job.Job, error) {
	unlock := eng.locks.lock(jobID)
	defer unlock()

	for attempt := 1; ; attempt++ {
		j, err := eng.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		c.From = j.Status
		prev := j.Priority
		if err := fn(j, eng.clock()); err != nil {
			return j, err
		}
		err = eng.store.UpdateJob(ctx, j)
		if err == nil {
			if c.Op != opHeartbeat {
				eng.publish(ctx, j, *c, prev)
			}
			return j, nil
		}
		if !errors.Is(err, automation.ErrVersionConflict) || attempt >= maxCommitAttempts {
			return nil, fmt.Errorf("automation/engine: update job %s: %w", jobID, err)
		}
		eng.logger.Debug("version conflict, reapplying",
			slog.String("job_id", jobID.String()),
			slog.Int("attempt", attempt),
		)
	}
}

// publish runs the side effects of a persisted mutation: dispatch index
// upkeep, then extension hooks. Callers hold the job's write lock. The
// store write has already happened, so index failures are logged and left
// to the reconcile sweep. prev is the tier before the mutation.
func (eng *Engine) publish(ctx context.Context, j *job.Job, c ext.Change, prev job.Priority) {
	entered := c.Op == ext.OpCreate || c.StatusChanged(j)
	switch {
	case j.Status == job.StatusQueued && (entered || j.Priority != prev):
		eng.enqueue(ctx, j)
	case c.From == job.StatusQueued && j.Status != job.StatusQueued && c.Op != ext.OpClaim:
		if err := eng.index.Remove(ctx, j.ID); err != nil {
			eng.logger.Warn("dispatch index remove failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	eng.extensions.Emit(ctx, j, c)
}

func (eng *Engine) enqueue(ctx context.Context, j *job.Job) {
	if err := eng.index.Enqueue(ctx, j.Priority, j.ID); err != nil {
		eng.logger.Warn("dispatch index enqueue failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// decorate fills ClientName from the directory. Lookup failures leave the
// name empty.
func (eng *Engine) decorate(ctx context.Context, jobs ...*job.Job) {
	if len(jobs) == 0 {
		return
	}
	ids := make([]uuid.UUID, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ClientID
	}
	names, err := clients.Names(ctx, eng.directory, ids)
	if err != nil {
		eng.logger.Debug("client name lookup failed", slog.String("error", err.Error()))
		return
	}
	for _, j := range jobs {
		j.ClientName = names[j.ClientID]
	}
}
