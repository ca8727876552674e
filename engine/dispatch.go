package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
	"github.com/evanramirez88/restaurant-consulting-site/automation/ext"
	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
	mw "github.com/evanramirez88/restaurant-consulting-site/automation/middleware"
	"github.com/evanramirez88/restaurant-consulting-site/automation/queue"
)

// Claim hands the next dispatchable job to an execution backend and marks
// it running. Tiers drain strictly from critical to low, FIFO within a
// tier. Index entries whose job is no longer queued are discarded. Returns
// (nil, nil) when nothing is queued.
func (eng *Engine) Claim(ctx context.Context, workerID id.WorkerID) (*job.Job, error) {
	if workerID.IsNil() {
		return nil, automation.Validationf("worker id is required")
	}
	var out *job.Job
	err := eng.run(ctx, mw.Call{Op: string(ext.OpClaim)}, func(ctx context.Context) error {
		for {
			e, ok, err := eng.index.Claim(ctx)
			if err != nil {
				return fmt.Errorf("automation/engine: claim: %w", err)
			}
			if !ok {
				return nil
			}
			j, err := eng.mutate(ctx, e.JobID, ext.Change{Op: ext.OpClaim, Worker: workerID}, func(j *job.Job, now time.Time) error {
				if j.Status != job.StatusQueued {
					return errUnchanged
				}
				return job.Transition(j, job.StatusRunning, nil, now)
			})
			if errors.Is(err, errUnchanged) || errors.Is(err, automation.ErrJobNotFound) {
				eng.logger.Debug("discarding stale dispatch entry",
					slog.String("job_id", e.JobID.String()),
				)
				continue
			}
			if err != nil {
				// The entry is already popped; put it back so the job is
				// not stranded until the next reconcile.
				_ = eng.index.Enqueue(ctx, e.Tier, e.JobID)
				return err
			}
			eng.decorate(ctx, j)
			out = j
			return nil
		}
	})
	return out, err
}

// Heartbeat refreshes heartbeat_at of a running job and returns the job,
// so the caller can observe a cancellation. Jobs in any other status are
// returned untouched. Heartbeats are not broadcast.
func (eng *Engine) Heartbeat(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var out *job.Job
	err := eng.run(ctx, mw.Call{Op: string(opHeartbeat), JobID: jobID}, func(ctx context.Context) error {
		j, err := eng.mutate(ctx, jobID, ext.Change{Op: opHeartbeat}, func(j *job.Job, now time.Time) error {
			if j.Status != job.StatusRunning {
				return errUnchanged
			}
			j.HeartbeatAt = &now
			j.Touch(now)
			return nil
		})
		if err != nil && !errors.Is(err, errUnchanged) {
			return err
		}
		out = j
		return nil
	})
	return out, err
}

// activate moves a pending job to queued when its gates are open. Returns
// the queued job, or nil when it stays pending.
func (eng *Engine) activate(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var out *job.Job
	err := eng.run(ctx, mw.Call{Op: string(ext.OpActivate), JobID: jobID}, func(ctx context.Context) error {
		j, err := eng.mutate(ctx, jobID, ext.Change{Op: ext.OpActivate}, func(j *job.Job, now time.Time) error {
			ready, err := eng.resolver.Ready(ctx, j, now)
			if err != nil {
				return err
			}
			if !ready {
				return errUnchanged
			}
			return job.Transition(j, job.StatusQueued, nil, now)
		})
		if errors.Is(err, errUnchanged) {
			return nil
		}
		if err != nil {
			return err
		}
		out = j
		return nil
	})
	return out, err
}

// activateDependents re-checks every pending job gated on completed.
func (eng *Engine) activateDependents(ctx context.Context, completed id.JobID) {
	dependents, err := eng.resolver.Dependents(ctx, completed)
	if err != nil {
		eng.logger.Warn("dependent lookup failed",
			slog.String("job_id", completed.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, d := range dependents {
		if _, err := eng.activate(ctx, d.ID); err != nil {
			eng.logger.Warn("dependent activation failed",
				slog.String("job_id", d.ID.String()),
				slog.String("dependency_id", completed.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ActivateDue queues every pending job whose dependencies are complete and
// whose scheduled_at has passed. It is the backstop for activations missed
// across restarts and for schedule-gated jobs. Returns the number queued.
func (eng *Engine) ActivateDue(ctx context.Context) (int, error) {
	pending, err := eng.store.ListJobs(ctx, job.Query{Status: job.StatusPending})
	if err != nil {
		return 0, fmt.Errorf("automation/engine: list pending: %w", err)
	}
	now := eng.clock()
	n := 0
	var errs error
	for _, p := range pending {
		if p.ScheduledAt.After(now) {
			continue
		}
		j, err := eng.activate(ctx, p.ID)
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if j != nil {
			n++
		}
	}
	return n, errs
}

// SweepTimeouts force-fails running jobs that have outlived their
// timeout_seconds. Returns the number failed.
func (eng *Engine) SweepTimeouts(ctx context.Context) (int, error) {
	running, err := eng.store.ListJobs(ctx, job.Query{Status: job.StatusRunning})
	if err != nil {
		return 0, fmt.Errorf("automation/engine: list running: %w", err)
	}
	n := 0
	var errs error
	for _, r := range running {
		if !r.Overdue(eng.clock()) {
			continue
		}
		failed, err := eng.expire(ctx, r.ID)
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if failed {
			n++
		}
	}
	return n, errs
}

func (eng *Engine) expire(ctx context.Context, jobID id.JobID) (bool, error) {
	failed := false
	err := eng.run(ctx, mw.Call{Op: string(ext.OpTimeout), JobID: jobID}, func(ctx context.Context) error {
		j, err := eng.mutate(ctx, jobID, ext.Change{Op: ext.OpTimeout}, func(j *job.Job, now time.Time) error {
			if !j.Overdue(now) {
				return errUnchanged
			}
			msg := fmt.Sprintf("timeout: exceeded %ds", j.TimeoutSeconds)
			return job.Transition(j, job.StatusFailed, job.Failure{Error: msg}, now)
		})
		if errors.Is(err, errUnchanged) {
			return nil
		}
		if err != nil {
			return err
		}
		eng.logger.Warn("job timed out",
			slog.String("job_id", j.ID.String()),
			slog.Int("timeout_seconds", j.TimeoutSeconds),
		)
		failed = true
		return nil
	})
	return failed, err
}

// RebuildIndex resets the dispatch index to the queued jobs of the store,
// ordered by queued_at. Jobs enqueued while it runs can be lost, so it is
// only safe before any producer starts. Returns the number of indexed jobs.
func (eng *Engine) RebuildIndex(ctx context.Context) (int, error) {
	n, err := queue.Rebuild(ctx, eng.index, eng.store)
	if err != nil {
		return 0, fmt.Errorf("automation/engine: rebuild index: %w", err)
	}
	eng.logger.Debug("dispatch index rebuilt", slog.Int("queued", n))
	return n, nil
}

// IndexRepair summarizes one SyncIndex pass.
type IndexRepair struct {
	Queued  int
	Added   int
	Removed int
}

// SyncIndex repairs the dispatch index against the store without clearing
// it. Queued jobs missing from the index, or filed under another tier, are
// appended in queued_at order. Entries whose job is no longer queued are
// dropped. Each repair re-reads the job under its write lock, so a job
// enqueued while the pass runs keeps its entry.
func (eng *Engine) SyncIndex(ctx context.Context) (IndexRepair, error) {
	var r IndexRepair
	indexed, err := eng.index.Entries(ctx)
	if err != nil {
		return r, fmt.Errorf("automation/engine: sync index: %w", err)
	}
	queued, err := eng.store.ListQueued(ctx)
	if err != nil {
		return r, fmt.Errorf("automation/engine: sync index: %w", err)
	}
	r.Queued = len(queued)

	tiers := make(map[id.JobID]job.Priority, len(indexed))
	for _, e := range indexed {
		tiers[e.JobID] = e.Tier
	}
	listed := make(map[id.JobID]bool, len(queued))
	var errs error
	for _, j := range queued {
		listed[j.ID] = true
		if tier, ok := tiers[j.ID]; ok && tier == j.Priority {
			continue
		}
		changed, err := eng.repair(ctx, j.ID, true)
		if err != nil {
			errs = errors.Join(errs, err)
		}
		if changed {
			r.Added++
		}
	}
	for _, e := range indexed {
		if listed[e.JobID] {
			continue
		}
		changed, err := eng.repair(ctx, e.JobID, false)
		if err != nil {
			errs = errors.Join(errs, err)
		}
		if changed {
			r.Removed++
		}
	}
	if r.Added > 0 || r.Removed > 0 {
		eng.logger.Info("dispatch index repaired",
			slog.Int("added", r.Added),
			slog.Int("removed", r.Removed),
		)
	}
	return r, errs
}

// repair re-reads jobID under its write lock and files (add) or drops its
// index entry when the stored status still calls for it. Reports whether
// the index was touched.
func (eng *Engine) repair(ctx context.Context, jobID id.JobID, add bool) (bool, error) {
	unlock := eng.locks.lock(jobID)
	defer unlock()

	j, err := eng.store.GetJob(ctx, jobID)
	switch {
	case errors.Is(err, automation.ErrJobNotFound):
		if add {
			return false, nil
		}
		return true, eng.index.Remove(ctx, jobID)
	case err != nil:
		return false, err
	}
	queued := j.Status == job.StatusQueued
	switch {
	case add && queued:
		return true, eng.index.Enqueue(ctx, j.Priority, j.ID)
	case !add && !queued:
		return true, eng.index.Remove(ctx, jobID)
	}
	return false, nil
}

// ReconcileReport summarizes one Reconcile pass.
type ReconcileReport struct {
	Indexed   int `json:"indexed"`
	Added     int `json:"index_added"`
	Removed   int `json:"index_removed"`
	Activated int `json:"activated"`
	TimedOut  int `json:"timed_out"`
}

// Reconcile runs every backstop once: timeouts, activation, then an index
// repair so the index reflects the results of the first two.
func (eng *Engine) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var r ReconcileReport
	var errs error
	var err error
	if r.TimedOut, err = eng.SweepTimeouts(ctx); err != nil {
		errs = errors.Join(errs, err)
	}
	if r.Activated, err = eng.ActivateDue(ctx); err != nil {
		errs = errors.Join(errs, err)
	}
	repair, err := eng.SyncIndex(ctx)
	if err != nil {
		errs = errors.Join(errs, err)
	}
	r.Indexed, r.Added, r.Removed = repair.Queued, repair.Added, repair.Removed
	return r, errs
}
