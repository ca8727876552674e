// Package worker is the execution-backend SDK. A Pool claims queued jobs
// from the engine, runs the handler registered for each job type and
// writes the outcome back. While a handler runs, the Executor heartbeats
// the job and cancels the handler's context once the job is cancelled.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
	"github.com/evanramirez88/restaurant-consulting-site/automation/backoff"
	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
)

// Engine is the engine surface an execution backend uses.
type Engine interface {
	Claim(ctx context.Context, workerID id.WorkerID) (*job.Job, error)
	Heartbeat(ctx context.Context, jobID id.JobID) (*job.Job, error)
	Update(ctx context.Context, jobID id.JobID, p job.Patch) (*job.Job, error)
	Retry(ctx context.Context, jobID id.JobID) (*job.Job, error)
}

var (
	// ErrCancelled is the cause of a handler context cancelled because
	// the job was cancelled.
	ErrCancelled = errors.New("automation/worker: job cancelled")

	// ErrNotRunning is the cause when the job left running some other
	// way, such as the timeout sweep failing it.
	ErrNotRunning = errors.New("automation/worker: job no longer running")
)

// Executor runs one claimed job through its handler and records the
// outcome.
type Executor struct {
	engine    Engine
	registry  *job.Registry
	logger    *slog.Logger
	heartbeat time.Duration

	// autoRetry re-queues failed jobs that opted in. Nil disables it.
	autoRetry backoff.Strategy
	retries   sync.WaitGroup
	stop      chan struct{}
}

// NewExecutor creates an Executor.
func NewExecutor(eng Engine, registry *job.Registry, logger *slog.Logger, heartbeat time.Duration, autoRetry backoff.Strategy) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		engine:    eng,
		registry:  registry,
		logger:    logger,
		heartbeat: heartbeat,
		autoRetry: autoRetry,
		stop:      make(chan struct{}),
	}
}

// Execute runs j, which must have been claimed by this backend. The
// returned error is the handler's; recording the outcome is best effort
// and logged.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	// Outcomes are recorded even when ctx was cancelled by a shutdown.
	rec := context.WithoutCancel(ctx)

	handler, ok := e.registry.Get(j.Type)
	if !ok {
		err := fmt.Errorf("no handler registered for job type %q", j.Type)
		e.fail(rec, j, err)
		return err
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stopBeat := e.watch(runCtx, j.ID, cancel)
	start := time.Now()
	result, err := safeRun(runCtx, handler, j, &reporter{engine: e.engine, jobID: j.ID})
	stopBeat()

	if cause := context.Cause(runCtx); errors.Is(cause, ErrCancelled) || errors.Is(cause, ErrNotRunning) {
		e.logger.Info("job stopped while running",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.String("reason", cause.Error()),
		)
		return cause
	}
	if err != nil {
		e.logger.Debug("job handler failed",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.String("error", err.Error()),
		)
		e.fail(rec, j, err)
		return err
	}

	completed := job.StatusCompleted
	if result == nil {
		result = map[string]any{}
	}
	if _, uerr := e.engine.Update(rec, j.ID, job.Patch{Status: &completed, Result: result}); uerr != nil {
		e.logger.Warn("failed to record job completion",
			slog.String("job_id", j.ID.String()),
			slog.String("error", uerr.Error()),
		)
		return nil
	}
	e.logger.Debug("job completed",
		slog.String("job_id", j.ID.String()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// watch heartbeats the job until the returned stop function is called,
// cancelling the handler once the engine reports the job cancelled.
func (e *Executor) watch(ctx context.Context, jobID id.JobID, cancel context.CancelCauseFunc) func() {
	if e.heartbeat <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(e.heartbeat)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				j, err := e.engine.Heartbeat(ctx, jobID)
				if err != nil {
					e.logger.Warn("heartbeat failed",
						slog.String("job_id", jobID.String()),
						slog.String("error", err.Error()),
					)
					continue
				}
				switch j.Status {
				case job.StatusRunning, job.StatusPaused:
				case job.StatusCancelled:
					cancel(ErrCancelled)
					return
				default:
					cancel(ErrNotRunning)
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (e *Executor) fail(ctx context.Context, j *job.Job, jobErr error) {
	failed, msg := job.StatusFailed, jobErr.Error()
	updated, err := e.engine.Update(ctx, j.ID, job.Patch{Status: &failed, Error: &msg})
	if err != nil {
		e.logger.Warn("failed to record job failure",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	e.scheduleRetry(updated)
}

// scheduleRetry re-queues a failed job after a backoff delay when the job
// opted into retry_on_failure and has retries left.
func (e *Executor) scheduleRetry(j *job.Job) {
	if e.autoRetry == nil || !j.RetryOnFailure || j.RetryCount >= j.MaxRetries {
		return
	}
	attempt := j.RetryCount + 1
	delay := e.autoRetry.Delay(attempt)
	e.retries.Add(1)
	go func() {
		defer e.retries.Done()
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-e.stop:
			return
		case <-t.C:
		}
		_, err := e.engine.Retry(context.Background(), j.ID)
		switch {
		case err == nil:
			e.logger.Info("job re-queued",
				slog.String("job_id", j.ID.String()),
				slog.Int("attempt", attempt),
				slog.Int("max_retries", j.MaxRetries),
				slog.Duration("delay", delay),
			)
		case automation.KindOf(err) == automation.KindConflict,
			automation.KindOf(err) == automation.KindRetriesExhausted:
			// Retried or moved on by someone else in the meantime.
		default:
			e.logger.Warn("auto retry failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// close abandons pending retries. The reconcile pass does not re-queue
// failed jobs, so abandoned retries are left to an operator.
func (e *Executor) close() {
	close(e.stop)
	e.retries.Wait()
}

func safeRun(ctx context.Context, h job.HandlerFunc, j *job.Job, r job.Reporter) (result map[string]any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h(ctx, j.Clone(), r)
}

// reporter writes handler progress onto the job.
type reporter struct {
	engine Engine
	jobID  id.JobID
}

func (r *reporter) Report(ctx context.Context, percent int, message string) error {
	p := job.Patch{Progress: &percent}
	if message != "" {
		p.ProgressMessage = &message
	}
	_, err := r.engine.Update(ctx, r.jobID, p)
	return err
}
