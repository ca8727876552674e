package job

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
)

// Store defines the persistence contract for jobs. It is the single
// source of truth for job status; dispatch indexes are derived from it.
type Store interface {
	// CreateJob persists a new job. Returns automation.ErrJobAlreadyExists
	// if the id is taken. On success j.Version is 1.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by id. Returns automation.ErrJobNotFound.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob writes j if the stored version equals j.Version, then
	// increments j.Version. Returns automation.ErrVersionConflict on a
	// mismatch and automation.ErrJobNotFound if the job is gone.
	UpdateJob(ctx context.Context, j *Job) error

	// ListJobs returns jobs matching q, ordered by priority descending then
	// created_at descending.
	ListJobs(ctx context.Context, q Query) ([]*Job, error)

	// ListQueued returns every queued job ordered by queued_at ascending.
	ListQueued(ctx context.Context) ([]*Job, error)

	// ListDependents returns pending jobs whose depends_on contains jobID.
	ListDependents(ctx context.Context, jobID id.JobID) ([]*Job, error)

	// JobStatuses returns the status of each id that exists.
	JobStatuses(ctx context.Context, ids []id.JobID) (map[id.JobID]Status, error)

	// Dependencies returns the depends_on list of each id that exists.
	Dependencies(ctx context.Context, ids []id.JobID) (map[id.JobID][]id.JobID, error)

	// Stats summarizes all jobs, counting completions since dayStart.
	Stats(ctx context.Context, dayStart time.Time) (*Stats, error)

	// Load counts running jobs, jobs that failed at or after failedSince,
	// and queued jobs whose queued_at is before queuedBefore.
	Load(ctx context.Context, failedSince, queuedBefore time.Time) (*Load, error)
}

// Load is a point-in-time reading of execution pressure.
type Load struct {
	Running        int `json:"running_jobs"`
	FailedRecently int `json:"failed_last_hour"`
	StaleQueued    int `json:"stale_queued"`
}

// TypeStatusCount is one row of a client's job history.
type TypeStatusCount struct {
	Type   Type   `json:"job_type"`
	Status Status `json:"status"`
	Count  int    `json:"count"`
}

// Analytics is the read-only history surface mined by the scheduling
// advisor.
type Analytics interface {
	// ScheduledPerHour counts jobs whose scheduled_at falls in [from, to),
	// bucketed by UTC hour.
	ScheduledPerHour(ctx context.Context, from, to time.Time) (map[time.Time]int, error)

	// LastCompleted returns the latest completed_at of completed jobs per
	// type for one client.
	LastCompleted(ctx context.Context, clientID uuid.UUID) (map[Type]time.Time, error)

	// History counts a client's jobs created since, grouped by type and
	// status.
	History(ctx context.Context, clientID uuid.UUID, since time.Time) ([]TypeStatusCount, error)
}
