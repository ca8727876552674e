package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
)

// jobColumns is the select list scanned by scanJob.
const jobColumns = `
	id, client_id, job_type, status, priority, config, result, error,
	progress, progress_message, scheduled_at, queued_at, started_at,
	completed_at, heartbeat_at, retry_count, max_retries, retry_on_failure,
	timeout_seconds, depends_on, metadata, version, created_at, updated_at`

// jobArgs returns the insert/update arguments of j in jobColumns order,
// without the version column.
func jobArgs(j *job.Job) []any {
	result, errMsg := job.Flatten(j.Outcome)
	var resultArg, errArg any
	if result != nil || j.Status == job.StatusCompleted {
		resultArg = doc(result)
	}
	if errMsg != "" {
		errArg = errMsg
	}
	return []any{
		j.ID.String(), j.ClientID, string(j.Type), string(j.Status), int(j.Priority),
		doc(j.Config), resultArg, errArg,
		j.Progress, j.ProgressMessage, j.ScheduledAt.UTC(), utc(j.QueuedAt), utc(j.StartedAt),
		utc(j.CompletedAt), utc(j.HeartbeatAt), j.RetryCount, j.MaxRetries, j.RetryOnFailure,
		j.TimeoutSeconds, id.Strings(j.DependsOn), doc(j.Metadata),
	}
}

// scanJob scans a single job row selected with jobColumns.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		typeStr   string
		statusStr string
		priority  int
		result    map[string]any
		errMsg    *string
		deps      []string
	)
	err := row.Scan(
		&idStr, &j.ClientID, &typeStr, &statusStr, &priority, &j.Config, &result, &errMsg,
		&j.Progress, &j.ProgressMessage, &j.ScheduledAt, &j.QueuedAt, &j.StartedAt,
		&j.CompletedAt, &j.HeartbeatAt, &j.RetryCount, &j.MaxRetries, &j.RetryOnFailure,
		&j.TimeoutSeconds, &deps, &j.Metadata, &j.Version, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, err := id.ParseJobID(idStr)
	if err != nil {
		return nil, fmt.Errorf("automation/postgres: parse job id %q: %w", idStr, err)
	}
	j.ID = parsedID
	j.Type = job.Type(typeStr)
	j.Status = job.Status(statusStr)
	j.Priority = job.Priority(priority)

	if len(deps) > 0 {
		if j.DependsOn, err = id.ParseJobIDs(deps); err != nil {
			return nil, fmt.Errorf("automation/postgres: job %s depends_on: %w", idStr, err)
		}
	}

	var msg string
	if errMsg != nil {
		msg = *errMsg
	}
	if j.Outcome, err = job.OutcomeFor(j.Status, result, msg); err != nil {
		return nil, fmt.Errorf("automation/postgres: job %s: %w", idStr, err)
	}

	j.ScheduledAt = j.ScheduledAt.UTC()
	j.QueuedAt = utc(j.QueuedAt)
	j.StartedAt = utc(j.StartedAt)
	j.CompletedAt = utc(j.CompletedAt)
	j.HeartbeatAt = utc(j.HeartbeatAt)
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	defer rows.Close()
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("automation/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("automation/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
