package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
)

// CreateJob persists a new job at version 1.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	args := append(jobArgs(j), j.CreatedAt.UTC(), j.UpdatedAt.UTC())
	_, err := s.pool.Exec(ctx, `
		INSERT INTO automation_jobs (
			id, client_id, job_type, status, priority, config, result, error,
			progress, progress_message, scheduled_at, queued_at, started_at,
			completed_at, heartbeat_at, retry_count, max_retries, retry_on_failure,
			timeout_seconds, depends_on, metadata, created_at, updated_at, version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, 1
		)`, args...)
	if err != nil {
		switch {
		case isDuplicateKey(err):
			return automation.ErrJobAlreadyExists
		case isForeignKey(err):
			return automation.ErrClientNotFound
		}
		return fmt.Errorf("automation/postgres: create job: %w", err)
	}
	j.Version = 1
	return nil
}

// GetJob retrieves a job by id.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM automation_jobs WHERE id = $1`, jobID.String())
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, automation.ErrJobNotFound
		}
		return nil, fmt.Errorf("automation/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob writes j when the stored version equals j.Version, then
// increments j.Version.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	args := append(jobArgs(j), j.UpdatedAt.UTC(), j.Version)
	tag, err := s.pool.Exec(ctx, `
		UPDATE automation_jobs SET
			client_id = $2, job_type = $3, status = $4, priority = $5,
			config = $6, result = $7, error = $8,
			progress = $9, progress_message = $10, scheduled_at = $11,
			queued_at = $12, started_at = $13, completed_at = $14,
			heartbeat_at = $15, retry_count = $16, max_retries = $17,
			retry_on_failure = $18, timeout_seconds = $19, depends_on = $20,
			metadata = $21, updated_at = $22, version = version + 1
		WHERE id = $1 AND version = $23`, args...)
	if err != nil {
		return fmt.Errorf("automation/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM automation_jobs WHERE id = $1)`, j.ID.String(),
		).Scan(&exists); err != nil {
			return fmt.Errorf("automation/postgres: update job: %w", err)
		}
		if !exists {
			return automation.ErrJobNotFound
		}
		return automation.ErrVersionConflict
	}
	j.Version++
	return nil
}

// ListJobs returns jobs matching q, ordered by priority descending then
// created_at descending.
func (s *Store) ListJobs(ctx context.Context, q job.Query) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM automation_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if q.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(q.Status))
		argIdx++
	}
	if q.Type != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, string(q.Type))
		argIdx++
	}
	if q.ClientID != uuid.Nil {
		query += fmt.Sprintf(" AND client_id = $%d", argIdx)
		args = append(args, q.ClientID)
		argIdx++
	}
	if q.Priority != nil {
		query += fmt.Sprintf(" AND priority = $%d", argIdx)
		args = append(args, int(*q.Priority))
		argIdx++
	}
	if !q.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, q.Since.UTC())
		argIdx++
	}

	query += " ORDER BY priority DESC, created_at DESC"

	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, q.Limit)
		argIdx++
	}
	if q.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, q.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("automation/postgres: list jobs: %w", err)
	}
	return collectJobs(rows)
}

// ListQueued returns every queued job ordered by queued_at ascending.
func (s *Store) ListQueued(ctx context.Context) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM automation_jobs
		WHERE status = 'queued'
		ORDER BY COALESCE(queued_at, updated_at) ASC`)
	if err != nil {
		return nil, fmt.Errorf("automation/postgres: list queued: %w", err)
	}
	return collectJobs(rows)
}

// ListDependents returns pending jobs whose depends_on contains jobID.
func (s *Store) ListDependents(ctx context.Context, jobID id.JobID) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM automation_jobs
		WHERE status = 'pending' AND depends_on @> ARRAY[$1::text]`,
		jobID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("automation/postgres: list dependents: %w", err)
	}
	return collectJobs(rows)
}

// JobStatuses returns the status of each id that exists.
func (s *Store) JobStatuses(ctx context.Context, ids []id.JobID) (map[id.JobID]job.Status, error) {
	out := make(map[id.JobID]job.Status, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, status FROM automation_jobs WHERE id = ANY($1)`, id.Strings(ids))
	if err != nil {
		return nil, fmt.Errorf("automation/postgres: job statuses: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var idStr, status string
		if err := rows.Scan(&idStr, &status); err != nil {
			return nil, fmt.Errorf("automation/postgres: job statuses: %w", err)
		}
		jid, err := id.ParseJobID(idStr)
		if err != nil {
			return nil, fmt.Errorf("automation/postgres: parse job id %q: %w", idStr, err)
		}
		out[jid] = job.Status(status)
	}
	return out, rows.Err()
}

// Dependencies returns the depends_on list of each id that exists.
func (s *Store) Dependencies(ctx context.Context, ids []id.JobID) (map[id.JobID][]id.JobID, error) {
	out := make(map[id.JobID][]id.JobID, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, depends_on FROM automation_jobs WHERE id = ANY($1)`, id.Strings(ids))
	if err != nil {
		return nil, fmt.Errorf("automation/postgres: dependencies: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			idStr string
			deps  []string
		)
		if err := rows.Scan(&idStr, &deps); err != nil {
			return nil, fmt.Errorf("automation/postgres: dependencies: %w", err)
		}
		jid, err := id.ParseJobID(idStr)
		if err != nil {
			return nil, fmt.Errorf("automation/postgres: parse job id %q: %w", idStr, err)
		}
		parsed, err := id.ParseJobIDs(deps)
		if err != nil {
			return nil, fmt.Errorf("automation/postgres: job %s depends_on: %w", idStr, err)
		}
		out[jid] = parsed
	}
	return out, rows.Err()
}

// Stats aggregates the job table in two queries: the status counters and
// the active breakdown by type and priority.
func (s *Store) Stats(ctx context.Context, dayStart time.Time) (*job.Stats, error) {
	st := &job.Stats{ByType: map[string]int{}, ByPriority: map[string]int{}}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'queued'),
			COUNT(*) FILTER (WHERE status = 'running'),
			COUNT(*) FILTER (WHERE status = 'completed' AND completed_at >= $1),
			COUNT(*) FILTER (WHERE status = 'failed' AND completed_at >= $1),
			COALESCE(AVG(EXTRACT(EPOCH FROM completed_at - started_at))
				FILTER (WHERE started_at IS NOT NULL AND completed_at IS NOT NULL), 0)::float8
		FROM automation_jobs`, dayStart.UTC(),
	).Scan(&st.TotalJobs, &st.Pending, &st.Queued, &st.Running,
		&st.CompletedToday, &st.FailedToday, &st.AvgDurationSeconds)
	if err != nil {
		return nil, fmt.Errorf("automation/postgres: stats: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT job_type, priority, COUNT(*)
		FROM automation_jobs
		WHERE status IN ('pending', 'queued', 'running')
		GROUP BY job_type, priority`)
	if err != nil {
		return nil, fmt.Errorf("automation/postgres: stats breakdown: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			jobType  string
			priority int
			n        int
		)
		if err := rows.Scan(&jobType, &priority, &n); err != nil {
			return nil, fmt.Errorf("automation/postgres: stats breakdown: %w", err)
		}
		st.ByType[jobType] += n
		st.ByPriority[job.PriorityKey(job.Priority(priority))] += n
	}
	return st, rows.Err()
}

// Load counts running, recently failed and long-queued jobs in one scan.
func (s *Store) Load(ctx context.Context, failedSince, queuedBefore time.Time) (*job.Load, error) {
	out := &job.Load{}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'running'),
			COUNT(*) FILTER (WHERE status = 'failed' AND completed_at >= $1),
			COUNT(*) FILTER (WHERE status = 'queued' AND COALESCE(queued_at, updated_at) < $2)
		FROM automation_jobs
		WHERE status IN ('running', 'failed', 'queued')`,
		failedSince.UTC(), queuedBefore.UTC(),
	).Scan(&out.Running, &out.FailedRecently, &out.StaleQueued)
	if err != nil {
		return nil, fmt.Errorf("automation/postgres: load: %w", err)
	}
	return out, nil
}
