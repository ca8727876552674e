package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
)

// ScheduledPerHour counts jobs whose scheduled_at falls in [from, to),
// bucketed by UTC hour.
func (s *Store) ScheduledPerHour(ctx context.Context, from, to time.Time) (map[time.Time]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT date_trunc('hour', scheduled_at AT TIME ZONE 'UTC') AS hour, COUNT(*)
		FROM automation_jobs
		WHERE scheduled_at >= $1 AND scheduled_at < $2
		GROUP BY hour`,
		from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("automation/postgres: scheduled per hour: %w", err)
	}
	defer rows.Close()

	out := make(map[time.Time]int)
	for rows.Next() {
		var (
			hour time.Time
			n    int
		)
		if err := rows.Scan(&hour, &n); err != nil {
			return nil, fmt.Errorf("automation/postgres: scheduled per hour: %w", err)
		}
		// timestamp without time zone scans as UTC wall time.
		out[time.Date(hour.Year(), hour.Month(), hour.Day(), hour.Hour(), 0, 0, 0, time.UTC)] = n
	}
	return out, rows.Err()
}

// LastCompleted returns the latest completed_at of completed jobs per type
// for one client.
func (s *Store) LastCompleted(ctx context.Context, clientID uuid.UUID) (map[job.Type]time.Time, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_type, MAX(completed_at)
		FROM automation_jobs
		WHERE client_id = $1 AND status = 'completed' AND completed_at IS NOT NULL
		GROUP BY job_type`,
		clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("automation/postgres: last completed: %w", err)
	}
	defer rows.Close()

	out := make(map[job.Type]time.Time)
	for rows.Next() {
		var (
			jobType string
			last    time.Time
		)
		if err := rows.Scan(&jobType, &last); err != nil {
			return nil, fmt.Errorf("automation/postgres: last completed: %w", err)
		}
		out[job.Type(jobType)] = last.UTC()
	}
	return out, rows.Err()
}

// History counts a client's jobs created since, grouped by type and status.
func (s *Store) History(ctx context.Context, clientID uuid.UUID, since time.Time) ([]job.TypeStatusCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_type, status, COUNT(*)
		FROM automation_jobs
		WHERE client_id = $1 AND created_at >= $2
		GROUP BY job_type, status
		ORDER BY job_type, status`,
		clientID, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("automation/postgres: history: %w", err)
	}
	defer rows.Close()

	out := []job.TypeStatusCount{}
	for rows.Next() {
		var (
			jobType, status string
			n               int
		)
		if err := rows.Scan(&jobType, &status, &n); err != nil {
			return nil, fmt.Errorf("automation/postgres: history: %w", err)
		}
		out = append(out, job.TypeStatusCount{Type: job.Type(jobType), Status: job.Status(status), Count: n})
	}
	return out, rows.Err()
}
