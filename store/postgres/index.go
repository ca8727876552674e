package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
	"github.com/evanramirez88/restaurant-consulting-site/automation/queue"
)

// Index is a queue.Index kept in the automation_dispatch_queue table.
// Tier order comes from the tier column, FIFO order from a sequence.
// Claims use SELECT FOR UPDATE SKIP LOCKED so concurrent consumers never
// receive the same id.
type Index struct {
	pool *pgxpool.Pool
}

// NewIndex returns an Index on pool. The table is created by Migrate.
func NewIndex(pool *pgxpool.Pool) *Index {
	return &Index{pool: pool}
}

// Enqueue moves jobID to the tail of tier.
func (x *Index) Enqueue(ctx context.Context, tier job.Priority, jobID id.JobID) error {
	_, err := x.pool.Exec(ctx, `
		INSERT INTO automation_dispatch_queue (job_id, tier) VALUES ($1, $2)
		ON CONFLICT (job_id) DO UPDATE SET
			tier = EXCLUDED.tier,
			seq = nextval(pg_get_serial_sequence('automation_dispatch_queue', 'seq'))`,
		jobID.String(), int(tier),
	)
	if err != nil {
		return fmt.Errorf("automation/postgres: enqueue %s: %w", jobID, err)
	}
	return nil
}

// Claim deletes and returns the head of the highest non-empty tier.
func (x *Index) Claim(ctx context.Context) (queue.Entry, bool, error) {
	var (
		idStr string
		tier  int
	)
	err := x.pool.QueryRow(ctx, `
		DELETE FROM automation_dispatch_queue
		WHERE job_id = (
			SELECT job_id FROM automation_dispatch_queue
			ORDER BY tier DESC, seq ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING job_id, tier`,
	).Scan(&idStr, &tier)
	if err != nil {
		if isNoRows(err) {
			return queue.Entry{}, false, nil
		}
		return queue.Entry{}, false, fmt.Errorf("automation/postgres: claim: %w", err)
	}
	jobID, err := id.ParseJobID(idStr)
	if err != nil {
		return queue.Entry{}, false, fmt.Errorf("automation/postgres: parse job id %q: %w", idStr, err)
	}
	return queue.Entry{Tier: job.Priority(tier), JobID: jobID}, true, nil
}

// Remove drops jobID from whichever tier holds it.
func (x *Index) Remove(ctx context.Context, jobID id.JobID) error {
	if _, err := x.pool.Exec(ctx, `DELETE FROM automation_dispatch_queue WHERE job_id = $1`, jobID.String()); err != nil {
		return fmt.Errorf("automation/postgres: remove %s: %w", jobID, err)
	}
	return nil
}

// Reset replaces the table contents with entries in one transaction.
func (x *Index) Reset(ctx context.Context, entries []queue.Entry) error {
	err := pgx.BeginFunc(ctx, x.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM automation_dispatch_queue`); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, e := range entries {
			batch.Queue(`
				INSERT INTO automation_dispatch_queue (job_id, tier) VALUES ($1, $2)
				ON CONFLICT (job_id) DO NOTHING`,
				e.JobID.String(), int(e.Tier))
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("automation/postgres: reset index: %w", err)
	}
	return nil
}

// Depth returns the length of each tier.
func (x *Index) Depth(ctx context.Context) (map[job.Priority]int, error) {
	out := make(map[job.Priority]int, len(job.Tiers))
	for _, p := range job.Tiers {
		out[p] = 0
	}
	rows, err := x.pool.Query(ctx, `SELECT tier, COUNT(*) FROM automation_dispatch_queue GROUP BY tier`)
	if err != nil {
		return nil, fmt.Errorf("automation/postgres: depth: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tier, n int
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, fmt.Errorf("automation/postgres: depth: %w", err)
		}
		out[job.Priority(tier)] = n
	}
	return out, rows.Err()
}

// Entries returns every indexed id in claim order.
func (x *Index) Entries(ctx context.Context) ([]queue.Entry, error) {
	rows, err := x.pool.Query(ctx, `SELECT job_id, tier FROM automation_dispatch_queue ORDER BY tier DESC, seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("automation/postgres: entries: %w", err)
	}
	defer rows.Close()
	var out []queue.Entry
	for rows.Next() {
		var (
			idStr string
			tier  int
		)
		if err := rows.Scan(&idStr, &tier); err != nil {
			return nil, fmt.Errorf("automation/postgres: entries: %w", err)
		}
		jobID, err := id.ParseJobID(idStr)
		if err != nil {
			return nil, fmt.Errorf("automation/postgres: parse job id %q: %w", idStr, err)
		}
		out = append(out, queue.Entry{Tier: job.Priority(tier), JobID: jobID})
	}
	return out, rows.Err()
}
