package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
	"github.com/evanramirez88/restaurant-consulting-site/automation/queue"
)

// Enqueue moves jobID to the tail of tier. The member is dropped from every
// tier and re-added inside one MULTI block, so it is never in two tiers.
func (x *Index) Enqueue(ctx context.Context, tier job.Priority, jobID id.JobID) error {
	seq, err := x.client.Incr(ctx, x.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("automation/redis: enqueue %s: %w", jobID, err)
	}
	member := jobID.String()
	pipe := x.client.TxPipeline()
	for _, key := range x.tierKeys() {
		pipe.ZRem(ctx, key, member)
	}
	pipe.ZAdd(ctx, x.tierKey(tier), redis.Z{Score: float64(seq), Member: member})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("automation/redis: enqueue %s: %w", jobID, err)
	}
	return nil
}

// Claim pops the lowest-scored member of the highest non-empty tier.
func (x *Index) Claim(ctx context.Context) (queue.Entry, bool, error) {
	for _, p := range job.Tiers {
		res, err := x.client.ZPopMin(ctx, x.tierKey(p), 1).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return queue.Entry{}, false, fmt.Errorf("automation/redis: claim: %w", err)
		}
		if len(res) == 0 {
			continue
		}
		member, _ := res[0].Member.(string)
		jobID, err := id.ParseJobID(member)
		if err != nil {
			// A foreign member would block the tier forever; drop it.
			x.logger.Warn("redis index: discarded unparseable member",
				slog.String("key", x.tierKey(p)),
				slog.String("member", member),
			)
			continue
		}
		return queue.Entry{Tier: p, JobID: jobID}, true, nil
	}
	return queue.Entry{}, false, nil
}

// Remove drops jobID from whichever tier holds it.
func (x *Index) Remove(ctx context.Context, jobID id.JobID) error {
	member := jobID.String()
	pipe := x.client.TxPipeline()
	for _, key := range x.tierKeys() {
		pipe.ZRem(ctx, key, member)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("automation/redis: remove %s: %w", jobID, err)
	}
	return nil
}

// Reset replaces every tier with entries. Scores are reserved from the
// shared sequence so later enqueues still land behind them.
func (x *Index) Reset(ctx context.Context, entries []queue.Entry) error {
	var base int64
	if n := len(entries); n > 0 {
		top, err := x.client.IncrBy(ctx, x.seqKey(), int64(n)).Result()
		if err != nil {
			return fmt.Errorf("automation/redis: reset index: %w", err)
		}
		base = top - int64(n)
	}
	pipe := x.client.TxPipeline()
	pipe.Del(ctx, x.tierKeys()...)
	for i, e := range entries {
		pipe.ZAdd(ctx, x.tierKey(e.Tier), redis.Z{
			Score:  float64(base + int64(i) + 1),
			Member: e.JobID.String(),
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("automation/redis: reset index: %w", err)
	}
	return nil
}

// Depth returns the length of each tier.
func (x *Index) Depth(ctx context.Context) (map[job.Priority]int, error) {
	pipe := x.client.Pipeline()
	cmds := make(map[job.Priority]*redis.IntCmd, len(job.Tiers))
	for _, p := range job.Tiers {
		cmds[p] = pipe.ZCard(ctx, x.tierKey(p))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("automation/redis: depth: %w", err)
	}
	out := make(map[job.Priority]int, len(cmds))
	for p, cmd := range cmds {
		out[p] = int(cmd.Val())
	}
	return out, nil
}

// Entries returns every indexed id in claim order. Unparseable members are
// skipped; Claim discards them.
func (x *Index) Entries(ctx context.Context) ([]queue.Entry, error) {
	pipe := x.client.Pipeline()
	cmds := make([]*redis.StringSliceCmd, len(job.Tiers))
	for i, p := range job.Tiers {
		cmds[i] = pipe.ZRange(ctx, x.tierKey(p), 0, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("automation/redis: entries: %w", err)
	}
	var out []queue.Entry
	for i, p := range job.Tiers {
		for _, member := range cmds[i].Val() {
			jobID, err := id.ParseJobID(member)
			if err != nil {
				continue
			}
			out = append(out, queue.Entry{Tier: p, JobID: jobID})
		}
	}
	return out, nil
}
