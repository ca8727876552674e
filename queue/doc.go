// Package queue is the priority dispatcher: four strictly ordered tiers of
// dispatchable job ids, and the admission limiter applied to creations.
//
// # Index
//
// An [Index] holds one FIFO per tier. Claim always drains critical before
// high, high before normal, normal before low. An id is in at most one tier;
// enqueueing an id that is already indexed moves it to the tail of its new
// tier. The index is derived state: the job store's status field is the
// source of truth. At startup [Rebuild] reconstructs the index from the
// store's queued jobs ordered by queued_at; afterwards the engine repairs
// it entry by entry from [Index.Entries] and never clears it.
//
// [MemoryIndex] serves single-process deployments; store/redis provides a
// shared index on sorted sets, and store/postgres a table claimed with
// SKIP LOCKED.
//
// # Limiter
//
// [Limiter] throttles job creation per client with a token bucket
// (golang.org/x/time/rate):
//
//	l := queue.NewLimiter(queue.Config{RateLimit: 5, RateBurst: 20})
//	l.SetClientConfig(queue.ClientConfig{ClientID: "…", RateLimit: 1, RateBurst: 5})
//	if !l.Allow(clientID) {
//	    return automation.ErrRateLimited
//	}
package queue
