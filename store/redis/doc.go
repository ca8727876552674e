// Package redis implements queue.Index on Redis. Each dispatch tier is a
// Sorted Set named job_queue:{priority}; members are job ids scored by a
// shared monotonic sequence so every tier drains FIFO. Claims pop with
// ZPOPMIN, which hands a given id to at most one caller.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	idx := redisstore.New(client)
//	if err := idx.Ping(ctx); err != nil { ... }
package redis
