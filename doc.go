// Package automation is an orchestration engine for restaurant-platform
// automation jobs: health checks, menu uploads and syncs, golden-copy
// snapshots, backups, and other browser-driven tasks run against the POS
// back office of a client.
//
// The engine owns the job record. It accepts submissions, gates them on
// their dependencies and schedule, keeps a four-tier priority index of
// runnable work, hands that work to execution backends one claim at a time,
// validates every lifecycle transition, and broadcasts each committed change
// to live subscribers.
//
// # Quick Start
//
//	o, err := automation.New(
//	    automation.WithStore(pgStore),
//	    automation.WithLogger(logger),
//	)
//	eng, err := engine.Build(o, engine.WithIndex(redisIndex))
//	j, err := eng.Create(ctx, engine.CreateRequest{ClientID: cid, Type: job.TypeHealthCheck})
//
// # Lifecycle
//
//	pending ──► queued ──► running ──► completed
//	   │          │          │  ├────► failed ────┐
//	   │          │          │  └────► paused     │ retry
//	   └──────────┴──────────┴──────► cancelled ──┴──► queued
//
// Paused jobs can only be cancelled. Failed and cancelled jobs re-enter the
// queue only through an explicit retry, bounded by the job's max_retries.
//
// Job ids are TypeIDs ("job_..."); client ids are the UUIDs of the external
// client directory.
package automation
