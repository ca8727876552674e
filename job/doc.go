// Package job defines the job entity, its lifecycle state machine, the
// status-dependent outcome variant, and the repository contracts behind
// which storage technology is hidden.
//
// # Job Entity
//
// A [Job] is one unit of scheduled work for one client. It embeds
// [automation.Entity] for timestamps and moves through the lifecycle:
//
//	pending  → queued     dependencies complete and scheduled_at reached
//	queued   → running    an execution backend claims it
//	running  → completed | failed | paused
//	pending | queued | running | paused → cancelled
//	failed | cancelled → queued   explicit retry only
//
// [Transition] is the single place where edges are checked. Retry edges are
// only reachable through [Requeue], which also enforces the retry budget.
//
// # Outcome
//
// What a job produced is an [Outcome]: nil while the job has not finished,
// [Success] once completed, [Failure] once failed. The JSON form flattens it
// into the "result" and "error" fields.
//
// # Handlers
//
// Execution backends map job types to handlers through a [Registry]. A
// [Definition] decodes the job's config document into a typed value:
//
//	var MenuSync = job.NewDefinition(job.TypeMenuSync,
//	    func(ctx context.Context, cfg MenuSyncConfig, r job.Reporter) (map[string]any, error) {
//	        return syncMenu(ctx, cfg, r)
//	    },
//	)
package job
