package audithook

// Audit event actions, one per lifecycle hook.
const (
	ActionJobCreated   = "job.created"
	ActionJobQueued    = "job.queued"
	ActionJobClaimed   = "job.claimed"
	ActionJobCompleted = "job.completed"
	ActionJobFailed    = "job.failed"
	ActionJobCancelled = "job.cancelled"
	ActionJobRetried   = "job.retried"
	ActionJobTimedOut  = "job.timed_out"
)

// CategoryJob groups every action of this extension.
const CategoryJob = "automation.job"

// ResourceJob is the Resource of every event.
const ResourceJob = "automation_job"

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobCreated,
		ActionJobQueued,
		ActionJobClaimed,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobCancelled,
		ActionJobRetried,
		ActionJobTimedOut,
	}
}
