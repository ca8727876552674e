// Package ext defines the extension system of the automation engine.
//
// Extensions are notified after the engine commits a job mutation and can
// react to it: broadcasting to live subscribers, recording metrics, raising
// alerts. Each hook is a separate interface so extensions opt in only to the
// events they care about.
//
// # Implementing an Extension
//
//	type Auditor struct{}
//
//	func (a *Auditor) Name() string { return "auditor" }
//
//	func (a *Auditor) OnJobCancelled(ctx context.Context, j *job.Job) error {
//	    return audit.Record(ctx, "cancelled", j.ID)
//	}
//
// # Hooks
//
//   - [JobChanged]: exactly once for every committed mutation
//   - [JobCreated], [JobQueued], [JobClaimed]
//   - [JobCompleted], [JobFailed], [JobCancelled], [JobTimedOut]
//   - [JobRetried]
//   - [Shutdown]
//
// Hook errors are logged and never fail the mutation that triggered them.
package ext
