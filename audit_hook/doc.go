// Package audithook is an engine extension that turns job lifecycle hooks
// into an audit trail.
//
// Every hook emits one [AuditEvent] through a [Recorder]. Severity is info
// for normal progress, warning for cancellations, retries and failures
// that will be retried, and critical for timeouts and final failures.
//
//	rec := audithook.Multi{
//	    audithook.LogRecorder{Logger: logger},
//	    audithook.NewNSQRecorder(producer, "automation.audit"),
//	}
//	eng, _ := engine.Build(o, engine.WithExtension(audithook.New(rec)))
//
// # Selective filtering
//
//	audithook.New(rec,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobTimedOut,
//	    ),
//	)
package audithook
