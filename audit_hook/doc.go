// Package audithook is a conveyor extension that turns lifecycle events
// into audit records.
//
// Every job, cron and shutdown hook emits a structured [AuditEvent] through
// the [Recorder] interface. Severity is info for normal operations, warning
// for retries and critical for killed jobs. Metadata carries the job name,
// attempt, elapsed time and failure details.
//
// # Usage
//
//	audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return auditLog.Append(ctx, evt)
//	}))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobRetrying,
//	        audithook.ActionJobKilled,
//	    ),
//	)
package audithook
