// Package cron fires recurring jobs.
//
// An [Entry] pairs a cron expression with a job definition and a fixed
// payload. The [Scheduler] checks entries on every tick and, for each due
// entry, schedules one envelope on the entry's store with run_at set to
// the firing time. Workers then pick it up like any other job.
//
// # Schedules
//
// Expressions use the standard five fields or a descriptor:
//
//	"*/5 * * * *"   every five minutes
//	"0 9 * * 1-5"   weekdays at 09:00
//	"@hourly"
//	"@every 30s"
//
// # Registering
//
//	s := cron.NewScheduler(cron.WithLogger(logger))
//	err := cron.Register(s, "nightly-digest", "0 2 * * *", store, digestJob, DigestInput{})
//	go s.Run(ctx)
//
// Missed firings are not replayed. When the scheduler falls behind, a due
// entry fires once and its next run is computed from the current time.
//
// The [ext.CronFired] hook fires after each scheduled envelope.
package cron
