package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobStarted   = "job.started"
	ActionJobCompleted = "job.completed"
	ActionJobRetrying  = "job.retrying"
	ActionJobKilled    = "job.killed"
	ActionCronFired    = "cron.fired"
	ActionShutdown     = "monitor.shutdown"
)

// Audit event categories group related actions.
const (
	CategoryJob     = "conveyor.job"
	CategoryCron    = "conveyor.cron"
	CategoryMonitor = "conveyor.monitor"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob     = "job"
	ResourceCron    = "cron_entry"
	ResourceMonitor = "monitor"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobRetrying,
		ActionJobKilled,
		ActionCronFired,
		ActionShutdown,
	}
}
