// Package events defines the stable structured event names emitted by
// the alert bridge. Names are part of the operational contract; log
// consumers filter on them, so renaming one is a breaking change.
package events

// Runtime lifecycle
const (
	StartupReady            = "startup.ready"
	StartupInvalidConfig    = "startup.invalid_config"
	ShutdownInterrupt       = "shutdown.interrupt"
	ShutdownRunOnceComplete = "shutdown.run_once_complete"
	ShutdownForced          = "shutdown.forced"
	ShutdownUnexpectedError = "shutdown.unexpected_error"
)

// Cycle
const (
	CycleStart               = "cycle.start"
	CycleComplete            = "cycle.complete"
	CycleCostMetrics         = "cycle.cost.metrics"
	CycleParallelFetch       = "cycle.parallel_fetch"
	CycleAreaIntervalIgnored = "cycle.area_interval_ignored"
	CycleIntervalAdjusted    = "cycle.interval.adjusted"
	CycleIterationFailed     = "cycle.iteration.failed"
	CycleFatalError          = "cycle.fatal_error"
)

// Area processing
const (
	AreaStart              = "area.start"
	AreaFailed             = "area.failed"
	AreaFetchSummary       = "area.fetch.summary"
	AreaFetchRetry         = "area.fetch.retry"
	AreaNameMappingWarning = "area.name_mapping_warning"
	AreaCodeUnmapped       = "area.code_unmapped"
)

// Notifications
const (
	NotificationSent                 = "notification.sent"
	NotificationDryRun               = "notification.dry_run"
	NotificationRetry                = "notification.retry"
	NotificationFinalFailure         = "notification.final_failure"
	NotificationURLAttachmentBlocked = "notification.url_attachment_blocked"
	NotificationBackpressureApplied  = "notification.backpressure.applied"
	NotificationCircuitOpened        = "notification.circuit.opened"
	NotificationCircuitBlocked       = "notification.circuit.blocked"
	NotificationCircuitClosed        = "notification.circuit.closed"
)

// Health
const (
	HealthEvaluate           = "health.evaluate"
	HealthNotificationSent   = "health.notification.sent"
	HealthNotificationFailed = "health.notification.failed"
	HealthBackfillStart      = "health.backfill.start"
	HealthBackfillComplete   = "health.backfill.complete"
	HealthBackfillFailed     = "health.backfill.failed"
)

// Health state persistence
const (
	HealthStateInvalidJSON   = "health_state.invalid_json"
	HealthStateReadFailed    = "health_state.read_failed"
	HealthStateBackupFailed  = "health_state.backup_failed"
	HealthStatePersistFailed = "health_state.persist_failed"
)

// Notification state persistence
const (
	StateInvalidJSON       = "state.invalid_json"
	StateReadFailed        = "state.read_failed"
	StateBackupFailed      = "state.backup_failed"
	StatePersistFailed     = "state.persist_failed"
	StateCleanupAuto       = "state.cleanup.auto"
	StateCleanupComplete   = "state.cleanup.complete"
	StateCleanupFailed     = "state.cleanup.failed"
	StateMigrationComplete = "state.migration.complete"
	StateMigrationFailed   = "state.migration.failed"
	StateVerifyComplete    = "state.verify.complete"
	StateVerifyFailed      = "state.verify.failed"
)
