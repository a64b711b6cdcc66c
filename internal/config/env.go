// Package config defines environment variable keys for configuration.
package config

//nolint:gosec,revive // Environment variable keys are not credentials and do not need per-const comments.
const (
	// Core (Required)
	EnvServiceAPIKey = "WRN_SERVICE_API_KEY"
	EnvWebhookURL    = "WRN_SERVICE_HOOK_URL"

	// Upstream API
	EnvAPIBaseURL         = "WRN_API_BASE_URL"
	EnvAPIAllowedHosts    = "WRN_API_ALLOWED_HOSTS"
	EnvAPIAllowedPaths    = "WRN_API_ALLOWED_PATHS"
	EnvAPIWarningType     = "WRN_API_WARNING_TYPE"
	EnvAPIStationID       = "WRN_API_STATION_ID"
	EnvAPIConnectTimeout  = "WRN_API_CONNECT_TIMEOUT"
	EnvAPIReadTimeout     = "WRN_API_READ_TIMEOUT"
	EnvAPIMaxRetries      = "WRN_API_MAX_RETRIES"
	EnvAPIRetryDelay      = "WRN_API_RETRY_DELAY"
	EnvAPIRateLimitPerSec = "WRN_API_RATE_LIMIT_PER_SEC"

	// Regions
	EnvAreaCodes       = "WRN_AREA_CODES"
	EnvAreaCodeMapping = "WRN_AREA_CODE_MAPPING"
	EnvLookbackDays    = "WRN_LOOKBACK_DAYS"

	// Cycle
	EnvCycleInterval  = "WRN_CYCLE_INTERVAL"
	EnvAreaInterval   = "WRN_AREA_INTERVAL"
	EnvAreaMaxWorkers = "WRN_AREA_MAX_WORKERS"

	// Notifier
	EnvBotName             = "WRN_BOT_NAME"
	EnvNotifierTimeout     = "WRN_NOTIFIER_TIMEOUT"
	EnvNotifierMaxRetries  = "WRN_NOTIFIER_MAX_RETRIES"
	EnvNotifierRetryDelay  = "WRN_NOTIFIER_RETRY_DELAY"
	EnvSendRateLimitPerSec = "WRN_SEND_RATE_LIMIT_PER_SEC"
	EnvMaxAttemptsPerCycle = "WRN_MAX_ATTEMPTS_PER_CYCLE"
	EnvCircuitEnabled      = "WRN_CIRCUIT_ENABLED"
	EnvCircuitMaxFailures  = "WRN_CIRCUIT_MAX_FAILURES"
	EnvCircuitOpenDuration = "WRN_CIRCUIT_OPEN_DURATION"

	// State store
	EnvStateBackend     = "WRN_STATE_BACKEND"
	EnvSentMessagesFile = "WRN_SENT_MESSAGES_FILE"
	EnvSQLiteStateFile  = "WRN_SQLITE_STATE_FILE"

	// Cleanup
	EnvCleanupEnabled       = "WRN_CLEANUP_ENABLED"
	EnvCleanupRetentionDays = "WRN_CLEANUP_RETENTION_DAYS"
	EnvCleanupIncludeUnsent = "WRN_CLEANUP_INCLUDE_UNSENT"

	// Health monitoring
	EnvHealthAlertEnabled           = "WRN_HEALTH_ALERT_ENABLED"
	EnvHealthStateFile              = "WRN_HEALTH_STATE_FILE"
	EnvOutageWindow                 = "WRN_OUTAGE_WINDOW"
	EnvOutageFailRatio              = "WRN_OUTAGE_FAIL_RATIO"
	EnvOutageMinFailedCycles        = "WRN_OUTAGE_MIN_FAILED_CYCLES"
	EnvOutageConsecutiveFailures    = "WRN_OUTAGE_CONSECUTIVE_FAILURES"
	EnvRecoveryWindow               = "WRN_RECOVERY_WINDOW"
	EnvRecoveryMaxFailRatio         = "WRN_RECOVERY_MAX_FAIL_RATIO"
	EnvRecoveryConsecutiveSuccesses = "WRN_RECOVERY_CONSECUTIVE_SUCCESSES"
	EnvHeartbeatInterval            = "WRN_HEARTBEAT_INTERVAL"
	EnvMaxBackoff                   = "WRN_MAX_BACKOFF"
	EnvBackfillMaxDays              = "WRN_BACKFILL_MAX_DAYS"
	EnvBackfillWindowDays           = "WRN_BACKFILL_WINDOW_DAYS"
	EnvBackfillMaxWindowsPerCycle   = "WRN_BACKFILL_MAX_WINDOWS_PER_CYCLE"

	// Ops server
	EnvOpsPort = "WRN_OPS_PORT"

	// Runtime
	EnvTimezone        = "WRN_TIMEZONE"
	EnvLogLevel        = "WRN_LOG_LEVEL"
	EnvDryRun          = "WRN_DRY_RUN"
	EnvRunOnce         = "WRN_RUN_ONCE"
	EnvShutdownTimeout = "WRN_SHUTDOWN_TIMEOUT"
)
