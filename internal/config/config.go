// Package config provides application configuration management.
// It loads settings from environment variables and provides defaults
// for the fetch loop, notifier, state store, and health monitoring.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"alertbridge/internal/health"
)

// Defaults shared with the state utility subcommands.
const (
	DefaultAPIBaseURL       = "https://apis.data.go.kr/1360000/WthrWrnInfoService/getWthrWrnList"
	DefaultSentMessagesFile = "data/sent_messages.json"
	DefaultSQLiteStateFile  = "data/state.db"
)

// Config holds all application configuration
type Config struct {
	// Credentials
	ServiceAPIKey string // raw (unencoded) data.go.kr service key
	WebhookURL    string // Dooray incoming webhook, TLS only

	// Upstream API
	APIBaseURL          string
	AllowedHosts        []string
	AllowedPathPrefixes []string
	WarningType         string
	StationID           string
	APIConnectTimeout   time.Duration
	APIReadTimeout      time.Duration
	APIMaxRetries       int
	APIRetryDelay       time.Duration
	APIRateLimitPerSec  float64 // 0 disables pacing

	// Regions
	AreaCodes       []string
	AreaCodeMapping map[string]string
	LookbackDays    int

	// Cycle
	CycleInterval  time.Duration
	AreaInterval   time.Duration // serial inter-region delay, ignored when parallel
	AreaMaxWorkers int

	// Notifier
	BotName             string
	NotifierTimeout     time.Duration
	NotifierMaxRetries  int
	NotifierRetryDelay  time.Duration
	SendRateLimitPerSec float64 // 0 disables pacing
	MaxAttemptsPerCycle int     // 0 = unlimited
	CircuitEnabled      bool
	CircuitMaxFailures  int
	CircuitOpenDuration time.Duration

	// State store
	StateBackend     string // "json" or "sqlite"
	SentMessagesFile string
	SQLiteStateFile  string

	// Cleanup
	CleanupEnabled       bool
	CleanupRetentionDays int
	CleanupIncludeUnsent bool

	// Health monitoring
	HealthAlertEnabled           bool
	HealthStateFile              string
	OutageWindow                 time.Duration
	OutageFailRatio              float64
	OutageMinFailedCycles        int
	OutageConsecutiveFailures    int
	RecoveryWindow               time.Duration
	RecoveryMaxFailRatio         float64
	RecoveryConsecutiveSuccesses int
	HeartbeatInterval            time.Duration
	MaxBackoff                   time.Duration
	BackfillMaxDays              int
	BackfillWindowDays           int
	BackfillMaxWindowsPerCycle   int

	// Ops server
	OpsPort string

	// Runtime
	Timezone        string
	LogLevel        string
	DryRun          bool
	RunOnce         bool
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables
// It attempts to load .env file first, then reads from env vars
func Load() (*Config, error) {
	// Try to load .env file (ignore error if file doesn't exist)
	_ = godotenv.Load()

	defaults := health.DefaultPolicy()

	cfg := &Config{
		// Credentials
		ServiceAPIKey: getEnv(EnvServiceAPIKey, ""),
		WebhookURL:    getEnv(EnvWebhookURL, ""),

		// Upstream API
		APIBaseURL:          getEnv(EnvAPIBaseURL, DefaultAPIBaseURL),
		AllowedHosts:        getListEnv(EnvAPIAllowedHosts, []string{"apis.data.go.kr"}),
		AllowedPathPrefixes: getListEnv(EnvAPIAllowedPaths, []string{"/1360000/"}),
		WarningType:         getEnv(EnvAPIWarningType, ""),
		StationID:           getEnv(EnvAPIStationID, ""),
		APIConnectTimeout:   getDurationEnv(EnvAPIConnectTimeout, 5*time.Second),
		APIReadTimeout:      getDurationEnv(EnvAPIReadTimeout, 5*time.Second),
		APIMaxRetries:       getIntEnv(EnvAPIMaxRetries, 3),
		APIRetryDelay:       getDurationEnv(EnvAPIRetryDelay, 5*time.Second),
		APIRateLimitPerSec:  getFloatEnv(EnvAPIRateLimitPerSec, 2.0),

		// Regions
		LookbackDays: getIntEnv(EnvLookbackDays, 0),

		// Cycle
		CycleInterval:  getDurationEnv(EnvCycleInterval, 10*time.Second),
		AreaInterval:   getDurationEnv(EnvAreaInterval, 5*time.Second),
		AreaMaxWorkers: getIntEnv(EnvAreaMaxWorkers, 1),

		// Notifier
		BotName:             getEnv(EnvBotName, "기상특보알림"),
		NotifierTimeout:     getDurationEnv(EnvNotifierTimeout, 5*time.Second),
		NotifierMaxRetries:  getIntEnv(EnvNotifierMaxRetries, 3),
		NotifierRetryDelay:  getDurationEnv(EnvNotifierRetryDelay, time.Second),
		SendRateLimitPerSec: getFloatEnv(EnvSendRateLimitPerSec, 1.0),
		MaxAttemptsPerCycle: getIntEnv(EnvMaxAttemptsPerCycle, 0),
		CircuitEnabled:      getBoolEnv(EnvCircuitEnabled, true),
		CircuitMaxFailures:  getIntEnv(EnvCircuitMaxFailures, 5),
		CircuitOpenDuration: getDurationEnv(EnvCircuitOpenDuration, time.Minute),

		// State store
		StateBackend:     getEnv(EnvStateBackend, "json"),
		SentMessagesFile: getEnv(EnvSentMessagesFile, DefaultSentMessagesFile),
		SQLiteStateFile:  getEnv(EnvSQLiteStateFile, DefaultSQLiteStateFile),

		// Cleanup
		CleanupEnabled:       getBoolEnv(EnvCleanupEnabled, true),
		CleanupRetentionDays: getIntEnv(EnvCleanupRetentionDays, 30),
		// Unsent rows are kept by default so pending retries survive
		// long outages.
		CleanupIncludeUnsent: getBoolEnv(EnvCleanupIncludeUnsent, false),

		// Health monitoring
		HealthAlertEnabled:           getBoolEnv(EnvHealthAlertEnabled, true),
		HealthStateFile:              getEnv(EnvHealthStateFile, "data/health_state.json"),
		OutageWindow:                 getDurationEnv(EnvOutageWindow, time.Duration(defaults.OutageWindowSec)*time.Second),
		OutageFailRatio:              getFloatEnv(EnvOutageFailRatio, defaults.OutageFailRatioThreshold),
		OutageMinFailedCycles:        getIntEnv(EnvOutageMinFailedCycles, defaults.OutageMinFailedCycles),
		OutageConsecutiveFailures:    getIntEnv(EnvOutageConsecutiveFailures, defaults.OutageConsecutiveFailures),
		RecoveryWindow:               getDurationEnv(EnvRecoveryWindow, time.Duration(defaults.RecoveryWindowSec)*time.Second),
		RecoveryMaxFailRatio:         getFloatEnv(EnvRecoveryMaxFailRatio, defaults.RecoveryMaxFailRatio),
		RecoveryConsecutiveSuccesses: getIntEnv(EnvRecoveryConsecutiveSuccesses, defaults.RecoveryConsecutiveSuccess),
		HeartbeatInterval:            getDurationEnv(EnvHeartbeatInterval, time.Duration(defaults.HeartbeatIntervalSec)*time.Second),
		MaxBackoff:                   getDurationEnv(EnvMaxBackoff, time.Duration(defaults.MaxBackoffSec)*time.Second),
		BackfillMaxDays:              getIntEnv(EnvBackfillMaxDays, 7),
		BackfillWindowDays:           getIntEnv(EnvBackfillWindowDays, 1),
		BackfillMaxWindowsPerCycle:   getIntEnv(EnvBackfillMaxWindowsPerCycle, 2),

		// Ops server
		OpsPort: getEnv(EnvOpsPort, "8080"),

		// Runtime
		Timezone:        getEnv(EnvTimezone, "Asia/Seoul"),
		LogLevel:        getEnv(EnvLogLevel, "info"),
		DryRun:          getBoolEnv(EnvDryRun, false),
		RunOnce:         getBoolEnv(EnvRunOnce, false),
		ShutdownTimeout: getDurationEnv(EnvShutdownTimeout, 30*time.Second),
	}

	var err error
	if cfg.AreaCodes, err = getJSONListEnv(EnvAreaCodes); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if cfg.AreaCodeMapping, err = getJSONMapEnv(EnvAreaCodeMapping); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if required configuration values are set
func (c *Config) Validate() error {
	var errs []error

	if c.ServiceAPIKey == "" {
		errs = append(errs, errors.New(EnvServiceAPIKey+" is required"))
	} else if strings.Contains(c.ServiceAPIKey, "%") {
		// A '%' means the key was URL-encoded already; it would be
		// double-encoded on the wire.
		errs = append(errs, errors.New(EnvServiceAPIKey+" must be the raw key, not URL-encoded"))
	}

	if c.WebhookURL == "" {
		errs = append(errs, errors.New(EnvWebhookURL+" is required"))
	} else if u, err := url.Parse(c.WebhookURL); err != nil {
		errs = append(errs, fmt.Errorf("%s is not a valid URL: %w", EnvWebhookURL, err))
	} else if u.Scheme != "https" {
		errs = append(errs, fmt.Errorf("%s must use https, got %q", EnvWebhookURL, u.Scheme))
	}

	if err := c.validateAPIBaseURL(); err != nil {
		errs = append(errs, err)
	}

	if len(c.AreaCodes) == 0 {
		errs = append(errs, errors.New(EnvAreaCodes+" must include at least one area code"))
	}

	if c.APIConnectTimeout <= 0 || c.APIReadTimeout <= 0 {
		errs = append(errs, errors.New("API timeouts must be positive"))
	}
	if c.APIMaxRetries < 0 || c.NotifierMaxRetries < 0 {
		errs = append(errs, errors.New("retry counts cannot be negative"))
	}
	if c.APIRetryDelay < 0 || c.NotifierRetryDelay < 0 {
		errs = append(errs, errors.New("retry delays cannot be negative"))
	}
	if c.APIRateLimitPerSec < 0 || c.SendRateLimitPerSec < 0 {
		errs = append(errs, errors.New("rate limits cannot be negative"))
	}
	if c.AreaMaxWorkers < 1 {
		errs = append(errs, fmt.Errorf("%s must be >= 1, got %d", EnvAreaMaxWorkers, c.AreaMaxWorkers))
	}
	if c.CycleInterval < 0 || c.AreaInterval < 0 {
		errs = append(errs, errors.New("intervals cannot be negative"))
	}
	if c.LookbackDays < 0 {
		errs = append(errs, fmt.Errorf("%s cannot be negative, got %d", EnvLookbackDays, c.LookbackDays))
	}
	if c.MaxAttemptsPerCycle < 0 {
		errs = append(errs, fmt.Errorf("%s cannot be negative, got %d", EnvMaxAttemptsPerCycle, c.MaxAttemptsPerCycle))
	}
	if c.CircuitEnabled && c.CircuitMaxFailures < 1 {
		errs = append(errs, fmt.Errorf("%s must be >= 1, got %d", EnvCircuitMaxFailures, c.CircuitMaxFailures))
	}

	if c.StateBackend != "json" && c.StateBackend != "sqlite" {
		errs = append(errs, fmt.Errorf("%s must be \"json\" or \"sqlite\", got %q", EnvStateBackend, c.StateBackend))
	}
	if c.CleanupRetentionDays < 0 {
		errs = append(errs, fmt.Errorf("%s cannot be negative, got %d", EnvCleanupRetentionDays, c.CleanupRetentionDays))
	}

	if c.OutageFailRatio < 0 || c.OutageFailRatio > 1 {
		errs = append(errs, fmt.Errorf("%s must be within [0, 1], got %v", EnvOutageFailRatio, c.OutageFailRatio))
	}
	if c.RecoveryMaxFailRatio < 0 || c.RecoveryMaxFailRatio > 1 {
		errs = append(errs, fmt.Errorf("%s must be within [0, 1], got %v", EnvRecoveryMaxFailRatio, c.RecoveryMaxFailRatio))
	}
	if c.BackfillWindowDays < 1 {
		errs = append(errs, fmt.Errorf("%s must be >= 1, got %d", EnvBackfillWindowDays, c.BackfillWindowDays))
	}
	if c.BackfillMaxDays < 0 {
		errs = append(errs, fmt.Errorf("%s cannot be negative, got %d", EnvBackfillMaxDays, c.BackfillMaxDays))
	}
	if c.BackfillMaxWindowsPerCycle < 1 {
		errs = append(errs, fmt.Errorf("%s must be >= 1, got %d", EnvBackfillMaxWindowsPerCycle, c.BackfillMaxWindowsPerCycle))
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("%s is not a valid IANA timezone: %w", EnvTimezone, err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// validateAPIBaseURL enforces the endpoint allowlist. Plain http is
// tolerated only for hosts the operator listed explicitly.
func (c *Config) validateAPIBaseURL() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", EnvAPIBaseURL, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%s must use http or https, got %q", EnvAPIBaseURL, u.Scheme)
	}
	if u.Scheme == "http" && os.Getenv(EnvAPIAllowedHosts) == "" {
		return fmt.Errorf("%s over plain http requires an explicit %s allowlist", EnvAPIBaseURL, EnvAPIAllowedHosts)
	}

	hostOK := false
	for _, host := range c.AllowedHosts {
		if strings.EqualFold(u.Hostname(), host) {
			hostOK = true
			break
		}
	}
	if !hostOK {
		return fmt.Errorf("%s host %q is not in the allowed host list", EnvAPIBaseURL, u.Hostname())
	}

	pathOK := false
	for _, prefix := range c.AllowedPathPrefixes {
		if strings.HasPrefix(u.Path, prefix) {
			pathOK = true
			break
		}
	}
	if !pathOK {
		return fmt.Errorf("%s path %q does not match an allowed path prefix", EnvAPIBaseURL, u.Path)
	}
	return nil
}

// Location resolves the configured timezone. Validate has already
// checked it, so a load failure here falls back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RegionName returns the configured display name for a region code, or
// "" when no mapping exists.
func (c *Config) RegionName(code string) string {
	return c.AreaCodeMapping[code]
}

// HealthPolicy converts the health thresholds into a monitor policy.
func (c *Config) HealthPolicy() health.Policy {
	return health.Policy{
		OutageWindowSec:            int(c.OutageWindow.Seconds()),
		OutageFailRatioThreshold:   c.OutageFailRatio,
		OutageMinFailedCycles:      c.OutageMinFailedCycles,
		OutageConsecutiveFailures:  c.OutageConsecutiveFailures,
		RecoveryWindowSec:          int(c.RecoveryWindow.Seconds()),
		RecoveryMaxFailRatio:       c.RecoveryMaxFailRatio,
		RecoveryConsecutiveSuccess: c.RecoveryConsecutiveSuccesses,
		HeartbeatIntervalSec:       int(c.HeartbeatInterval.Seconds()),
		MaxBackoffSec:              int(c.MaxBackoff.Seconds()),
	}
}

// getEnv retrieves environment variable with fallback to default value
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv retrieves integer environment variable with fallback to default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getFloatEnv retrieves float64 environment variable with fallback to default value
func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getBoolEnv retrieves boolean environment variable with fallback to default value
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getDurationEnv retrieves duration environment variable with fallback to default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getListEnv retrieves a comma-separated list with fallback to default value
func getListEnv(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if strings.TrimSpace(raw) == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getJSONListEnv retrieves a JSON string array, dropping blank entries
func getJSONListEnv(key string) ([]string, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("%s must be a JSON string array: %w", key, err)
	}
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

// getJSONMapEnv retrieves a JSON string-to-string object
func getJSONMapEnv(key string) (map[string]string, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return map[string]string{}, nil
	}
	var values map[string]string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("%s must be a JSON object of strings: %w", key, err)
	}
	return values, nil
}
