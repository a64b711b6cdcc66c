package config

import (
	"strings"
	"testing"
	"time"
)

func setValidEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvServiceAPIKey, "raw-service-key")
	t.Setenv(EnvWebhookURL, "https://hook.dooray.com/services/123/456/abc")
	t.Setenv(EnvAreaCodes, `["L1090000", "L1100000"]`)
	t.Setenv(EnvAreaCodeMapping, `{"L1090000": "경기도"}`)
}

func TestLoadWithDefaults(t *testing.T) {
	setValidEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load(): %v", err)
	}

	if cfg.APIBaseURL != DefaultAPIBaseURL {
		t.Errorf("APIBaseURL = %q", cfg.APIBaseURL)
	}
	if len(cfg.AreaCodes) != 2 || cfg.AreaCodes[0] != "L1090000" {
		t.Errorf("AreaCodes = %v", cfg.AreaCodes)
	}
	if cfg.RegionName("L1090000") != "경기도" {
		t.Errorf("RegionName(L1090000) = %q", cfg.RegionName("L1090000"))
	}
	if cfg.RegionName("L9999999") != "" {
		t.Errorf("RegionName(unmapped) = %q, want empty", cfg.RegionName("L9999999"))
	}
	if cfg.CycleInterval != 10*time.Second || cfg.AreaInterval != 5*time.Second {
		t.Errorf("intervals = %v / %v", cfg.CycleInterval, cfg.AreaInterval)
	}
	if cfg.StateBackend != "json" {
		t.Errorf("StateBackend = %q, want json", cfg.StateBackend)
	}
	if cfg.BotName != "기상특보알림" {
		t.Errorf("BotName = %q", cfg.BotName)
	}
	if !cfg.CircuitEnabled || cfg.CircuitMaxFailures != 5 {
		t.Errorf("circuit defaults = %v/%d", cfg.CircuitEnabled, cfg.CircuitMaxFailures)
	}
	if cfg.DryRun || cfg.RunOnce {
		t.Error("dry-run and run-once must default off")
	}
	if cfg.Timezone != "Asia/Seoul" || cfg.Location().String() != "Asia/Seoul" {
		t.Errorf("Timezone = %q, Location = %v", cfg.Timezone, cfg.Location())
	}
	if !cfg.HealthAlertEnabled {
		t.Error("health alerting must default on")
	}
	if cfg.CleanupIncludeUnsent {
		t.Error("cleanup must keep unsent rows by default")
	}

	policy := cfg.HealthPolicy()
	if policy.OutageWindowSec != 600 || policy.HeartbeatIntervalSec != 3600 {
		t.Errorf("health policy defaults = %+v", policy)
	}
}

func TestLoadOverrides(t *testing.T) {
	setValidEnv(t)
	t.Setenv(EnvCycleInterval, "1m")
	t.Setenv(EnvAreaMaxWorkers, "4")
	t.Setenv(EnvStateBackend, "sqlite")
	t.Setenv(EnvAPIRateLimitPerSec, "0")
	t.Setenv(EnvDryRun, "true")
	t.Setenv(EnvOutageFailRatio, "0.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load(): %v", err)
	}
	if cfg.CycleInterval != time.Minute {
		t.Errorf("CycleInterval = %v", cfg.CycleInterval)
	}
	if cfg.AreaMaxWorkers != 4 {
		t.Errorf("AreaMaxWorkers = %d", cfg.AreaMaxWorkers)
	}
	if cfg.StateBackend != "sqlite" {
		t.Errorf("StateBackend = %q", cfg.StateBackend)
	}
	if cfg.APIRateLimitPerSec != 0 {
		t.Errorf("APIRateLimitPerSec = %v, want disabled", cfg.APIRateLimitPerSec)
	}
	if !cfg.DryRun {
		t.Error("DryRun override ignored")
	}
	if cfg.HealthPolicy().OutageFailRatioThreshold != 0.5 {
		t.Errorf("OutageFailRatio = %v", cfg.OutageFailRatio)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(t *testing.T)
		wantMsg string
	}{
		{
			name:    "missing service key",
			mutate:  func(t *testing.T) { t.Setenv(EnvServiceAPIKey, "") },
			wantMsg: EnvServiceAPIKey + " is required",
		},
		{
			name:    "pre-encoded service key",
			mutate:  func(t *testing.T) { t.Setenv(EnvServiceAPIKey, "abc%2Bdef") },
			wantMsg: "not URL-encoded",
		},
		{
			name:    "missing webhook",
			mutate:  func(t *testing.T) { t.Setenv(EnvWebhookURL, "") },
			wantMsg: EnvWebhookURL + " is required",
		},
		{
			name:    "plain http webhook",
			mutate:  func(t *testing.T) { t.Setenv(EnvWebhookURL, "http://hook.dooray.com/services/1") },
			wantMsg: "must use https",
		},
		{
			name:    "API host not allowlisted",
			mutate:  func(t *testing.T) { t.Setenv(EnvAPIBaseURL, "https://evil.example.com/1360000/x") },
			wantMsg: "not in the allowed host list",
		},
		{
			name:    "API path not allowlisted",
			mutate:  func(t *testing.T) { t.Setenv(EnvAPIBaseURL, "https://apis.data.go.kr/other/x") },
			wantMsg: "allowed path prefix",
		},
		{
			name: "plain http API without explicit allowlist",
			mutate: func(t *testing.T) {
				t.Setenv(EnvAPIBaseURL, "http://apis.data.go.kr/1360000/x")
			},
			wantMsg: "plain http",
		},
		{
			name:    "empty area codes",
			mutate:  func(t *testing.T) { t.Setenv(EnvAreaCodes, "[]") },
			wantMsg: "at least one area code",
		},
		{
			name:    "malformed area codes",
			mutate:  func(t *testing.T) { t.Setenv(EnvAreaCodes, "not json") },
			wantMsg: "JSON string array",
		},
		{
			name:    "malformed area mapping",
			mutate:  func(t *testing.T) { t.Setenv(EnvAreaCodeMapping, `{"a": 1}`) },
			wantMsg: "JSON object of strings",
		},
		{
			name:    "unknown state backend",
			mutate:  func(t *testing.T) { t.Setenv(EnvStateBackend, "postgres") },
			wantMsg: "must be \"json\" or \"sqlite\"",
		},
		{
			name:    "zero workers",
			mutate:  func(t *testing.T) { t.Setenv(EnvAreaMaxWorkers, "0") },
			wantMsg: EnvAreaMaxWorkers,
		},
		{
			name:    "fail ratio out of range",
			mutate:  func(t *testing.T) { t.Setenv(EnvOutageFailRatio, "1.5") },
			wantMsg: "within [0, 1]",
		},
		{
			name:    "bogus timezone",
			mutate:  func(t *testing.T) { t.Setenv(EnvTimezone, "Mars/Olympus") },
			wantMsg: "valid IANA timezone",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setValidEnv(t)
			tc.mutate(t)

			_, err := Load()
			if err == nil {
				t.Fatal("Load() succeeded, want validation error")
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tc.wantMsg)
			}
		})
	}
}

func TestHTTPAPIAllowedWithExplicitAllowlist(t *testing.T) {
	setValidEnv(t)
	t.Setenv(EnvAPIBaseURL, "http://internal-proxy.example/1360000/x")
	t.Setenv(EnvAPIAllowedHosts, "internal-proxy.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load(): %v", err)
	}
	if cfg.AllowedHosts[0] != "internal-proxy.example" {
		t.Errorf("AllowedHosts = %v", cfg.AllowedHosts)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	setValidEnv(t)
	t.Setenv(EnvServiceAPIKey, "")
	t.Setenv(EnvWebhookURL, "")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() succeeded")
	}
	msg := err.Error()
	if !strings.Contains(msg, EnvServiceAPIKey) || !strings.Contains(msg, EnvWebhookURL) {
		t.Errorf("joined error %q missing one of the failures", msg)
	}
}
