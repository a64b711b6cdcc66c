package service

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"alertbridge/internal/clock"
	"alertbridge/internal/config"
	"alertbridge/internal/cycle"
	"alertbridge/internal/health"
	"alertbridge/internal/logger"
	"alertbridge/internal/metrics"
	"alertbridge/internal/state"
)

type fakeRunner struct {
	mu         sync.Mutex
	stats      cycle.Stats
	err        error
	onceCalls  int
	rangeCalls [][2]string
	rangeStats cycle.Stats
	rangeErr   error
}

func (r *fakeRunner) RunOnce(context.Context) (cycle.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onceCalls++
	return r.stats, r.err
}

func (r *fakeRunner) RunDateRange(_ context.Context, startDate, endDate string) (cycle.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rangeCalls = append(r.rangeCalls, [2]string{startDate, endDate})
	if r.rangeErr != nil {
		return cycle.Stats{}, r.rangeErr
	}
	return r.rangeStats, nil
}

func (r *fakeRunner) ranges() [][2]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]string(nil), r.rangeCalls...)
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (n *fakeNotifier) Send(_ context.Context, message, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.messages = append(n.messages, message)
	return nil
}

func (n *fakeNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

type countingStore struct {
	state.Store
	mu       sync.Mutex
	cleanups int
}

func (s *countingStore) CleanupStale(now time.Time, days int, includeUnsent, dryRun bool) (int, error) {
	s.mu.Lock()
	s.cleanups++
	s.mu.Unlock()
	return s.Store.CleanupStale(now, days, includeUnsent, dryRun)
}

func (s *countingStore) cleanupCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanups
}

func testServiceConfig() *config.Config {
	return &config.Config{
		CycleInterval:              10 * time.Second,
		CleanupEnabled:             true,
		CleanupRetentionDays:       30,
		CleanupIncludeUnsent:       true,
		HealthAlertEnabled:         true,
		LookbackDays:               0,
		BackfillMaxDays:            3,
		BackfillWindowDays:         1,
		BackfillMaxWindowsPerCycle: 2,
		Timezone:                   "UTC",
	}
}

func testPolicy() health.Policy {
	return health.Policy{
		OutageWindowSec:            600,
		OutageFailRatioThreshold:   0.7,
		OutageMinFailedCycles:      2,
		OutageConsecutiveFailures:  2,
		RecoveryWindowSec:          900,
		RecoveryMaxFailRatio:       0.1,
		RecoveryConsecutiveSuccess: 3,
		HeartbeatIntervalSec:       3600,
		MaxBackoffSec:              900,
	}
}

func newTestService(t *testing.T, cfg *config.Config, runner Runner, notifier *fakeNotifier) (*Service, *countingStore, *clock.Fake) {
	t.Helper()
	log := logger.NewWithWriter("error", io.Discard)
	clk := clock.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	dir := t.TempDir()

	jsonStore, err := state.NewJSONStore(filepath.Join(dir, "state.json"), clk, log)
	if err != nil {
		t.Fatalf("NewJSONStore(): %v", err)
	}
	t.Cleanup(func() { _ = jsonStore.Close() })
	store := &countingStore{Store: jsonStore}

	monitor := health.NewMonitor(testPolicy(), nil)
	healthStore := health.NewStore(filepath.Join(dir, "health.json"), log)
	m := metrics.New(prometheus.NewRegistry())

	return New(cfg, runner, notifier, store, monitor, healthStore, m, clk, log), store, clk
}

func failingStats() cycle.Stats {
	return cycle.Stats{
		AreaCount:    1,
		AreaFailures: 1,
		ErrorCounts:  map[string]int{"timeout": 1},
		LastError:    "timeout",
	}
}

func healthyStats() cycle.Stats {
	return cycle.Stats{AreaCount: 1, AreasProcessed: 1}
}

func TestRunOnceModeExitsAfterOneCycle(t *testing.T) {
	cfg := testServiceConfig()
	cfg.RunOnce = true
	runner := &fakeRunner{stats: healthyStats()}
	s, _, _ := newTestService(t, cfg, runner, &fakeNotifier{})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run(): %v", err)
	}
	if runner.onceCalls != 1 {
		t.Errorf("cycles = %d, want 1", runner.onceCalls)
	}
}

func TestRunOnceModeErrorIsFatal(t *testing.T) {
	cfg := testServiceConfig()
	cfg.RunOnce = true
	wantErr := errors.New("store exploded")
	runner := &fakeRunner{err: wantErr}
	s, _, _ := newTestService(t, cfg, runner, &fakeNotifier{})

	if err := s.Run(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("Run() = %v, want %v", err, wantErr)
	}
}

func TestRunLoopStopsOnCancel(t *testing.T) {
	cfg := testServiceConfig()
	cfg.CycleInterval = 5 * time.Millisecond
	runner := &fakeRunner{stats: healthyStats()}
	s, _, _ := newTestService(t, cfg, runner, &fakeNotifier{})

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run(): %v", err)
	}
	runner.mu.Lock()
	calls := runner.onceCalls
	runner.mu.Unlock()
	if calls < 1 {
		t.Error("loop never ran a cycle")
	}
}

func TestRunLoopSurvivesIterationError(t *testing.T) {
	cfg := testServiceConfig()
	cfg.CycleInterval = time.Millisecond
	runner := &fakeRunner{err: errors.New("transient")}
	s, _, _ := newTestService(t, cfg, runner, &fakeNotifier{})

	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	// Failed iterations back off for at least one second.
	time.Sleep(1100 * time.Millisecond)
	runner.mu.Lock()
	calls := runner.onceCalls
	runner.mu.Unlock()
	cancel()
	<-done

	if calls < 2 {
		t.Errorf("loop stopped after %d failing cycles, want retries", calls)
	}
}

func TestAutoCleanupOncePerLocalDay(t *testing.T) {
	cfg := testServiceConfig()
	runner := &fakeRunner{stats: healthyStats()}
	s, store, clk := newTestService(t, cfg, runner, &fakeNotifier{})

	for i := 0; i < 3; i++ {
		if err := s.runIteration(context.Background(), s.log); err != nil {
			t.Fatalf("runIteration() #%d: %v", i+1, err)
		}
		clk.Advance(time.Hour)
	}
	if store.cleanupCalls() != 1 {
		t.Errorf("same-day cleanups = %d, want 1", store.cleanupCalls())
	}

	clk.Advance(24 * time.Hour)
	if err := s.runIteration(context.Background(), s.log); err != nil {
		t.Fatalf("runIteration(): %v", err)
	}
	if store.cleanupCalls() != 2 {
		t.Errorf("cleanups after day rollover = %d, want 2", store.cleanupCalls())
	}
}

func TestAutoCleanupSkippedInDryRun(t *testing.T) {
	cfg := testServiceConfig()
	cfg.DryRun = true
	runner := &fakeRunner{stats: healthyStats()}
	s, store, _ := newTestService(t, cfg, runner, &fakeNotifier{})

	if err := s.runIteration(context.Background(), s.log); err != nil {
		t.Fatalf("runIteration(): %v", err)
	}
	if store.cleanupCalls() != 0 {
		t.Errorf("dry run still cleaned up %d times", store.cleanupCalls())
	}
}

// driveOutage feeds failing cycles until the monitor opens an incident.
func driveOutage(t *testing.T, s *Service, runner *fakeRunner, clk *clock.Fake) {
	t.Helper()
	runner.stats = failingStats()
	for i := 0; i < 2; i++ {
		if err := s.runIteration(context.Background(), s.log); err != nil {
			t.Fatalf("failing iteration #%d: %v", i+1, err)
		}
		clk.Advance(2 * time.Minute)
	}
	if !s.monitor.State().IncidentOpen {
		t.Fatal("incident did not open after consecutive failures")
	}
}

func TestOutageAndRecoveryNotifications(t *testing.T) {
	cfg := testServiceConfig()
	runner := &fakeRunner{}
	notifier := &fakeNotifier{}
	s, _, clk := newTestService(t, cfg, runner, notifier)

	driveOutage(t, s, runner, clk)

	messages := notifier.sent()
	if len(messages) != 1 || !strings.Contains(messages[0], "[API 장애 감지]") {
		t.Fatalf("outage messages = %q", messages)
	}

	runner.stats = healthyStats()
	for i := 0; i < 3; i++ {
		if err := s.runIteration(context.Background(), s.log); err != nil {
			t.Fatalf("recovery iteration #%d: %v", i+1, err)
		}
		clk.Advance(2 * time.Minute)
	}

	messages = notifier.sent()
	if len(messages) != 2 || !strings.Contains(messages[1], "[API 복구]") {
		t.Fatalf("messages after recovery = %q", messages)
	}
	if s.monitor.State().IncidentOpen {
		t.Error("incident still open after recovery")
	}
}

func TestHealthAlertDisabledSuppressesNotification(t *testing.T) {
	cfg := testServiceConfig()
	cfg.HealthAlertEnabled = false
	runner := &fakeRunner{}
	notifier := &fakeNotifier{}
	s, _, clk := newTestService(t, cfg, runner, notifier)

	driveOutage(t, s, runner, clk)

	if len(notifier.sent()) != 0 {
		t.Errorf("disabled health alerting still sent %q", notifier.sent())
	}
}

func TestRecoveryBackfillSegmentsAndResumes(t *testing.T) {
	cfg := testServiceConfig()
	runner := &fakeRunner{rangeStats: cycle.Stats{SentCount: 1}}
	s, _, clk := newTestService(t, cfg, runner, &fakeNotifier{})

	driveOutage(t, s, runner, clk)

	// A three-day incident, capped by the backfill maximum.
	clk.Advance(72 * time.Hour)

	runner.stats = healthyStats()
	for i := 0; i < 3; i++ {
		if err := s.runIteration(context.Background(), s.log); err != nil {
			t.Fatalf("recovery iteration #%d: %v", i+1, err)
		}
		clk.Advance(2 * time.Minute)
	}

	// Recovery on 2026-08-04 plans 20260801..20260804; two one-day
	// segments run now, the third is persisted for the next cycle.
	want := [][2]string{{"20260801", "20260802"}, {"20260802", "20260803"}}
	got := runner.ranges()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("backfill ranges = %v, want %v", got, want)
	}
	start, end, ok := s.monitor.BackfillWindow()
	if !ok || start != "20260803" || end != "20260804" {
		t.Fatalf("persisted remainder = %s..%s (ok=%v), want 20260803..20260804", start, end, ok)
	}

	if err := s.runIteration(context.Background(), s.log); err != nil {
		t.Fatalf("resume iteration: %v", err)
	}
	got = runner.ranges()
	if len(got) != 3 || got[2] != [2]string{"20260803", "20260804"} {
		t.Fatalf("resume ranges = %v", got)
	}
	if _, _, ok := s.monitor.BackfillWindow(); ok {
		t.Error("backfill window not cleared after completion")
	}
}

func TestBackfillFailurePersistsCursor(t *testing.T) {
	cfg := testServiceConfig()
	runner := &fakeRunner{rangeErr: errors.New("feed down again")}
	s, _, clk := newTestService(t, cfg, runner, &fakeNotifier{})

	driveOutage(t, s, runner, clk)
	clk.Advance(72 * time.Hour)

	runner.stats = healthyStats()
	for i := 0; i < 3; i++ {
		if err := s.runIteration(context.Background(), s.log); err != nil {
			t.Fatalf("recovery iteration #%d: %v", i+1, err)
		}
		clk.Advance(2 * time.Minute)
	}

	// The first segment failed, so the whole window stays pending.
	start, end, ok := s.monitor.BackfillWindow()
	if !ok || start != "20260801" || end != "20260804" {
		t.Fatalf("persisted window = %s..%s (ok=%v), want 20260801..20260804", start, end, ok)
	}
}

func TestShortIncidentSkipsBackfill(t *testing.T) {
	cfg := testServiceConfig()
	cfg.LookbackDays = 2
	runner := &fakeRunner{}
	s, _, clk := newTestService(t, cfg, runner, &fakeNotifier{})

	driveOutage(t, s, runner, clk)
	clk.Advance(time.Hour)

	runner.stats = healthyStats()
	for i := 0; i < 3; i++ {
		if err := s.runIteration(context.Background(), s.log); err != nil {
			t.Fatalf("recovery iteration #%d: %v", i+1, err)
		}
		clk.Advance(2 * time.Minute)
	}

	if got := runner.ranges(); len(got) != 0 {
		t.Errorf("short incident triggered backfill: %v", got)
	}
}
