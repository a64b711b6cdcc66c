// Package service runs the long-lived alert bridge: the cycle loop,
// automatic state cleanup, health monitoring with outage notifications,
// recovery backfill, and the operational HTTP surface.
package service

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"alertbridge/internal/alert"
	"alertbridge/internal/clock"
	"alertbridge/internal/config"
	"alertbridge/internal/cycle"
	"alertbridge/internal/events"
	"alertbridge/internal/health"
	"alertbridge/internal/logger"
	"alertbridge/internal/metrics"
	"alertbridge/internal/notify"
	"alertbridge/internal/state"
)

// Runner is the cycle processor contract the loop drives.
type Runner interface {
	RunOnce(ctx context.Context) (cycle.Stats, error)
	RunDateRange(ctx context.Context, startDate, endDate string) (cycle.Stats, error)
}

// Service ties the cycle processor to the health monitor and the
// periodic housekeeping around it. It is driven from one goroutine.
type Service struct {
	cfg         *config.Config
	runner      Runner
	notifier    notify.Notifier
	store       state.Store
	monitor     *health.Monitor
	healthStore *health.Store
	metrics     *metrics.Metrics
	clk         clock.Clock
	log         *logger.Logger

	// lastCleanupDate is the local calendar date of the last automatic
	// cleanup, so cleanup runs at most once per day.
	lastCleanupDate string
}

// New wires the service loop together.
func New(cfg *config.Config, runner Runner, notifier notify.Notifier, store state.Store, monitor *health.Monitor, healthStore *health.Store, m *metrics.Metrics, clk clock.Clock, log *logger.Logger) *Service {
	return &Service{
		cfg:         cfg,
		runner:      runner,
		notifier:    notifier,
		store:       store,
		monitor:     monitor,
		healthStore: healthStore,
		metrics:     m,
		clk:         clk,
		log:         log.WithModule("service"),
	}
}

// Run executes cycles until the context is cancelled. In run-once mode
// it returns after the first successful cycle. A cycle error is fatal
// in run-once mode; the loop otherwise logs it and keeps going.
func (s *Service) Run(ctx context.Context) error {
	baseIntervalSec := int(s.cfg.CycleInterval.Seconds())

	for {
		if ctx.Err() != nil {
			s.log.Event(events.ShutdownInterrupt)
			return nil
		}

		clog := s.log.WithCycleID(uuid.NewString())
		err := s.runIteration(ctx, clog)

		if err != nil {
			if ctx.Err() != nil {
				s.log.Event(events.ShutdownInterrupt)
				return nil
			}
			if s.cfg.RunOnce {
				clog.WithError(err).EventError(events.CycleFatalError)
				return err
			}
			clog.WithError(err).EventError(events.CycleIterationFailed)
			if !s.sleep(ctx, max(s.cfg.CycleInterval, time.Second)) {
				s.log.Event(events.ShutdownInterrupt)
				return nil
			}
			continue
		}

		if s.cfg.RunOnce {
			s.log.Event(events.ShutdownRunOnceComplete)
			return nil
		}

		intervalSec := s.monitor.SuggestedCycleInterval(baseIntervalSec)
		if intervalSec != baseIntervalSec {
			clog.Event(events.CycleIntervalAdjusted,
				"base_interval_sec", baseIntervalSec,
				"adjusted_interval_sec", intervalSec)
		}
		s.metrics.SetCycleInterval(float64(intervalSec))

		if !s.sleep(ctx, time.Duration(intervalSec)*time.Second) {
			s.log.Event(events.ShutdownInterrupt)
			return nil
		}
	}
}

func (s *Service) runIteration(ctx context.Context, clog *logger.Logger) error {
	s.maybeAutoCleanup(clog)

	began := time.Now()
	stats, err := s.runner.RunOnce(ctx)
	elapsed := time.Since(began).Seconds()

	if err != nil {
		s.metrics.RecordCycle("failed", elapsed)
		return err
	}

	decision := s.evaluateHealth(clog, stats)
	if saveErr := s.healthStore.Save(s.monitor.State()); saveErr != nil {
		clog.WithError(saveErr).EventError(events.HealthStatePersistFailed)
	}

	s.maybeSendHealthNotification(ctx, clog, decision)
	s.maybeRunRecoveryBackfill(ctx, clog, decision)

	status := "success"
	if stats.AreaFailures > 0 {
		status = "failed"
	}
	s.metrics.RecordCycle(status, elapsed)

	clog.Event(events.CycleComplete,
		"start_date", stats.StartDate,
		"end_date", stats.EndDate,
		"area_count", stats.AreaCount,
		"areas_processed", stats.AreasProcessed,
		"area_failures", stats.AreaFailures,
		"alerts_fetched", stats.AlertsFetched,
		"newly_tracked", stats.NewlyTracked,
		"notification_attempts", stats.NotificationAttempts,
		"sent_count", stats.SentCount,
		"send_failures", stats.SendFailures,
		"dry_run_skips", stats.DryRunSkips,
		"backpressure_skips", stats.BackpressureSkips,
		"pending_total", stats.PendingTotal,
		"duration_sec", round4(elapsed))
	clog.Event(events.CycleCostMetrics,
		"api_fetch_calls", stats.APIFetchCalls,
		"alerts_fetched", stats.AlertsFetched,
		"notification_attempts", stats.NotificationAttempts)
	return nil
}

// maybeAutoCleanup sweeps stale store rows at most once per local day.
// Dry-run mode never mutates the store, cleanup included.
func (s *Service) maybeAutoCleanup(clog *logger.Logger) {
	if !s.cfg.CleanupEnabled || s.cfg.DryRun {
		return
	}
	today := s.clk.Now().In(s.cfg.Location()).Format("2006-01-02")
	if today == s.lastCleanupDate {
		return
	}
	s.lastCleanupDate = today

	removed, err := s.store.CleanupStale(s.clk.Now(), s.cfg.CleanupRetentionDays, s.cfg.CleanupIncludeUnsent, false)
	if err != nil {
		clog.WithError(err).EventError(events.StateCleanupFailed)
		return
	}
	total, _ := s.store.TotalCount()
	pending, _ := s.store.PendingCount()
	clog.Event(events.StateCleanupAuto,
		"removed", removed,
		"retention_days", s.cfg.CleanupRetentionDays,
		"total", total,
		"pending", pending)
}

func (s *Service) evaluateHealth(clog *logger.Logger, stats cycle.Stats) health.Decision {
	decision := s.monitor.ObserveCycle(s.clk.Now(), stats.Outcome())

	clog.Event(events.HealthEvaluate,
		"incident_open", decision.IncidentOpen,
		"health_event", decision.Event,
		"should_notify", decision.ShouldNotify,
		"outage_window_cycles", decision.OutageWindowCycles,
		"outage_window_failed_cycles", decision.OutageWindowFailedCycles,
		"outage_fail_ratio", round4(decision.OutageWindowFailRatio),
		"recovery_fail_ratio", round4(decision.RecoveryWindowFailRatio),
		"consecutive_severe_failures", decision.ConsecutiveSevereFailures,
		"consecutive_stable_successes", decision.ConsecutiveStableSuccesses)

	if decision.Event != "" {
		s.metrics.RecordHealthEvent(decision.Event)
	}
	return decision
}

// maybeSendHealthNotification delivers an outage or recovery message
// through the same webhook the warnings use. Dry-run suppresses it.
func (s *Service) maybeSendHealthNotification(ctx context.Context, clog *logger.Logger, d health.Decision) {
	if !s.cfg.HealthAlertEnabled || !d.ShouldNotify || s.cfg.DryRun || d.Event == "" {
		return
	}
	message := alert.BuildHealthMessage(d)
	if message == "" {
		return
	}

	if err := s.notifier.Send(ctx, message, ""); err != nil {
		clog.WithError(err).EventError(events.HealthNotificationFailed,
			"health_event", d.Event)
		return
	}
	clog.Event(events.HealthNotificationSent,
		"health_event", d.Event,
		"incident_duration_sec", d.IncidentDurationSec,
		"incident_failed_cycles", d.IncidentFailedCycles)
}

// sleep waits for d or until the context is cancelled, reporting
// whether the full wait elapsed.
func (s *Service) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
