package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Cycle metrics
	CyclesTotal          *prometheus.CounterVec
	CycleDurationSeconds prometheus.Histogram
	CycleIntervalSeconds prometheus.Gauge

	// Fetch metrics
	FetchTotal           *prometheus.CounterVec
	FetchDurationSeconds prometheus.Histogram
	FetchErrorsTotal     *prometheus.CounterVec
	AlertsFetchedTotal   prometheus.Counter

	// Notification metrics
	NotificationsTotal          *prometheus.CounterVec
	NotificationDurationSeconds prometheus.Histogram
	PendingNotifications        prometheus.Gauge
	TrackedNotifications        prometheus.Gauge

	// Health metrics
	HealthEventsTotal *prometheus.CounterVec
}

// New creates a new Metrics instance with all metrics registered
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		// Cycle metrics
		CyclesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "alertbridge_cycles_total",
				Help: "Total number of reconciliation cycles by status",
			},
			[]string{"status"}, // status: success, failed
		),

		CycleDurationSeconds: promauto.With(registry).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "alertbridge_cycle_duration_seconds",
				Help:    "Full reconciliation cycle duration in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		),

		CycleIntervalSeconds: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "alertbridge_cycle_interval_seconds",
				Help: "Current cycle interval, including outage backoff",
			},
		),

		// Fetch metrics
		FetchTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "alertbridge_fetch_total",
				Help: "Total number of per-region fetches by status",
			},
			[]string{"status"}, // status: success, error
		),

		FetchDurationSeconds: promauto.With(registry).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "alertbridge_fetch_duration_seconds",
				Help:    "Per-region fetch duration in seconds, pagination included",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
		),

		FetchErrorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "alertbridge_fetch_errors_total",
				Help: "Total fetch failures by error code",
			},
			[]string{"error_code"}, // error_code: timeout, connection, http_<status>, parse_error, api_result_error, unknown_error
		),

		AlertsFetchedTotal: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "alertbridge_alerts_fetched_total",
				Help: "Total warning events returned by the upstream feed",
			},
		),

		// Notification metrics
		NotificationsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "alertbridge_notifications_total",
				Help: "Total notification outcomes by status",
			},
			[]string{"status"}, // status: sent, dry_run, failed, backpressure_skipped
		),

		NotificationDurationSeconds: promauto.With(registry).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "alertbridge_notification_duration_seconds",
				Help:    "Webhook delivery duration in seconds, retries included",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
		),

		PendingNotifications: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "alertbridge_pending_notifications",
				Help: "Tracked notifications not yet delivered",
			},
		),

		TrackedNotifications: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "alertbridge_tracked_notifications",
				Help: "Total notifications in the state store",
			},
		),

		// Health metrics
		HealthEventsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "alertbridge_health_events_total",
				Help: "Total health state-machine events by type",
			},
			[]string{"event"}, // event: outage_detected, outage_heartbeat, recovered
		),
	}

	return m
}

// RecordCycle records a completed cycle with status
func (m *Metrics) RecordCycle(status string, duration float64) {
	m.CyclesTotal.WithLabelValues(status).Inc()
	m.CycleDurationSeconds.Observe(duration)
}

// RecordFetch records one per-region fetch outcome
func (m *Metrics) RecordFetch(status string, duration float64) {
	m.FetchTotal.WithLabelValues(status).Inc()
	m.FetchDurationSeconds.Observe(duration)
}

// RecordFetchError records a classified fetch failure
func (m *Metrics) RecordFetchError(errorCode string) {
	m.FetchErrorsTotal.WithLabelValues(errorCode).Inc()
}

// RecordAlertsFetched records the number of events one fetch returned
func (m *Metrics) RecordAlertsFetched(count int) {
	m.AlertsFetchedTotal.Add(float64(count))
}

// RecordNotification records a notification outcome
func (m *Metrics) RecordNotification(status string) {
	m.NotificationsTotal.WithLabelValues(status).Inc()
}

// RecordNotificationDuration records one delivery duration
func (m *Metrics) RecordNotificationDuration(duration float64) {
	m.NotificationDurationSeconds.Observe(duration)
}

// SetStoreCounts updates the state store gauges
func (m *Metrics) SetStoreCounts(total, pending int) {
	m.TrackedNotifications.Set(float64(total))
	m.PendingNotifications.Set(float64(pending))
}

// SetCycleInterval updates the effective cycle interval gauge
func (m *Metrics) SetCycleInterval(seconds float64) {
	m.CycleIntervalSeconds.Set(seconds)
}

// RecordHealthEvent records a health state-machine transition
func (m *Metrics) RecordHealthEvent(event string) {
	m.HealthEventsTotal.WithLabelValues(event).Inc()
}
