package health

import "time"

// CycleSample records the outcome of one reconciliation cycle.
type CycleSample struct {
	RecordedAt  time.Time      `json:"recorded_at"`
	TotalAreas  int            `json:"total_areas"`
	FailedAreas int            `json:"failed_areas"`
	ErrorCounts map[string]int `json:"error_counts,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
}

// FailRatio returns failed/total, or 0 for an empty cycle.
func (s CycleSample) FailRatio() float64 {
	if s.TotalAreas <= 0 {
		return 0
	}
	return float64(s.FailedAreas) / float64(s.TotalAreas)
}

// State is the durable health-monitor state. It survives restarts via
// the Store so incidents and pending backfill windows are not lost.
type State struct {
	IncidentOpen               bool           `json:"incident_open"`
	IncidentStartedAt          *time.Time     `json:"incident_started_at,omitempty"`
	IncidentNotifiedAt         *time.Time     `json:"incident_notified_at,omitempty"`
	LastHeartbeatAt            *time.Time     `json:"last_heartbeat_at,omitempty"`
	LastRecoveredAt            *time.Time     `json:"last_recovered_at,omitempty"`
	ConsecutiveSevereFailures  int            `json:"consecutive_severe_failures"`
	ConsecutiveStableSuccesses int            `json:"consecutive_stable_successes"`
	IncidentTotalCycles        int            `json:"incident_total_cycles"`
	IncidentFailedCycles       int            `json:"incident_failed_cycles"`
	IncidentErrorCounts        map[string]int `json:"incident_error_counts,omitempty"`
	BackfillPendingStartDate   string         `json:"recovery_backfill_pending_start_date,omitempty"`
	BackfillPendingEndDate     string         `json:"recovery_backfill_pending_end_date,omitempty"`
	RecentCycles               []CycleSample  `json:"recent_cycles"`
}

// NewState returns an empty healthy state.
func NewState() *State {
	return &State{
		IncidentErrorCounts: map[string]int{},
	}
}

// appendCycle records a sample in the rolling window.
func (s *State) appendCycle(sample CycleSample) {
	s.RecentCycles = append(s.RecentCycles, sample)
}

// trimRecentCycles drops samples older than the retention span.
func (s *State) trimRecentCycles(now time.Time, retentionSec int) {
	if retentionSec <= 0 {
		s.RecentCycles = nil
		return
	}
	threshold := now.Add(-time.Duration(retentionSec) * time.Second)
	kept := s.RecentCycles[:0]
	for _, sample := range s.RecentCycles {
		if !sample.RecordedAt.Before(threshold) {
			kept = append(kept, sample)
		}
	}
	s.RecentCycles = kept
}

// cyclesInWindow returns the samples recorded within the trailing
// window ending at now.
func (s *State) cyclesInWindow(now time.Time, windowSec int) []CycleSample {
	if windowSec <= 0 {
		return nil
	}
	threshold := now.Add(-time.Duration(windowSec) * time.Second)
	var out []CycleSample
	for _, sample := range s.RecentCycles {
		if !sample.RecordedAt.Before(threshold) {
			out = append(out, sample)
		}
	}
	return out
}

// Decision is the outcome of one health observation. Event is one of
// "outage_detected", "outage_heartbeat", "recovered", or "" when no
// transition fired; ShouldNotify mirrors whether Event is set.
type Decision struct {
	IncidentOpen               bool
	Event                      string
	ShouldNotify               bool
	OutageWindowCycles         int
	OutageWindowFailedCycles   int
	OutageWindowFailRatio      float64
	RecoveryWindowCycles       int
	RecoveryWindowFailRatio    float64
	ConsecutiveSevereFailures  int
	ConsecutiveStableSuccesses int
	IncidentDurationSec        int
	IncidentTotalCycles        int
	IncidentFailedCycles       int
	IncidentErrorCounts        map[string]int
	RepresentativeError        string
}

// Health transition event values carried in Decision.Event.
const (
	EventOutageDetected  = "outage_detected"
	EventOutageHeartbeat = "outage_heartbeat"
	EventRecovered       = "recovered"
)
