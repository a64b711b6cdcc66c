package health

import "time"

// Monitor evaluates per-cycle outcomes against the Policy. It owns a
// State but performs no I/O; the caller persists the state after each
// mutation. Only the service loop touches a Monitor, so there is no
// internal locking.
type Monitor struct {
	policy Policy
	state  *State
}

// NewMonitor creates a monitor around a previously loaded state. A nil
// state starts healthy.
func NewMonitor(policy Policy, state *State) *Monitor {
	if state == nil {
		state = NewState()
	}
	if state.IncidentErrorCounts == nil {
		state.IncidentErrorCounts = map[string]int{}
	}
	return &Monitor{policy: policy, state: state}
}

// State exposes the monitor's current state for persistence.
func (m *Monitor) State() *State {
	return m.state
}

// Outcome is the per-cycle input to ObserveCycle.
type Outcome struct {
	TotalAreas          int
	FailedAreas         int
	ErrorCounts         map[string]int
	RepresentativeError string
}

// ObserveCycle folds one cycle outcome into the state and returns the
// resulting decision. At most one transition event fires per call;
// detection, recovery, and heartbeat are checked in that order.
func (m *Monitor) ObserveCycle(now time.Time, outcome Outcome) Decision {
	sample := CycleSample{
		RecordedAt:  now,
		TotalAreas:  max(outcome.TotalAreas, 0),
		FailedAreas: max(outcome.FailedAreas, 0),
		ErrorCounts: copyCounts(outcome.ErrorCounts),
		LastError:   outcome.RepresentativeError,
	}

	st := m.state
	st.appendCycle(sample)
	st.trimRecentCycles(now, m.policy.MaxWindowSec()+m.policy.HeartbeatIntervalSec)
	m.updateConsecutiveCounters(sample)

	if st.IncidentOpen {
		st.IncidentTotalCycles++
		if sample.FailedAreas > 0 {
			st.IncidentFailedCycles++
			for code, n := range sample.ErrorCounts {
				if n > 0 {
					st.IncidentErrorCounts[code] += n
				}
			}
		}
	}

	outageWindow := st.cyclesInWindow(now, m.policy.OutageWindowSec)
	recoveryWindow := st.cyclesInWindow(now, m.policy.RecoveryWindowSec)
	outageFailed := m.countSevereFailures(outageWindow)

	decision := Decision{
		IncidentOpen:               st.IncidentOpen,
		OutageWindowCycles:         len(outageWindow),
		OutageWindowFailedCycles:   outageFailed,
		OutageWindowFailRatio:      windowFailRatio(outageWindow),
		RecoveryWindowCycles:       len(recoveryWindow),
		RecoveryWindowFailRatio:    windowFailRatio(recoveryWindow),
		ConsecutiveSevereFailures:  st.ConsecutiveSevereFailures,
		ConsecutiveStableSuccesses: st.ConsecutiveStableSuccesses,
		IncidentDurationSec:        m.incidentDurationSec(now),
		IncidentTotalCycles:        st.IncidentTotalCycles,
		IncidentFailedCycles:       st.IncidentFailedCycles,
		IncidentErrorCounts:        copyCounts(st.IncidentErrorCounts),
		RepresentativeError:        outcome.RepresentativeError,
	}

	switch {
	case !st.IncidentOpen && m.isOutage(outageWindow, outageFailed):
		m.openIncident(now)
		decision.Event = EventOutageDetected
		decision.ShouldNotify = true
		decision.IncidentOpen = true
	case st.IncidentOpen && m.isRecovered(recoveryWindow):
		m.closeIncident(now)
		decision.Event = EventRecovered
		decision.ShouldNotify = true
		decision.IncidentOpen = false
	case st.IncidentOpen && m.shouldSendHeartbeat(now):
		st.LastHeartbeatAt = &now
		decision.Event = EventOutageHeartbeat
		decision.ShouldNotify = true
	}

	return decision
}

// SuggestedCycleInterval returns the effective inter-cycle interval.
// While an incident is open the base interval is multiplied by 2, 4,
// or 8 as consecutive severe failures reach 1x, 2x, and 3x the
// consecutive-failure threshold, capped at the policy's max backoff.
func (m *Monitor) SuggestedCycleInterval(baseIntervalSec int) int {
	if baseIntervalSec <= 0 {
		return 0
	}
	if !m.state.IncidentOpen {
		return baseIntervalSec
	}

	multiplier := 1
	threshold := max(m.policy.OutageConsecutiveFailures, 1)
	switch {
	case m.state.ConsecutiveSevereFailures >= threshold*3:
		multiplier = 8
	case m.state.ConsecutiveSevereFailures >= threshold*2:
		multiplier = 4
	case m.state.ConsecutiveSevereFailures >= threshold:
		multiplier = 2
	}

	suggested := baseIntervalSec * multiplier
	if suggested < baseIntervalSec {
		suggested = baseIntervalSec
	}
	if suggested > m.policy.MaxBackoffSec {
		suggested = m.policy.MaxBackoffSec
	}
	return suggested
}

// BackfillWindow returns the pending recovery backfill date range
// (compact YYYYMMDD dates), or ok=false when none is pending.
func (m *Monitor) BackfillWindow() (startDate, endDate string, ok bool) {
	start := m.state.BackfillPendingStartDate
	end := m.state.BackfillPendingEndDate
	if start == "" || end == "" || start >= end {
		return "", "", false
	}
	return start, end, true
}

// SetBackfillWindow records or clears the pending backfill range.
// An empty or inverted range clears it.
func (m *Monitor) SetBackfillWindow(startDate, endDate string) {
	if startDate == "" || endDate == "" || startDate >= endDate {
		m.state.BackfillPendingStartDate = ""
		m.state.BackfillPendingEndDate = ""
		return
	}
	m.state.BackfillPendingStartDate = startDate
	m.state.BackfillPendingEndDate = endDate
}

func (m *Monitor) isOutage(window []CycleSample, severeFailed int) bool {
	if severeFailed < m.policy.OutageMinFailedCycles {
		return false
	}
	if m.state.ConsecutiveSevereFailures < m.policy.OutageConsecutiveFailures {
		return false
	}
	return len(window) > 0
}

func (m *Monitor) isRecovered(window []CycleSample) bool {
	if m.state.ConsecutiveStableSuccesses < m.policy.RecoveryConsecutiveSuccess {
		return false
	}
	if len(window) < m.policy.RecoveryConsecutiveSuccess {
		return false
	}
	return windowFailRatio(window) <= m.policy.RecoveryMaxFailRatio
}

func (m *Monitor) shouldSendHeartbeat(now time.Time) bool {
	if m.state.LastHeartbeatAt == nil {
		return true
	}
	elapsed := now.Sub(*m.state.LastHeartbeatAt).Seconds()
	return elapsed >= float64(m.policy.HeartbeatIntervalSec)
}

func (m *Monitor) openIncident(now time.Time) {
	st := m.state
	st.IncidentOpen = true
	st.IncidentStartedAt = &now
	st.IncidentNotifiedAt = &now
	st.LastHeartbeatAt = &now
	st.ConsecutiveStableSuccesses = 0
	st.IncidentTotalCycles = 0
	st.IncidentFailedCycles = 0
	st.IncidentErrorCounts = map[string]int{}
}

func (m *Monitor) closeIncident(now time.Time) {
	st := m.state
	st.IncidentOpen = false
	st.LastRecoveredAt = &now
	st.LastHeartbeatAt = nil
	st.IncidentNotifiedAt = nil
	st.IncidentStartedAt = nil
	st.IncidentTotalCycles = 0
	st.IncidentFailedCycles = 0
	st.IncidentErrorCounts = map[string]int{}
	st.ConsecutiveSevereFailures = 0
}

func (m *Monitor) updateConsecutiveCounters(sample CycleSample) {
	st := m.state
	if sample.FailRatio() >= m.policy.OutageFailRatioThreshold {
		st.ConsecutiveSevereFailures++
		st.ConsecutiveStableSuccesses = 0
		return
	}
	st.ConsecutiveSevereFailures = 0
	if sample.FailRatio() <= m.policy.RecoveryMaxFailRatio {
		st.ConsecutiveStableSuccesses++
	} else {
		st.ConsecutiveStableSuccesses = 0
	}
}

func (m *Monitor) countSevereFailures(window []CycleSample) int {
	n := 0
	for _, sample := range window {
		if sample.FailRatio() >= m.policy.OutageFailRatioThreshold {
			n++
		}
	}
	return n
}

func (m *Monitor) incidentDurationSec(now time.Time) int {
	if m.state.IncidentStartedAt == nil {
		return 0
	}
	d := int(now.Sub(*m.state.IncidentStartedAt).Seconds())
	return max(d, 0)
}

func windowFailRatio(window []CycleSample) float64 {
	totalAreas, failedAreas := 0, 0
	for _, sample := range window {
		totalAreas += sample.TotalAreas
		failedAreas += sample.FailedAreas
	}
	if totalAreas <= 0 {
		return 0
	}
	return float64(failedAreas) / float64(totalAreas)
}

func copyCounts(counts map[string]int) map[string]int {
	out := make(map[string]int, len(counts))
	for k, v := range counts {
		out[k] = v
	}
	return out
}
