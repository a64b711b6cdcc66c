package health

import (
	"testing"
	"time"
)

var testStart = time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)

func failingOutcome() Outcome {
	return Outcome{
		TotalAreas:          4,
		FailedAreas:         4,
		ErrorCounts:         map[string]int{"timeout": 4},
		RepresentativeError: "timeout",
	}
}

func stableOutcome() Outcome {
	return Outcome{TotalAreas: 4, FailedAreas: 0}
}

// feed runs n cycles spaced by step, returning every decision.
func feed(m *Monitor, start time.Time, n int, step time.Duration, outcome Outcome) []Decision {
	decisions := make([]Decision, 0, n)
	for i := 0; i < n; i++ {
		decisions = append(decisions, m.ObserveCycle(start.Add(time.Duration(i)*step), outcome))
	}
	return decisions
}

func countEvent(decisions []Decision, event string) int {
	n := 0
	for _, d := range decisions {
		if d.Event == event {
			n++
		}
	}
	return n
}

func TestOutageDetectedOnce(t *testing.T) {
	m := NewMonitor(DefaultPolicy(), nil)

	// 6 all-failed cycles in 10 minutes meet min_failed=6 and
	// consecutive=4 at the sixth cycle.
	decisions := feed(m, testStart, 6, 90*time.Second, failingOutcome())

	if got := countEvent(decisions, EventOutageDetected); got != 1 {
		t.Fatalf("outage_detected fired %d times, want 1", got)
	}
	last := decisions[len(decisions)-1]
	if last.Event != EventOutageDetected || !last.ShouldNotify {
		t.Errorf("final decision = %+v, want outage_detected with ShouldNotify", last)
	}
	if !m.State().IncidentOpen {
		t.Error("incident should be open")
	}
}

func TestNoOutageBelowConsecutiveThreshold(t *testing.T) {
	m := NewMonitor(DefaultPolicy(), nil)

	// Alternate failures and successes; consecutive severe never
	// reaches 4 even though total failures accumulate.
	now := testStart
	for i := 0; i < 12; i++ {
		outcome := failingOutcome()
		if i%3 == 2 {
			outcome = stableOutcome()
		}
		d := m.ObserveCycle(now, outcome)
		if d.Event == EventOutageDetected {
			t.Fatalf("outage_detected fired at cycle %d", i)
		}
		now = now.Add(time.Minute)
	}
}

func TestRecoveredAfterStableRun(t *testing.T) {
	m := NewMonitor(DefaultPolicy(), nil)

	now := testStart
	for i := 0; i < 6; i++ {
		m.ObserveCycle(now, failingOutcome())
		now = now.Add(90 * time.Second)
	}
	if !m.State().IncidentOpen {
		t.Fatal("incident should be open after severe run")
	}

	// 2 minute spacing so the trailing recovery window has shed the
	// failing cycles by the time the 8th stable cycle lands.
	decisions := feed(m, now, 8, 2*time.Minute, stableOutcome())

	if got := countEvent(decisions, EventRecovered); got != 1 {
		t.Fatalf("recovered fired %d times, want 1", got)
	}
	if m.State().IncidentOpen {
		t.Error("incident should be closed")
	}
	if m.State().ConsecutiveSevereFailures != 0 {
		t.Error("consecutive severe failures should reset on recovery")
	}
}

func TestHeartbeatThrottledByInterval(t *testing.T) {
	policy := DefaultPolicy()
	policy.HeartbeatIntervalSec = 3600
	m := NewMonitor(policy, nil)

	now := testStart
	for i := 0; i < 6; i++ {
		m.ObserveCycle(now, failingOutcome())
		now = now.Add(90 * time.Second)
	}

	// Failures continue; recovery never begins. Heartbeats fire only
	// once the interval elapses since the detection notification.
	heartbeats := 0
	for i := 0; i < 50; i++ {
		d := m.ObserveCycle(now, failingOutcome())
		if d.Event == EventOutageHeartbeat {
			heartbeats++
		}
		now = now.Add(2 * time.Minute)
	}

	// 100 minutes of incident at a 60 minute heartbeat interval.
	if heartbeats != 1 {
		t.Errorf("heartbeats = %d, want 1", heartbeats)
	}
}

func TestSuggestedCycleIntervalBacksOff(t *testing.T) {
	policy := DefaultPolicy()
	policy.MaxBackoffSec = 10000
	m := NewMonitor(policy, nil)

	base := 60
	if got := m.SuggestedCycleInterval(base); got != base {
		t.Errorf("healthy interval = %d, want %d", got, base)
	}

	now := testStart
	wantAt := map[int]int{ // consecutive severe failures -> interval
		4:  120, // 1x threshold -> x2
		8:  240, // 2x threshold -> x4
		12: 480, // 3x threshold -> x8
	}
	for i := 1; i <= 12; i++ {
		m.ObserveCycle(now, failingOutcome())
		now = now.Add(90 * time.Second)
		if want, ok := wantAt[i]; ok && m.State().IncidentOpen {
			if got := m.SuggestedCycleInterval(base); got != want {
				t.Errorf("interval at %d consecutive failures = %d, want %d", i, got, want)
			}
		}
	}
}

func TestSuggestedCycleIntervalCapped(t *testing.T) {
	policy := DefaultPolicy() // MaxBackoffSec = 900
	m := NewMonitor(policy, nil)

	now := testStart
	for i := 0; i < 20; i++ {
		m.ObserveCycle(now, failingOutcome())
		now = now.Add(90 * time.Second)
	}

	if got := m.SuggestedCycleInterval(600); got != 900 {
		t.Errorf("interval = %d, want cap 900", got)
	}
}

func TestBackfillWindow(t *testing.T) {
	m := NewMonitor(DefaultPolicy(), nil)

	if _, _, ok := m.BackfillWindow(); ok {
		t.Error("fresh monitor should have no backfill window")
	}

	m.SetBackfillWindow("20260820", "20260824")
	start, end, ok := m.BackfillWindow()
	if !ok || start != "20260820" || end != "20260824" {
		t.Errorf("BackfillWindow() = (%q, %q, %v)", start, end, ok)
	}

	// Inverted or empty ranges clear the window.
	m.SetBackfillWindow("20260824", "20260820")
	if _, _, ok := m.BackfillWindow(); ok {
		t.Error("inverted range should clear the window")
	}
}

func TestIncidentCountersReset(t *testing.T) {
	m := NewMonitor(DefaultPolicy(), nil)

	now := testStart
	for i := 0; i < 6; i++ {
		m.ObserveCycle(now, failingOutcome())
		now = now.Add(90 * time.Second)
	}
	for i := 0; i < 8; i++ {
		m.ObserveCycle(now, stableOutcome())
		now = now.Add(2 * time.Minute)
	}

	st := m.State()
	if st.IncidentTotalCycles != 0 || st.IncidentFailedCycles != 0 {
		t.Errorf("incident counters = %d/%d, want 0/0 after recovery",
			st.IncidentFailedCycles, st.IncidentTotalCycles)
	}
	if len(st.IncidentErrorCounts) != 0 {
		t.Errorf("incident error counts = %v, want empty", st.IncidentErrorCounts)
	}
}
