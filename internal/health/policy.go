// Package health implements the upstream-API health state machine:
// outage detection over a rolling window, heartbeat pacing during an
// incident, recovery detection, cycle-interval backoff, and the
// recovery backfill window bookkeeping.
//
// The Monitor performs no I/O. Every observation is a function of
// (state, outcome, now); persistence goes through the Store.
package health

// Policy holds the thresholds driving outage and recovery decisions.
// The zero value is not useful; construct with DefaultPolicy.
type Policy struct {
	OutageWindowSec            int
	OutageFailRatioThreshold   float64
	OutageMinFailedCycles      int
	OutageConsecutiveFailures  int
	RecoveryWindowSec          int
	RecoveryMaxFailRatio       float64
	RecoveryConsecutiveSuccess int
	HeartbeatIntervalSec       int
	MaxBackoffSec              int
}

// DefaultPolicy returns the production thresholds: a 10 minute outage
// window, 15 minute recovery window, hourly heartbeat, and cycle
// backoff capped at 15 minutes.
func DefaultPolicy() Policy {
	return Policy{
		OutageWindowSec:            600,
		OutageFailRatioThreshold:   0.7,
		OutageMinFailedCycles:      6,
		OutageConsecutiveFailures:  4,
		RecoveryWindowSec:          900,
		RecoveryMaxFailRatio:       0.1,
		RecoveryConsecutiveSuccess: 8,
		HeartbeatIntervalSec:       3600,
		MaxBackoffSec:              900,
	}
}

// MaxWindowSec returns the larger of the outage and recovery windows.
// Sample retention must cover at least this span plus the heartbeat
// interval.
func (p Policy) MaxWindowSec() int {
	if p.OutageWindowSec > p.RecoveryWindowSec {
		return p.OutageWindowSec
	}
	return p.RecoveryWindowSec
}
