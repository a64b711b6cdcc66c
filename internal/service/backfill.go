package service

import (
	"context"
	"time"

	"alertbridge/internal/events"
	"alertbridge/internal/health"
	"alertbridge/internal/logger"
)

const compactDate = "20060102"

// maybeRunRecoveryBackfill re-fetches the dates an outage may have
// blacked out. A recovery plans a window covering the incident
// duration; any window persisted from an earlier interrupted backfill
// is merged in. The window is consumed in day-sized segments, a bounded
// number per cycle, and the unconsumed remainder is persisted so a
// crash or shutdown mid-backfill loses nothing.
func (s *Service) maybeRunRecoveryBackfill(ctx context.Context, clog *logger.Logger, d health.Decision) {
	startDate, endDate := s.backfillWindow(d)
	if startDate == "" {
		return
	}

	clog.Event(events.HealthBackfillStart,
		"start_date", startDate,
		"end_date", endDate,
		"lookback_days", s.cfg.LookbackDays,
		"window_days", s.cfg.BackfillWindowDays,
		"max_windows", s.cfg.BackfillMaxWindowsPerCycle)

	cursor := startDate
	processedWindows := 0
	sentCount := 0
	pendingTotal := 0

	for cursor < endDate && processedWindows < s.cfg.BackfillMaxWindowsPerCycle {
		segmentEnd := minDate(addCompactDays(cursor, s.cfg.BackfillWindowDays), endDate)

		stats, err := s.runner.RunDateRange(ctx, cursor, segmentEnd)
		if err != nil {
			s.persistBackfillWindow(clog, cursor, endDate)
			clog.WithError(err).EventError(events.HealthBackfillFailed,
				"start_date", cursor,
				"end_date", segmentEnd)
			return
		}
		sentCount += stats.SentCount
		pendingTotal = stats.PendingTotal
		cursor = segmentEnd
		processedWindows++
	}

	remainingDays := compactDaysBetween(cursor, endDate)
	if remainingDays > 0 {
		s.persistBackfillWindow(clog, cursor, endDate)
	} else {
		s.persistBackfillWindow(clog, "", "")
	}

	clog.Event(events.HealthBackfillComplete,
		"processed_windows", processedWindows,
		"processed_days", compactDaysBetween(startDate, cursor),
		"remaining_days", remainingDays,
		"sent_count", sentCount,
		"pending_total", pendingTotal)
}

// backfillWindow merges the freshly planned window with any persisted
// remainder, returning "" when there is nothing to backfill.
func (s *Service) backfillWindow(d health.Decision) (startDate, endDate string) {
	plannedStart, plannedEnd := s.planBackfillWindow(d)
	pendingStart, pendingEnd, hasPending := s.monitor.BackfillWindow()

	switch {
	case plannedStart == "" && !hasPending:
		return "", ""
	case plannedStart == "":
		return pendingStart, pendingEnd
	case !hasPending:
		return plannedStart, plannedEnd
	}
	return minDate(plannedStart, pendingStart), maxDate(plannedEnd, pendingEnd)
}

// planBackfillWindow sizes a window from the incident duration, capped
// by the configured maximum. Incidents shorter than the regular
// lookback need no backfill; the next ordinary cycle covers them.
func (s *Service) planBackfillWindow(d health.Decision) (startDate, endDate string) {
	if d.Event != health.EventRecovered {
		return "", ""
	}

	backfillDays := (d.IncidentDurationSec + 86399) / 86400
	backfillDays = max(backfillDays, 1)
	backfillDays = min(backfillDays, s.cfg.BackfillMaxDays)
	if backfillDays <= s.cfg.LookbackDays {
		return "", ""
	}

	today := s.clk.Now().In(s.cfg.Location())
	startDate = today.AddDate(0, 0, -backfillDays).Format(compactDate)
	endDate = today.AddDate(0, 0, -s.cfg.LookbackDays).Format(compactDate)
	if startDate >= endDate {
		return "", ""
	}
	return startDate, endDate
}

func (s *Service) persistBackfillWindow(clog *logger.Logger, startDate, endDate string) {
	s.monitor.SetBackfillWindow(startDate, endDate)
	if err := s.healthStore.Save(s.monitor.State()); err != nil {
		clog.WithError(err).EventError(events.HealthStatePersistFailed)
	}
}

func addCompactDays(date string, days int) string {
	t, err := time.Parse(compactDate, date)
	if err != nil {
		return date
	}
	return t.AddDate(0, 0, days).Format(compactDate)
}

func compactDaysBetween(startDate, endDate string) int {
	start, err := time.Parse(compactDate, startDate)
	if err != nil {
		return 0
	}
	end, err := time.Parse(compactDate, endDate)
	if err != nil {
		return 0
	}
	days := int(end.Sub(start) / (24 * time.Hour))
	return max(days, 0)
}

func minDate(a, b string) string {
	if a < b {
		return a
	}
	return b
}

func maxDate(a, b string) string {
	if a > b {
		return a
	}
	return b
}
