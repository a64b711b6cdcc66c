package alert

import (
	"fmt"

	"alertbridge/internal/health"
)

// BuildHealthMessage renders the Korean notification text for a health
// transition. Decisions without a transition event yield "".
func BuildHealthMessage(d health.Decision) string {
	switch d.Event {
	case health.EventOutageDetected:
		return buildOutageDetectedMessage(d)
	case health.EventOutageHeartbeat:
		return buildOutageHeartbeatMessage(d)
	case health.EventRecovered:
		return buildRecoveredMessage(d)
	}
	return ""
}

func buildOutageDetectedMessage(d health.Decision) string {
	return "[API 장애 감지]\n" +
		fmt.Sprintf("- 10분 장애비율: %s\n", ratioPercent(d.OutageWindowFailRatio)) +
		fmt.Sprintf("- 실패 사이클: %d/%d\n", d.OutageWindowFailedCycles, d.OutageWindowCycles) +
		fmt.Sprintf("- 연속 심각 실패: %d회\n", d.ConsecutiveSevereFailures) +
		fmt.Sprintf("- 대표 오류: %s\n", orNA(d.RepresentativeError)) +
		"- 알림 정책에 따라 장애 상태를 지속 추적합니다."
}

func buildOutageHeartbeatMessage(d health.Decision) string {
	return "[API 장애 지속]\n" +
		fmt.Sprintf("- 장애 지속 시간: %s\n", formatDuration(d.IncidentDurationSec)) +
		fmt.Sprintf("- 누적 실패/전체 사이클: %d/%d\n", d.IncidentFailedCycles, d.IncidentTotalCycles) +
		fmt.Sprintf("- 최근 10분 장애비율: %s\n", ratioPercent(d.OutageWindowFailRatio)) +
		fmt.Sprintf("- 대표 오류: %s", orNA(d.RepresentativeError))
}

func buildRecoveredMessage(d health.Decision) string {
	return "[API 복구]\n" +
		fmt.Sprintf("- 장애 지속 시간: %s\n", formatDuration(d.IncidentDurationSec)) +
		fmt.Sprintf("- 최근 안정 구간 실패비율: %s\n", ratioPercent(d.RecoveryWindowFailRatio)) +
		fmt.Sprintf("- 연속 안정 사이클: %d회\n", d.ConsecutiveStableSuccesses) +
		"- 기준 충족으로 장애 상태를 종료했습니다."
}

func ratioPercent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

func formatDuration(totalSeconds int) string {
	seconds := max(totalSeconds, 0)
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	if hours > 0 {
		return fmt.Sprintf("%d시간 %d분", hours, minutes)
	}
	return fmt.Sprintf("%d분", minutes)
}

func orNA(s string) string {
	if s == "" {
		return notAvailable
	}
	return s
}
