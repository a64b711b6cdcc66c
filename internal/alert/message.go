package alert

import (
	"fmt"
	"time"
)

// unknownTime substitutes for a missing start or end time in messages.
const unknownTime = "특정 시간"

// BuildMessage renders the Korean notification text for the event.
// Cancelled warnings get the cancellation template regardless of
// action; fresh announcements and follow-up actions each have their
// own phrasing.
func BuildMessage(e WarningEvent) string {
	if e.Cancel != CancelNormal {
		return fmt.Sprintf("%s %s되었던 %s %s%s가 취소되었습니다.",
			orUnknown(e.EndTime, e.StartTime), e.Action, e.RegionName, e.Kind, e.Level)
	}
	if e.Action == ActionPublish {
		return fmt.Sprintf("%s %s %s%s가 발표되었습니다.",
			orUnknown(e.StartTime, ""), e.RegionName, e.Kind, e.Level)
	}
	return fmt.Sprintf("%s %s %s%s가 %s되었습니다.",
		orUnknown(e.EndTime, e.StartTime), e.RegionName, e.Kind, e.Level, e.Action)
}

// FormatKoreanTime converts a compact feed timestamp (YYYYMMDDHHMM)
// into the Korean display form, e.g. "2026년 8월 24일 오후 3시 30분".
// Zero-minute times drop the minute part. Unparseable input yields "".
func FormatKoreanTime(raw string) string {
	if raw == "" || raw == "0" {
		return ""
	}
	t, err := time.Parse("200601021504", raw)
	if err != nil {
		return ""
	}

	amPM := "오전"
	if t.Hour() >= 12 {
		amPM = "오후"
	}
	hour := t.Hour() % 12
	if hour == 0 {
		hour = 12
	}
	if t.Minute() == 0 {
		return fmt.Sprintf("%d년 %d월 %d일 %s %d시", t.Year(), int(t.Month()), t.Day(), amPM, hour)
	}
	return fmt.Sprintf("%d년 %d월 %d일 %s %d시 %d분", t.Year(), int(t.Month()), t.Day(), amPM, hour, t.Minute())
}

func orUnknown(primary, fallback string) string {
	if primary != "" {
		return primary
	}
	if fallback != "" {
		return fallback
	}
	return unknownTime
}
