// Package alert holds the warning-event domain model: event identity,
// report links, code tables, and the Korean notification messages
// rendered from them.
package alert

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// WarningEvent is one warning observation from the upstream feed.
// Kind, Level, Action, and Cancel hold the mapped Korean labels, not
// the raw codes; StartTime and EndTime are pre-formatted display
// strings (empty when the feed omitted them). AnnounceTime and
// AnnounceSeq carry the raw bulletin fields (tmFc, tmSeq) used for
// identity and report links.
type WarningEvent struct {
	RegionCode   string `json:"region_code"`
	RegionName   string `json:"region_name"`
	Kind         string `json:"kind"`
	Level        string `json:"level"`
	Action       string `json:"action"`
	Cancel       string `json:"cancel"`
	StartTime    string `json:"start_time,omitempty"`
	EndTime      string `json:"end_time,omitempty"`
	StationID    string `json:"station_id"`
	AnnounceTime string `json:"announce_time"`
	AnnounceSeq  string `json:"announce_seq"`
}

// Fingerprint returns the stable dedup key for the event.
//
// The primary form embeds the bulletin identity plus the region and
// warning dimensions, so one bulletin covering several regions or
// warning categories yields distinct keys. When any bulletin component
// is missing, a hashed fallback over every field keeps the key stable
// without colliding with primary-form keys.
func (e WarningEvent) Fingerprint() string {
	if e.StationID != "" && e.AnnounceTime != "" && e.AnnounceSeq != "" {
		return fmt.Sprintf("event:%s:%s:%s:%s:%s:%s:%s:%s",
			e.StationID, e.AnnounceTime, e.AnnounceSeq,
			e.RegionCode, e.Kind, e.Level, e.Action, e.Cancel)
	}

	source := strings.Join([]string{
		e.RegionCode,
		e.RegionName,
		e.Kind,
		e.Level,
		e.Action,
		e.Cancel,
		e.StartTime,
		e.EndTime,
		e.StationID,
		e.AnnounceTime,
		e.AnnounceSeq,
	}, "|")
	digest := sha1.Sum([]byte(source))
	return "fallback:" + hex.EncodeToString(digest[:])[:20]
}

// ValidateReportParams checks whether the bulletin fields can form a
// valid report link. It returns ok=false with a reason code when the
// fields are partially present or malformed; all-absent is valid (the
// link is simply omitted).
func (e WarningEvent) ValidateReportParams() (ok bool, reason string) {
	hasAny := e.StationID != "" || e.AnnounceTime != "" || e.AnnounceSeq != ""
	hasAll := e.StationID != "" && e.AnnounceTime != "" && e.AnnounceSeq != ""

	if hasAny && !hasAll {
		return false, "incomplete_report_params"
	}
	if !hasAll {
		return true, ""
	}
	if len(e.AnnounceTime) != 12 || !isDigits(e.AnnounceTime) {
		return false, "invalid_tm_fc"
	}
	if !isDigits(e.AnnounceSeq) {
		return false, "invalid_tm_seq"
	}
	return true, ""
}

// ReportURL builds the public special-report page link for the event,
// or "" when the bulletin fields are absent or fail validation.
func (e WarningEvent) ReportURL() string {
	if ok, _ := e.ValidateReportParams(); !ok {
		return ""
	}
	if e.StationID == "" || e.AnnounceTime == "" || e.AnnounceSeq == "" {
		return ""
	}
	dateStr := fmt.Sprintf("%s-%s-%s", e.AnnounceTime[0:4], e.AnnounceTime[4:6], e.AnnounceTime[6:8])
	return "https://www.weather.go.kr/w/special-report/list.do" +
		"?prevStn=" + e.StationID +
		"&prevKind=met" +
		"&prevCmtCd=" +
		"&stn=" + e.StationID +
		"&kind=met" +
		"&date=" + dateStr +
		"&reportId=met%3A" + e.AnnounceTime + "%3A" + e.AnnounceSeq
}

// Notification is the ready-to-send rendering of a WarningEvent.
// URLValidationError carries the reason a report link was withheld.
type Notification struct {
	EventID            string
	RegionCode         string
	Message            string
	ReportURL          string
	URLValidationError string
}

// BuildNotification renders the event into its outbound form.
func BuildNotification(e WarningEvent) Notification {
	_, reason := e.ValidateReportParams()
	return Notification{
		EventID:            e.Fingerprint(),
		RegionCode:         e.RegionCode,
		Message:            BuildMessage(e),
		ReportURL:          e.ReportURL(),
		URLValidationError: reason,
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
