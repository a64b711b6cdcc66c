package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Issue is one verification finding. Severity is "error" or "warning";
// strict mode upgrades the warnings that depend on operator intent
// (such as a missing backend file).
type Issue struct {
	Backend  string `json:"backend"`
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
}

// BackendSummary is the per-backend rollup of a verification run.
type BackendSummary struct {
	Backend string `json:"backend"`
	Path    string `json:"path"`
	Exists  bool   `json:"exists"`
	Records int    `json:"records"`
	Sent    int    `json:"sent"`
	Pending int    `json:"pending"`
}

// VerificationReport is the full result of a verify-state run.
type VerificationReport struct {
	Summaries []BackendSummary `json:"summaries"`
	Issues    []Issue          `json:"issues"`
}

// ErrorCount returns the number of error-severity issues.
func (r VerificationReport) ErrorCount() int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Severity == "error" {
			n++
		}
	}
	return n
}

// WarningCount returns the number of warning-severity issues.
func (r VerificationReport) WarningCount() int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Severity == "warning" {
			n++
		}
	}
	return n
}

// Passed reports whether the run found no errors.
func (r VerificationReport) Passed() bool {
	return r.ErrorCount() == 0
}

// VerifyStateFiles inspects both backend artifacts and returns a
// combined report. It opens the artifacts read-only and never mutates
// them. When both artifacts are readable, the rows are also compared
// across backends; drift is a warning, upgraded to an error in strict
// mode.
func VerifyStateFiles(jsonPath, sqlitePath string, strict bool) VerificationReport {
	jsonSummary, jsonRows, jsonIssues := verifyJSONState(jsonPath, strict)
	sqliteSummary, sqliteRows, sqliteIssues := verifySQLiteState(sqlitePath, strict)

	issues := append(jsonIssues, sqliteIssues...)
	if jsonRows != nil && sqliteRows != nil {
		issues = append(issues, compareBackends(jsonRows, sqliteRows, strict)...)
	}

	return VerificationReport{
		Summaries: []BackendSummary{jsonSummary, sqliteSummary},
		Issues:    issues,
	}
}

// compareBackends diffs the two row sets: total count, presence of
// every event ID on both sides, and field-level equality per shared
// row.
func compareBackends(jsonRows, sqliteRows map[string]StoredNotification, strict bool) []Issue {
	const backend = "cross"
	severity := missingSeverity(strict)
	var issues []Issue

	if len(jsonRows) != len(sqliteRows) {
		issues = append(issues, Issue{backend, severity, "count_mismatch",
			fmt.Sprintf("json=%d sqlite=%d", len(jsonRows), len(sqliteRows))})
	}

	ids := make([]string, 0, len(jsonRows)+len(sqliteRows))
	for id := range jsonRows {
		ids = append(ids, id)
	}
	for id := range sqliteRows {
		if _, ok := jsonRows[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		jsonRow, inJSON := jsonRows[id]
		sqliteRow, inSQLite := sqliteRows[id]
		if !inJSON {
			issues = append(issues, Issue{backend, severity, "row_missing",
				fmt.Sprintf("event_id=%s missing_in=json", id)})
			continue
		}
		if !inSQLite {
			issues = append(issues, Issue{backend, severity, "row_missing",
				fmt.Sprintf("event_id=%s missing_in=sqlite", id)})
			continue
		}
		if drifted := rowDrift(jsonRow, sqliteRow); len(drifted) > 0 {
			issues = append(issues, Issue{backend, severity, "row_mismatch",
				fmt.Sprintf("event_id=%s fields=%s", id, strings.Join(drifted, ","))})
		}
	}
	return issues
}

func rowDrift(a, b StoredNotification) []string {
	var fields []string
	if a.RegionCode != b.RegionCode {
		fields = append(fields, "area_code")
	}
	if a.Message != b.Message {
		fields = append(fields, "message")
	}
	if a.ReportURL != b.ReportURL {
		fields = append(fields, "report_url")
	}
	if a.Sent != b.Sent {
		fields = append(fields, "sent")
	}
	if a.FirstSeenAt != b.FirstSeenAt {
		fields = append(fields, "first_seen_at")
	}
	if a.UpdatedAt != b.UpdatedAt {
		fields = append(fields, "updated_at")
	}
	if a.LastSentAt != b.LastSentAt {
		fields = append(fields, "last_sent_at")
	}
	return fields
}

func missingSeverity(strict bool) string {
	if strict {
		return "error"
	}
	return "warning"
}

func verifyJSONState(path string, strict bool) (BackendSummary, map[string]StoredNotification, []Issue) {
	const backend = "json"
	summary := BackendSummary{Backend: backend, Path: path}
	var issues []Issue

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			issues = append(issues, Issue{backend, missingSeverity(strict), "file_missing", path})
			return summary, nil, issues
		}
		summary.Exists = true
		issues = append(issues, Issue{backend, "error", "read_failed", err.Error()})
		return summary, nil, issues
	}
	summary.Exists = true

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		issues = append(issues, Issue{backend, "error", "invalid_json", err.Error()})
		return summary, nil, issues
	}

	inner := raw
	if rawRecords, ok := raw["sent_messages"]; ok {
		if err := json.Unmarshal(rawRecords, &inner); err != nil {
			issues = append(issues, Issue{backend, "error", "invalid_records_type", err.Error()})
			return summary, nil, issues
		}
	}

	// Legacy layout: flat message->bool map. Legacy rows have no event
	// IDs, so there is nothing to compare across backends.
	legacy := true
	legacySent := 0
	for _, rawValue := range inner {
		var sent bool
		if err := json.Unmarshal(rawValue, &sent); err != nil {
			legacy = false
			break
		}
		if sent {
			legacySent++
		}
	}
	if legacy && len(inner) > 0 {
		summary.Records = len(inner)
		summary.Sent = legacySent
		summary.Pending = len(inner) - legacySent
		issues = append(issues, Issue{backend, "warning", "legacy_schema_detected", "boolean map"})
		return summary, nil, issues
	}

	records := make(map[string]StoredNotification, len(inner))
	for eventID, rawRecord := range inner {
		if eventID == "version" {
			continue
		}
		if strings.TrimSpace(eventID) == "" {
			issues = append(issues, Issue{backend, "error", "empty_event_id", eventID})
			continue
		}
		var rec jsonRecord
		if err := json.Unmarshal(rawRecord, &rec); err != nil {
			issues = append(issues, Issue{backend, "error", "invalid_record_type",
				fmt.Sprintf("event_id=%s: %v", eventID, err)})
			continue
		}
		summary.Records++
		if rec.Sent {
			summary.Sent++
		} else {
			summary.Pending++
		}
		records[eventID] = StoredNotification{
			EventID:     eventID,
			RegionCode:  rec.RegionCode,
			Message:     rec.Message,
			ReportURL:   rec.ReportURL,
			Sent:        rec.Sent,
			FirstSeenAt: rec.FirstSeenAt,
			UpdatedAt:   rec.UpdatedAt,
			LastSentAt:  rec.LastSentAt,
		}

		for key, value := range map[string]string{
			"first_seen_at": rec.FirstSeenAt,
			"updated_at":    rec.UpdatedAt,
		} {
			if _, ok := ParseISO(value); !ok {
				issues = append(issues, Issue{backend, "error", "invalid_timestamp",
					fmt.Sprintf("event_id=%s key=%s", eventID, key)})
			}
		}
		if rec.LastSentAt != "" {
			if _, ok := ParseISO(rec.LastSentAt); !ok {
				issues = append(issues, Issue{backend, "error", "invalid_timestamp",
					fmt.Sprintf("event_id=%s key=last_sent_at", eventID)})
			}
		}
	}
	return summary, records, issues
}

func verifySQLiteState(path string, strict bool) (BackendSummary, map[string]StoredNotification, []Issue) {
	const backend = "sqlite"
	summary := BackendSummary{Backend: backend, Path: path}
	var issues []Issue

	if _, err := os.Stat(path); os.IsNotExist(err) {
		issues = append(issues, Issue{backend, missingSeverity(strict), "file_missing", path})
		return summary, nil, issues
	}
	summary.Exists = true

	conn, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		issues = append(issues, Issue{backend, "error", "open_failed", err.Error()})
		return summary, nil, issues
	}
	defer conn.Close()

	var tableName string
	err = conn.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name='notifications'").Scan(&tableName)
	if err == sql.ErrNoRows {
		issues = append(issues, Issue{backend, "error", "missing_table", "notifications"})
		return summary, nil, issues
	}
	if err != nil {
		issues = append(issues, Issue{backend, "error", "open_failed", err.Error()})
		return summary, nil, issues
	}

	if missing := missingColumns(conn); len(missing) > 0 {
		issues = append(issues, Issue{backend, "error", "missing_columns", strings.Join(missing, ",")})
		return summary, nil, issues
	}

	counts := map[string]*int{
		"SELECT COUNT(*) FROM notifications":                &summary.Records,
		"SELECT COUNT(*) FROM notifications WHERE sent = 1": &summary.Sent,
		"SELECT COUNT(*) FROM notifications WHERE sent = 0": &summary.Pending,
	}
	for query, dest := range counts {
		if err := conn.QueryRow(query).Scan(dest); err != nil {
			issues = append(issues, Issue{backend, "error", "read_failed", err.Error()})
			return summary, nil, issues
		}
	}

	var invalidSent int
	if err := conn.QueryRow(
		"SELECT COUNT(*) FROM notifications WHERE sent NOT IN (0, 1)").Scan(&invalidSent); err == nil && invalidSent > 0 {
		issues = append(issues, Issue{backend, "error", "invalid_sent_value", fmt.Sprint(invalidSent)})
	}

	var invalidRequired int
	if err := conn.QueryRow(`
		SELECT COUNT(*) FROM notifications
		WHERE event_id IS NULL OR TRIM(event_id) = ''
		   OR area_code IS NULL OR TRIM(area_code) = ''
		   OR message IS NULL OR TRIM(message) = ''`).Scan(&invalidRequired); err == nil && invalidRequired > 0 {
		issues = append(issues, Issue{backend, "error", "invalid_required_field", fmt.Sprint(invalidRequired)})
	}

	invalidTimestamps, err := countInvalidTimestamps(conn)
	if err != nil {
		issues = append(issues, Issue{backend, "error", "read_failed", err.Error()})
		return summary, nil, issues
	}
	if invalidTimestamps > 0 {
		issues = append(issues, Issue{backend, "error", "invalid_timestamp", fmt.Sprint(invalidTimestamps)})
	}

	records, err := loadSQLiteRows(conn)
	if err != nil {
		issues = append(issues, Issue{backend, "error", "read_failed", err.Error()})
		return summary, nil, issues
	}
	return summary, records, issues
}

func loadSQLiteRows(conn *sql.DB) (map[string]StoredNotification, error) {
	rows, err := conn.Query(`
		SELECT event_id, area_code, message, report_url, sent,
		       first_seen_at, updated_at, last_sent_at
		FROM notifications`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make(map[string]StoredNotification)
	for rows.Next() {
		var rec StoredNotification
		var reportURL, lastSentAt sql.NullString
		var sent int
		if err := rows.Scan(&rec.EventID, &rec.RegionCode, &rec.Message, &reportURL,
			&sent, &rec.FirstSeenAt, &rec.UpdatedAt, &lastSentAt); err != nil {
			return nil, err
		}
		rec.ReportURL = reportURL.String
		rec.LastSentAt = lastSentAt.String
		rec.Sent = sent != 0
		records[rec.EventID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func missingColumns(conn *sql.DB) []string {
	required := map[string]bool{
		"event_id": false, "area_code": false, "message": false,
		"report_url": false, "sent": false, "first_seen_at": false,
		"updated_at": false, "last_sent_at": false,
	}

	rows, err := conn.Query("PRAGMA table_info(notifications)")
	if err != nil {
		return nil
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			continue
		}
		if _, ok := required[name]; ok {
			required[name] = true
		}
	}

	var missing []string
	for name, present := range required {
		if !present {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

func countInvalidTimestamps(conn *sql.DB) (int, error) {
	rows, err := conn.Query(
		"SELECT first_seen_at, updated_at, last_sent_at FROM notifications")
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	invalid := 0
	for rows.Next() {
		var firstSeen, updated string
		var lastSent sql.NullString
		if err := rows.Scan(&firstSeen, &updated, &lastSent); err != nil {
			return invalid, err
		}
		if _, ok := ParseISO(firstSeen); !ok {
			invalid++
			continue
		}
		if _, ok := ParseISO(updated); !ok {
			invalid++
			continue
		}
		if lastSent.Valid {
			if _, ok := ParseISO(lastSent.String); !ok {
				invalid++
			}
		}
	}
	return invalid, rows.Err()
}
