package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver for database/sql

	"alertbridge/internal/alert"
	"alertbridge/internal/clock"
	"alertbridge/internal/logger"
)

// SQLiteStore is the embedded relational backend. One table keyed on
// the event fingerprint; WAL mode and a 30s busy timeout tolerate
// transient locking. Batch operations run inside one transaction with
// a single prepared statement.
type SQLiteStore struct {
	conn *sql.DB
	path string
	clk  clock.Clock
	log  *logger.Logger
}

// NewSQLiteStore opens (or creates) the database at path.
// Pass ":memory:" for tests.
func NewSQLiteStore(path string, clk clock.Clock, log *logger.Logger) (*SQLiteStore, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create state directory: %w", err)
			}
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	// Single writer per process; extra connections only add lock
	// contention with the modernc driver.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=30000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS notifications (
		  event_id TEXT PRIMARY KEY,
		  area_code TEXT NOT NULL,
		  message TEXT NOT NULL,
		  report_url TEXT,
		  sent INTEGER NOT NULL DEFAULT 0,
		  first_seen_at TEXT NOT NULL,
		  updated_at TEXT NOT NULL,
		  last_sent_at TEXT
		)`); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create notifications table: %w", err)
	}
	if _, err := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_notifications_sent_area
		  ON notifications(sent, area_code, first_seen_at)`); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create notifications index: %w", err)
	}

	return &SQLiteStore{
		conn: conn,
		path: path,
		clk:  clk,
		log:  log.WithModule("state_sqlite"),
	}, nil
}

// Upsert implements Store. Inserts and change-detected updates run in
// one transaction; existing rows keep first_seen_at, sent, and
// last_sent_at untouched.
func (s *SQLiteStore) Upsert(notifications []alert.Notification) (int, error) {
	byID := make(map[string]alert.Notification, len(notifications))
	for _, n := range notifications {
		if n.EventID != "" {
			byID[n.EventID] = n
		}
	}
	if len(byID) == 0 {
		return 0, nil
	}

	now := FormatISO(s.clk.Now())
	tx, err := s.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := fetchExisting(tx, keysOf(byID))
	if err != nil {
		return 0, err
	}

	insertStmt, err := tx.Prepare(`
		INSERT INTO notifications (
		  event_id, area_code, message, report_url, sent,
		  first_seen_at, updated_at, last_sent_at
		) VALUES (?, ?, ?, ?, 0, ?, ?, NULL)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer insertStmt.Close()

	updateStmt, err := tx.Prepare(`
		UPDATE notifications
		SET area_code = ?, message = ?, report_url = ?, updated_at = ?
		WHERE event_id = ?`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare update: %w", err)
	}
	defer updateStmt.Close()

	inserted := 0
	for eventID, n := range byID {
		prev, ok := existing[eventID]
		if !ok {
			if _, err := insertStmt.Exec(eventID, n.RegionCode, n.Message, nullable(n.ReportURL), now, now); err != nil {
				return inserted, fmt.Errorf("failed to insert %s: %w", eventID, err)
			}
			inserted++
			continue
		}
		if prev.RegionCode != n.RegionCode || prev.Message != n.Message || prev.ReportURL != n.ReportURL {
			if _, err := updateStmt.Exec(n.RegionCode, n.Message, nullable(n.ReportURL), now, eventID); err != nil {
				return inserted, fmt.Errorf("failed to update %s: %w", eventID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return inserted, fmt.Errorf("failed to commit upsert: %w", err)
	}
	return inserted, nil
}

// ListPending implements Store.
func (s *SQLiteStore) ListPending(regionCode string) ([]StoredNotification, error) {
	query := `
		SELECT event_id, area_code, message, report_url, sent,
		       first_seen_at, updated_at, last_sent_at
		FROM notifications
		WHERE sent = 0`
	args := []any{}
	if regionCode != "" {
		query += " AND area_code = ?"
		args = append(args, regionCode)
	}
	query += " ORDER BY first_seen_at ASC, event_id ASC"
	return s.queryRows(query, args...)
}

// ListAll implements Store.
func (s *SQLiteStore) ListAll() ([]StoredNotification, error) {
	return s.queryRows(`
		SELECT event_id, area_code, message, report_url, sent,
		       first_seen_at, updated_at, last_sent_at
		FROM notifications
		ORDER BY first_seen_at ASC, event_id ASC`)
}

// MarkSent implements Store. All flips happen through one prepared
// statement inside a single transaction.
func (s *SQLiteStore) MarkSent(eventIDs []string) (int, error) {
	ids := dedupe(eventIDs)
	if len(ids) == 0 {
		return 0, nil
	}

	now := FormatISO(s.clk.Now())
	tx, err := s.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin mark_sent: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		UPDATE notifications
		SET sent = 1, updated_at = ?, last_sent_at = ?
		WHERE sent = 0 AND event_id = ?`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare mark_sent: %w", err)
	}
	defer stmt.Close()

	marked := 0
	for _, eventID := range ids {
		res, err := stmt.Exec(now, now, eventID)
		if err != nil {
			return marked, fmt.Errorf("failed to mark %s sent: %w", eventID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			marked += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return marked, fmt.Errorf("failed to commit mark_sent: %w", err)
	}
	return marked, nil
}

// CleanupStale implements Store. The delete is a single filtered
// statement so it scales with table size.
func (s *SQLiteStore) CleanupStale(now time.Time, days int, includeUnsent, dryRun bool) (int, error) {
	if days < 0 {
		return 0, fmt.Errorf("cleanup days must be >= 0, got %d", days)
	}

	// updated_at is NOT NULL, so it is always the reference timestamp.
	threshold := FormatISO(now.UTC().AddDate(0, 0, -days))
	where := `updated_at <= ?`
	args := []any{threshold}
	if !includeUnsent {
		where += " AND sent = 1"
	}

	if dryRun {
		var count int
		err := s.conn.QueryRow("SELECT COUNT(*) FROM notifications WHERE "+where, args...).Scan(&count)
		if err != nil {
			return 0, fmt.Errorf("failed to count stale rows: %w", err)
		}
		return count, nil
	}

	res, err := s.conn.Exec("DELETE FROM notifications WHERE "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale rows: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read delete count: %w", err)
	}
	return int(removed), nil
}

// TotalCount implements Store.
func (s *SQLiteStore) TotalCount() (int, error) {
	var count int
	if err := s.conn.QueryRow("SELECT COUNT(*) FROM notifications").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return count, nil
}

// PendingCount implements Store.
func (s *SQLiteStore) PendingCount() (int, error) {
	var count int
	if err := s.conn.QueryRow("SELECT COUNT(*) FROM notifications WHERE sent = 0").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending rows: %w", err)
	}
	return count, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

// restore inserts or overwrites one row verbatim, preserving the given
// timestamps and sent flag. Used by the migration.
func (s *SQLiteStore) restore(n StoredNotification) error {
	sent := 0
	if n.Sent {
		sent = 1
	}
	_, err := s.conn.Exec(`
		INSERT INTO notifications (
		  event_id, area_code, message, report_url, sent,
		  first_seen_at, updated_at, last_sent_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
		  area_code = excluded.area_code,
		  message = excluded.message,
		  report_url = excluded.report_url,
		  sent = excluded.sent,
		  first_seen_at = excluded.first_seen_at,
		  updated_at = excluded.updated_at,
		  last_sent_at = excluded.last_sent_at`,
		n.EventID, n.RegionCode, n.Message, nullable(n.ReportURL), sent,
		n.FirstSeenAt, n.UpdatedAt, nullable(n.LastSentAt))
	if err != nil {
		return fmt.Errorf("failed to restore %s: %w", n.EventID, err)
	}
	return nil
}

// exists reports whether an event ID is already tracked.
func (s *SQLiteStore) exists(eventID string) (bool, error) {
	var one int
	err := s.conn.QueryRow("SELECT 1 FROM notifications WHERE event_id = ?", eventID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to probe %s: %w", eventID, err)
	}
	return true, nil
}

func (s *SQLiteStore) queryRows(query string, args ...any) ([]StoredNotification, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var out []StoredNotification
	for rows.Next() {
		var n StoredNotification
		var reportURL, lastSentAt sql.NullString
		var sent int
		if err := rows.Scan(&n.EventID, &n.RegionCode, &n.Message, &reportURL, &sent,
			&n.FirstSeenAt, &n.UpdatedAt, &lastSentAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.ReportURL = reportURL.String
		n.LastSentAt = lastSentAt.String
		n.Sent = sent != 0
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return out, nil
}

// fetchExisting loads the comparison columns for the given IDs in
// chunks, keeping the IN clause bounded.
func fetchExisting(tx *sql.Tx, eventIDs []string) (map[string]StoredNotification, error) {
	const chunkSize = 500
	existing := map[string]StoredNotification{}

	for start := 0; start < len(eventIDs); start += chunkSize {
		end := min(start+chunkSize, len(eventIDs))
		chunk := eventIDs[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := tx.Query(`
			SELECT event_id, area_code, message, report_url
			FROM notifications
			WHERE event_id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to load existing rows: %w", err)
		}
		for rows.Next() {
			var n StoredNotification
			var reportURL sql.NullString
			if err := rows.Scan(&n.EventID, &n.RegionCode, &n.Message, &reportURL); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan existing row: %w", err)
			}
			n.ReportURL = reportURL.String
			existing[n.EventID] = n
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to iterate existing rows: %w", err)
		}
		rows.Close()
	}
	return existing, nil
}

func keysOf(m map[string]alert.Notification) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
