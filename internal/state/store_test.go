package state

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"alertbridge/internal/alert"
	"alertbridge/internal/clock"
	"alertbridge/internal/logger"
)

var storeTestStart = time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)

func testLogger() *logger.Logger {
	return logger.NewWithWriter("error", io.Discard)
}

func newTestJSONStore(t *testing.T, clk clock.Clock) *JSONStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sent_messages.json")
	s, err := NewJSONStore(path, clk, testLogger())
	if err != nil {
		t.Fatalf("NewJSONStore(): %v", err)
	}
	return s
}

func newTestSQLiteStore(t *testing.T, clk clock.Clock) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:", clk, testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore(): %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// eachBackend runs the subtest against both Store implementations.
func eachBackend(t *testing.T, fn func(t *testing.T, s Store, clk *clock.Fake)) {
	t.Helper()
	t.Run("json", func(t *testing.T) {
		clk := clock.NewFake(storeTestStart)
		fn(t, newTestJSONStore(t, clk), clk)
	})
	t.Run("sqlite", func(t *testing.T) {
		clk := clock.NewFake(storeTestStart)
		fn(t, newTestSQLiteStore(t, clk), clk)
	})
}

func notificationFixture(eventID, region string) alert.Notification {
	return alert.Notification{
		EventID:    eventID,
		RegionCode: region,
		Message:    "message for " + eventID,
		ReportURL:  "https://www.weather.go.kr/report/" + eventID,
	}
}

func TestUpsertNewAndDuplicate(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store, clk *clock.Fake) {
		n := notificationFixture("event:1", "R1")

		inserted, err := s.Upsert([]alert.Notification{n})
		if err != nil {
			t.Fatalf("Upsert(): %v", err)
		}
		if inserted != 1 {
			t.Errorf("inserted = %d, want 1", inserted)
		}

		inserted, err = s.Upsert([]alert.Notification{n})
		if err != nil {
			t.Fatalf("second Upsert(): %v", err)
		}
		if inserted != 0 {
			t.Errorf("duplicate upsert inserted = %d, want 0", inserted)
		}

		total, _ := s.TotalCount()
		if total != 1 {
			t.Errorf("TotalCount() = %d, want 1", total)
		}
	})
}

func TestUpsertPreservesTimestampsAndSent(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store, clk *clock.Fake) {
		n := notificationFixture("event:1", "R1")
		if _, err := s.Upsert([]alert.Notification{n}); err != nil {
			t.Fatalf("Upsert(): %v", err)
		}
		if _, err := s.MarkSent([]string{"event:1"}); err != nil {
			t.Fatalf("MarkSent(): %v", err)
		}

		before, _ := s.ListAll()
		if len(before) != 1 {
			t.Fatalf("ListAll() = %d rows, want 1", len(before))
		}

		clk.Advance(time.Hour)

		// Same payload: nothing changes, not even updated_at.
		if _, err := s.Upsert([]alert.Notification{n}); err != nil {
			t.Fatalf("re-Upsert(): %v", err)
		}
		after, _ := s.ListAll()
		if after[0] != before[0] {
			t.Errorf("unchanged payload mutated row:\nbefore %+v\nafter  %+v", before[0], after[0])
		}

		// Changed payload: message and updated_at refresh; first_seen,
		// sent, and last_sent stay.
		clk.Advance(time.Hour)
		changed := n
		changed.Message = "revised message"
		if _, err := s.Upsert([]alert.Notification{changed}); err != nil {
			t.Fatalf("changed Upsert(): %v", err)
		}
		final, _ := s.ListAll()
		row := final[0]
		if row.Message != "revised message" {
			t.Errorf("Message = %q, want revised", row.Message)
		}
		if row.FirstSeenAt != before[0].FirstSeenAt {
			t.Error("FirstSeenAt changed on upsert")
		}
		if !row.Sent || row.LastSentAt != before[0].LastSentAt {
			t.Error("sent state changed on upsert")
		}
		if row.UpdatedAt == before[0].UpdatedAt {
			t.Error("UpdatedAt not refreshed for changed payload")
		}
	})
}

func TestMarkSent(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store, clk *clock.Fake) {
		batch := []alert.Notification{
			notificationFixture("event:1", "R1"),
			notificationFixture("event:2", "R1"),
			notificationFixture("event:3", "R2"),
		}
		if _, err := s.Upsert(batch); err != nil {
			t.Fatalf("Upsert(): %v", err)
		}

		marked, err := s.MarkSent([]string{"event:1", "event:3", "event:1", "missing"})
		if err != nil {
			t.Fatalf("MarkSent(): %v", err)
		}
		if marked != 2 {
			t.Errorf("marked = %d, want 2", marked)
		}

		pending, _ := s.PendingCount()
		if pending != 1 {
			t.Errorf("PendingCount() = %d, want 1", pending)
		}

		// Marking again is a no-op.
		marked, err = s.MarkSent([]string{"event:1"})
		if err != nil {
			t.Fatalf("second MarkSent(): %v", err)
		}
		if marked != 0 {
			t.Errorf("re-mark = %d, want 0", marked)
		}

		rows, _ := s.ListAll()
		for _, row := range rows {
			if row.Sent && row.LastSentAt == "" {
				t.Errorf("row %s sent without last_sent_at", row.EventID)
			}
		}
	})
}

func TestListPendingFiltersAndOrders(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store, clk *clock.Fake) {
		if _, err := s.Upsert([]alert.Notification{notificationFixture("event:old", "R1")}); err != nil {
			t.Fatalf("Upsert(): %v", err)
		}
		clk.Advance(time.Minute)
		if _, err := s.Upsert([]alert.Notification{
			notificationFixture("event:new", "R1"),
			notificationFixture("event:other", "R2"),
		}); err != nil {
			t.Fatalf("Upsert(): %v", err)
		}

		all, err := s.ListPending("")
		if err != nil {
			t.Fatalf("ListPending(): %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("ListPending(\"\") = %d rows, want 3", len(all))
		}
		if all[0].EventID != "event:old" {
			t.Errorf("first pending = %s, want event:old (oldest first)", all[0].EventID)
		}

		r1, err := s.ListPending("R1")
		if err != nil {
			t.Fatalf("ListPending(R1): %v", err)
		}
		if len(r1) != 2 {
			t.Errorf("ListPending(R1) = %d rows, want 2", len(r1))
		}
		for _, row := range r1 {
			if row.RegionCode != "R1" {
				t.Errorf("ListPending(R1) returned region %s", row.RegionCode)
			}
		}
	})
}

func TestCleanupStale(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store, clk *clock.Fake) {
		if _, err := s.Upsert([]alert.Notification{
			notificationFixture("event:sent-old", "R1"),
			notificationFixture("event:pending-old", "R1"),
		}); err != nil {
			t.Fatalf("Upsert(): %v", err)
		}
		if _, err := s.MarkSent([]string{"event:sent-old"}); err != nil {
			t.Fatalf("MarkSent(): %v", err)
		}

		clk.Advance(40 * 24 * time.Hour)
		if _, err := s.Upsert([]alert.Notification{notificationFixture("event:sent-new", "R1")}); err != nil {
			t.Fatalf("Upsert(): %v", err)
		}
		if _, err := s.MarkSent([]string{"event:sent-new"}); err != nil {
			t.Fatalf("MarkSent(): %v", err)
		}

		now := clk.Now()

		// Dry run counts without deleting.
		removed, err := s.CleanupStale(now, 30, false, true)
		if err != nil {
			t.Fatalf("CleanupStale(dry): %v", err)
		}
		if removed != 1 {
			t.Errorf("dry-run removable = %d, want 1 (only stale sent row)", removed)
		}
		total, _ := s.TotalCount()
		if total != 3 {
			t.Errorf("dry run deleted rows: total = %d, want 3", total)
		}

		// Default keeps unsent rows however old.
		removed, err = s.CleanupStale(now, 30, false, false)
		if err != nil {
			t.Fatalf("CleanupStale(): %v", err)
		}
		if removed != 1 {
			t.Errorf("removed = %d, want 1", removed)
		}
		rows, _ := s.ListAll()
		ids := map[string]bool{}
		for _, row := range rows {
			ids[row.EventID] = true
		}
		if !ids["event:pending-old"] {
			t.Error("stale pending row deleted without include_unsent")
		}
		if ids["event:sent-old"] {
			t.Error("stale sent row survived cleanup")
		}

		// include_unsent sweeps the pending row too.
		removed, err = s.CleanupStale(now, 30, true, false)
		if err != nil {
			t.Fatalf("CleanupStale(include_unsent): %v", err)
		}
		if removed != 1 {
			t.Errorf("include_unsent removed = %d, want 1", removed)
		}
		pending, _ := s.PendingCount()
		if pending != 0 {
			t.Errorf("PendingCount() = %d, want 0", pending)
		}
	})
}

func TestCleanupStaleRejectsNegativeDays(t *testing.T) {
	eachBackend(t, func(t *testing.T, s Store, clk *clock.Fake) {
		if _, err := s.CleanupStale(clk.Now(), -1, false, false); err == nil {
			t.Error("CleanupStale(-1 days) did not fail")
		}
	})
}
