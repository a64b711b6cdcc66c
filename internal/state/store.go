// Package state provides the durable notification-tracking store with
// two interchangeable backends: a single-document JSON file and an
// embedded SQLite database. Both implement the same Store contract;
// a migration utility and an integrity verifier bridge the two.
package state

import (
	"time"

	"alertbridge/internal/alert"
)

// StoredNotification is one tracked row of the state store.
// Timestamps are UTC ISO-8601 strings with second precision; an empty
// LastSentAt means never sent.
type StoredNotification struct {
	EventID     string `json:"event_id"`
	RegionCode  string `json:"area_code"`
	Message     string `json:"message"`
	ReportURL   string `json:"report_url,omitempty"`
	Sent        bool   `json:"sent"`
	FirstSeenAt string `json:"first_seen_at"`
	UpdatedAt   string `json:"updated_at"`
	LastSentAt  string `json:"last_sent_at,omitempty"`
}

// Store is the backend-agnostic contract both backends implement.
//
// Invariants: Upsert never regresses FirstSeenAt and never touches
// Sent or LastSentAt; it refreshes the payload and UpdatedAt only when
// a field actually changed. MarkSent sets Sent, UpdatedAt, and
// LastSentAt together. Cross-process concurrent writers are not
// supported.
type Store interface {
	// Upsert tracks a batch of notifications, returning how many were
	// new. Duplicate event IDs within the batch collapse to one row.
	Upsert(notifications []alert.Notification) (int, error)

	// ListPending returns not-yet-sent rows, oldest first, optionally
	// filtered to one region code ("" = all regions).
	ListPending(regionCode string) ([]StoredNotification, error)

	// ListAll returns every row, oldest first.
	ListAll() ([]StoredNotification, error)

	// MarkSent flags the given event IDs as sent, returning how many
	// rows actually flipped. Already-sent and unknown IDs are skipped.
	MarkSent(eventIDs []string) (int, error)

	// CleanupStale removes rows whose reference timestamp (updated,
	// else last-sent, else first-seen) is at or before now minus the
	// retention days. Unsent rows are kept unless includeUnsent is
	// set. dryRun counts without deleting.
	CleanupStale(now time.Time, days int, includeUnsent, dryRun bool) (int, error)

	// TotalCount returns the number of tracked rows.
	TotalCount() (int, error)

	// PendingCount returns the number of unsent rows.
	PendingCount() (int, error)

	// Close releases the backend's resources.
	Close() error
}

// FormatISO renders a timestamp as a UTC ISO-8601 string with second
// precision, the shared on-disk format of both backends.
func FormatISO(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
}

// ParseISO parses a stored timestamp. Returns ok=false for empty or
// malformed values.
func ParseISO(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"2006-01-02T15:04:05Z", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// referenceTime picks the timestamp cleanup decisions are based on.
func referenceTime(n StoredNotification) (time.Time, bool) {
	if t, ok := ParseISO(n.UpdatedAt); ok {
		return t, true
	}
	if t, ok := ParseISO(n.LastSentAt); ok {
		return t, true
	}
	return ParseISO(n.FirstSeenAt)
}
