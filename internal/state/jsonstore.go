package state

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"alertbridge/internal/alert"
	"alertbridge/internal/clock"
	"alertbridge/internal/events"
	"alertbridge/internal/logger"
)

// SchemaVersion is the JSON state file schema version.
const SchemaVersion = 2

// jsonRecord is the per-event on-disk shape inside the state file.
type jsonRecord struct {
	RegionCode  string `json:"area_code"`
	Message     string `json:"message"`
	ReportURL   string `json:"report_url,omitempty"`
	Sent        bool   `json:"sent"`
	FirstSeenAt string `json:"first_seen_at"`
	UpdatedAt   string `json:"updated_at"`
	LastSentAt  string `json:"last_sent_at,omitempty"`
}

// jsonDocument is the state file envelope.
type jsonDocument struct {
	Version      int                   `json:"version"`
	SentMessages map[string]jsonRecord `json:"sent_messages"`
}

// JSONStore is the file backend. The whole state lives in one JSON
// document; every mutation rewrites it through a temp file and atomic
// rename. An in-process mutex serializes writers; the pending count is
// maintained incrementally so PendingCount is O(1).
type JSONStore struct {
	mu      sync.Mutex
	path    string
	state   map[string]jsonRecord
	pending int
	clk     clock.Clock
	log     *logger.Logger
}

// NewJSONStore opens (or creates) the state file at path. A corrupted
// file is renamed aside with a .broken-<ts> suffix and replaced by a
// fresh empty state; corruption never fails the constructor.
func NewJSONStore(path string, clk clock.Clock, log *logger.Logger) (*JSONStore, error) {
	s := &JSONStore{
		path:  path,
		state: map[string]jsonRecord{},
		clk:   clk,
		log:   log.WithModule("state_json"),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONStore) load() error {
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		s.log.EventError(events.StateReadFailed,
			"file", s.path,
			"error", logger.RedactError(err))
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		backup := s.backupCorruptedFile()
		s.log.EventError(events.StateInvalidJSON,
			"file", s.path,
			"backup", backup,
			"error", logger.RedactError(err))
		s.state = map[string]jsonRecord{}
		s.pending = 0
		return s.persist()
	}

	records, migrated := s.normalize(raw)
	s.state = records
	s.pending = 0
	for _, rec := range records {
		if !rec.Sent {
			s.pending++
		}
	}
	if migrated {
		return s.persist()
	}
	return nil
}

// normalize accepts the current envelope, the pre-envelope flat record
// map, and the legacy flat message->bool map, migrating the older
// layouts forward.
func (s *JSONStore) normalize(raw map[string]json.RawMessage) (map[string]jsonRecord, bool) {
	migrated := false

	inner := raw
	if rawEvents, ok := raw["sent_messages"]; ok {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(rawEvents, &m); err != nil {
			return map[string]jsonRecord{}, true
		}
		var version int
		if rawVersion, ok := raw["version"]; ok {
			_ = json.Unmarshal(rawVersion, &version)
		}
		if version != SchemaVersion {
			migrated = true
		}
		inner = m
	} else {
		migrated = true
	}

	now := FormatISO(s.clk.Now())
	records := map[string]jsonRecord{}

	// Legacy layout: a flat map of message text to sent flag.
	isLegacy := len(inner) > 0
	legacy := map[string]bool{}
	for key, rawValue := range inner {
		var sent bool
		if err := json.Unmarshal(rawValue, &sent); err != nil {
			isLegacy = false
			break
		}
		legacy[key] = sent
	}
	if isLegacy {
		for message, sent := range legacy {
			digest := sha1.Sum([]byte(message))
			eventID := "legacy:" + hex.EncodeToString(digest[:])[:20]
			rec := jsonRecord{
				RegionCode:  "UNKNOWN",
				Message:     message,
				Sent:        sent,
				FirstSeenAt: now,
				UpdatedAt:   now,
			}
			if sent {
				rec.LastSentAt = now
			}
			records[eventID] = rec
		}
		return records, true
	}

	for eventID, rawRecord := range inner {
		var rec jsonRecord
		if err := json.Unmarshal(rawRecord, &rec); err != nil {
			migrated = true
			continue
		}
		if rec.RegionCode == "" {
			rec.RegionCode = "UNKNOWN"
		}
		if rec.FirstSeenAt == "" {
			rec.FirstSeenAt = now
		}
		if rec.UpdatedAt == "" {
			rec.UpdatedAt = now
		}
		records[eventID] = rec
	}
	return records, migrated
}

// persist writes the document atomically. Must be called with mu held
// (or from the constructor before the store is shared).
func (s *JSONStore) persist() error {
	doc := jsonDocument{Version: SchemaVersion, SentMessages: s.state}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		s.log.EventError(events.StatePersistFailed,
			"file", s.path,
			"temp_file", tempPath,
			"error", logger.RedactError(err))
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		s.log.EventError(events.StatePersistFailed,
			"file", s.path,
			"temp_file", tempPath,
			"error", logger.RedactError(err))
		return fmt.Errorf("failed to replace state: %w", err)
	}
	return nil
}

func (s *JSONStore) backupCorruptedFile() string {
	timestamp := time.Now().UTC().Format("20060102T150405Z")
	backupPath := fmt.Sprintf("%s.broken-%s", s.path, timestamp)
	if err := os.Rename(s.path, backupPath); err != nil {
		s.log.EventError(events.StateBackupFailed,
			"file", s.path,
			"error", logger.RedactError(err))
		return ""
	}
	return backupPath
}

// Upsert implements Store.
func (s *JSONStore) Upsert(notifications []alert.Notification) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := FormatISO(s.clk.Now())
	newCount := 0
	changed := false

	for _, n := range notifications {
		if n.EventID == "" {
			continue
		}
		existing, ok := s.state[n.EventID]
		if !ok {
			s.state[n.EventID] = jsonRecord{
				RegionCode:  n.RegionCode,
				Message:     n.Message,
				ReportURL:   n.ReportURL,
				FirstSeenAt: now,
				UpdatedAt:   now,
			}
			s.pending++
			newCount++
			changed = true
			continue
		}

		recordChanged := false
		if existing.RegionCode != n.RegionCode {
			existing.RegionCode = n.RegionCode
			recordChanged = true
		}
		if existing.Message != n.Message {
			existing.Message = n.Message
			recordChanged = true
		}
		if existing.ReportURL != n.ReportURL {
			existing.ReportURL = n.ReportURL
			recordChanged = true
		}
		if recordChanged {
			existing.UpdatedAt = now
			s.state[n.EventID] = existing
			changed = true
		}
	}

	if changed {
		if err := s.persist(); err != nil {
			return newCount, err
		}
	}
	return newCount, nil
}

// ListPending implements Store.
func (s *JSONStore) ListPending(regionCode string) ([]StoredNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []StoredNotification
	for eventID, rec := range s.state {
		if rec.Sent {
			continue
		}
		if regionCode != "" && rec.RegionCode != regionCode {
			continue
		}
		rows = append(rows, toStored(eventID, rec))
	}
	sortByFirstSeen(rows)
	return rows, nil
}

// ListAll implements Store.
func (s *JSONStore) ListAll() ([]StoredNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]StoredNotification, 0, len(s.state))
	for eventID, rec := range s.state {
		rows = append(rows, toStored(eventID, rec))
	}
	sortByFirstSeen(rows)
	return rows, nil
}

// MarkSent implements Store.
func (s *JSONStore) MarkSent(eventIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := FormatISO(s.clk.Now())
	marked := 0

	for _, eventID := range eventIDs {
		rec, ok := s.state[eventID]
		if !ok || rec.Sent {
			continue
		}
		rec.Sent = true
		rec.UpdatedAt = now
		rec.LastSentAt = now
		s.state[eventID] = rec
		s.pending--
		marked++
	}

	if marked > 0 {
		if err := s.persist(); err != nil {
			return marked, err
		}
	}
	return marked, nil
}

// CleanupStale implements Store.
func (s *JSONStore) CleanupStale(now time.Time, days int, includeUnsent, dryRun bool) (int, error) {
	if days < 0 {
		return 0, fmt.Errorf("cleanup days must be >= 0, got %d", days)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := now.UTC().AddDate(0, 0, -days)
	var removable []string

	for eventID, rec := range s.state {
		if !includeUnsent && !rec.Sent {
			continue
		}
		ref, ok := referenceTime(toStored(eventID, rec))
		if !ok {
			continue
		}
		if !ref.After(threshold) {
			removable = append(removable, eventID)
		}
	}

	if len(removable) > 0 && !dryRun {
		for _, eventID := range removable {
			if rec, ok := s.state[eventID]; ok && !rec.Sent {
				s.pending--
			}
			delete(s.state, eventID)
		}
		if err := s.persist(); err != nil {
			return len(removable), err
		}
	}
	return len(removable), nil
}

// TotalCount implements Store.
func (s *JSONStore) TotalCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state), nil
}

// PendingCount implements Store. The count is maintained incrementally
// by Upsert, MarkSent, and CleanupStale.
func (s *JSONStore) PendingCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending, nil
}

// Close implements Store. The file backend holds no open handles.
func (s *JSONStore) Close() error {
	return nil
}

// restore overwrites one row verbatim, preserving the given timestamps
// and sent flag. Used by the migration and by tests.
func (s *JSONStore) restore(n StoredNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.state[n.EventID]; ok && !prev.Sent {
		s.pending--
	}
	s.state[n.EventID] = jsonRecord{
		RegionCode:  n.RegionCode,
		Message:     n.Message,
		ReportURL:   n.ReportURL,
		Sent:        n.Sent,
		FirstSeenAt: n.FirstSeenAt,
		UpdatedAt:   n.UpdatedAt,
		LastSentAt:  n.LastSentAt,
	}
	if !n.Sent {
		s.pending++
	}
	return s.persist()
}

func toStored(eventID string, rec jsonRecord) StoredNotification {
	return StoredNotification{
		EventID:     eventID,
		RegionCode:  rec.RegionCode,
		Message:     rec.Message,
		ReportURL:   rec.ReportURL,
		Sent:        rec.Sent,
		FirstSeenAt: rec.FirstSeenAt,
		UpdatedAt:   rec.UpdatedAt,
		LastSentAt:  rec.LastSentAt,
	}
}

func sortByFirstSeen(rows []StoredNotification) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].FirstSeenAt != rows[j].FirstSeenAt {
			return rows[i].FirstSeenAt < rows[j].FirstSeenAt
		}
		return rows[i].EventID < rows[j].EventID
	})
}
