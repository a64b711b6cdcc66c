package health

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"alertbridge/internal/events"
	"alertbridge/internal/logger"
)

// StateSchemaVersion is the health state file schema version.
const StateSchemaVersion = 1

// stateDocument is the on-disk envelope around the State.
type stateDocument struct {
	Version int    `json:"version"`
	State   *State `json:"state"`
}

// Store persists health-monitor state as a versioned JSON file.
// Writes go through a temp file and atomic rename; corrupted files are
// renamed aside and replaced with a fresh empty state so a damaged
// file never stops the service.
type Store struct {
	path string
	log  *logger.Logger
}

// NewStore creates a store for the given file path.
func NewStore(path string, log *logger.Logger) *Store {
	return &Store{path: path, log: log.WithModule("health_store")}
}

// Load reads the persisted state. A missing file yields a fresh empty
// state. A corrupted file is backed up with a .broken-<ts> suffix and
// also yields a fresh state, persisted immediately.
func (s *Store) Load() *State {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.EventError(events.HealthStateReadFailed,
				"file", s.path,
				"error", logger.RedactError(err))
		}
		return NewState()
	}

	var doc stateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		backup := s.backupCorruptedFile()
		s.log.EventError(events.HealthStateInvalidJSON,
			"file", s.path,
			"backup", backup,
			"error", logger.RedactError(err))
		fresh := NewState()
		_ = s.Save(fresh)
		return fresh
	}

	if doc.State == nil {
		// Legacy flat layout predating the version envelope.
		var flat State
		if err := json.Unmarshal(data, &flat); err != nil {
			return NewState()
		}
		state := &flat
		if state.IncidentErrorCounts == nil {
			state.IncidentErrorCounts = map[string]int{}
		}
		_ = s.Save(state)
		return state
	}

	state := doc.State
	if state.IncidentErrorCounts == nil {
		state.IncidentErrorCounts = map[string]int{}
	}
	if doc.Version != StateSchemaVersion {
		_ = s.Save(state)
	}
	return state
}

// Save writes the state atomically via a temp file.
func (s *Store) Save(state *State) error {
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create health state directory: %w", err)
		}
	}

	doc := stateDocument{Version: StateSchemaVersion, State: state}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode health state: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		s.log.EventError(events.HealthStatePersistFailed,
			"file", s.path,
			"temp_file", tempPath,
			"error", logger.RedactError(err))
		return fmt.Errorf("failed to write health state: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		s.log.EventError(events.HealthStatePersistFailed,
			"file", s.path,
			"temp_file", tempPath,
			"error", logger.RedactError(err))
		return fmt.Errorf("failed to replace health state: %w", err)
	}
	return nil
}

// backupCorruptedFile renames the damaged file aside, returning the
// backup path or "" when the rename itself failed.
func (s *Store) backupCorruptedFile() string {
	timestamp := time.Now().UTC().Format("20060102T150405Z")
	backupPath := fmt.Sprintf("%s.broken-%s", s.path, timestamp)
	if err := os.Rename(s.path, backupPath); err != nil {
		s.log.EventError(events.HealthStateBackupFailed,
			"file", s.path,
			"error", logger.RedactError(err))
		return ""
	}
	return backupPath
}
