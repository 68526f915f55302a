package service

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
)

const historyFileVersion = 1

// historyRecord is the file format of one attempt.
type historyRecord struct {
	Version int `json:"version"`
	AttemptStatus
}

// DiskStore persists attempt history as one JSON file per attempt.
type DiskStore struct {
	dir      string
	logger   *slog.Logger
	maxCount int

	mu       sync.Mutex
	attempts []AttemptStatus
}

// NewDiskStore creates a disk-backed store. The directory is created if it
// doesn't exist and existing attempts are loaded. Files beyond maxCount are
// removed, oldest first.
func NewDiskStore(dir string, maxCount int, logger *slog.Logger) (*DiskStore, error) {
	if maxCount < 1 {
		return nil, fmt.Errorf("history size must be positive, got %d", maxCount)
	}
	s := &DiskStore{
		dir:      dir,
		logger:   logger.With("component", "history"),
		maxCount: maxCount,
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	attempts, err := s.load()
	if err != nil {
		s.logger.Warn("failed to load attempt history", "error", err)
	} else {
		s.attempts = attempts
	}
	return s, nil
}

// History implements HistoryStore.
func (s *DiskStore) History() []AttemptStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]AttemptStatus, len(s.attempts))
	for i, a := range s.attempts {
		result[i] = a.summary()
	}
	return result
}

// Attempt implements HistoryStore.
func (s *DiskStore) Attempt(id string) (AttemptStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.attempts {
		if a.ID == id {
			a.Tasks = slices.Clone(a.Tasks)
			return a, true
		}
	}
	return AttemptStatus{}, false
}

// Save implements HistoryStore. The file is written before the attempt
// becomes visible in History.
func (s *DiskStore) Save(status AttemptStatus) error {
	if status.ID == "" {
		return fmt.Errorf("cannot save attempt without id")
	}
	if status.StartedAt.IsZero() {
		return fmt.Errorf("cannot save attempt %s without start time", status.ID)
	}

	data, err := json.MarshalIndent(historyRecord{Version: historyFileVersion, AttemptStatus: status}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal attempt: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, fileName(status))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write attempt file: %w", err)
	}

	s.attempts = append([]AttemptStatus{status}, s.attempts...)
	for len(s.attempts) > s.maxCount {
		oldest := s.attempts[len(s.attempts)-1]
		if err := os.Remove(filepath.Join(s.dir, fileName(oldest))); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove old attempt", "id", oldest.ID, "error", err)
		}
		s.attempts = s.attempts[:len(s.attempts)-1]
	}

	s.logger.Debug("saved attempt to disk", "path", path)
	return nil
}

// fileName sorts attempts by start time: 2006-01-02T15-04-05_<id>.json
func fileName(a AttemptStatus) string {
	return a.StartedAt.UTC().Format("2006-01-02T15-04-05") + "_" + a.ID + ".json"
}

func (s *DiskStore) load() ([]AttemptStatus, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	var attempts []AttemptStatus
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}

		path := filepath.Join(s.dir, file.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("failed to read attempt file", "file", path, "error", err)
			continue
		}

		var rec historyRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Warn("failed to parse attempt file", "file", path, "error", err)
			continue
		}
		if rec.Version != historyFileVersion {
			s.logger.Warn("skipping attempt file with unknown version", "file", path, "version", rec.Version)
			continue
		}
		attempts = append(attempts, rec.AttemptStatus)
	}

	sort.Slice(attempts, func(i, j int) bool {
		return attempts[i].StartedAt.After(attempts[j].StartedAt)
	})
	if len(attempts) > s.maxCount {
		attempts = attempts[:s.maxCount]
	}

	s.logger.Info("loaded attempt history from disk", "count", len(attempts))
	return attempts, nil
}
