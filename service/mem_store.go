package service

import (
	"slices"
	"sync"
)

// MemoryStore keeps attempt history in memory only.
type MemoryStore struct {
	maxCount int

	mu       sync.Mutex
	attempts []AttemptStatus
}

// NewMemoryStore creates an in-memory store holding at most maxCount
// attempts. A maxCount below one keeps everything.
func NewMemoryStore(maxCount int) *MemoryStore {
	return &MemoryStore{maxCount: maxCount}
}

// History implements HistoryStore.
func (s *MemoryStore) History() []AttemptStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]AttemptStatus, len(s.attempts))
	for i, a := range s.attempts {
		result[i] = a.summary()
	}
	return result
}

// Attempt implements HistoryStore.
func (s *MemoryStore) Attempt(id string) (AttemptStatus, bool) {
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

// Save implements HistoryStore.
func (s *MemoryStore) Save(status AttemptStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts = append([]AttemptStatus{status}, s.attempts...)
	if s.maxCount > 0 && len(s.attempts) > s.maxCount {
		s.attempts = s.attempts[:s.maxCount]
	}
	return nil
}
