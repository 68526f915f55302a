package resume

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nomis52/provisiond/params"
)

// MemoryStore keeps entries in memory only. Entries go through the same
// encoding as on disk.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[Target][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Target][]byte)}
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, target Target, p *params.Params) error {
	b, err := encode(p, time.Now())
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[target] = b
	return nil
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, target Target) (*params.Params, error) {
	s.mu.Lock()
	b, ok := s.entries[target]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", target, ErrNotFound)
	}
	return decode(b)
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context, target Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, target)
	return nil
}
