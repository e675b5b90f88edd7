package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gcsops/crm-pipeline/pkg/aggregate"
)

// ErrNoEntry indicates no aggregate has been stored yet.
var ErrNoEntry = errors.New("cache: no entry")

// Entry is the stored aggregate with its computation timestamp.
type Entry struct {
	Payload    []aggregate.Accumulator `json:"payload"`
	ComputedAt time.Time               `json:"computed_at"`
}

// Store persists the single cache entry. Implementations must be safe for
// concurrent use.
type Store interface {
	// Load returns the stored entry, or ErrNoEntry when none exists.
	Load(ctx context.Context) (*Entry, error)

	// Save replaces the stored entry atomically.
	Save(ctx context.Context, entry *Entry) error

	// Clear removes the stored entry.
	Clear(ctx context.Context) error
}

// MemoryStore is the in-process store: one mutex-guarded entry.
type MemoryStore struct {
	mu    sync.RWMutex
	entry *Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.entry == nil {
		return nil, ErrNoEntry
	}
	entry := *s.entry
	return &entry, nil
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *entry
	s.entry = &stored
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry = nil
	return nil
}
