// Package store holds the session-scoped persistence behind the picking cache.
//
// A store keeps three independently serialized entries per session
// (operations by key, refresh timestamps by key, status by key). Writes are
// applied as one batch so the entries never disagree with each other.
// Only the cache package reads or writes a store.
package store

import (
	"errors"
	"sync"
)

// Entry names of the persisted layout
const (
	EntryOperations = "operations"
	EntryTimestamps = "timestamps"
	EntryStatuses   = "statuses"
)

// Entries lists every entry a store may hold
var Entries = []string{EntryOperations, EntryTimestamps, EntryStatuses}

// ErrClosed is returned by a store used after Close
var ErrClosed = errors.New("store is closed")

// Store is key/value persistence scoped to one picking session
type Store interface {
	// Load returns every persisted entry; missing entries are absent from the map
	Load() (map[string][]byte, error)
	// Save writes all given entries atomically
	Save(entries map[string][]byte) error
	// Clear removes every entry of the session
	Clear() error
	Close() error
}

// Factory opens the store of one session
type Factory func(sessionID string) (Store, error)

// MemoryStore keeps entries in process memory. Used by tests and when no
// durable backend is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
	closed  bool
	saves   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

func (s *MemoryStore) Load() (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make(map[string][]byte, len(s.entries))
	for k, v := range s.entries {
		out[k] = append([]byte(nil), v...)
	}
	return out, nil
}

func (s *MemoryStore) Save(entries map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for k, v := range entries {
		s.entries[k] = append([]byte(nil), v...)
	}
	s.saves++
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.entries = make(map[string][]byte)
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Saves returns how many batches were written
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// MemoryFactory hands out one MemoryStore per session id, reusing it when the
// session is re-opened within the same process.
func MemoryFactory() Factory {
	var mu sync.Mutex
	stores := make(map[string]*MemoryStore)
	return func(sessionID string) (Store, error) {
		mu.Lock()
		defer mu.Unlock()
		if s, ok := stores[sessionID]; ok && !s.isClosed() {
			return s, nil
		}
		s := NewMemoryStore()
		stores[sessionID] = s
		return s, nil
	}
}

func (s *MemoryStore) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
