package picking

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/xelth-com/eckpick/internal/picking/store"
)

// ErrInvalidSession is returned for an empty or malformed session id
var ErrInvalidSession = errors.New("invalid session id")

// Manager keeps one Session per picker device
type Manager struct {
	deps    Deps
	factory store.Factory
	log     zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(deps Deps, factory store.Factory) *Manager {
	return &Manager{
		deps:     deps,
		factory:  factory,
		log:      deps.Logger,
		sessions: make(map[string]*Session),
	}
}

// Session returns the session for id, opening (and restoring) it on first use
func (m *Manager) Session(id string) (*Session, error) {
	if id == "" || len(id) > 128 {
		return nil, ErrInvalidSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	st, err := m.factory(id)
	if err != nil {
		return nil, fmt.Errorf("failed to open store for session %s: %w", id, err)
	}
	s, err := NewSession(id, m.deps, st)
	if err != nil {
		st.Close()
		return nil, err
	}
	m.sessions[id] = s
	m.log.Info().Str("session", id).Int("cached_locations", s.cache.Len()).Msg("picking session opened")
	return s, nil
}

// Lookup returns an already open session
func (m *Manager) Lookup(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// End logs a session out: background work stops and its store is wiped
func (m *Manager) End(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		// the store may still hold data from an earlier process
		st, err := m.factory(id)
		if err != nil {
			return err
		}
		defer st.Close()
		return st.Clear()
	}
	m.log.Info().Str("session", id).Msg("picking session ended")
	return s.Close(true)
}

// Len returns the number of open sessions
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every session and keeps their stores for the next start
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for id, s := range sessions {
		if err := s.Close(false); err != nil {
			m.log.Warn().Err(err).Str("session", id).Msg("failed to close session")
		}
	}
}
