// ABOUTME: Concurrent session manager with identifier generation and rotation
// ABOUTME: Rotation atomically remaps sessions so old identifiers stop resolving

package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DestroyListener is notified after a session has been removed from the
// manager. The single sign-on registry registers one to drop its
// session-to-entry associations. Listeners receive the session itself so
// that identifier rotation cannot orphan an association.
type DestroyListener func(s *Session)

// Manager owns the id-to-session map shared by all request workers. All map
// access happens under one lock; a reader can never observe a session under
// an identifier that rotation has already retired.
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	listeners []DestroyListener
	store     Store // optional write-through persistence
	logger    *slog.Logger
}

// NewManager creates a Manager. store may be nil for purely in-memory
// operation.
func NewManager(store Store) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		store:    store,
		logger:   slog.Default().With("component", "session"),
	}
}

// OnDestroy registers a listener invoked whenever a session is destroyed.
func (m *Manager) OnDestroy(l DestroyListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// GenerateID produces a new session identifier: 32 random bytes, hex encoded.
func GenerateID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Create allocates a new session with a fresh identifier.
func (m *Manager) Create() (*Session, error) {
	id, err := GenerateID()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	s := &Session{
		id:           id,
		CreatedAt:    now,
		LastAccessed: now,
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Save(recordOf(s)); err != nil {
			m.logger.Warn("failed to persist session", "error", err)
		}
	}
	return s, nil
}

// Get resolves a session by identifier, or nil if the identifier is unknown.
func (m *Manager) Get(id string) *Session {
	if id == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// ChangeSessionID rotates the session's identifier. The remap happens under
// the write lock: once this returns, a lookup by the old identifier fails.
// Returns the old and new identifiers.
func (m *Manager) ChangeSessionID(s *Session) (old, updated string, err error) {
	newID, err := GenerateID()
	if err != nil {
		return "", "", err
	}

	m.mu.Lock()
	old = s.id
	delete(m.sessions, old)
	s.id = newID
	m.sessions[newID] = s
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Rename(old, recordOf(s)); err != nil {
			m.logger.Warn("failed to persist session rotation", "error", err)
		}
	}

	m.logger.Debug("session id rotated", "old", old, "new", newID)
	return old, newID, nil
}

// Destroy removes the session and notifies destruction listeners.
func (m *Manager) Destroy(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	listeners := m.listeners
	m.mu.Unlock()

	if !ok {
		return
	}

	if m.store != nil {
		if err := m.store.Delete(id); err != nil {
			m.logger.Warn("failed to delete persisted session", "error", err)
		}
	}

	for _, l := range listeners {
		l(s)
	}
}

// Persist writes the session's current identity state through to the backing
// store, if one is configured.
func (m *Manager) Persist(s *Session) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(recordOf(s)); err != nil {
		m.logger.Warn("failed to persist session", "error", err)
	}
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func recordOf(s *Session) *Record {
	rec := &Record{
		ID:           s.id,
		AuthType:     s.AuthType,
		CreatedAt:    s.CreatedAt,
		LastAccessed: s.LastAccessed,
	}
	if s.Principal != nil {
		rec.PrincipalName = s.Principal.Name
	}
	return rec
}
