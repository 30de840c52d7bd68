package server

import (
	"sort"
	"sync"

	"github.com/lucas-1000/mcp-glucose/internal/domain"
)

// sseConnectionManager implements domain.ConnectionManager, the registry of
// live event streams keyed by session ID.
type sseConnectionManager struct {
	mu       sync.RWMutex
	sessions map[string]domain.SSESession
}

// NewSSEConnectionManager creates a new connection manager for SSE sessions.
func NewSSEConnectionManager() domain.ConnectionManager {
	return &sseConnectionManager{
		sessions: make(map[string]domain.SSESession),
	}
}

// AddSession adds a session to the connection manager.
func (m *sseConnectionManager) AddSession(session domain.SSESession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID()] = session
}

// RemoveSession removes a session from the connection manager.
func (m *sseConnectionManager) RemoveSession(sessionID string) (domain.SSESession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	return session, ok
}

// GetSession retrieves a session by its ID.
func (m *sseConnectionManager) GetSession(sessionID string) (domain.SSESession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[sessionID]
	return session, ok
}

// Sessions lists the registered sessions ordered by creation time.
func (m *sseConnectionManager) Sessions() []domain.Session {
	m.mu.RLock()
	out := make([]domain.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Info())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// CloseAll closes all active sessions.
func (m *sseConnectionManager) CloseAll() []string {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]domain.SSESession)
	m.mu.Unlock()

	ids := make([]string, 0, len(sessions))
	for id, session := range sessions {
		session.Close()
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of active sessions.
func (m *sseConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
