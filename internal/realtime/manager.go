// Package realtime serves simulation sessions over WebSocket.
package realtime

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// SessionManager tracks the live WebSocket connection of each simulation
// session, grouped by user.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
	owner  map[string]string
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[string]map[string]*websocket.Conn),
		owner:  make(map[string]string),
	}
}

// GetActive returns the active connection for a user and simulation session.
func (m *SessionManager) GetActive(userID, sessionID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[userID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Register adds a connection. A previous connection for the same session is
// closed.
func (m *SessionManager) Register(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[userID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}

	m.active[userID][sessionID] = conn
	m.owner[sessionID] = userID
	slog.Info("Simulation connection registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes a connection if it is still the current one.
func (m *SessionManager) Unregister(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[userID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			delete(m.owner, sessionID)
			if len(sessions) == 0 {
				delete(m.active, userID)
			}
			slog.Info("Simulation connection unregistered", "user_id", userID, "session_id", sessionID)
		}
	}
}

// CloseSession closes the connection attached to a simulation session.
func (m *SessionManager) CloseSession(sessionID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	userID, ok := m.owner[sessionID]
	if !ok {
		return
	}
	if conn := m.active[userID][sessionID]; conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, reason)
	}
	delete(m.active[userID], sessionID)
	if len(m.active[userID]) == 0 {
		delete(m.active, userID)
	}
	delete(m.owner, sessionID)
	slog.Info("Simulation connection closed", "user_id", userID, "session_id", sessionID, "reason", reason)
}

// Count returns the number of live connections.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.owner)
}
