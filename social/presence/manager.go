package presence

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Manager maintains the registry of connected Sessions, one per user.
type Manager struct {
	mu       sync.RWMutex
	sessions map[int64]*Session // userID → session
	logger   *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		sessions: make(map[int64]*Session),
		logger:   logger,
	}
}

// Register adds a session. If a previous session exists for the same
// user it is closed first (duplicate login / reconnect).
func (m *Manager) Register(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.sessions[s.UserID]; ok {
		old.Close()
		m.logger.Info("duplicate session displaced",
			zap.Int64("user_id", s.UserID))
	}
	m.sessions[s.UserID] = s
	m.logger.Info("session registered", zap.Int64("user_id", s.UserID))
}

// Unregister removes the session for a user, but only if it is still the
// one passed in: a displaced session's deferred cleanup must not evict
// its replacement.
func (m *Manager) Unregister(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[s.UserID]; ok && cur == s {
		delete(m.sessions, s.UserID)
		m.logger.Info("session unregistered", zap.Int64("user_id", s.UserID))
	}
}

// Get returns the session for a user, or nil if not connected.
func (m *Manager) Get(userID int64) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[userID]
}

// IsOnline reports whether a user is currently connected.
func (m *Manager) IsOnline(userID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[userID]
	return ok
}

// Count returns the number of connected sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// All returns a snapshot slice of all current sessions.
func (m *Manager) All() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// SendTo delivers a packet to a user if online. Returns false otherwise.
func (m *Manager) SendTo(userID int64, pkt *Packet) bool {
	s := m.Get(userID)
	if s == nil {
		return false
	}
	s.Send(pkt)
	return true
}

// BroadcastAll sends a raw pre-encoded packet to every connected
// session, non-blocking so a slow client cannot stall the broadcast.
func (m *Manager) BroadcastAll(data []byte) {
	for _, s := range m.All() {
		s.SendRaw(data)
	}
}

// BroadcastToAll sends a packet to every connected session.
func (m *Manager) BroadcastToAll(pkt *Packet) {
	data, err := json.Marshal(pkt)
	if err != nil {
		m.logger.Error("failed to marshal broadcast packet", zap.Error(err))
		return
	}
	m.BroadcastAll(data)
}

// CloseAll gracefully closes every connected session.
func (m *Manager) CloseAll() {
	for _, s := range m.All() {
		s.Close()
	}
	m.mu.Lock()
	m.sessions = make(map[int64]*Session)
	m.mu.Unlock()
}
