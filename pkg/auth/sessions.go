package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/InsereNomen/AlderSync/pkg/log"
)

// SessionCookieName is the cookie carrying the admin session token
const SessionCookieName = "admin_session"

// SessionLifetime is how long an admin session stays valid
const SessionLifetime = 24 * time.Hour

// Session is one admin UI session, referenced by an opaque token
type Session struct {
	ID        string
	UserID    int64
	Username  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session has passed its lifetime
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// SessionManager holds admin sessions in memory behind a mutex. Expired
// entries are swept on access and by the periodic cleanup pass.
type SessionManager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewSessionManager creates an empty session manager
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
	}
}

// Create opens a new session for a user and returns it
func (sm *SessionManager) Create(userID int64, username string) (*Session, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := time.Now().UTC()
	session := &Session{
		ID:        base64.RawURLEncoding.EncodeToString(raw),
		UserID:    userID,
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(SessionLifetime),
	}

	sm.mu.Lock()
	sm.sessions[session.ID] = session
	sm.mu.Unlock()

	sessLogger := log.WithComponent("sessions")
	sessLogger.Info().Str("user", username).Msg("Admin session created")
	return session, nil
}

// Get returns a session by token, sweeping it if expired
func (sm *SessionManager) Get(id string) *Session {
	if id == "" {
		return nil
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, ok := sm.sessions[id]
	if !ok {
		return nil
	}
	if session.Expired(time.Now().UTC()) {
		delete(sm.sessions, id)
		return nil
	}
	return session
}

// Delete removes a session (logout)
func (sm *SessionManager) Delete(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if session, ok := sm.sessions[id]; ok {
		sessLogger := log.WithComponent("sessions")
		sessLogger.Info().Str("user", session.Username).Msg("Admin session deleted")
		delete(sm.sessions, id)
	}
}

// CleanupExpired removes all expired sessions and returns the count
func (sm *SessionManager) CleanupExpired() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now().UTC()
	removed := 0
	for id, session := range sm.sessions {
		if session.Expired(now) {
			delete(sm.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		sessLogger := log.WithComponent("sessions")
		sessLogger.Info().Int("count", removed).Msg("Cleaned up expired admin sessions")
	}
	return removed
}
