package auth

import (
	"time"

	"github.com/jmcleod/editgate/internal/util"
)

// sessionTokenBytes is the entropy of a session token before encoding.
const sessionTokenBytes = 32

// SessionManager issues and validates sliding-expiry sessions. A session
// stays valid while it is used at least once every timeout.
type SessionManager struct {
	store   SessionStore
	timeout time.Duration
	now     func() time.Time
}

// NewSessionManager returns a manager over store. A nil store gets a fresh
// MemorySessionStore.
func NewSessionManager(store SessionStore, timeout time.Duration) *SessionManager {
	if store == nil {
		store = NewMemorySessionStore()
	}
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &SessionManager{
		store:   store,
		timeout: timeout,
		now:     time.Now,
	}
}

// Issue creates a session for subject and returns its opaque token.
func (m *SessionManager) Issue(subject string) (string, error) {
	token, err := util.RandomToken(sessionTokenBytes)
	if err != nil {
		return "", err
	}
	now := m.now()
	if err := m.store.Put(token, Session{Subject: subject, IssuedAt: now, LastRenewed: now}); err != nil {
		return "", err
	}
	return token, nil
}

// Validate reports whether token names a live session and, if so, renews
// it. An expired session is removed. The renewal never recreates a session
// that a concurrent Invalidate removed.
func (m *SessionManager) Validate(token string) bool {
	if token == "" {
		return false
	}
	_, ok := m.store.Renew(token, m.now(), m.timeout)
	return ok
}

// Subject returns the subject of a live session without renewing it.
func (m *SessionManager) Subject(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	s, ok := m.store.Get(token)
	if !ok || m.now().Sub(s.LastRenewed) > m.timeout {
		return "", false
	}
	return s.Subject, true
}

// Invalidate removes the session for token, if any.
func (m *SessionManager) Invalidate(token string) {
	if token == "" {
		return
	}
	m.store.Delete(token)
}

// Sweep removes expired sessions and returns how many it removed.
func (m *SessionManager) Sweep() int {
	return m.store.DeleteIdle(m.now().Add(-m.timeout))
}

// Count returns the number of stored sessions, expired ones included until
// they are swept.
func (m *SessionManager) Count() int {
	return m.store.Len()
}
