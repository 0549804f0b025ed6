package auth

import (
	"sync"
	"time"
)

// MemorySessionStore is a thread-safe in-memory SessionStore.
// Sessions are lost on server restart.
type MemorySessionStore struct {
	mu   sync.RWMutex
	data map[string]Session
}

var _ SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates an in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		data: make(map[string]Session),
	}
}

func (s *MemorySessionStore) Get(token string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.data[token]
	return session, ok
}

func (s *MemorySessionStore) Put(token string, session Session) error {
	s.mu.Lock()
	s.data[token] = session
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Renew(token string, now time.Time, timeout time.Duration) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.data[token]
	if !ok {
		return Session{}, false
	}
	if now.Sub(session.LastRenewed) > timeout {
		delete(s.data, token)
		return Session{}, false
	}
	session.LastRenewed = now
	s.data[token] = session
	return session, true
}

func (s *MemorySessionStore) Delete(token string) {
	s.mu.Lock()
	delete(s.data, token)
	s.mu.Unlock()
}

func (s *MemorySessionStore) DeleteIdle(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for token, session := range s.data {
		if session.LastRenewed.Before(cutoff) {
			delete(s.data, token)
			removed++
		}
	}
	return removed
}

func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
