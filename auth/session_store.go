package auth

import "time"

// SessionStore abstracts session CRUD so that sessions can be kept in
// memory (default) or in persistent backing storage. Stores do not apply
// expiry on their own; SessionManager decides validity.
type SessionStore interface {
	// Get retrieves a session by token.
	Get(token string) (Session, bool)
	// Put creates or updates the session for token.
	Put(token string, session Session) error
	// Renew sets LastRenewed to now on the session for token, as one atomic
	// step with respect to Delete. A session last renewed more than timeout
	// before now is deleted instead. It reports false when no live session
	// exists for token.
	Renew(token string, now time.Time, timeout time.Duration) (Session, bool)
	// Delete removes a session by token. Deleting a missing token is a no-op.
	Delete(token string)
	// DeleteIdle removes every session last renewed before cutoff and
	// returns how many were removed.
	DeleteIdle(cutoff time.Time) int
	// Len returns the number of stored sessions.
	Len() int
}

// Session is the server-side state of one authenticated login.
type Session struct {
	Subject     string    `json:"subject"`
	IssuedAt    time.Time `json:"issued_at"`
	LastRenewed time.Time `json:"last_renewed"`
}
