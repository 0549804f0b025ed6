// Package auth implements the authentication core of editgate: credential
// verification, per-origin lockout, sliding-expiry sessions and the access
// log, behind a single Gateway.
package auth

import "time"

const (
	DefaultUsername          = "admin"
	DefaultSecret            = "admin"
	DefaultMaxAttempts       = 5
	DefaultLockoutDuration   = 5 * time.Minute
	DefaultSessionTimeout    = 30 * time.Minute
	DefaultMinSecretLength   = 8
	DefaultAccessLogCapacity = 1000
	DefaultLogWindow         = 50
)

// Config holds the tunables of the authentication core.
type Config struct {
	// Username is the single admin account name.
	Username string
	// MaxAttempts is the number of consecutive failures from one origin
	// that triggers a lockout.
	MaxAttempts int
	// LockoutDuration is how long a locked-out origin is rejected.
	LockoutDuration time.Duration
	// SessionTimeout is the sliding idle window of a session.
	SessionTimeout time.Duration
	// MinSecretLength is the minimum length, in code points, of a new password.
	MinSecretLength int
	// AccessLogCapacity bounds the in-memory access log.
	AccessLogCapacity int
	// LogWindow is the number of entries returned by Logs when the caller
	// does not ask for a specific amount.
	LogWindow int
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		Username:          DefaultUsername,
		MaxAttempts:       DefaultMaxAttempts,
		LockoutDuration:   DefaultLockoutDuration,
		SessionTimeout:    DefaultSessionTimeout,
		MinSecretLength:   DefaultMinSecretLength,
		AccessLogCapacity: DefaultAccessLogCapacity,
		LogWindow:         DefaultLogWindow,
	}
}

// withDefaults fills zero-valued fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Username == "" {
		c.Username = d.Username
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = d.LockoutDuration
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = d.SessionTimeout
	}
	if c.MinSecretLength <= 0 {
		c.MinSecretLength = d.MinSecretLength
	}
	if c.AccessLogCapacity <= 0 {
		c.AccessLogCapacity = d.AccessLogCapacity
	}
	if c.LogWindow <= 0 {
		c.LogWindow = d.LogWindow
	}
	return c
}
