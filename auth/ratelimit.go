package auth

import (
	"sync"
	"time"
)

// attemptTracker counts consecutive failed logins per origin. It is not
// safe for concurrent use on its own; Limiter guards it.
type attemptTracker struct {
	failures map[string]int
}

func newAttemptTracker() attemptTracker {
	return attemptTracker{failures: make(map[string]int)}
}

func (t attemptTracker) increment(origin string) int {
	t.failures[origin]++
	return t.failures[origin]
}

func (t attemptTracker) reset(origin string) {
	delete(t.failures, origin)
}

func (t attemptTracker) count(origin string) int {
	return t.failures[origin]
}

// Decision is the outcome of Limiter.CheckAndRecord.
type Decision struct {
	// Allowed is false when the origin is locked out; the attempt was not
	// recorded and must be answered with 429.
	Allowed bool
	// RemainingAttempts is how many further failures the origin may make
	// before it is locked out.
	RemainingAttempts int
	// RetryAfter is how long the origin stays locked out, if it is.
	RetryAfter time.Duration
}

// Limiter enforces per-origin lockout after repeated failed logins. The
// failure counters and the lockout table share one mutex so that a lockout
// check and the following counter update are a single atomic step.
type Limiter struct {
	mu          sync.Mutex
	attempts    attemptTracker
	lockouts    map[string]time.Time
	maxAttempts int
	lockout     time.Duration
	now         func() time.Time
}

// NewLimiter locks an origin out for lockout once it reaches maxAttempts
// consecutive failures.
func NewLimiter(maxAttempts int, lockout time.Duration) *Limiter {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if lockout <= 0 {
		lockout = DefaultLockoutDuration
	}
	return &Limiter{
		attempts:    newAttemptTracker(),
		lockouts:    make(map[string]time.Time),
		maxAttempts: maxAttempts,
		lockout:     lockout,
		now:         time.Now,
	}
}

// Check reports whether origin is currently locked out and for how long.
// An expired lockout is cleared, together with the origin's counter.
func (l *Limiter) Check(origin string) (blocked bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lockedLocked(origin, l.now())
}

func (l *Limiter) lockedLocked(origin string, now time.Time) (bool, time.Duration) {
	until, ok := l.lockouts[origin]
	if !ok {
		return false, 0
	}
	if now.Before(until) {
		return true, until.Sub(now)
	}
	delete(l.lockouts, origin)
	l.attempts.reset(origin)
	return false, 0
}

// CheckAndRecord re-checks the lockout for origin and, if the origin is not
// locked out, records the outcome of a credential check: success clears the
// counter, failure increments it and locks the origin out once it reaches
// the threshold. The attempt that triggers the lockout is itself reported
// as allowed with zero attempts remaining.
func (l *Limiter) CheckAndRecord(origin string, success bool) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if blocked, retryAfter := l.lockedLocked(origin, now); blocked {
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}
	if success {
		l.attempts.reset(origin)
		return Decision{Allowed: true, RemainingAttempts: l.maxAttempts}
	}

	n := l.attempts.increment(origin)
	d := Decision{Allowed: true, RemainingAttempts: max(0, l.maxAttempts-n)}
	if n >= l.maxAttempts {
		l.lockouts[origin] = now.Add(l.lockout)
		d.RetryAfter = l.lockout
	}
	return d
}

// Reset clears all state for origin.
func (l *Limiter) Reset(origin string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts.reset(origin)
	delete(l.lockouts, origin)
}

// Failures returns the current consecutive failure count for origin.
func (l *Limiter) Failures(origin string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts.count(origin)
}

// Sweep removes expired lockouts and returns how many it removed. Expiry is
// also handled lazily on access; Sweep only bounds memory.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for origin, until := range l.lockouts {
		if !now.Before(until) {
			delete(l.lockouts, origin)
			l.attempts.reset(origin)
			removed++
		}
	}
	return removed
}
