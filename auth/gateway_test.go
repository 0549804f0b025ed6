package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func login(g *Gateway, origin, username, secret string) LoginResult {
	return g.Login(context.Background(), LoginRequest{
		Client:   client(origin),
		Username: username,
		Secret:   secret,
	})
}

func loginToken(t *testing.T, g *Gateway) string {
	t.Helper()
	res := login(g, "10.0.0.9", "admin", "admin")
	require.True(t, res.Success, res.Message)
	return res.Token
}

func TestGateway_LockoutScenario(t *testing.T) {
	clock := newFakeClock()
	g := newTestGateway(t, clock)

	for want := 4; want >= 0; want-- {
		res := login(g, "10.0.0.1", "admin", "wrong")
		assert.False(t, res.Success)
		assert.Equal(t, http.StatusUnauthorized, res.Status)
		require.NotNil(t, res.AttemptsRemaining)
		assert.Equal(t, want, *res.AttemptsRemaining)
		assert.Equal(t, fmt.Sprintf("Invalid credentials. %d attempts remaining.", want), res.Message)
		assert.ErrorIs(t, res.Err, ErrInvalidCredentials)
	}

	res := login(g, "10.0.0.1", "admin", "admin")
	assert.False(t, res.Success, "correct credentials are rejected while locked out")
	assert.Equal(t, http.StatusTooManyRequests, res.Status)
	assert.Equal(t, "IP address temporarily locked due to too many failed attempts", res.Message)
	assert.Equal(t, DefaultLockoutDuration, res.RetryAfter)
	assert.Nil(t, res.AttemptsRemaining)
	assert.ErrorIs(t, res.Err, ErrRateLimited)

	clock.Advance(DefaultLockoutDuration + time.Second)
	res = login(g, "10.0.0.1", "admin", "admin")
	require.True(t, res.Success)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "Authentication successful", res.Message)
	assert.NotEmpty(t, res.Token)
	assert.Zero(t, g.limiter.Failures("10.0.0.1"), "success resets the counter")

	// The next failure starts from a clean slate.
	res = login(g, "10.0.0.1", "admin", "wrong")
	require.NotNil(t, res.AttemptsRemaining)
	assert.Equal(t, 4, *res.AttemptsRemaining)
}

func TestGateway_LockedOutOriginSkipsVerification(t *testing.T) {
	clock := newFakeClock()
	g := newTestGateway(t, clock)
	for range DefaultMaxAttempts {
		login(g, "10.0.0.1", "admin", "wrong")
	}
	res := login(g, "10.0.0.1", "admin", "admin")
	require.Equal(t, http.StatusTooManyRequests, res.Status)

	entries, _ := g.log.Recent(1)
	require.Len(t, entries, 1)
	assert.Equal(t, EventLoginRateLimited, entries[0].Event)
	assert.False(t, entries[0].Success)
	assert.Equal(t, "rate limited", entries[0].Annotation)

	// Lockout is per origin.
	assert.True(t, login(g, "10.0.0.2", "admin", "admin").Success)
}

func TestGateway_UsernameFailureIndistinguishable(t *testing.T) {
	g := newTestGateway(t, newFakeClock())

	badUser := login(g, "10.0.0.1", "root", "admin")
	badSecret := login(g, "10.0.0.2", "admin", "nope")
	assert.Equal(t, badUser.Status, badSecret.Status)
	assert.Equal(t, badUser.Message, badSecret.Message)
	assert.Equal(t, badUser.Err, badSecret.Err)
}

func TestGateway_UsernameIsTrimmed(t *testing.T) {
	g := newTestGateway(t, newFakeClock())
	assert.True(t, login(g, "10.0.0.1", "  admin ", "admin").Success)
}

func TestGateway_SessionExpiryScenario(t *testing.T) {
	clock := newFakeClock()
	g := newTestGateway(t, clock)

	token := loginToken(t, g)
	assert.True(t, g.CheckAuth(token))

	// Just inside the window: valid, and the deadline moves out again.
	clock.Advance(DefaultSessionTimeout - time.Second)
	assert.True(t, g.CheckAuth(token))
	clock.Advance(DefaultSessionTimeout - time.Second)
	assert.True(t, g.CheckAuth(token), "the previous check renewed the session")

	clock.Advance(31 * time.Minute)
	assert.False(t, g.CheckAuth(token))
	assert.False(t, g.CheckAuth(token), "an expired session stays expired")
	assert.False(t, g.CheckAuth(""))
}

func TestGateway_Logout(t *testing.T) {
	g := newTestGateway(t, newFakeClock())
	token := loginToken(t, g)

	res := g.Logout(context.Background(), token, client("10.0.0.9"))
	assert.True(t, res.Success)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.False(t, g.CheckAuth(token))

	entries, _ := g.log.Recent(1)
	require.Len(t, entries, 1)
	assert.Equal(t, EventLogout, entries[0].Event)
	assert.Equal(t, "admin", entries[0].Username)

	// Logging out again is harmless and not recorded.
	res = g.Logout(context.Background(), token, client("10.0.0.9"))
	assert.True(t, res.Success)
	_, total := g.log.Recent(0)
	assert.Equal(t, uint64(2), total)
}

func TestGateway_ChangePasswordScenarios(t *testing.T) {
	g := newTestGateway(t, newFakeClock())
	token := loginToken(t, g)
	ctx := context.Background()

	res := g.ChangePassword(ctx, ChangePasswordRequest{Client: client("10.0.0.9"), Token: token, Current: "wrong", New: "newpass123"})
	assert.Equal(t, http.StatusUnauthorized, res.Status)
	assert.Equal(t, "Current password is incorrect", res.Message)
	assert.ErrorIs(t, res.Err, ErrWrongCurrentSecret)

	res = g.ChangePassword(ctx, ChangePasswordRequest{Client: client("10.0.0.9"), Token: token, Current: "admin", New: "short"})
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Contains(t, res.Message, "must be at least 8 characters")
	assert.ErrorIs(t, res.Err, ErrSecretTooShort)

	res = g.ChangePassword(ctx, ChangePasswordRequest{Client: client("10.0.0.9"), Token: token, Current: "admin", New: "newpass123"})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "Password changed successfully", res.Message)

	assert.True(t, g.CheckAuth(token), "existing sessions survive a password change")
	assert.False(t, login(g, "10.0.0.3", "admin", "admin").Success)
	assert.True(t, login(g, "10.0.0.3", "admin", "newpass123").Success)

	var changed []Entry
	entries, _ := g.log.Recent(0)
	for _, e := range entries {
		if e.Event == EventPasswordChanged {
			changed = append(changed, e)
		}
	}
	require.Len(t, changed, 1)
	assert.Equal(t, "password changed", changed[0].Annotation)
	assert.Equal(t, "test-agent/1.0", changed[0].UserAgent)
}

func TestGateway_ChangePasswordRequiresSession(t *testing.T) {
	g := newTestGateway(t, newFakeClock())
	res := g.ChangePassword(context.Background(), ChangePasswordRequest{Token: "bogus", Current: "admin", New: "newpass123"})
	assert.Equal(t, http.StatusUnauthorized, res.Status)
	assert.Equal(t, "Not authenticated", res.Message)
	assert.ErrorIs(t, res.Err, ErrUnauthenticated)
	assert.True(t, g.creds.Verify("admin", "admin"))
}

func TestGateway_LogsWindowScenario(t *testing.T) {
	g := newTestGateway(t, newFakeClock())
	token := loginToken(t, g)

	// 1000 failures from distinct origins, so none of them is locked out.
	for i := 2; i <= 1001; i++ {
		res := login(g, fmt.Sprintf("10.%d.%d.1", i/256, i%256), fmt.Sprintf("attempt-%d", i), "wrong")
		require.Equal(t, http.StatusUnauthorized, res.Status)
	}

	entries, total, err := g.Logs(token, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1001), total)
	require.Len(t, entries, DefaultLogWindow)
	assert.Equal(t, "attempt-952", entries[0].Username)
	assert.Equal(t, "attempt-1001", entries[len(entries)-1].Username)

	all, _ := g.log.Recent(0)
	require.Len(t, all, DefaultAccessLogCapacity)
	assert.Equal(t, "attempt-2", all[0].Username, "attempt #1 is unrecoverable")

	_, _, err = g.Logs("bogus", 10)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestGateway_RecordAction(t *testing.T) {
	g := newTestGateway(t, newFakeClock())
	token := loginToken(t, g)

	e, err := g.RecordAction(context.Background(), token, client("10.0.0.9"), EventContentSaved, "version 3")
	require.NoError(t, err)
	assert.Equal(t, "admin", e.Username)
	assert.Equal(t, EventContentSaved, e.Event)

	_, err = g.RecordAction(context.Background(), "bogus", client("10.0.0.9"), EventContentSaved, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestGateway_FailureSpikeAlert(t *testing.T) {
	var (
		mu     sync.Mutex
		alerts []AlertEvent
	)
	g := newTestGateway(t, newFakeClock(), WithAlertFunc(func(e AlertEvent) {
		mu.Lock()
		alerts = append(alerts, e)
		mu.Unlock()
	}, time.Minute, 3))

	for i := range 3 {
		login(g, fmt.Sprintf("10.0.1.%d", i), "admin", "wrong")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLoginFailureSpike, alerts[0].Type)
}

func TestGateway_SinksReceiveEntries(t *testing.T) {
	sink := &captureSink{}
	g := newTestGateway(t, newFakeClock(), WithSinks(sink))
	login(g, "10.0.0.1", "admin", "wrong")
	require.Len(t, sink.all(), 1)
	assert.Equal(t, EventLoginFailure, sink.all()[0].Event)
}

func TestGateway_Sweep(t *testing.T) {
	clock := newFakeClock()
	g := newTestGateway(t, clock)

	loginToken(t, g)
	for range DefaultMaxAttempts {
		login(g, "10.0.0.1", "admin", "wrong")
	}
	clock.Advance(time.Hour)

	lockouts, sessions := g.Sweep()
	assert.Equal(t, 1, lockouts)
	assert.Equal(t, 1, sessions)
}

func TestGateway_ConcurrentLoginsRespectLockout(t *testing.T) {
	g := newTestGateway(t, newFakeClock())

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[int]int{}
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := login(g, "10.0.0.1", "admin", "wrong")
			mu.Lock()
			statuses[res.Status]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, DefaultMaxAttempts, statuses[http.StatusUnauthorized])
	assert.Equal(t, 20-DefaultMaxAttempts, statuses[http.StatusTooManyRequests])
	assert.Equal(t, DefaultMaxAttempts, g.limiter.Failures("10.0.0.1"))
}

func TestNewGateway_RequiresCredentials(t *testing.T) {
	_, err := NewGateway(DefaultConfig(), nil)
	require.Error(t, err)
}

func TestGateway_MinSecretLengthFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSecretLength = 12
	g, err := NewGateway(cfg, newTestCredentials(t, DefaultSecret), WithClock(newFakeClock().Now))
	require.NoError(t, err)
	assert.Equal(t, 12, g.Config().MinSecretLength)
	token := loginToken(t, g)
	ctx := context.Background()

	res := g.ChangePassword(ctx, ChangePasswordRequest{Client: client("10.0.0.9"), Token: token, Current: "admin", New: "ninechars"})
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Equal(t, "New password must be at least 12 characters long", res.Message)
	assert.ErrorIs(t, res.Err, ErrSecretTooShort)

	res = g.ChangePassword(ctx, ChangePasswordRequest{Client: client("10.0.0.9"), Token: token, Current: "admin", New: "twelve-chars"})
	assert.True(t, res.Success, res.Message)
}

func TestNewGateway_Username(t *testing.T) {
	creds := newTestCredentials(t, DefaultSecret)

	g, err := NewGateway(Config{}, creds)
	require.NoError(t, err)
	assert.Equal(t, DefaultUsername, g.Config().Username)

	cfg := DefaultConfig()
	cfg.Username = "editor"
	_, err = NewGateway(cfg, creds)
	assert.Error(t, err, "the configured account must be the stored one")
}
