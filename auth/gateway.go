package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	msgLockedOut          = "IP address temporarily locked due to too many failed attempts"
	msgAuthenticated      = "Authentication successful"
	msgLoggedOut          = "Logged out successfully"
	msgNotAuthenticated   = "Not authenticated"
	msgWrongCurrentSecret = "Current password is incorrect"
	msgPasswordChanged    = "Password changed successfully"
	msgInternal           = "Internal server error"
)

// Client identifies the caller of a gateway operation.
type Client struct {
	// Origin is the client network address used as the lockout key.
	Origin    string
	UserAgent string
}

// LoginRequest is the input of Gateway.Login.
type LoginRequest struct {
	Client
	Username string
	Secret   string
}

// LoginResult is the outcome of Gateway.Login.
type LoginResult struct {
	Success bool
	Status  int
	Message string
	// AttemptsRemaining is set on a credential failure.
	AttemptsRemaining *int
	// RetryAfter is set when the origin is, or has just become, locked out.
	RetryAfter time.Duration
	// Token is the new session token on success.
	Token string
	Err   error
}

// Result is the outcome of gateway operations other than Login.
type Result struct {
	Success bool
	Status  int
	Message string
	Err     error
}

// ChangePasswordRequest is the input of Gateway.ChangePassword.
type ChangePasswordRequest struct {
	Client
	Token   string
	Current string
	New     string
}

// Gateway is the single entry point of the authentication core. It owns
// the lockout limiter, the session manager and the access log, and turns
// their outcomes into status codes and messages.
type Gateway struct {
	cfg      Config
	creds    *CredentialStore
	limiter  *Limiter
	sessions *SessionManager
	log      *AccessLog
	alerts   *failureSpikeDetector
	logger   *slog.Logger
}

type gatewayOptions struct {
	logger         *slog.Logger
	now            func() time.Time
	limiter        *Limiter
	store          SessionStore
	accessLog      *AccessLog
	sinks          []Sink
	alertFn        AlertFunc
	alertWindow    time.Duration
	alertThreshold int
}

// GatewayOption configures a Gateway.
type GatewayOption func(*gatewayOptions)

// WithLogger sets the structured logger for the gateway and the components
// it builds.
func WithLogger(logger *slog.Logger) GatewayOption {
	return func(o *gatewayOptions) {
		o.logger = logger
	}
}

// WithClock replaces time.Now in every component, for tests.
func WithClock(now func() time.Time) GatewayOption {
	return func(o *gatewayOptions) {
		o.now = now
	}
}

// WithLimiter supplies a pre-built limiter instead of one built from Config.
func WithLimiter(l *Limiter) GatewayOption {
	return func(o *gatewayOptions) {
		o.limiter = l
	}
}

// WithSessionStore selects the session backend. The default is a
// MemorySessionStore.
func WithSessionStore(store SessionStore) GatewayOption {
	return func(o *gatewayOptions) {
		o.store = store
	}
}

// WithAccessLog supplies a pre-built access log.
func WithAccessLog(l *AccessLog) GatewayOption {
	return func(o *gatewayOptions) {
		o.accessLog = l
	}
}

// WithSinks attaches sinks to the access log the gateway builds. It has no
// effect together with WithAccessLog.
func WithSinks(sinks ...Sink) GatewayOption {
	return func(o *gatewayOptions) {
		o.sinks = append(o.sinks, sinks...)
	}
}

// WithAlertFunc enables the failure-spike detector. A zero window or
// threshold selects DefaultAlertWindow or DefaultAlertThreshold.
func WithAlertFunc(fn AlertFunc, window time.Duration, threshold int) GatewayOption {
	return func(o *gatewayOptions) {
		o.alertFn = fn
		o.alertWindow = window
		o.alertThreshold = threshold
	}
}

// NewGateway wires the authentication core around creds.
func NewGateway(cfg Config, creds *CredentialStore, opts ...GatewayOption) (*Gateway, error) {
	if creds == nil {
		return nil, errors.New("credential store is required")
	}
	if cfg.Username == "" {
		cfg.Username = creds.Username()
	} else if cfg.Username != creds.Username() {
		return nil, fmt.Errorf("config username %q does not match stored credential %q", cfg.Username, creds.Username())
	}
	cfg = cfg.withDefaults()
	creds.setMinLength(cfg.MinSecretLength)

	var o gatewayOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	g := &Gateway{
		cfg:      cfg,
		creds:    creds,
		limiter:  o.limiter,
		sessions: NewSessionManager(o.store, cfg.SessionTimeout),
		log:      o.accessLog,
		alerts:   newFailureSpikeDetector(o.alertWindow, o.alertThreshold, o.alertFn),
		logger:   o.logger.With("component", "gateway"),
	}
	if g.limiter == nil {
		g.limiter = NewLimiter(cfg.MaxAttempts, cfg.LockoutDuration)
	}
	if g.log == nil {
		g.log = NewAccessLog(cfg.AccessLogCapacity, o.sinks...)
	}
	g.log.logger = o.logger.With("component", "access_log")

	if o.now != nil {
		creds.now = o.now
		g.limiter.now = o.now
		g.sessions.now = o.now
		g.log.now = o.now
		g.alerts.now = o.now
	}
	return g, nil
}

// Config returns the effective tunables.
func (g *Gateway) Config() Config {
	return g.cfg
}

// AccessLog returns the log the gateway records into.
func (g *Gateway) AccessLog() *AccessLog {
	return g.log
}

// UsingDefaultSecret reports whether the admin password is still the
// built-in default.
func (g *Gateway) UsingDefaultSecret() bool {
	return g.creds.UsingDefaultSecret()
}

// Login authenticates a client. A locked-out origin is rejected without
// consulting the credential store.
func (g *Gateway) Login(ctx context.Context, req LoginRequest) LoginResult {
	username := strings.TrimSpace(req.Username)

	if blocked, retryAfter := g.limiter.Check(req.Origin); blocked {
		return g.lockedOut(ctx, req.Client, username, retryAfter)
	}

	ok := g.creds.Verify(username, req.Secret)

	d := g.limiter.CheckAndRecord(req.Origin, ok)
	if !d.Allowed {
		// Another request locked the origin out while this one was verifying.
		return g.lockedOut(ctx, req.Client, username, d.RetryAfter)
	}

	if !ok {
		g.record(ctx, req.Client, EventLoginFailure, username, false, "")
		g.alerts.recordFailure()
		remaining := d.RemainingAttempts
		if d.RetryAfter > 0 {
			g.logger.Warn("origin locked out", "ip", req.Origin, "retry_after", d.RetryAfter)
		}
		return LoginResult{
			Status:            http.StatusUnauthorized,
			Message:           fmt.Sprintf("Invalid credentials. %d attempts remaining.", remaining),
			AttemptsRemaining: &remaining,
			RetryAfter:        d.RetryAfter,
			Err:               ErrInvalidCredentials,
		}
	}

	token, err := g.sessions.Issue(g.creds.Username())
	if err != nil {
		g.logger.Error("issuing session failed", "error", err)
		return LoginResult{Status: http.StatusInternalServerError, Message: msgInternal, Err: err}
	}
	g.record(ctx, req.Client, EventLoginSuccess, username, true, "")
	return LoginResult{
		Success: true,
		Status:  http.StatusOK,
		Message: msgAuthenticated,
		Token:   token,
	}
}

func (g *Gateway) lockedOut(ctx context.Context, c Client, username string, retryAfter time.Duration) LoginResult {
	g.record(ctx, c, EventLoginRateLimited, username, false, "rate limited")
	return LoginResult{
		Status:     http.StatusTooManyRequests,
		Message:    msgLockedOut,
		RetryAfter: retryAfter,
		Err:        ErrRateLimited,
	}
}

// CheckAuth reports whether token names a live session, renewing it if so.
func (g *Gateway) CheckAuth(token string) bool {
	return g.sessions.Validate(token)
}

// Logout ends the session for token. It succeeds whether or not the session
// existed.
func (g *Gateway) Logout(ctx context.Context, token string, c Client) Result {
	if subject, ok := g.sessions.Subject(token); ok {
		g.record(ctx, c, EventLogout, subject, true, "")
	}
	g.sessions.Invalidate(token)
	return Result{Success: true, Status: http.StatusOK, Message: msgLoggedOut}
}

// ChangePassword rotates the admin password for an authenticated caller.
// Existing sessions stay valid.
func (g *Gateway) ChangePassword(ctx context.Context, req ChangePasswordRequest) Result {
	subject, ok := g.authenticate(req.Token)
	if !ok {
		return unauthenticated()
	}

	err := g.creds.Change(req.Current, req.New)
	var verr *ValidationError
	switch {
	case err == nil:
		g.record(ctx, req.Client, EventPasswordChanged, subject, true, "password changed")
		return Result{Success: true, Status: http.StatusOK, Message: msgPasswordChanged}
	case errors.Is(err, ErrWrongCurrentSecret):
		g.record(ctx, req.Client, EventPasswordChangeFailed, subject, false, "current password incorrect")
		return Result{Status: http.StatusUnauthorized, Message: msgWrongCurrentSecret, Err: err}
	case errors.As(err, &verr):
		return Result{Status: http.StatusBadRequest, Message: verr.Msg, Err: err}
	default:
		g.logger.Error("changing password failed", "error", err)
		return Result{Status: http.StatusInternalServerError, Message: msgInternal, Err: err}
	}
}

// Logs returns up to n of the newest access log entries, oldest first, and
// the number of entries ever recorded. n <= 0 selects Config.LogWindow.
func (g *Gateway) Logs(token string, n int) ([]Entry, uint64, error) {
	if !g.CheckAuth(token) {
		return nil, 0, ErrUnauthenticated
	}
	if n <= 0 {
		n = g.cfg.LogWindow
	}
	entries, total := g.log.Recent(n)
	return entries, total, nil
}

// RecordAction records a privileged action performed by the holder of
// token, such as a content save. It fails with ErrUnauthenticated when the
// session is not live.
func (g *Gateway) RecordAction(ctx context.Context, token string, c Client, event Event, annotation string) (Entry, error) {
	subject, ok := g.sessions.Subject(token)
	if !ok {
		return Entry{}, ErrUnauthenticated
	}
	return g.record(ctx, c, event, subject, true, annotation), nil
}

// Sweep drops expired lockouts and sessions. Expiry is enforced lazily on
// access regardless; Sweep only reclaims memory and storage.
func (g *Gateway) Sweep() (lockouts, sessions int) {
	return g.limiter.Sweep(), g.sessions.Sweep()
}

// authenticate validates token and returns the session subject.
func (g *Gateway) authenticate(token string) (string, bool) {
	if !g.sessions.Validate(token) {
		return "", false
	}
	return g.sessions.Subject(token)
}

func (g *Gateway) record(ctx context.Context, c Client, event Event, username string, success bool, annotation string) Entry {
	return g.log.Record(ctx, Entry{
		Event:      event,
		Origin:     c.Origin,
		Username:   username,
		Success:    success,
		UserAgent:  c.UserAgent,
		Annotation: annotation,
	})
}

func unauthenticated() Result {
	return Result{Status: http.StatusUnauthorized, Message: msgNotAuthenticated, Err: ErrUnauthenticated}
}
