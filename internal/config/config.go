// Package config loads the editgate server configuration from an optional
// TOML file and EDITGATE_* environment variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jmcleod/editgate/auth"
	"github.com/jmcleod/editgate/content"
	"github.com/jmcleod/editgate/internal/util"
)

// Session store backends.
const (
	SessionStoreMemory     = "memory"
	SessionStorePersistent = "persistent"
)

// Record storage backends.
const (
	StorageBolt     = "bolt"
	StoragePostgres = "postgres"
)

// Duration is a time.Duration written as a Go duration string ("5m").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Auth      AuthConfig      `toml:"auth"`
	Sessions  SessionConfig   `toml:"sessions"`
	AccessLog AccessLogConfig `toml:"access_log"`
	Content   ContentConfig   `toml:"content"`
	Logging   LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Listen  string `toml:"listen"`
	DataDir string `toml:"data_dir"`
	// Storage is "bolt" (a file under DataDir) or "postgres".
	Storage     string `toml:"storage"`
	DatabaseURL string `toml:"database_url"`
	TLSCert     string `toml:"tls_cert"`
	TLSKey      string `toml:"tls_key"`
	// TrustedProxies lists the CIDRs whose forwarding headers are honoured
	// when determining the client address.
	TrustedProxies  []string `toml:"trusted_proxies"`
	SweepInterval   Duration `toml:"sweep_interval"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

type AuthConfig struct {
	Username string `toml:"username"`
	// InitialPassword seeds the credential on first start only.
	InitialPassword string `toml:"initial_password"`
	// InitialPasswordHash seeds the credential from an encoded argon2id
	// hash instead; see "editgate hash-password".
	InitialPasswordHash string   `toml:"initial_password_hash"`
	MaxAttempts         int      `toml:"max_attempts"`
	LockoutDuration     Duration `toml:"lockout_duration"`
	MinPasswordLength   int      `toml:"min_password_length"`
	KDFProfile          string   `toml:"kdf_profile"`
}

type SessionConfig struct {
	Timeout Duration `toml:"timeout"`
	// Store is "memory" or "persistent".
	Store string `toml:"store"`
	// WrappingKey is the hex-encoded 32-byte key sealing persisted sessions.
	WrappingKey string `toml:"wrapping_key"`
	// WrappingKeyFile holds the hex-encoded key; it takes precedence over
	// WrappingKey.
	WrappingKeyFile string `toml:"wrapping_key_file"`
}

type AccessLogConfig struct {
	Capacity          int      `toml:"capacity"`
	Window            int      `toml:"window"`
	Persist           bool     `toml:"persist"`
	WebhookURL        string   `toml:"webhook_url"`
	WebhookAuthHeader string   `toml:"webhook_auth_header"`
	AlertThreshold    int      `toml:"alert_threshold"`
	AlertWindow       Duration `toml:"alert_window"`
}

type ContentConfig struct {
	MaxBackups int `toml:"max_backups"`
}

type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `toml:"level"`
	// Format is json or text.
	Format string `toml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          ":5555",
			DataDir:         "./data",
			Storage:         StorageBolt,
			SweepInterval:   Duration{time.Minute},
			ShutdownTimeout: Duration{10 * time.Second},
		},
		Auth: AuthConfig{
			Username:          auth.DefaultUsername,
			InitialPassword:   auth.DefaultSecret,
			MaxAttempts:       auth.DefaultMaxAttempts,
			LockoutDuration:   Duration{auth.DefaultLockoutDuration},
			MinPasswordLength: auth.DefaultMinSecretLength,
			KDFProfile:        util.KDFProfileModerate,
		},
		Sessions: SessionConfig{
			Timeout: Duration{auth.DefaultSessionTimeout},
			Store:   SessionStoreMemory,
		},
		AccessLog: AccessLogConfig{
			Capacity:       auth.DefaultAccessLogCapacity,
			Window:         auth.DefaultLogWindow,
			Persist:        true,
			AlertThreshold: auth.DefaultAlertThreshold,
			AlertWindow:    Duration{auth.DefaultAlertWindow},
		},
		Content: ContentConfig{
			MaxBackups: content.DefaultMaxBackups,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load returns the defaults overlaid with the TOML file at path (if path is
// not empty) and then with the environment. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown config keys in %s: %v", path, undecoded)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ValidationError reports one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Server.Listen == "" {
		add("server.listen", "must not be empty")
	}
	if c.Server.DataDir == "" {
		add("server.data_dir", "must not be empty")
	}
	switch c.Server.Storage {
	case StorageBolt:
	case StoragePostgres:
		if c.Server.DatabaseURL == "" {
			add("server.database_url", "required for the postgres storage backend")
		}
	default:
		add("server.storage", "invalid storage %q, must be one of: bolt, postgres", c.Server.Storage)
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		add("server.tls_cert", "tls_cert and tls_key must be set together")
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		add("server.trusted_proxies", "%v", err)
	}
	if c.Server.SweepInterval.Duration < 0 {
		add("server.sweep_interval", "must not be negative")
	}

	if strings.TrimSpace(c.Auth.Username) == "" {
		add("auth.username", "must not be empty")
	}
	if c.Auth.InitialPassword == "" && c.Auth.InitialPasswordHash == "" {
		add("auth.initial_password", "an initial password or password hash is required")
	}
	if c.Auth.InitialPasswordHash != "" {
		if _, _, _, err := util.ParseArgon2idHash(c.Auth.InitialPasswordHash); err != nil {
			add("auth.initial_password_hash", "%v", err)
		}
	}
	if c.Auth.MaxAttempts < 1 {
		add("auth.max_attempts", "must be at least 1")
	}
	if c.Auth.LockoutDuration.Duration <= 0 {
		add("auth.lockout_duration", "must be positive")
	}
	if c.Auth.MinPasswordLength < 1 {
		add("auth.min_password_length", "must be at least 1")
	}
	if params, err := util.Argon2idProfile(c.Auth.KDFProfile); err != nil {
		add("auth.kdf_profile", "%v", err)
	} else if err := util.ValidateArgon2idParams(params); err != nil {
		add("auth.kdf_profile", "%v", err)
	}

	if c.Sessions.Timeout.Duration <= 0 {
		add("sessions.timeout", "must be positive")
	}
	switch c.Sessions.Store {
	case SessionStoreMemory:
	case SessionStorePersistent:
		if c.Sessions.WrappingKey == "" && c.Sessions.WrappingKeyFile == "" {
			add("sessions.wrapping_key", "required for the persistent session store")
		}
	default:
		add("sessions.store", "invalid store %q, must be one of: memory, persistent", c.Sessions.Store)
	}

	if c.AccessLog.Capacity < 1 {
		add("access_log.capacity", "must be at least 1")
	}
	if c.AccessLog.Window < 1 || c.AccessLog.Window > c.AccessLog.Capacity {
		add("access_log.window", "must be between 1 and the capacity")
	}
	if c.Content.MaxBackups < 0 {
		add("content.max_backups", "must not be negative")
	}

	if _, err := parseLevel(c.Logging.Level); err != nil {
		add("logging.level", "%v", err)
	}
	if f := strings.ToLower(c.Logging.Format); f != "json" && f != "text" {
		add("logging.format", "invalid format %q, must be one of: json, text", c.Logging.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// AuthConfig returns the tunables of the authentication core.
func (c *Config) AuthConfig() auth.Config {
	return auth.Config{
		Username:          strings.TrimSpace(c.Auth.Username),
		MaxAttempts:       c.Auth.MaxAttempts,
		LockoutDuration:   c.Auth.LockoutDuration.Duration,
		SessionTimeout:    c.Sessions.Timeout.Duration,
		MinSecretLength:   c.Auth.MinPasswordLength,
		AccessLogCapacity: c.AccessLog.Capacity,
		LogWindow:         c.AccessLog.Window,
	}
}

// KDFParams returns the argon2id parameters of the configured profile.
func (c *Config) KDFParams() (util.Argon2idParams, error) {
	return util.Argon2idProfile(c.Auth.KDFProfile)
}

// TrustedProxyPrefixes parses Server.TrustedProxies. Bare addresses are
// treated as single-host prefixes.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.Server.TrustedProxies))
	for _, raw := range c.Server.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid proxy address %q: %w", raw, err)
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy CIDR %q: %w", raw, err)
		}
		prefixes = append(prefixes, p.Masked())
	}
	return prefixes, nil
}

// SessionWrappingKey decodes the key sealing persisted sessions.
func (c *Config) SessionWrappingKey() ([]byte, error) {
	encoded := c.Sessions.WrappingKey
	if c.Sessions.WrappingKeyFile != "" {
		data, err := os.ReadFile(c.Sessions.WrappingKeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading session wrapping key: %w", err)
		}
		encoded = string(data)
	}
	key, err := util.HexDecode(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decoding session wrapping key: %w", err)
	}
	if len(key) != util.AESKeySize {
		return nil, fmt.Errorf("session wrapping key must be %d bytes, got %d", util.AESKeySize, len(key))
	}
	return key, nil
}

// NewLogger builds the structured logger described by c.Logging.
func (c *Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Logging.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid level %q, must be one of: debug, info, warn, error", s)
	}
	return level, nil
}
