package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EDITGATE_"

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays EDITGATE_* environment variables on c:
//
//   - EDITGATE_LISTEN, EDITGATE_DATA_DIR, EDITGATE_TLS_CERT, EDITGATE_TLS_KEY
//   - EDITGATE_STORAGE, EDITGATE_DATABASE_URL
//   - EDITGATE_TRUSTED_PROXIES: comma separated CIDRs
//   - EDITGATE_USERNAME, EDITGATE_INITIAL_PASSWORD, EDITGATE_INITIAL_PASSWORD_HASH
//   - EDITGATE_MAX_ATTEMPTS, EDITGATE_LOCKOUT_DURATION, EDITGATE_MIN_PASSWORD_LENGTH
//   - EDITGATE_KDF_PROFILE
//   - EDITGATE_SESSION_TIMEOUT, EDITGATE_SESSION_STORE, EDITGATE_SESSION_KEY,
//     EDITGATE_SESSION_KEY_FILE
//   - EDITGATE_WEBHOOK_URL, EDITGATE_WEBHOOK_AUTH_HEADER
//   - EDITGATE_LOG_LEVEL, EDITGATE_LOG_FORMAT
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("LISTEN", &c.Server.Listen)
	e.str("DATA_DIR", &c.Server.DataDir)
	e.str("STORAGE", &c.Server.Storage)
	e.str("DATABASE_URL", &c.Server.DatabaseURL)
	e.str("TLS_CERT", &c.Server.TLSCert)
	e.str("TLS_KEY", &c.Server.TLSKey)
	e.list("TRUSTED_PROXIES", &c.Server.TrustedProxies)

	e.str("USERNAME", &c.Auth.Username)
	e.str("INITIAL_PASSWORD", &c.Auth.InitialPassword)
	e.str("INITIAL_PASSWORD_HASH", &c.Auth.InitialPasswordHash)
	e.int("MAX_ATTEMPTS", &c.Auth.MaxAttempts)
	e.duration("LOCKOUT_DURATION", &c.Auth.LockoutDuration)
	e.int("MIN_PASSWORD_LENGTH", &c.Auth.MinPasswordLength)
	e.str("KDF_PROFILE", &c.Auth.KDFProfile)

	e.duration("SESSION_TIMEOUT", &c.Sessions.Timeout)
	e.str("SESSION_STORE", &c.Sessions.Store)
	e.str("SESSION_KEY", &c.Sessions.WrappingKey)
	e.str("SESSION_KEY_FILE", &c.Sessions.WrappingKeyFile)

	e.str("WEBHOOK_URL", &c.AccessLog.WebhookURL)
	e.str("WEBHOOK_AUTH_HEADER", &c.AccessLog.WebhookAuthHeader)

	e.str("LOG_LEVEL", &c.Logging.Level)
	e.str("LOG_FORMAT", &c.Logging.Format)

	return e.err
}

// envReader records the first parse failure and ignores unset variables.
type envReader struct {
	lookup LookupFunc
	err    error
}

func (e *envReader) get(name string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	v, ok := e.lookup(EnvPrefix + name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) list(name string, dst *[]string) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envReader) int(name string, dst *int) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.err = fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		return
	}
	*dst = n
}

func (e *envReader) duration(name string, dst *Duration) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.err = fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		return
	}
	dst.Duration = d
}
