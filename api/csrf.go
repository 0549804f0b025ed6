package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/jmcleod/editgate/internal/uuid"
)

const (
	csrfCookieName = "editgate_csrf"
	csrfHeaderName = "X-CSRF-Token"
)

// CSRFMiddleware enforces double-submit cookie CSRF protection for
// cookie-authenticated mutating requests. Safe methods, login, and requests
// without a session cookie are exempt.
func (a *API) CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		// Login establishes the session and the token; nothing to check yet.
		if strings.HasSuffix(r.URL.Path, "/login") {
			next.ServeHTTP(w, r)
			return
		}
		// Without a session cookie the request cannot ride on ambient
		// credentials; RequireAuth rejects it if it needs any.
		if _, err := r.Cookie(sessionCookieName); err != nil {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(csrfCookieName)
		if err != nil || cookie.Value == "" {
			writeMessage(w, http.StatusForbidden, false, "missing CSRF token")
			return
		}
		header := r.Header.Get(csrfHeaderName)
		if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
			writeMessage(w, http.StatusForbidden, false, "invalid CSRF token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeCSRFCookie sets the CSRF double-submit cookie. It is not HttpOnly:
// the editor page reads it and echoes it in the X-CSRF-Token header.
func writeCSRFCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    uuid.New(),
		Path:     "/",
		HttpOnly: false,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
	})
}

func clearCSRFCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: false,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}
