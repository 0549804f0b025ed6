package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/jmcleod/editgate/auth"
)

type contextKey int

const sessionTokenKey contextKey = iota

const sessionCookieName = "editgate_session"

// RequireAuth rejects requests without a live session cookie. The session
// is renewed as a side effect, and its token is stored on the context.
func (a *API) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if !a.gateway.CheckAuth(token) {
			writeMessage(w, http.StatusUnauthorized, false, "Not authenticated")
			return
		}
		ctx := context.WithValue(r.Context(), sessionTokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionToken(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func tokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(sessionTokenKey).(string)
	return token
}

// client describes the caller to the gateway.
func (a *API) client(r *http.Request) auth.Client {
	return auth.Client{
		Origin:    a.extractClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// writeSessionCookie sets the session cookie. It carries no expiry: the
// session slides server-side and the cookie lives as long as the browser.
func writeSessionCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
