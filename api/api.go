// Package api exposes the editgate authentication core and content store
// over HTTP.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/editgate/auth"
	"github.com/jmcleod/editgate/content"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	gateway        *auth.Gateway
	content        *content.Store
	trustedProxies []netip.Prefix
	basePath       string
	logger         *slog.Logger
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for request failures.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithTrustedProxies sets the CIDR ranges whose X-Forwarded-For, Forwarded
// and X-Real-IP headers are trusted for client IP extraction. By default no
// proxy headers are trusted and RemoteAddr is always used.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) {
		a.trustedProxies = prefixes
	}
}

// WithBasePath sets the path the router is mounted under, used for the
// documentation links. The default is "/api".
func WithBasePath(path string) Option {
	return func(a *API) {
		a.basePath = path
	}
}

// New creates a new API instance.
func New(gateway *auth.Gateway, store *content.Store, opts ...Option) *API {
	a := &API{
		gateway:  gateway,
		content:  store,
		basePath: "/api",
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	a.logger = a.logger.With("component", "api")
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(SecurityHeaders)
	r.Use(a.CSRFMiddleware)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: a.basePath + "/openapi.yaml",
		Path:    strings.TrimPrefix(a.basePath, "/") + "/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: a.basePath + "/openapi.yaml",
		Path:    strings.TrimPrefix(a.basePath, "/") + "/redoc",
	}, nil))

	r.Post("/login", a.Login)
	r.Get("/check-auth", a.CheckAuth)
	r.Post("/logout", a.Logout)

	r.Group(func(r chi.Router) {
		r.Use(a.RequireAuth)
		r.Post("/change-password", a.ChangePassword)
		r.Get("/logs", a.Logs)
		r.Post("/update-website", a.UpdateWebsite)
		r.Get("/website", a.GetWebsite)
		r.Get("/website/history", a.GetWebsiteHistory)
	})

	return r
}
