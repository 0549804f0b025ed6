package api

import (
	"net/http"
	"slices"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// documentedRoutes returns the "METHOD /path" pairs declared in openapi.yaml.
func documentedRoutes(t *testing.T) []string {
	t.Helper()
	var doc struct {
		Paths map[string]map[string]any `yaml:"paths"`
	}
	require.NoError(t, yaml.Unmarshal(openapiSpec, &doc))

	var routes []string
	for path, methods := range doc.Paths {
		for method := range methods {
			if method == "parameters" || strings.HasPrefix(method, "x-") {
				continue
			}
			routes = append(routes, strings.ToUpper(method)+" "+path)
		}
	}
	slices.Sort(routes)
	return routes
}

// registeredRoutes walks the router, skipping the documentation endpoints.
func registeredRoutes(t *testing.T) []string {
	t.Helper()
	// Router only registers handlers, so nil dependencies are fine.
	a := &API{}

	var routes []string
	err := chi.Walk(a.Router(), func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		route = strings.TrimRight(route, "/")
		if route == "/openapi.yaml" || strings.HasPrefix(route, "/docs") || strings.HasPrefix(route, "/redoc") {
			return nil
		}
		routes = append(routes, method+" "+route)
		return nil
	})
	require.NoError(t, err)
	slices.Sort(routes)
	return slices.Compact(routes)
}

func TestOpenAPIDrift(t *testing.T) {
	documented := documentedRoutes(t)
	registered := registeredRoutes(t)

	for _, r := range registered {
		assert.Contains(t, documented, r, "route missing from openapi.yaml")
	}
	for _, r := range documented {
		assert.Contains(t, registered, r, "openapi.yaml documents an unregistered route")
	}
}
