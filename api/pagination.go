package api

import (
	"net/http"
	"strconv"
)

const maxLogLimit = 200

// parseLimit reads the "limit" query parameter. Missing or invalid values
// yield 0, which lets the gateway apply its configured window; larger
// values are capped at maxLogLimit.
func parseLimit(r *http.Request) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0
	}
	return min(n, maxLogLimit)
}
