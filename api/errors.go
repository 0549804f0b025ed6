package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/jmcleod/editgate/auth"
	"github.com/jmcleod/editgate/content"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, success bool, msg string) {
	writeJSON(w, status, MessageResponse{Success: success, Message: msg})
}

func writeResult(w http.ResponseWriter, res auth.Result) {
	writeMessage(w, res.Status, res.Success, res.Message)
}

// writeRateLimited sends a 429 with a Retry-After header.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration, msg string) {
	w.Header().Set("Retry-After", retryAfterString(retryAfter))
	writeMessage(w, http.StatusTooManyRequests, false, msg)
}

func retryAfterString(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// mapError writes the response for an error that escaped the gateway's own
// result mapping. Unknown errors become a generic 500; the detail is logged.
func (a *API) mapError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		writeMessage(w, http.StatusUnauthorized, false, "Not authenticated")
	case errors.Is(err, content.ErrInvalidDocument):
		writeMessage(w, http.StatusBadRequest, false, err.Error())
	case errors.Is(err, content.ErrNotFound):
		writeMessage(w, http.StatusNotFound, false, err.Error())
	default:
		a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeMessage(w, http.StatusInternalServerError, false, "Internal server error")
	}
}
