package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/jmcleod/editgate/auth"
)

// maxBodySize caps every request body.
const maxBodySize = 64 << 10

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned by POST /login.
type LoginResponse struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	AttemptsRemaining *int   `json:"attempts_remaining,omitempty"`
}

// MessageResponse is the generic success or failure body.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CheckAuthResponse is returned by GET /check-auth.
type CheckAuthResponse struct {
	Authenticated bool `json:"authenticated"`
}

// ChangePasswordRequest is the body of POST /change-password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// LogEntry is one access log entry as served by GET /logs.
type LogEntry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Event      string    `json:"event"`
	IP         string    `json:"ip"`
	Username   string    `json:"username"`
	Success    bool      `json:"success"`
	UserAgent  string    `json:"user_agent"`
	Annotation string    `json:"annotation,omitempty"`
}

// LogsResponse is returned by GET /logs. Total counts every entry ever
// recorded, not just the retained ones.
type LogsResponse struct {
	Logs  []LogEntry `json:"logs"`
	Total uint64     `json:"total"`
}

// UpdateWebsiteResponse is returned by POST /update-website.
type UpdateWebsiteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Version uint64 `json:"version"`
}

// WebsiteResponse is one stored content document.
type WebsiteResponse struct {
	Version uint64          `json:"version"`
	SavedAt time.Time       `json:"saved_at"`
	Data    json.RawMessage `json:"data"`
}

// WebsiteHistoryResponse lists the retained backups, oldest first.
type WebsiteHistoryResponse struct {
	Versions []WebsiteResponse `json:"versions"`
}

func logEntryFromAuth(e auth.Entry) LogEntry {
	return LogEntry{
		ID:         e.ID,
		Timestamp:  e.Timestamp,
		Event:      string(e.Event),
		IP:         e.Origin,
		Username:   e.Username,
		Success:    e.Success,
		UserAgent:  e.UserAgent,
		Annotation: e.Annotation,
	}
}

// decodeJSON reads a single JSON value of type T from the capped request
// body, rejecting unknown fields. On failure it writes the error response
// and returns false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var req T
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeDecodeError(w, err)
		return req, false
	}
	if dec.More() {
		writeMessage(w, http.StatusBadRequest, false, "Invalid request body")
		return req, false
	}
	return req, true
}

// readBody reads the capped request body without interpreting it.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeDecodeError(w, err)
		return nil, false
	}
	return body, true
}

func writeDecodeError(w http.ResponseWriter, err error) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		writeMessage(w, http.StatusRequestEntityTooLarge, false, "Request body too large")
		return
	}
	writeMessage(w, http.StatusBadRequest, false, "Invalid request body")
}
