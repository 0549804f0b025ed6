// Package uuid wraps github.com/google/uuid for the identifiers editgate
// hands out (access log entry IDs, CSRF tokens).
package uuid

import "github.com/google/uuid"

// New returns a random (version 4) UUID string.
func New() string {
	return uuid.NewString()
}
