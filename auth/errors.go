package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned for a wrong username or password.
	// The two cases are never distinguished.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRateLimited indicates the origin is locked out.
	ErrRateLimited = errors.New("too many failed login attempts")
	// ErrUnauthenticated indicates a missing or expired session.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrWrongCurrentSecret is returned by a password change whose current
	// password does not verify.
	ErrWrongCurrentSecret = errors.New("current password is incorrect")
	// ErrSecretTooShort is returned by a password change whose new password
	// is below the minimum length. It is always wrapped in a ValidationError.
	ErrSecretTooShort = errors.New("new password too short")
)

// ValidationError reports input rejected before any state is touched.
type ValidationError struct {
	Field string
	Msg   string
	Err   error
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func secretTooShort(min int) *ValidationError {
	return &ValidationError{
		Field: "new_password",
		Msg:   fmt.Sprintf("New password must be at least %d characters long", min),
		Err:   ErrSecretTooShort,
	}
}
