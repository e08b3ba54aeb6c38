package errors

import (
	"errors"
	"fmt"
	"net/url"
)

// Common error types for the Imhotep client
var (
	// Session errors
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNoRefreshToken   = errors.New("no refresh token available")
	ErrRefreshFailed    = errors.New("token refresh failed")
	ErrInvalidSession   = errors.New("invalid session")

	// External authorization errors
	ErrMissingAuthorizationCode    = errors.New("authorization code is missing in callback")
	ErrAuthorizationURLUnavailable = errors.New("authorization url unavailable")
	ErrExchangeFailed              = errors.New("authorization code exchange failed")
	ErrMissingCodeVerifier         = errors.New("code verifier not found")

	// Storage errors
	ErrNotFound = errors.New("not found")

	// General errors
	ErrInvalidRequest = errors.New("invalid request")
)

// ExternalAuthorizationError is returned when the external provider redirected
// back with an error instead of an authorization code.
type ExternalAuthorizationError struct {
	Code        string // e.g. "access_denied"
	Description string // human readable, already URL-decoded
}

// NewExternalAuthorizationError builds the error for an error redirect. The
// description is percent-decoded once more since providers sometimes encode
// it twice; a value that does not decode is kept as is.
func NewExternalAuthorizationError(code, description string) *ExternalAuthorizationError {
	if d, err := url.PathUnescape(description); err == nil {
		description = d
	}
	return &ExternalAuthorizationError{Code: code, Description: description}
}

func (e *ExternalAuthorizationError) Error() string {
	if e.Description != "" {
		return e.Description
	}
	return e.Code
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors, nil if all are nil
func Join(errs ...error) error {
	return errors.Join(errs...)
}
