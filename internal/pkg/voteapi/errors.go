package voteapi

import (
	"fmt"
	"net/http"

	"github.com/juju/errors"
)

// AuthError is returned when login fails for any reason. It is always fatal
// for a run.
type AuthError struct {
	// StatusCode is zero when no response was received.
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("authentication failed (HTTP %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// APIError is a non-2xx response from any endpoint except login and
// attachment downloads.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// AttachmentError is a failed attachment download. NotFound errors are
// skipped, transient ones may be retried.
type AttachmentError struct {
	AttachmentID string
	StatusCode   int
	Err          error
}

func (e *AttachmentError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("attachment %s: HTTP %d: %v", e.AttachmentID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("attachment %s: %v", e.AttachmentID, e.Err)
}

func (e *AttachmentError) Unwrap() error { return e.Err }

// NotFound reports whether the attachment is gone or inaccessible.
func (e *AttachmentError) NotFound() bool {
	switch e.StatusCode {
	case http.StatusNotFound, http.StatusForbidden, http.StatusGone:
		return true
	}
	return errors.Is(e.Err, errors.NotFound)
}

// Transient reports whether retrying the download may succeed.
func (e *AttachmentError) Transient() bool {
	if e.NotFound() {
		return false
	}
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// IsAuthError reports whether err is or wraps an *AuthError.
func IsAuthError(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsAPIError reports whether err is or wraps an *APIError.
func IsAPIError(err error) bool {
	var target *APIError
	return errors.As(err, &target)
}
