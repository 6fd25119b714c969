package client

import (
	"errors"
	"fmt"

	"github.com/kailas-cloud/ragflow/internal/domain"
)

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrTimedOut     = domain.ErrTimedOut
	ErrRunNotFound  = domain.ErrRunNotFound
	ErrRunTerminal  = domain.ErrRunTerminal
	ErrInvalidInput = domain.ErrInvalidInput
	ErrUnavailable  = domain.ErrUnavailable
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ragflow api: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap maps the server's error code onto the matching sentinel.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "run_not_found":
		return ErrRunNotFound
	case "run_terminal":
		return ErrRunTerminal
	case "validation_failed", "bad_request":
		return ErrInvalidInput
	case "unavailable":
		return ErrUnavailable
	default:
		return nil
	}
}

// transient reports whether polling may continue after err.
func transient(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	return apiErr.StatusCode >= 500 || apiErr.StatusCode == 429
}
