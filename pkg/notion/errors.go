package notion

import (
	"errors"
	"fmt"
	"time"
)

// Error codes for StoreError.
const (
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeNotFound       = "not_found"
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeAuthentication = "authentication_error"
	ErrCodeServerError    = "server_error"
	ErrCodeNetwork        = "network_error"
)

// StoreError represents a task-store failure with a classified code.
type StoreError struct {
	Code          string        `json:"code"`
	Message       string        `json:"message"`
	StatusCode    int           `json:"status_code,omitempty"`
	RetryAfter    time.Duration `json:"retry_after,omitempty"`
	OriginalError error         `json:"-"`
}

// Error implements the error interface
func (e *StoreError) Error() string {
	return fmt.Sprintf("task store error (%s): %s", e.Code, e.Message)
}

// Unwrap returns the original error
func (e *StoreError) Unwrap() error {
	return e.OriginalError
}

// IsRetryable reports whether the failure class is worth retrying.
func (e *StoreError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeRateLimited, ErrCodeServerError, ErrCodeNetwork:
		return true
	default:
		return false
	}
}

// NewStoreError creates a new store error
func NewStoreError(code, message string, original error) *StoreError {
	return &StoreError{Code: code, Message: message, OriginalError: original}
}

// IsNotFound reports whether err is a typed record-not-found failure.
func IsNotFound(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Code == ErrCodeNotFound
}

// IsRateLimited reports whether err is a rate-limit failure.
func IsRateLimited(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Code == ErrCodeRateLimited
}
