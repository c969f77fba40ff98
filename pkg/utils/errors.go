package utils

import (
	"errors"
	"fmt"
)

// AppError represents an application error with a stable code
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAppError creates a new application error
func NewAppError(code, message string, details ...string) *AppError {
	err := &AppError{
		Code:    code,
		Message: message,
	}
	if len(details) > 0 {
		err.Details = details[0]
	}
	return err
}

// Common error codes
const (
	ErrCodeRemoteUnavailable   = "REMOTE_UNAVAILABLE"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeLimitExceeded       = "LIMIT_EXCEEDED"
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeVerificationTimeout = "VERIFICATION_TIMEOUT"
	ErrCodeDatabase            = "DATABASE_ERROR"
	ErrCodeConnection          = "CONNECTION_ERROR"
	ErrCodeConfiguration       = "CONFIGURATION_ERROR"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// ErrorCode extracts the application error code, or INTERNAL_ERROR for
// unclassified errors.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether the error is a transient upstream condition
// that consumes a poll attempt instead of aborting the session.
func IsRetryable(err error) bool {
	switch ErrorCode(err) {
	case ErrCodeRemoteUnavailable, ErrCodeRateLimited:
		return true
	}
	return false
}

// IsNotFound reports whether the error is a NOT_FOUND application error.
func IsNotFound(err error) bool {
	return ErrorCode(err) == ErrCodeNotFound
}
