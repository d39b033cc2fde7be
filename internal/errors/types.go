package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents a categorized error type
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig ErrorCode = "MISSING_CONFIG"

	// Infrastructure errors (storage, queue, bus), generally retryable
	ErrCodeTransientInfra ErrorCode = "TRANSIENT_INFRA"

	// Ingestion and processing errors
	ErrCodeDuplicateEvent   ErrorCode = "DUPLICATE_EVENT"
	ErrCodeUnresolvedTenant ErrorCode = "UNRESOLVED_TENANT"
	ErrCodeMalformedPayload ErrorCode = "MALFORMED_PAYLOAD"

	// Provider rejection sub-kinds
	ErrCodeProviderRateLimited   ErrorCode = "PROVIDER_RATE_LIMITED"
	ErrCodeProviderAuthInvalid   ErrorCode = "PROVIDER_AUTH_INVALID"
	ErrCodeProviderBadParameter  ErrorCode = "PROVIDER_BAD_PARAMETER"
	ErrCodeProviderUndeliverable ErrorCode = "PROVIDER_UNDELIVERABLE"

	// Flow errors
	ErrCodeFlowDefinition ErrorCode = "FLOW_DEFINITION"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeTimeout       ErrorCode = "TIMEOUT"
)

// AppError represents a structured application error
type AppError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Retryable  bool                   `json:"retryable"`
	RetryAfter time.Duration          `json:"retry_after,omitempty"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match two AppErrors by code.
func (e *AppError) Is(target error) bool {
	var appErr *AppError
	if errors.As(target, &appErr) {
		return e.Code == appErr.Code
	}
	return false
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRetryAfter marks the error retryable no sooner than the given delay.
func (e *AppError) WithRetryAfter(d time.Duration) *AppError {
	e.Retryable = true
	e.RetryAfter = d
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WrapRetryable wraps an error and marks it as retryable
func WrapRetryable(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalError
}

// RetryAfterOf extracts the retry-after hint from an error, zero when absent.
func RetryAfterOf(err error) time.Duration {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.RetryAfter
	}
	return 0
}

// IsPermanentRejection reports whether the error is a provider rejection that
// must not be retried.
func IsPermanentRejection(err error) bool {
	switch GetCode(err) {
	case ErrCodeProviderAuthInvalid, ErrCodeProviderBadParameter, ErrCodeProviderUndeliverable:
		return true
	}
	return false
}
