package errors

import (
	"errors"
	"fmt"
)

// Error types for different domains
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeInvalidState  ErrorType = "invalid_state"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeNotConfigured ErrorType = "not_configured"
	ErrorTypeAuth          ErrorType = "auth"
	ErrorTypeTransient     ErrorType = "transient"
	ErrorTypePermanent     ErrorType = "permanent"
	ErrorTypeConsistency   ErrorType = "consistency"
	ErrorTypeInternal      ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails returns a copy carrying details. The receiver is left
// untouched so the shared sentinel errors stay immutable.
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	clone := *e
	clone.Details = details
	return &clone
}

// WithCause returns a copy carrying cause; see WithDetails.
func (e *AppError) WithCause(cause error) *AppError {
	clone := *e
	clone.Cause = cause
	return &clone
}

// Error constructors

func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

func NewInvalidStateError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInvalidState,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 409,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       "RESOURCE_NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		Retryable:  false,
		StatusCode: 404,
	}
}

// NewNotConfiguredError marks a provider the organization has not enabled or
// credentialed. Callers record the attempt as skipped rather than failing.
func NewNotConfiguredError(providerKey string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotConfigured,
		Code:       "PROVIDER_NOT_CONFIGURED",
		Message:    fmt.Sprintf("provider %s is not configured for this organization", providerKey),
		Retryable:  false,
		StatusCode: 422,
		Details:    map[string]interface{}{"provider": providerKey},
	}
}

func NewAuthError(providerKey, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeAuth,
		Code:       "PROVIDER_AUTH_FAILED",
		Message:    message,
		Retryable:  false,
		StatusCode: 502,
		Details:    map[string]interface{}{"provider": providerKey},
	}
}

func NewTransientError(providerKey, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeTransient,
		Code:       "PROVIDER_TRANSIENT_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 502,
		Details:    map[string]interface{}{"provider": providerKey},
	}
}

func NewPermanentError(providerKey, message string) *AppError {
	return &AppError{
		Type:       ErrorTypePermanent,
		Code:       "PROVIDER_PERMANENT_ERROR",
		Message:    message,
		Retryable:  false,
		StatusCode: 502,
		Details:    map[string]interface{}{"provider": providerKey},
	}
}

func NewConsistencyError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConsistency,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 500,
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

// Predefined common errors
var (
	ErrRequestNotFound   = NewNotFoundError("removal request")
	ErrAttemptNotFound   = NewNotFoundError("propagation attempt")
	ErrRequestNotPending = NewInvalidStateError("REQUEST_NOT_PENDING", "removal request has already been decided")
)

// Wrap wraps an error with a message using fmt.Errorf with %w
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetStatusCode extracts HTTP status code from error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 500
}
