package cloudauth

import (
	"errors"
	"fmt"
)

// ErrorCategory categorizes errors for handling and reporting.
type ErrorCategory string

const (
	// ErrCategoryConfiguration indicates a missing or invalid field, an
	// unknown vendor, or a non-UTC expiry. Never retried.
	ErrCategoryConfiguration ErrorCategory = "configuration"
	// ErrCategoryFederation indicates a non-2xx or malformed response from a
	// signing, exchange, impersonation or bridge endpoint.
	ErrCategoryFederation ErrorCategory = "federation"
	// ErrCategoryNetwork indicates a connection-level failure.
	ErrCategoryNetwork ErrorCategory = "network"
	// ErrCategoryNotFound indicates a resource was not found.
	ErrCategoryNotFound ErrorCategory = "not_found"
	// ErrCategoryInternal indicates an internal error.
	ErrCategoryInternal ErrorCategory = "internal"
)

// CloudAuthError is a structured error with category and context.
type CloudAuthError struct {
	// Category classifies the error type.
	Category ErrorCategory

	// Message is a human-readable error message.
	Message string

	// Provider is the cloud provider where the error occurred.
	Provider CloudProvider

	// Operation is the operation that failed.
	Operation string

	// Response is the upstream response text for federation errors.
	Response string

	// StatusCode is the upstream HTTP status, when one was received.
	StatusCode int

	// Cause is the underlying error.
	Cause error

	// Retryable indicates whether the operation can be retried.
	Retryable bool

	// Details contains additional error context.
	Details map[string]interface{}
}

// Error implements the error interface.
func (e *CloudAuthError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Category, e.Message)
	if e.Provider != "" {
		msg = fmt.Sprintf("[%s:%s] %s", e.Provider, e.Category, e.Message)
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Response != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Response)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *CloudAuthError) Unwrap() error {
	return e.Cause
}

// Is checks if the target error matches this error's category.
func (e *CloudAuthError) Is(target error) bool {
	var caErr *CloudAuthError
	if errors.As(target, &caErr) {
		return e.Category == caErr.Category
	}
	return false
}

// NewError creates a new CloudAuthError.
func NewError(category ErrorCategory, message string) *CloudAuthError {
	return &CloudAuthError{
		Category: category,
		Message:  message,
		Details:  make(map[string]interface{}),
	}
}

// WithProvider sets the provider.
func (e *CloudAuthError) WithProvider(p CloudProvider) *CloudAuthError {
	e.Provider = p
	return e
}

// WithOperation sets the operation.
func (e *CloudAuthError) WithOperation(op string) *CloudAuthError {
	e.Operation = op
	return e
}

// WithResponse records the upstream status and body.
func (e *CloudAuthError) WithResponse(status int, body string) *CloudAuthError {
	e.StatusCode = status
	e.Response = body
	return e
}

// WithCause sets the underlying error.
func (e *CloudAuthError) WithCause(err error) *CloudAuthError {
	e.Cause = err
	return e
}

// WithRetryable marks the error as retryable.
func (e *CloudAuthError) WithRetryable(retryable bool) *CloudAuthError {
	e.Retryable = retryable
	return e
}

// WithDetail adds a detail to the error.
func (e *CloudAuthError) WithDetail(key string, value interface{}) *CloudAuthError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common error types

// ErrConfiguration creates a configuration error.
func ErrConfiguration(message string) *CloudAuthError {
	return NewError(ErrCategoryConfiguration, message)
}

// ErrFederation creates a federation error.
func ErrFederation(message string) *CloudAuthError {
	return NewError(ErrCategoryFederation, message)
}

// ErrNetwork creates a transient network error.
func ErrNetwork(message string) *CloudAuthError {
	return NewError(ErrCategoryNetwork, message).WithRetryable(true)
}

// ErrNotFound creates a not found error.
func ErrNotFound(resourceType, resourceID string) *CloudAuthError {
	return NewError(ErrCategoryNotFound, fmt.Sprintf("%s not found: %s", resourceType, resourceID)).
		WithDetail("resource_type", resourceType).
		WithDetail("resource_id", resourceID)
}

// ErrInternal creates an internal error.
func ErrInternal(message string) *CloudAuthError {
	return NewError(ErrCategoryInternal, message)
}

// IsCategory checks if an error is of a specific category.
func IsCategory(err error, category ErrorCategory) bool {
	var caErr *CloudAuthError
	if errors.As(err, &caErr) {
		return caErr.Category == category
	}
	return false
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool { return IsCategory(err, ErrCategoryConfiguration) }

// IsFederation reports whether err is a federation error.
func IsFederation(err error) bool { return IsCategory(err, ErrCategoryFederation) }

// IsTransient reports whether err is a transient network error.
func IsTransient(err error) bool { return IsCategory(err, ErrCategoryNetwork) }

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var caErr *CloudAuthError
	if errors.As(err, &caErr) {
		return caErr.Retryable
	}
	return false
}

// GetErrorProvider extracts the provider from an error.
func GetErrorProvider(err error) CloudProvider {
	var caErr *CloudAuthError
	if errors.As(err, &caErr) {
		return caErr.Provider
	}
	return ""
}
