// Package errors defines the structured error taxonomy used across the
// enrichment pipeline. Error types drive behavior: connectivity errors are
// retried, provider rejections fail immediately, cache errors degrade, and
// storage errors abort the current batch.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies an error for propagation decisions
type ErrorType string

const (
	// ErrTypeConnectivity represents transient network/provider failures (retryable)
	ErrTypeConnectivity ErrorType = "connectivity"
	// ErrTypeProviderRejection represents permanent provider rejections, e.g. 4xx (not retried)
	ErrTypeProviderRejection ErrorType = "provider_rejection"
	// ErrTypeRetrieval represents a retrieval that failed after the retry budget was spent
	ErrTypeRetrieval ErrorType = "retrieval"
	// ErrTypeCacheUnavailable represents a degraded cache tier (never fatal)
	ErrTypeCacheUnavailable ErrorType = "cache_unavailable"
	// ErrTypeStorage represents storage failures (fatal for the affected batch)
	ErrTypeStorage ErrorType = "storage"
	// ErrTypeValidation represents malformed input data (the record is skipped)
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// ConnectivityError creates a transient, retryable error
func ConnectivityError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeConnectivity,
		Message: msg,
		Cause:   cause,
	}
}

// ProviderRejectionError creates a permanent provider rejection error
func ProviderRejectionError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeProviderRejection,
		Message: msg,
	}
}

// RetrievalError wraps the last underlying error after the retry budget
// has been exhausted
func RetrievalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeRetrieval,
		Message: msg,
		Cause:   cause,
	}
}

// CacheUnavailableError creates a degraded-cache error
func CacheUnavailableError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeCacheUnavailable,
		Message: msg,
		Cause:   cause,
	}
}

// StorageError creates a per-batch fatal storage error
func StorageError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeStorage,
		Message: msg,
		Cause:   cause,
	}
}

// ValidationError creates a malformed-input error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// ConfigError creates a configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// InternalError creates an internal system error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// IsType checks if an error (or any error in its chain) is of a specific type
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}

	return appErr.Type == errType
}

// IsRetryable reports whether an error represents a transient condition
// worth retrying
func IsRetryable(err error) bool {
	return IsType(err, ErrTypeConnectivity)
}

// GetType returns the error type if it's an AppError, otherwise ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		return ErrTypeInternal
	}

	return appErr.Type
}
