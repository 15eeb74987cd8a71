package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

const (
	// ErrEmbedding marks invalid input to or a failure of the embedding
	// provider. Empty input is an error by contract: a zero vector would be
	// indistinguishable from a legitimate low-magnitude embedding.
	ErrEmbedding ErrorCode = "EMBEDDING_ERROR"

	// ErrMalformedSnapshot marks a snapshot with no extractable structure.
	ErrMalformedSnapshot ErrorCode = "MALFORMED_SNAPSHOT"

	// ErrStoreUnavailable marks an unreachable persistence backend. It is
	// always recoverable: read paths degrade to empty results and the
	// feedback path returns a soft status instead of propagating it.
	ErrStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"

	// ErrNotFound marks a missing snapshot, selector or chunk.
	ErrNotFound ErrorCode = "NOT_FOUND"

	// ErrInvalidConfig marks a configuration that fails validation.
	ErrInvalidConfig ErrorCode = "INVALID_CONFIG"
)

// Error represents a structured error with code, message and cause.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// GetErrorCode extracts the error code from an error, unwrapping as needed.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsNotFound reports whether err carries the NOT_FOUND code.
func IsNotFound(err error) bool {
	return GetErrorCode(err) == ErrNotFound
}

// IsStoreUnavailable reports whether err carries the STORE_UNAVAILABLE code.
func IsStoreUnavailable(err error) bool {
	return GetErrorCode(err) == ErrStoreUnavailable
}
