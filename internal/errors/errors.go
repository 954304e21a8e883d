// Package errors defines the error taxonomy for memory operations.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a specific error class for memory operations.
type ErrorCode string

const (
	// ErrCodeTransientStorage indicates the store was unreachable or timed out.
	// Callers may retry with backoff.
	ErrCodeTransientStorage ErrorCode = "TRANSIENT_STORAGE"
	// ErrCodeValidation indicates a malformed entity (dangling link endpoint,
	// out-of-range score). Fatal to the single operation, never retried blindly.
	ErrCodeValidation ErrorCode = "VALIDATION"
	// ErrCodeEmbeddingUnavailable indicates the embedder failed, timed out, or
	// returned an invalid vector.
	ErrCodeEmbeddingUnavailable ErrorCode = "EMBEDDING_UNAVAILABLE"
	// ErrCodeCausalInference indicates link inference failed. Non-fatal to
	// consolidation; logged and carried on.
	ErrCodeCausalInference ErrorCode = "CAUSAL_INFERENCE_FAILED"
	// ErrCodeNotFound indicates the requested entity does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
)

// MemoryError is a structured error carrying an ErrorCode.
type MemoryError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *MemoryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *MemoryError) Unwrap() error {
	return e.Cause
}

// TransientStorage wraps a storage failure that may succeed on retry.
func TransientStorage(msg string, cause error) *MemoryError {
	return &MemoryError{Code: ErrCodeTransientStorage, Message: msg, Cause: cause}
}

// Validation creates a validation error.
func Validation(format string, args ...any) *MemoryError {
	return &MemoryError{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

// EmbeddingUnavailable wraps an embedder failure.
func EmbeddingUnavailable(cause error) *MemoryError {
	return &MemoryError{Code: ErrCodeEmbeddingUnavailable, Message: "no embedding available", Cause: cause}
}

// CausalInference wraps a link-inference failure.
func CausalInference(cause error) *MemoryError {
	return &MemoryError{Code: ErrCodeCausalInference, Message: "causal link inference failed", Cause: cause}
}

// NotFound creates a not-found error.
func NotFound(format string, args ...any) *MemoryError {
	return &MemoryError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	var me *MemoryError
	if errors.As(err, &me) {
		return me.Code == code
	}
	return false
}

// CodeOf extracts the error code from err, returning defaultCode when err is
// not a MemoryError.
func CodeOf(err error, defaultCode ErrorCode) ErrorCode {
	var me *MemoryError
	if errors.As(err, &me) {
		return me.Code
	}
	return defaultCode
}
