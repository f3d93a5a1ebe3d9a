package errors

import (
	"errors"
	"fmt"
)

// Error types for different failure domains
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeConcurrency    ErrorType = "concurrency_conflict"
	ErrorTypeStreamDeleted  ErrorType = "stream_deleted"
	ErrorTypeStorage        ErrorType = "storage"
	ErrorTypeSegmentOverlap ErrorType = "segment_overlap"
	ErrorTypeNotFound       ErrorType = "not_found"
)

// AppError represents a structured application error
type AppError struct {
	Type      ErrorType              `json:"type"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     error                  `json:"-"`
	Retryable bool                   `json:"retryable"`
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

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors

func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:      ErrorTypeValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// NewConcurrencyError reports an optimistic-concurrency failure on append.
// Expected and actual stream versions travel in Details so callers can
// rebase and retry at their own discretion; the store never retries.
func NewConcurrencyError(domain, streamID string, expected, actual int32) *AppError {
	return &AppError{
		Type:    ErrorTypeConcurrency,
		Code:    "CONCURRENCY_CONFLICT",
		Message: fmt.Sprintf("concurrency conflict on stream %s/%s: expected version %d, actual %d", domain, streamID, expected, actual),
		Details: map[string]interface{}{
			"domain":           domain,
			"stream_id":        streamID,
			"expected_version": expected,
			"actual_version":   actual,
		},
		Retryable: true,
	}
}

func NewStreamDeletedError(domain, streamID string) *AppError {
	return &AppError{
		Type:    ErrorTypeStreamDeleted,
		Code:    "STREAM_DELETED",
		Message: fmt.Sprintf("stream %s/%s is deleted", domain, streamID),
		Details: map[string]interface{}{
			"domain":    domain,
			"stream_id": streamID,
		},
		Retryable: false,
	}
}

// NewStorageError wraps a database or filesystem fault with the operation
// that hit it. The cause is attached once at the fault site; callers higher
// up pass it through unchanged.
func NewStorageError(operation, message string) *AppError {
	return &AppError{
		Type:      ErrorTypeStorage,
		Code:      "STORAGE_ERROR",
		Message:   fmt.Sprintf("%s: %s", operation, message),
		Retryable: true,
	}
}

// NewSegmentOverlapError is an internal signal used by the archive
// coordinator; it is converted into a per-stream skip, never surfaced.
func NewSegmentOverlapError(minPos, maxPos int64) *AppError {
	return &AppError{
		Type:    ErrorTypeSegmentOverlap,
		Code:    "SEGMENT_OVERLAP",
		Message: fmt.Sprintf("archive segment range [%d, %d] overlaps an existing segment", minPos, maxPos),
		Details: map[string]interface{}{
			"min_position": minPos,
			"max_position": maxPos,
		},
		Retryable: false,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:      ErrorTypeNotFound,
		Code:      "RESOURCE_NOT_FOUND",
		Message:   fmt.Sprintf("%s not found", resource),
		Retryable: false,
	}
}

// Kind predicates

func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

func IsConcurrencyConflict(err error) bool { return IsType(err, ErrorTypeConcurrency) }
func IsStreamDeleted(err error) bool       { return IsType(err, ErrorTypeStreamDeleted) }
func IsSegmentOverlap(err error) bool      { return IsType(err, ErrorTypeSegmentOverlap) }
func IsValidation(err error) bool          { return IsType(err, ErrorTypeValidation) }
func IsNotFound(err error) bool            { return IsType(err, ErrorTypeNotFound) }
