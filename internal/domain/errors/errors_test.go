package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrencyError_CarriesVersions(t *testing.T) {
	err := NewConcurrencyError("orders", "o1", 1, 2)

	assert.True(t, IsConcurrencyConflict(err))
	assert.Equal(t, int32(1), err.Details["expected_version"])
	assert.Equal(t, int32(2), err.Details["actual_version"])
	assert.Contains(t, err.Error(), "expected version 1")
	assert.Contains(t, err.Error(), "actual 2")
}

func TestAppError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := NewStorageError("append", "insert failed").WithCause(cause)

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestPredicates_MatchWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("archiving stream: %w", NewSegmentOverlapError(5, 10))
	assert.True(t, IsSegmentOverlap(wrapped))
	assert.False(t, IsConcurrencyConflict(wrapped))

	assert.True(t, IsStreamDeleted(NewStreamDeletedError("orders", "o1")))
	assert.True(t, IsValidation(NewValidationError("BAD", "bad input")))
	assert.True(t, IsNotFound(NewNotFoundError("stream")))
	assert.False(t, IsValidation(errors.New("plain")))
}
