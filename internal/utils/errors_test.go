package utils

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Message: "test error message",
	}

	assert.Equal(t, "test error message", err.Error())
}

func TestNewValidationErrorf(t *testing.T) {
	err := NewValidationErrorf("kraskov_k must be at least %d, got %d", 1, 0)

	assert.Error(t, err)
	assert.Equal(t, "kraskov_k must be at least 1, got 0", err.Error())

	validationErr, ok := err.(*ValidationError)
	assert.True(t, ok)
	assert.Equal(t, "kraskov_k must be at least 1, got 0", validationErr.Message)
}

func TestInsufficientDataError(t *testing.T) {
	err := NewInsufficientDataError("BTC", "outliers", 10, 20)

	var target *InsufficientDataError
	require.True(t, errors.As(err, &target))
	assert.Equal(t, "BTC", target.SeriesID)
	assert.Equal(t, "outliers", target.Reason)
	assert.Contains(t, err.Error(), "10 samples available, 20 required")
}

func TestNoViableSeriesError(t *testing.T) {
	err := NewNoViableSeriesError(1)
	assert.Contains(t, err.Error(), "1 remaining")
}

func TestDegenerateInputError(t *testing.T) {
	err := fmt.Errorf("estimate lag 2: %w", NewDegenerateInputErrorf("only %d samples", 3))

	assert.True(t, IsDegenerate(err))
	assert.False(t, IsTimeout(err))
	assert.Contains(t, err.Error(), "only 3 samples")
}

func TestAnalysisTimeoutError(t *testing.T) {
	err := NewAnalysisTimeoutError("lag_scan", 3, 10, context.DeadlineExceeded)

	assert.True(t, IsTimeout(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Contains(t, err.Error(), "lag_scan after 3 of 10 tasks")

	defaulted := NewAnalysisTimeoutError("fdr", 0, 0, nil)
	assert.True(t, errors.Is(defaulted, context.DeadlineExceeded))
}
