package utils

import (
	"context"
	"errors"
	"fmt"
)

// ValidationError represents an error occurring during data validation.
type ValidationError struct {
	Message string
}

// Error returns the error message string.
func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new ValidationError with a specific message.
func NewValidationError(message string) error {
	return &ValidationError{
		Message: message,
	}
}

// NewValidationErrorf creates a new ValidationError with a formatted message.
func NewValidationErrorf(format string, args ...interface{}) error {
	return &ValidationError{
		Message: fmt.Sprintf(format, args...),
	}
}

// InsufficientDataError reports that a series cannot supply enough clean
// samples for the estimator.
type InsufficientDataError struct {
	SeriesID  string
	Reason    string
	Available int
	Required  int
}

// Error returns the error message string.
func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for series %s (%s): %d samples available, %d required",
		e.SeriesID, e.Reason, e.Available, e.Required)
}

// NewInsufficientDataError creates a new InsufficientDataError.
//
// Parameters:
//   - seriesID: The series that was excluded.
//   - reason: Machine-readable reason code.
//   - available: Samples that survived.
//   - required: Minimum samples required.
func NewInsufficientDataError(seriesID, reason string, available, required int) error {
	return &InsufficientDataError{
		SeriesID:  seriesID,
		Reason:    reason,
		Available: available,
		Required:  required,
	}
}

// NoViableSeriesError reports that fewer than two series survived preprocessing.
type NoViableSeriesError struct {
	Remaining int
}

// Error returns the error message string.
func (e *NoViableSeriesError) Error() string {
	return fmt.Sprintf("no viable series: %d remaining after preprocessing, at least 2 required", e.Remaining)
}

// NewNoViableSeriesError creates a new NoViableSeriesError.
func NewNoViableSeriesError(remaining int) error {
	return &NoViableSeriesError{Remaining: remaining}
}

// DegenerateInputError reports embedded samples the estimator cannot work with.
type DegenerateInputError struct {
	Message string
}

// Error returns the error message string.
func (e *DegenerateInputError) Error() string {
	return "degenerate estimator input: " + e.Message
}

// NewDegenerateInputErrorf creates a new DegenerateInputError with a formatted message.
func NewDegenerateInputErrorf(format string, args ...interface{}) error {
	return &DegenerateInputError{
		Message: fmt.Sprintf(format, args...),
	}
}

// AnalysisTimeoutError reports that the run deadline passed before every task
// finished. It unwraps to the underlying context error.
type AnalysisTimeoutError struct {
	Stage     string
	Completed int
	Total     int
	Err       error
}

// Error returns the error message string.
func (e *AnalysisTimeoutError) Error() string {
	return fmt.Sprintf("analysis timed out during %s after %d of %d tasks: %v",
		e.Stage, e.Completed, e.Total, e.Err)
}

// Unwrap returns the context error that ended the run.
func (e *AnalysisTimeoutError) Unwrap() error {
	return e.Err
}

// NewAnalysisTimeoutError creates a new AnalysisTimeoutError.
func NewAnalysisTimeoutError(stage string, completed, total int, err error) error {
	if err == nil {
		err = context.DeadlineExceeded
	}
	return &AnalysisTimeoutError{
		Stage:     stage,
		Completed: completed,
		Total:     total,
		Err:       err,
	}
}

// IsDegenerate reports whether err is, or wraps, a DegenerateInputError.
func IsDegenerate(err error) bool {
	var target *DegenerateInputError
	return errors.As(err, &target)
}

// IsTimeout reports whether err is, or wraps, an AnalysisTimeoutError.
func IsTimeout(err error) bool {
	var target *AnalysisTimeoutError
	return errors.As(err, &target)
}
