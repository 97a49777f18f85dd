// Package errors consolidates error definitions for the aquifer engine.
//
// It provides:
//   - Sentinel errors for all error conditions
//   - The TierError type carrying the identity of a failed storage tier
//   - Error category checking functions
//   - Error wrapping utilities and a validation error collector
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Tier access errors
	ErrTierUnavailable = errors.New("tier unavailable")
	ErrCacheCompute    = errors.New("cache compute failed")
	ErrNoData          = errors.New("no data for requested range")
	ErrResultTruncated = errors.New("result exceeds row cap")

	// Sync errors
	ErrSyncLeaseConflict = errors.New("sync already running for table")
	ErrDataIntegrity     = errors.New("data integrity violation")
	ErrCursorRegressed   = errors.New("sync cursor moved backwards")

	// Not found errors
	ErrNotFound     = errors.New("not found")
	ErrNodeNotFound = errors.New("node not found")

	// Validation errors
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrMissingField    = errors.New("missing required field")
	ErrInvalidRange    = errors.New("invalid time range")
	ErrInvalidReading  = errors.New("invalid reading")
	ErrInvalidInterval = errors.New("invalid interval")

	// State errors
	ErrStoreClosed = errors.New("store is closed")
	ErrNotRunning  = errors.New("service not running")
	ErrTimeout     = errors.New("timeout")
)

// Is is a convenience wrapper for errors.Is.
var Is = errors.Is

// As is a convenience wrapper for errors.As.
var As = errors.As

// ============================================================================
// TierError
// ============================================================================

// TierError records which storage tier failed so fallback decisions and
// logs can name the tier. It wraps ErrTierUnavailable for errors.Is checks.
type TierError struct {
	Tier string
	Err  error
}

// NewTierError creates a TierError for the given tier.
func NewTierError(tier string, err error) *TierError {
	return &TierError{Tier: tier, Err: err}
}

// Error implements the error interface.
func (e *TierError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tier %s unavailable: %v", e.Tier, e.Err)
	}
	return fmt.Sprintf("tier %s unavailable", e.Tier)
}

// Unwrap reports ErrTierUnavailable so errors.Is(err, ErrTierUnavailable)
// holds for every TierError regardless of the underlying cause.
func (e *TierError) Unwrap() error {
	return ErrTierUnavailable
}

// Cause returns the underlying error.
func (e *TierError) Cause() error {
	return e.Err
}

// ============================================================================
// Helper functions for error checking
// ============================================================================

// IsTierUnavailable returns true if err marks a tier as unreachable.
func IsTierUnavailable(err error) bool {
	return errors.Is(err, ErrTierUnavailable)
}

// IsLeaseConflict returns true if err is a sync lease conflict.
func IsLeaseConflict(err error) bool {
	return errors.Is(err, ErrSyncLeaseConflict)
}

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrNodeNotFound) ||
		errors.Is(err, ErrNoData)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInvalidReading) ||
		errors.Is(err, ErrInvalidInterval)
}

// IsRetriable returns true if the error is potentially retriable.
// Lease conflicts are not retriable within the same cycle; the next
// scheduled run will retry naturally.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrTierUnavailable) ||
		errors.Is(err, ErrCacheCompute)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidConfig)
}

// NewIntegrity creates a data integrity error for a specific row key.
func NewIntegrity(key, reason string) error {
	return fmt.Errorf("row %s: %s: %w", key, reason, ErrDataIntegrity)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the first error for errors.Is/As support.
func (v *ValidationErrors) Unwrap() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v.Errors[0]
}
