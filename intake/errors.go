/*
errors.go - Centralized error types for the intake engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Store implementations and the HTTP layer classify errors with the
  helpers at the bottom of this file.

ERROR CATEGORIES:
  1. Validation errors - Bad raw input, over-reported remaining, settled items
  2. Not-found errors  - Unknown ids or ids outside the caller's owner scope
  3. Store errors      - The backing store failed (retryable by the caller)

  Replay inconsistencies are NOT errors: they are collected in the replay
  report (see replay.go) and never abort a run.

USAGE:
  if errors.Is(err, intake.ErrNegativeConsumption) {
      // user reported more remaining than was tracked
  }

SEE ALSO:
  - tracker.go: Returns validation and not-found errors
  - store/sqlstore: Wraps driver failures in StoreError
*/
package intake

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInput is returned when a raw user-entered field is missing or
	// out of range.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNegativeConsumption is returned when an observed remaining total is
	// larger than the tracked total.
	ErrNegativeConsumption = errors.New("observed remaining exceeds tracked total")

	// ErrAlreadySettled is returned for any transition on a settled item.
	ErrAlreadySettled = errors.New("food item already settled")

	// ErrEventNotEditable is returned when an event cannot be corrected or
	// deleted in the requested way (e.g. deleting a settle event).
	ErrEventNotEditable = errors.New("event not editable")

	// ErrFoodItemNotFound is returned when a food item does not exist or
	// belongs to another owner.
	ErrFoodItemNotFound = errors.New("food item not found")

	// ErrEventNotFound is returned when an event does not exist or belongs to
	// another owner.
	ErrEventNotFound = errors.New("event not found")

	// ErrStoreUnavailable is the class of all backing-store failures.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NegativeConsumptionError details an observation that would mean the item
// grew without an add event.
type NegativeConsumptionError struct {
	FoodItemID    FoodItemID
	PreviousTotal decimal.Decimal
	ObservedTotal decimal.Decimal
}

func (e *NegativeConsumptionError) Error() string {
	return fmt.Sprintf("food item %s: observed remaining %s exceeds tracked total %s",
		e.FoodItemID, e.ObservedTotal, e.PreviousTotal)
}

func (e *NegativeConsumptionError) Unwrap() error { return ErrNegativeConsumption }

// StoreError wraps a failed store call.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{ErrStoreUnavailable, e.Err} }

// WrapStoreError wraps err as a StoreError unless it is nil or already a
// domain error (not-found, validation) that the store chose to return.
func WrapStoreError(op string, err error) error {
	if err == nil || IsNotFound(err) || IsClientError(err) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNegativeConsumption) ||
		errors.Is(err, ErrAlreadySettled) ||
		errors.Is(err, ErrEventNotEditable)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFoodItemNotFound) ||
		errors.Is(err, ErrEventNotFound)
}
