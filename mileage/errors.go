/*
errors.go - Centralized error types for the mileage engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Computation errors propagate as typed failures rather than being coerced
  into zero values inside aggregation - a missing rate must never become a
  silently wrong monetary total.

ERROR CATEGORIES:
  1. Not-found errors  - entity or distance lookups with no match
  2. Computation errors - missing work site, no applicable rate
  3. Workflow errors   - invalid submission-status transitions
  4. Constraint errors - deletions blocked by references or invariants
  5. Validation errors - rejected before any computation begins

USAGE:
  Callers match with errors.Is / errors.As:

    if errors.Is(err, mileage.ErrDistanceNotFound) {
        // display 0 with a warning; an explicit caller decision
    }
*/
package mileage

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrLocationNotFound is returned when a location id does not exist for
	// the requesting user.
	ErrLocationNotFound = errors.New("location not found")

	// ErrDistanceNotFound is returned when no distance record exists for a
	// location pair in either order.
	ErrDistanceNotFound = errors.New("distance not found")

	// ErrTripNotFound is returned when a trip id does not exist for the
	// requesting user.
	ErrTripNotFound = errors.New("trip not found")

	// ErrBearerNotFound is returned when a cost bearer id does not exist for
	// the requesting user.
	ErrBearerNotFound = errors.New("cost bearer not found")

	// ErrRateNotFound is returned when no rate entry exists at the given
	// effective date.
	ErrRateNotFound = errors.New("rate entry not found")

	// ErrStatusNotFound is returned when no submission status record exists
	// for a (year, month, subject) key.
	ErrStatusNotFound = errors.New("submission status not found")

	// ErrNoWorkSite is returned when autosplit is requested without a
	// designated work site. Never defaulted - it changes financial totals.
	ErrNoWorkSite = errors.New("no work site configured")

	// ErrSplitBearerNotConfigured is returned when no cost bearer holds the
	// commute or destination split role.
	ErrSplitBearerNotConfigured = errors.New("autosplit cost bearer not configured")

	// ErrNoApplicableRate is returned when a date precedes all known rate
	// entries for a subject.
	ErrNoApplicableRate = errors.New("no applicable rate")

	// ErrInvalidTransition is returned when a status workflow action is
	// attempted from an incompatible state. State is left unchanged.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConstraintViolation is returned when a deletion would break an
	// invariant (last rate entry, referenced location or bearer).
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrValidation is returned for malformed input, before any computation.
	ErrValidation = errors.New("validation failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NoApplicableRateError reports which subject had no rate on which date.
type NoApplicableRateError struct {
	Subject string // bearer ID or SubjectPassenger
	Date    TimePoint
}

func (e *NoApplicableRateError) Error() string {
	return fmt.Sprintf("no applicable rate for %s on %s", e.Subject, e.Date)
}

func (e *NoApplicableRateError) Unwrap() error { return ErrNoApplicableRate }

// InvalidTransitionError reports the rejected workflow action.
type InvalidTransitionError struct {
	From   SubmissionState
	Action StatusAction
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s from state %s", e.Action, e.From)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// ConstraintViolationError identifies the blocking invariant, including the
// reference count for deletions blocked by existing trips.
type ConstraintViolationError struct {
	Entity     string // "location", "cost bearer", "rate entry", ...
	ID         string
	References int
	Reason     string
}

func (e *ConstraintViolationError) Error() string {
	if e.References > 0 {
		return fmt.Sprintf("%s %s: %s (%d references)", e.Entity, e.ID, e.Reason, e.References)
	}
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Reason)
}

func (e *ConstraintViolationError) Unwrap() error { return ErrConstraintViolation }

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLocationNotFound) ||
		errors.Is(err, ErrDistanceNotFound) ||
		errors.Is(err, ErrTripNotFound) ||
		errors.Is(err, ErrBearerNotFound) ||
		errors.Is(err, ErrRateNotFound) ||
		errors.Is(err, ErrStatusNotFound)
}

// IsClientError returns true if the error is due to invalid client input or
// a rejected operation, as opposed to an internal failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrConstraintViolation) ||
		errors.Is(err, ErrNoWorkSite) ||
		errors.Is(err, ErrSplitBearerNotConfigured) ||
		errors.Is(err, ErrNoApplicableRate)
}
