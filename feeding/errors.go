/*
errors.go - Centralized error types for the feeding domain

PURPOSE:
  All feeding error types in one place. Every condition a caller can recover
  from is a typed value: validation failures, schedule conflicts, missing
  entities, forbidden corrections. The api package maps these to HTTP
  statuses; nothing in this package panics or swallows errors.

ERROR CATEGORIES:
  1. Validation errors - Bad ranges, quantities, statuses
  2. Conflict errors - Overlapping schedule ranges, ambiguous resolution
  3. Lookup errors - Unknown plans/rules/assignments/executions
  4. Forbidden errors - Correction window expired or actor lacks rights

USAGE:
  var conflict *feeding.RangeConflictError
  if errors.As(err, &conflict) {
      fmt.Printf("clashes with rule %s [%d,%d]\n",
          conflict.Conflicting.ID, conflict.Conflicting.DayStart, conflict.Conflicting.DayEnd)
  }

SEE ALSO:
  - inventory/errors.go: Stock-side taxonomy surfaced through the ledger
*/
package feeding

import (
	"errors"
	"fmt"

	"github.com/warp/feedlot-engine/inventory"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrPlanNotFound is returned when a referenced plan doesn't exist.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrRuleNotFound is returned when a referenced schedule rule doesn't exist.
	ErrRuleNotFound = errors.New("schedule rule not found")

	// ErrAssignmentNotFound is returned when a referenced assignment doesn't exist.
	ErrAssignmentNotFound = errors.New("assignment not found")

	// ErrExecutionNotFound is returned when a referenced execution doesn't exist.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrScheduleConflict is returned when a day-range overlaps an existing
	// active rule of the same plan.
	ErrScheduleConflict = errors.New("schedule range conflict")

	// ErrInvalidRange is returned for malformed day-ranges.
	ErrInvalidRange = errors.New("invalid day range")

	// ErrInvalidQuantity is returned for zero or negative applied quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrInvalidInput is returned for malformed input outside the more
	// specific categories.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAmbiguousSchedule is returned when more than one rule resolves for a
	// day and the caller did not pick one explicitly.
	ErrAmbiguousSchedule = errors.New("ambiguous schedule resolution")

	// ErrNoRuleResolved is returned when no rule covers the day and the
	// caller did not supply the product for a manual entry.
	ErrNoRuleResolved = errors.New("no schedule rule for day")

	// ErrInvalidStatus is returned for a status transition the state machine
	// does not allow.
	ErrInvalidStatus = errors.New("invalid execution status transition")

	// ErrAssignmentInactive is returned when registering against a finished
	// or cancelled assignment.
	ErrAssignmentInactive = errors.New("assignment is not active")

	// ErrCorrectionForbidden is returned when the correction window has
	// expired or the actor lacks rights.
	ErrCorrectionForbidden = errors.New("correction forbidden")

	// ErrUncorrectableField is returned for a field the correction workflow
	// does not cover.
	ErrUncorrectableField = errors.New("field cannot be corrected")

	// ErrDateBeforeStart is returned when resolving a date earlier than the
	// assignment's feeding start date.
	ErrDateBeforeStart = errors.New("date precedes assignment start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RangeConflictError names the existing rule a new range clashes with.
type RangeConflictError struct {
	PlanID      PlanID
	DayStart    int
	DayEnd      int
	Conflicting ScheduleRule
}

func (e *RangeConflictError) Error() string {
	return fmt.Sprintf("range [%d,%d] overlaps rule %s [%d,%d] in plan %s",
		e.DayStart, e.DayEnd, e.Conflicting.ID, e.Conflicting.DayStart, e.Conflicting.DayEnd, e.PlanID)
}

func (e *RangeConflictError) Unwrap() error { return ErrScheduleConflict }

// AmbiguousScheduleError lists every rule that resolved for the day.
type AmbiguousScheduleError struct {
	AssignmentID AssignmentID
	DayNumber    int
	RuleIDs      []RuleID
}

func (e *AmbiguousScheduleError) Error() string {
	return fmt.Sprintf("day %d of assignment %s resolves %d rules %v",
		e.DayNumber, e.AssignmentID, len(e.RuleIDs), e.RuleIDs)
}

func (e *AmbiguousScheduleError) Unwrap() error { return ErrAmbiguousSchedule }

// CorrectionForbiddenError explains why a correction was refused.
type CorrectionForbiddenError struct {
	ExecutionID ExecutionID
	ActorID     ActorID
	Reason      string
}

func (e *CorrectionForbiddenError) Error() string {
	return fmt.Sprintf("correction of %s by %s forbidden: %s", e.ExecutionID, e.ActorID, e.Reason)
}

func (e *CorrectionForbiddenError) Unwrap() error { return ErrCorrectionForbidden }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input or
// a recoverable domain condition.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrAmbiguousSchedule) ||
		errors.Is(err, ErrNoRuleResolved) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrAssignmentInactive) ||
		errors.Is(err, ErrUncorrectableField) ||
		errors.Is(err, ErrDateBeforeStart) ||
		inventory.IsClientError(err)
}

// IsConflict returns true for schedule overlap conflicts.
func IsConflict(err error) bool {
	return errors.Is(err, ErrScheduleConflict)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrRuleNotFound) ||
		errors.Is(err, ErrAssignmentNotFound) ||
		errors.Is(err, ErrExecutionNotFound) ||
		inventory.IsNotFound(err)
}

// IsForbidden returns true for refused corrections.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrCorrectionForbidden)
}
