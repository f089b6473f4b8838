/*
Package feeding provides the feeding-schedule resolution engine and the
execution ledger for a livestock operation.

PURPOSE:
  A feeding plan divides an animal's lifecycle into day-ranges, each with a
  prescribed product and quantity per animal. Lots are assigned to plans with
  a start date anchor; daily feeding is resolved against the elapsed day
  number, executed, recorded, and deducted from batch-tracked inventory in
  FEFO order.

KEY CONCEPTS IN THIS FILE (types.go):
  - Plan / ScheduleRule: The day-range template (non-overlapping intervals)
  - Assignment: A plan bound to a lot with the feeding start date
  - ExecutionRecord: One feeding event (PENDING -> EXECUTED / OMITTED)
  - CorrectionEntry: Immutable before/after audit of a post-hoc amendment
  - Bounds: Per-species quantity bounds used to flag, not block

DESIGN PRINCIPLES:
  1. Status transitions only: Execution records are never physically deleted
  2. Append-only audit: Corrections are recorded per changed field, forever
  3. Atomicity: Execution and its inventory deduction commit or fail together
  4. Explicit read models: Cross-aggregate reads return flattened DTOs

SEE ALSO:
  - schedule.go: Range validation and day resolution
  - ledger.go: Execution state machine
  - correction.go: Bounded, audited correction workflow
*/
package feeding

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/feedlot-engine/inventory"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PlanID string
type RuleID string
type AssignmentID string
type ExecutionID string
type CorrectionID string
type LotID string
type ActorID string

// =============================================================================
// PLAN & SCHEDULE RULES
// =============================================================================

// Plan is a feeding schedule template for one species, optionally scoped to
// a production stage (e.g. "growing", "finishing").
type Plan struct {
	ID        PlanID
	Name      string
	Species   string
	Stage     string // empty = whole lifecycle
	Active    bool
	CreatedAt time.Time
}

type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// ScheduleRule prescribes a product and a per-animal quantity for an
// inclusive day-range of its plan.
//
// INVARIANT: within one plan, no two active rules' [DayStart, DayEnd]
// intervals overlap. Touching bounds count as overlap.
type ScheduleRule struct {
	ID                RuleID
	PlanID            PlanID
	DayStart          int // inclusive, >= 0
	DayEnd            int // inclusive, >= DayStart
	ProductID         inventory.ProductID
	QuantityPerAnimal inventory.Amount
	Frequency         Frequency
	Active            bool
	CreatedAt         time.Time
}

// Contains reports whether the rule's day-range contains the given day.
func (r ScheduleRule) Contains(day int) bool {
	return r.DayStart <= day && day <= r.DayEnd
}

// Overlaps reports whether the rule's day-range intersects [start, end].
// Both ranges are inclusive on both ends, so touching bounds overlap.
func (r ScheduleRule) Overlaps(start, end int) bool {
	return r.DayStart <= end && r.DayEnd >= start
}

// HorizonDays returns the total horizon covered by a rule set: one past the
// highest DayEnd, since day numbers are 0-based.
func HorizonDays(rules []ScheduleRule) int {
	horizon := 0
	for _, r := range rules {
		if r.Active && r.DayEnd+1 > horizon {
			horizon = r.DayEnd + 1
		}
	}
	return horizon
}

// =============================================================================
// ASSIGNMENT - Plan bound to a lot
// =============================================================================

type AssignmentStatus string

const (
	AssignmentActive    AssignmentStatus = "active"
	AssignmentFinished  AssignmentStatus = "finished"
	AssignmentCancelled AssignmentStatus = "cancelled"
)

// Assignment binds a plan to a lot. StartDate anchors day-number computation:
// StartDate itself is day 0.
type Assignment struct {
	ID          AssignmentID
	PlanID      PlanID
	LotID       LotID
	StartDate   time.Time
	AnimalCount int
	Status      AssignmentStatus
	CreatedAt   time.Time
}

// DayNumber returns the 0-based whole-day offset of date from the start date.
func (a Assignment) DayNumber(date time.Time) int {
	start := truncateDay(a.StartDate)
	target := truncateDay(date)
	return int(target.Sub(start).Hours() / 24)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func intDecimal(n int) decimal.Decimal { return decimal.NewFromInt(int64(n)) }

// =============================================================================
// EXECUTION RECORD - One feeding event
// =============================================================================

type ExecutionStatus string

const (
	StatusPending  ExecutionStatus = "PENDING"
	StatusExecuted ExecutionStatus = "EXECUTED"
	StatusOmitted  ExecutionStatus = "OMITTED"
)

// ExecutionRecord is one feeding event. Created PENDING (due feeding) or
// directly EXECUTED (registered feeding); transitions to EXECUTED or OMITTED;
// never physically deleted. EXECUTED records may be amended through the
// correction workflow without changing status.
type ExecutionRecord struct {
	ID              ExecutionID
	AssignmentID    AssignmentID
	RuleID          *RuleID // nil for manual/unscheduled entries
	ProductID       inventory.ProductID
	Date            time.Time
	DayNumber       int
	QuantityApplied inventory.Amount
	Status          ExecutionStatus
	StatusReason    string // omission reason, empty otherwise
	Observations    string
	ActorID         ActorID
	IdempotencyKey  string
	Warnings        []string // bounds warnings raised at registration

	// Allocations records which batches the execution consumed, so a later
	// quantity correction can reverse them.
	Allocations []inventory.Allocation

	CreatedAt  time.Time
	ExecutedAt *time.Time
	UpdatedAt  time.Time
}

// =============================================================================
// CORRECTION ENTRY - Immutable field-change audit
// =============================================================================

// CorrectionEntry records one field change on an execution record.
// Append-only: entries are never mutated or deleted.
type CorrectionEntry struct {
	ID          CorrectionID
	ExecutionID ExecutionID
	Field       string
	OldValue    string
	NewValue    string
	Reason      string
	ActorID     ActorID
	RequestMeta map[string]string
	CreatedAt   time.Time
}

// Correctable field names.
const (
	FieldQuantityApplied = "quantity_applied"
	FieldObservations    = "observations"
)

// =============================================================================
// VALIDATION BOUNDS - Flag, don't block
// =============================================================================

// Bounds holds the acceptable per-animal quantity range for a species and
// stage, plus a warning band around a reference quantity. Registrations
// outside the bounds are flagged in the response, never rejected.
type Bounds struct {
	Species            string
	Stage              string
	MinPerAnimal       inventory.Amount
	MaxPerAnimal       inventory.Amount
	ReferencePerAnimal inventory.Amount
	WarnLowFactor      decimal.Decimal // e.g., 0.8
	WarnHighFactor     decimal.Decimal // e.g., 1.2
}

// Check returns the warnings raised by a per-animal quantity. An empty
// result means the quantity is unremarkable.
func (b Bounds) Check(perAnimal inventory.Amount) []string {
	var warnings []string
	if b.MinPerAnimal.IsPositive() && perAnimal.LessThan(b.MinPerAnimal) {
		warnings = append(warnings, "quantity per animal below minimum for "+b.Species)
	}
	if b.MaxPerAnimal.IsPositive() && perAnimal.GreaterThan(b.MaxPerAnimal) {
		warnings = append(warnings, "quantity per animal above maximum for "+b.Species)
	}
	if b.ReferencePerAnimal.IsPositive() {
		if !b.WarnLowFactor.IsZero() {
			low := b.ReferencePerAnimal.Mul(b.WarnLowFactor)
			if perAnimal.LessThan(low) {
				warnings = append(warnings, "quantity per animal below reference band")
			}
		}
		if !b.WarnHighFactor.IsZero() {
			high := b.ReferencePerAnimal.Mul(b.WarnHighFactor)
			if perAnimal.GreaterThan(high) {
				warnings = append(warnings, "quantity per animal above reference band")
			}
		}
	}
	return warnings
}
