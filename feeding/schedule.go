/*
schedule.go - Day-range validation and "what must be fed today" resolution

PURPOSE:
  Two pure-read services over the rule set:
  - ScheduleValidator gates every rule write: within one plan, no two active
    rules' inclusive day-ranges may intersect.
  - DayResolver turns (assignment, calendar date) into the elapsed day number
    and the rule(s) covering it.

OVERLAP SEMANTICS:
  Ranges are inclusive on both ends and touching bounds CONFLICT: a rule
  ending on day 10 and another starting on day 10 would both prescribe day
  10, so the check uses <=/>=, not </>  (decision recorded in DESIGN.md).

RESOLUTION CONTRACT:
  - Zero matching rules is a valid empty result, not an error: lots can be
    fed outside a formal plan.
  - More than one matching rule is surfaced to the caller as-is; nothing is
    silently picked.

SEE ALSO:
  - ledger.go: Consumes resolutions when registering executions
  - plans.go: Calls ValidateRange before persisting rules
*/
package feeding

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/feedlot-engine/inventory"
)

// =============================================================================
// SCHEDULE VALIDATOR - Non-overlap invariant
// =============================================================================

// ScheduleValidator enforces non-overlap of day-ranges among a plan's active
// rules. Pure check: it never writes.
type ScheduleValidator struct {
	Store Store
}

// ValidateRange reports whether [dayStart, dayEnd] can be added to the plan.
// excludeRuleID skips one rule (the rule being edited); pass "" on create.
// Returns nil when the range is free, RangeConflictError naming the clashing
// rule otherwise.
func (v *ScheduleValidator) ValidateRange(ctx context.Context, planID PlanID, dayStart, dayEnd int, excludeRuleID RuleID) error {
	if dayStart < 0 || dayStart > dayEnd {
		return fmt.Errorf("%w: [%d,%d]", ErrInvalidRange, dayStart, dayEnd)
	}

	rules, err := v.Store.ActiveRules(ctx, planID)
	if err != nil {
		return err
	}
	for _, r := range rules {
		if r.ID == excludeRuleID {
			continue
		}
		if r.Overlaps(dayStart, dayEnd) {
			return &RangeConflictError{
				PlanID:      planID,
				DayStart:    dayStart,
				DayEnd:      dayEnd,
				Conflicting: r,
			}
		}
	}
	return nil
}

// =============================================================================
// DAY RESOLVER - Elapsed day number and matching rules
// =============================================================================

// Resolution is the outcome of resolving a calendar date against an
// assignment's plan.
type Resolution struct {
	AssignmentID AssignmentID
	PlanID       PlanID
	Date         time.Time
	DayNumber    int
	Rules        []ScheduleRule // zero = unscheduled day, >1 = ambiguous plan
}

// Rule returns the single resolved rule, or nil when the day is unscheduled
// or ambiguous.
func (r Resolution) Rule() *ScheduleRule {
	if len(r.Rules) == 1 {
		return &r.Rules[0]
	}
	return nil
}

// DayResolver computes "what must be fed today" for an assignment.
// Pure function over persisted state; no mutation.
type DayResolver struct {
	Store Store
}

// Resolve computes the 0-based day number of date relative to the
// assignment's start date and returns every active rule containing it.
// A date before the start date is a client error.
func (d *DayResolver) Resolve(ctx context.Context, assignmentID AssignmentID, date time.Time) (*Resolution, error) {
	assignment, err := d.Store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return nil, ErrAssignmentNotFound
	}
	return d.resolveFor(ctx, *assignment, date)
}

func (d *DayResolver) resolveFor(ctx context.Context, assignment Assignment, date time.Time) (*Resolution, error) {
	day := assignment.DayNumber(date)
	if day < 0 {
		return nil, fmt.Errorf("%w: %s starts %s", ErrDateBeforeStart,
			assignment.ID, assignment.StartDate.Format("2006-01-02"))
	}

	rules, err := d.Store.ActiveRules(ctx, assignment.PlanID)
	if err != nil {
		return nil, err
	}

	var matching []ScheduleRule
	for _, r := range rules {
		if r.Contains(day) {
			matching = append(matching, r)
		}
	}
	return &Resolution{
		AssignmentID: assignment.ID,
		PlanID:       assignment.PlanID,
		Date:         truncateDay(date),
		DayNumber:    day,
		Rules:        matching,
	}, nil
}

// =============================================================================
// DUE FEEDING - Flattened read model
// =============================================================================

// DueFeeding is the flattened projection of one due rule for a lot on a
// date: per-animal quantity expanded by the lot's animal count. Assembled by
// explicit queries, never a live object graph.
type DueFeeding struct {
	AssignmentID AssignmentID
	LotID        LotID
	PlanID       PlanID
	RuleID       RuleID
	Date         time.Time
	DayNumber    int
	ProductID    inventory.ProductID
	PerAnimal    inventory.Amount
	AnimalCount  int
	TotalDue     inventory.Amount
	Frequency    Frequency
}

// Due resolves the date and expands each matching rule by the lot's animal
// count. An unscheduled day yields an empty slice; an ambiguous day yields
// one entry per matching rule.
func (d *DayResolver) Due(ctx context.Context, assignmentID AssignmentID, date time.Time) ([]DueFeeding, error) {
	assignment, err := d.Store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return nil, ErrAssignmentNotFound
	}

	res, err := d.resolveFor(ctx, *assignment, date)
	if err != nil {
		return nil, err
	}

	due := make([]DueFeeding, 0, len(res.Rules))
	for _, r := range res.Rules {
		total := r.QuantityPerAnimal
		if assignment.AnimalCount > 0 {
			total = r.QuantityPerAnimal.Mul(intDecimal(assignment.AnimalCount))
		}
		due = append(due, DueFeeding{
			AssignmentID: assignment.ID,
			LotID:        assignment.LotID,
			PlanID:       assignment.PlanID,
			RuleID:       r.ID,
			Date:         res.Date,
			DayNumber:    res.DayNumber,
			ProductID:    r.ProductID,
			PerAnimal:    r.QuantityPerAnimal,
			AnimalCount:  assignment.AnimalCount,
			TotalDue:     total,
			Frequency:    r.Frequency,
		})
	}
	return due, nil
}
