/*
plans.go - Plan, rule, and assignment lifecycle

PURPOSE:
  Thin write services around the stores for the routine data entry the core
  depends on: creating plans, adding rules (gated by ScheduleValidator),
  deactivating plans with rule cascade, and binding plans to lots.

DEACTIVATION:
  Nothing is physically deleted. Deactivating a plan flips the plan and all
  its active rules to inactive; assignments transition through their own
  statuses (active -> finished/cancelled).

SEE ALSO:
  - schedule.go: The overlap gate every rule write passes through
*/
package feeding

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/feedlot-engine/inventory"
)

// PlanService manages plans, schedule rules, and assignments.
type PlanService struct {
	Store     Store
	Validator *ScheduleValidator

	Clock func() time.Time
	NewID func() string
}

func NewPlanService(store Store) *PlanService {
	return &PlanService{
		Store:     store,
		Validator: &ScheduleValidator{Store: store},
		Clock:     time.Now,
		NewID:     uuid.NewString,
	}
}

// CreatePlan persists a new active plan. stage may be empty for plans
// covering the whole lifecycle.
func (s *PlanService) CreatePlan(ctx context.Context, name, species, stage string) (*Plan, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: plan name required", ErrInvalidInput)
	}
	p := Plan{
		ID:        PlanID(s.NewID()),
		Name:      name,
		Species:   species,
		Stage:     stage,
		Active:    true,
		CreatedAt: s.Clock(),
	}
	if err := s.Store.SavePlan(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

// RuleInput describes a new or edited schedule rule.
type RuleInput struct {
	DayStart          int
	DayEnd            int
	ProductID         inventory.ProductID
	QuantityPerAnimal inventory.Amount
	Frequency         Frequency
}

// AddRule validates the day-range against the plan's active rules and
// persists the rule. Returns RangeConflictError on overlap.
func (s *PlanService) AddRule(ctx context.Context, planID PlanID, in RuleInput) (*ScheduleRule, error) {
	plan, err := s.Store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, ErrPlanNotFound
	}
	if !in.QuantityPerAnimal.IsPositive() {
		return nil, fmt.Errorf("%w: quantity per animal", ErrInvalidQuantity)
	}
	if err := s.Validator.ValidateRange(ctx, planID, in.DayStart, in.DayEnd, ""); err != nil {
		return nil, err
	}

	freq := in.Frequency
	if freq == "" {
		freq = FrequencyDaily
	}
	r := ScheduleRule{
		ID:                RuleID(s.NewID()),
		PlanID:            planID,
		DayStart:          in.DayStart,
		DayEnd:            in.DayEnd,
		ProductID:         in.ProductID,
		QuantityPerAnimal: in.QuantityPerAnimal,
		Frequency:         freq,
		Active:            true,
		CreatedAt:         s.Clock(),
	}
	if err := s.Store.SaveRule(ctx, r); err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateRuleRange moves a rule to a new day-range, excluding the rule itself
// from the overlap check.
func (s *PlanService) UpdateRuleRange(ctx context.Context, ruleID RuleID, dayStart, dayEnd int) (*ScheduleRule, error) {
	rule, err := s.Store.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, ErrRuleNotFound
	}
	if err := s.Validator.ValidateRange(ctx, rule.PlanID, dayStart, dayEnd, ruleID); err != nil {
		return nil, err
	}

	rule.DayStart = dayStart
	rule.DayEnd = dayEnd
	if err := s.Store.SaveRule(ctx, *rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// DeactivatePlan flips the plan and all its active rules to inactive.
func (s *PlanService) DeactivatePlan(ctx context.Context, planID PlanID) error {
	plan, err := s.Store.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	if plan == nil {
		return ErrPlanNotFound
	}

	rules, err := s.Store.ActiveRules(ctx, planID)
	if err != nil {
		return err
	}
	for _, r := range rules {
		r.Active = false
		if err := s.Store.SaveRule(ctx, r); err != nil {
			return err
		}
	}

	plan.Active = false
	return s.Store.SavePlan(ctx, *plan)
}

// Assign binds a plan to a lot with the feeding start date anchor.
func (s *PlanService) Assign(ctx context.Context, planID PlanID, lotID LotID, startDate time.Time, animalCount int) (*Assignment, error) {
	plan, err := s.Store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, ErrPlanNotFound
	}
	if !plan.Active {
		return nil, fmt.Errorf("%w: plan %s is inactive", ErrInvalidInput, planID)
	}

	a := Assignment{
		ID:          AssignmentID(s.NewID()),
		PlanID:      planID,
		LotID:       lotID,
		StartDate:   truncateDay(startDate),
		AnimalCount: animalCount,
		Status:      AssignmentActive,
		CreatedAt:   s.Clock(),
	}
	if err := s.Store.SaveAssignment(ctx, a); err != nil {
		return nil, err
	}
	return &a, nil
}

// CloseAssignment transitions an active assignment to finished or cancelled.
func (s *PlanService) CloseAssignment(ctx context.Context, id AssignmentID, status AssignmentStatus) (*Assignment, error) {
	if status != AssignmentFinished && status != AssignmentCancelled {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	a, err := s.Store.GetAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAssignmentNotFound
	}
	if a.Status != AssignmentActive {
		return nil, fmt.Errorf("%w: assignment is %s", ErrInvalidStatus, a.Status)
	}

	a.Status = status
	if err := s.Store.SaveAssignment(ctx, *a); err != nil {
		return nil, err
	}
	return a, nil
}
