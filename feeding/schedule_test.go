package feeding_test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/feedlot-engine/feeding"
	"github.com/warp/feedlot-engine/inventory"
	"github.com/warp/feedlot-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestPlanService() (*feeding.PlanService, *memory.Memory) {
	st := memory.New()
	svc := feeding.NewPlanService(st)

	n := 0
	svc.NewID = func() string {
		n++
		return fmt.Sprintf("id-%03d", n)
	}
	return svc, st
}

func perAnimalKg(v float64) inventory.Amount {
	return inventory.NewAmount(v, inventory.UnitKilogram)
}

func growerRule(dayStart, dayEnd int) feeding.RuleInput {
	return feeding.RuleInput{
		DayStart:          dayStart,
		DayEnd:            dayEnd,
		ProductID:         "feed-grower",
		QuantityPerAnimal: perAnimalKg(2),
	}
}

func mustPlan(t *testing.T, svc *feeding.PlanService) *feeding.Plan {
	t.Helper()
	plan, err := svc.CreatePlan(context.Background(), "Engorde Bovino", "bovine", "")
	require.NoError(t, err)
	return plan
}

// =============================================================================
// RANGE VALIDATION TESTS
// =============================================================================

func TestAddRule_NonOverlappingRangesAccepted(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestPlanService()
	plan := mustPlan(t, svc)

	_, err := svc.AddRule(ctx, plan.ID, growerRule(0, 30))
	require.NoError(t, err)
	_, err = svc.AddRule(ctx, plan.ID, growerRule(31, 60))
	require.NoError(t, err)
	_, err = svc.AddRule(ctx, plan.ID, growerRule(61, 61))
	require.NoError(t, err)
}

func TestAddRule_TouchingBoundsConflict(t *testing.T) {
	// GIVEN: A rule covering days [0,30]
	// WHEN: Adding a rule starting exactly on day 30
	// THEN: Conflict - both rules would prescribe day 30

	ctx := context.Background()
	svc, _ := newTestPlanService()
	plan := mustPlan(t, svc)

	_, err := svc.AddRule(ctx, plan.ID, growerRule(0, 30))
	require.NoError(t, err)

	_, err = svc.AddRule(ctx, plan.ID, growerRule(30, 60))
	require.Error(t, err)
	assert.ErrorIs(t, err, feeding.ErrScheduleConflict)

	var conflict *feeding.RangeConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 0, conflict.Conflicting.DayStart)
	assert.Equal(t, 30, conflict.Conflicting.DayEnd)
}

func TestAddRule_ContainedRangeConflicts(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestPlanService()
	plan := mustPlan(t, svc)

	_, err := svc.AddRule(ctx, plan.ID, growerRule(0, 60))
	require.NoError(t, err)

	_, err = svc.AddRule(ctx, plan.ID, growerRule(10, 20))
	assert.ErrorIs(t, err, feeding.ErrScheduleConflict)
}

func TestAddRule_InvalidRangeRejected(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestPlanService()
	plan := mustPlan(t, svc)

	_, err := svc.AddRule(ctx, plan.ID, growerRule(10, 5))
	assert.ErrorIs(t, err, feeding.ErrInvalidRange)

	_, err = svc.AddRule(ctx, plan.ID, growerRule(-1, 5))
	assert.ErrorIs(t, err, feeding.ErrInvalidRange)
}

func TestUpdateRuleRange_ExcludesOwnRange(t *testing.T) {
	// Moving a rule within (or around) its own slot must not conflict with
	// itself, but must still conflict with siblings.

	ctx := context.Background()
	svc, _ := newTestPlanService()
	plan := mustPlan(t, svc)

	first, err := svc.AddRule(ctx, plan.ID, growerRule(0, 30))
	require.NoError(t, err)
	_, err = svc.AddRule(ctx, plan.ID, growerRule(31, 60))
	require.NoError(t, err)

	moved, err := svc.UpdateRuleRange(ctx, first.ID, 5, 25)
	require.NoError(t, err)
	assert.Equal(t, 5, moved.DayStart)
	assert.Equal(t, 25, moved.DayEnd)

	_, err = svc.UpdateRuleRange(ctx, first.ID, 5, 40)
	assert.ErrorIs(t, err, feeding.ErrScheduleConflict)
}

func TestValidateRange_RandomizedAgainstBruteForce(t *testing.T) {
	// Property: for any pair of inclusive ranges, the validator conflicts
	// exactly when the ranges share at least one day.

	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		svc, st := newTestPlanService()
		plan := mustPlan(t, svc)

		aStart := rng.Intn(60)
		aEnd := aStart + rng.Intn(30)
		bStart := rng.Intn(60)
		bEnd := bStart + rng.Intn(30)

		_, err := svc.AddRule(ctx, plan.ID, growerRule(aStart, aEnd))
		require.NoError(t, err)

		validator := &feeding.ScheduleValidator{Store: st}
		err = validator.ValidateRange(ctx, plan.ID, bStart, bEnd, "")

		sharesDay := aStart <= bEnd && aEnd >= bStart
		if sharesDay {
			assert.ErrorIs(t, err, feeding.ErrScheduleConflict,
				"[%d,%d] vs [%d,%d] share a day", aStart, aEnd, bStart, bEnd)
		} else {
			assert.NoError(t, err,
				"[%d,%d] vs [%d,%d] are disjoint", aStart, aEnd, bStart, bEnd)
		}
	}
}

func TestValidateRange_IgnoresInactiveRules(t *testing.T) {
	// Deactivated plans leave no active rules behind, so their old ranges
	// are free again.

	ctx := context.Background()
	svc, st := newTestPlanService()
	plan := mustPlan(t, svc)

	_, err := svc.AddRule(ctx, plan.ID, growerRule(0, 30))
	require.NoError(t, err)
	require.NoError(t, svc.DeactivatePlan(ctx, plan.ID))

	validator := &feeding.ScheduleValidator{Store: st}
	assert.NoError(t, validator.ValidateRange(ctx, plan.ID, 0, 30, ""))
}

// =============================================================================
// DAY RESOLUTION TESTS
// =============================================================================

func TestResolve_DayNumberIsZeroBasedFromStart(t *testing.T) {
	// GIVEN: Assignment starting March 1 with a rule for days [0,30]
	// WHEN: Resolving March 1 and March 15
	// THEN: Day numbers 0 and 14, both matching the rule

	ctx := context.Background()
	svc, st := newTestPlanService()
	plan := mustPlan(t, svc)

	rule, err := svc.AddRule(ctx, plan.ID, growerRule(0, 30))
	require.NoError(t, err)

	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	a, err := svc.Assign(ctx, plan.ID, "lot-7", start, 50)
	require.NoError(t, err)

	resolver := &feeding.DayResolver{Store: st}

	res, err := resolver.Resolve(ctx, a.ID, start)
	require.NoError(t, err)
	assert.Equal(t, 0, res.DayNumber)
	require.NotNil(t, res.Rule())
	assert.Equal(t, rule.ID, res.Rule().ID)

	res, err = resolver.Resolve(ctx, a.ID, start.AddDate(0, 0, 14))
	require.NoError(t, err)
	assert.Equal(t, 14, res.DayNumber)
}

func TestResolve_TimeOfDayDoesNotShiftDayNumber(t *testing.T) {
	// A feeding logged at 23:00 belongs to the same day number as one
	// logged at 06:00.

	ctx := context.Background()
	svc, st := newTestPlanService()
	plan := mustPlan(t, svc)

	_, err := svc.AddRule(ctx, plan.ID, growerRule(0, 30))
	require.NoError(t, err)

	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	a, err := svc.Assign(ctx, plan.ID, "lot-7", start, 50)
	require.NoError(t, err)

	resolver := &feeding.DayResolver{Store: st}

	morning, err := resolver.Resolve(ctx, a.ID,
		time.Date(2026, time.March, 5, 6, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	night, err := resolver.Resolve(ctx, a.ID,
		time.Date(2026, time.March, 5, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, morning.DayNumber, night.DayNumber)
	assert.Equal(t, 4, morning.DayNumber)
}

func TestResolve_UnscheduledDayYieldsNoRules(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestPlanService()
	plan := mustPlan(t, svc)

	_, err := svc.AddRule(ctx, plan.ID, growerRule(0, 10))
	require.NoError(t, err)

	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	a, err := svc.Assign(ctx, plan.ID, "lot-7", start, 50)
	require.NoError(t, err)

	resolver := &feeding.DayResolver{Store: st}
	res, err := resolver.Resolve(ctx, a.ID, start.AddDate(0, 0, 20))
	require.NoError(t, err)
	assert.Empty(t, res.Rules)
	assert.Nil(t, res.Rule())
}

func TestResolve_DateBeforeStartIsClientError(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestPlanService()
	plan := mustPlan(t, svc)

	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	a, err := svc.Assign(ctx, plan.ID, "lot-7", start, 50)
	require.NoError(t, err)

	resolver := &feeding.DayResolver{Store: st}
	_, err = resolver.Resolve(ctx, a.ID, start.AddDate(0, 0, -1))
	assert.ErrorIs(t, err, feeding.ErrDateBeforeStart)
	assert.True(t, feeding.IsClientError(err))
}

func TestDue_ExpandsPerAnimalQuantityByLotSize(t *testing.T) {
	// GIVEN: 2 kg per animal, 50 animals
	// THEN: Total due is 100 kg

	ctx := context.Background()
	svc, st := newTestPlanService()
	plan := mustPlan(t, svc)

	_, err := svc.AddRule(ctx, plan.ID, growerRule(0, 30))
	require.NoError(t, err)

	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	a, err := svc.Assign(ctx, plan.ID, "lot-7", start, 50)
	require.NoError(t, err)

	resolver := &feeding.DayResolver{Store: st}
	due, err := resolver.Due(ctx, a.ID, start.AddDate(0, 0, 10))
	require.NoError(t, err)

	require.Len(t, due, 1)
	assert.Equal(t, feeding.LotID("lot-7"), due[0].LotID)
	assert.Equal(t, 50, due[0].AnimalCount)
	assert.True(t, due[0].PerAnimal.Equal(perAnimalKg(2)))
	assert.True(t, due[0].TotalDue.Equal(perAnimalKg(100)))
}
