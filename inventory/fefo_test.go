package inventory_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/feedlot-engine/inventory"
	"github.com/warp/feedlot-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine() (*inventory.Engine, *memory.Memory) {
	st := memory.New()
	eng := inventory.NewEngine(st)

	// Deterministic ids and clock for assertable output.
	n := 0
	eng.NewID = func() string {
		n++
		return fmt.Sprintf("id-%03d", n)
	}
	eng.Clock = func() time.Time {
		return time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	}
	return eng, st
}

func kg(v float64) inventory.Amount {
	return inventory.NewAmount(v, inventory.UnitKilogram)
}

func datePtr(year int, month time.Month, day int) *time.Time {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &t
}

// addBatch registers an ingress of n kg expiring on the given date.
func addBatch(t *testing.T, eng *inventory.Engine, product string, quantity float64, expires *time.Time, received time.Time) inventory.Batch {
	t.Helper()
	b, err := eng.RegisterEntry(context.Background(), inventory.EntryInput{
		ProductID:  inventory.ProductID(product),
		ReceivedAt: received,
		ExpiresAt:  expires,
		Units:      decimal.NewFromFloat(quantity),
		BaseUnit:   inventory.UnitKilogram,
		Actor:      "tester",
	})
	require.NoError(t, err)
	return *b
}

// =============================================================================
// FEFO ORDERING TESTS
// =============================================================================

func TestConsume_TakesEarliestExpiringBatchFirst(t *testing.T) {
	// GIVEN: Two batches, the later-received one expiring sooner
	// WHEN: Consuming less than the soonest-expiring batch holds
	// THEN: Only the soonest-expiring batch is decremented

	ctx := context.Background()
	eng, _ := newTestEngine()

	received := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	late := addBatch(t, eng, "corn", 100, datePtr(2026, time.June, 1), received)
	soon := addBatch(t, eng, "corn", 100, datePtr(2026, time.April, 1), received.AddDate(0, 0, 5))

	allocs, err := eng.Consume(ctx, "corn", kg(30), inventory.ConsumptionRef{Actor: "tester"})
	require.NoError(t, err)

	require.Len(t, allocs, 1)
	assert.Equal(t, soon.ID, allocs[0].BatchID)
	assert.True(t, allocs[0].Quantity.Equal(kg(30)))

	got, err := eng.Store.GetBatch(ctx, soon.ID)
	require.NoError(t, err)
	assert.True(t, got.Remaining.Equal(kg(70)))

	untouched, err := eng.Store.GetBatch(ctx, late.ID)
	require.NoError(t, err)
	assert.True(t, untouched.Remaining.Equal(kg(100)))
}

func TestConsume_SpansBatchesWhenFirstIsShort(t *testing.T) {
	// GIVEN: 20 kg expiring April, 100 kg expiring June
	// WHEN: Consuming 50 kg
	// THEN: April batch is drained, the remaining 30 kg comes from June

	ctx := context.Background()
	eng, _ := newTestEngine()

	received := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	first := addBatch(t, eng, "corn", 20, datePtr(2026, time.April, 1), received)
	second := addBatch(t, eng, "corn", 100, datePtr(2026, time.June, 1), received)

	allocs, err := eng.Consume(ctx, "corn", kg(50), inventory.ConsumptionRef{Actor: "tester"})
	require.NoError(t, err)

	require.Len(t, allocs, 2)
	assert.Equal(t, first.ID, allocs[0].BatchID)
	assert.True(t, allocs[0].Quantity.Equal(kg(20)))
	assert.Equal(t, second.ID, allocs[1].BatchID)
	assert.True(t, allocs[1].Quantity.Equal(kg(30)))
	assert.True(t, inventory.AllocatedTotal(allocs).Equal(kg(50)))
}

func TestConsume_SkipsDepletedBatches(t *testing.T) {
	// GIVEN: The soonest-expiring batch is already drained to zero
	// WHEN: Consuming again
	// THEN: The allocation comes entirely from the next batch

	ctx := context.Background()
	eng, _ := newTestEngine()

	received := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	first := addBatch(t, eng, "corn", 20, datePtr(2026, time.April, 1), received)
	second := addBatch(t, eng, "corn", 100, datePtr(2026, time.June, 1), received)

	_, err := eng.Consume(ctx, "corn", kg(20), inventory.ConsumptionRef{Actor: "tester"})
	require.NoError(t, err)

	allocs, err := eng.Consume(ctx, "corn", kg(10), inventory.ConsumptionRef{Actor: "tester"})
	require.NoError(t, err)

	require.Len(t, allocs, 1)
	assert.Equal(t, second.ID, allocs[0].BatchID)

	drained, err := eng.Store.GetBatch(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, drained.Depleted())
	assert.False(t, drained.Remaining.IsNegative())
}

func TestSortFEFO_NilExpirySortsLast(t *testing.T) {
	// GIVEN: A dated batch and an undated batch received earlier
	// WHEN: Sorting FEFO
	// THEN: The dated batch comes first regardless of received order

	received := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	undated := inventory.Batch{ID: "b-undated", ReceivedAt: received, Remaining: kg(10), Active: true}
	dated := inventory.Batch{ID: "b-dated", ReceivedAt: received.AddDate(0, 1, 0), ExpiresAt: datePtr(2026, time.May, 1), Remaining: kg(10), Active: true}

	batches := []inventory.Batch{undated, dated}
	inventory.SortFEFO(batches)

	assert.Equal(t, inventory.BatchID("b-dated"), batches[0].ID)
	assert.Equal(t, inventory.BatchID("b-undated"), batches[1].ID)
}

func TestSortFEFO_TiesBreakOnReceivedThenID(t *testing.T) {
	// GIVEN: Three batches expiring the same day
	// THEN: Received date orders them; equal received dates fall back to id

	expiry := datePtr(2026, time.May, 1)
	received := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

	batches := []inventory.Batch{
		{ID: "b-c", ReceivedAt: received, ExpiresAt: expiry, Remaining: kg(1), Active: true},
		{ID: "b-a", ReceivedAt: received, ExpiresAt: expiry, Remaining: kg(1), Active: true},
		{ID: "b-b", ReceivedAt: received.AddDate(0, 0, -1), ExpiresAt: expiry, Remaining: kg(1), Active: true},
	}
	inventory.SortFEFO(batches)

	assert.Equal(t, inventory.BatchID("b-b"), batches[0].ID)
	assert.Equal(t, inventory.BatchID("b-a"), batches[1].ID)
	assert.Equal(t, inventory.BatchID("b-c"), batches[2].ID)
}

// =============================================================================
// INSUFFICIENT STOCK TESTS
// =============================================================================

func TestConsume_InsufficientStock_NothingMutated(t *testing.T) {
	// GIVEN: 30 kg total across two batches
	// WHEN: Consuming 50 kg
	// THEN: InsufficientStockError with the shortfall, and no batch, movement,
	// or stock change

	ctx := context.Background()
	eng, _ := newTestEngine()

	received := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	first := addBatch(t, eng, "corn", 10, datePtr(2026, time.April, 1), received)
	second := addBatch(t, eng, "corn", 20, datePtr(2026, time.June, 1), received)

	before, err := eng.Store.Movements(ctx, "corn")
	require.NoError(t, err)

	_, err = eng.Consume(ctx, "corn", kg(50), inventory.ConsumptionRef{Actor: "tester"})
	require.Error(t, err)

	var insufficient *inventory.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Available.Equal(kg(30)))
	assert.True(t, insufficient.Shortfall.Equal(kg(20)))

	// No partial deduction
	b1, _ := eng.Store.GetBatch(ctx, first.ID)
	b2, _ := eng.Store.GetBatch(ctx, second.ID)
	assert.True(t, b1.Remaining.Equal(kg(10)))
	assert.True(t, b2.Remaining.Equal(kg(20)))

	after, err := eng.Store.Movements(ctx, "corn")
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestConsume_RejectsNonPositiveQuantity(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine()

	_, err := eng.Consume(ctx, "corn", kg(0), inventory.ConsumptionRef{})
	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)

	_, err = eng.Consume(ctx, "corn", kg(-5), inventory.ConsumptionRef{})
	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)
}

// =============================================================================
// ENTRY & STOCK INVARIANT TESTS
// =============================================================================

func TestRegisterEntry_ControlUnitsConvertToBase(t *testing.T) {
	// GIVEN: 4 sacks of 25 kg each
	// THEN: The batch holds 100 kg and stock reflects it

	ctx := context.Background()
	eng, _ := newTestEngine()

	b, err := eng.RegisterEntry(ctx, inventory.EntryInput{
		ProductID:   "feed-a",
		ControlUnit: inventory.UnitPiece,
		UnitContent: decimal.NewFromInt(25),
		Units:       decimal.NewFromInt(4),
		BaseUnit:    inventory.UnitKilogram,
		Actor:       "tester",
	})
	require.NoError(t, err)
	assert.True(t, b.Remaining.Equal(kg(100)))

	view := inventory.NewView(eng.Store)
	stock, err := view.GetStock(ctx, "feed-a")
	require.NoError(t, err)
	assert.True(t, stock.Equal(kg(100)))
}

func TestStock_EqualsSumOfBatchRemainders(t *testing.T) {
	// Consolidated stock must always equal the sum of active batches'
	// remaining quantities, through entries and consumptions.

	ctx := context.Background()
	eng, _ := newTestEngine()
	view := inventory.NewView(eng.Store)

	received := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	addBatch(t, eng, "corn", 60, datePtr(2026, time.April, 1), received)
	addBatch(t, eng, "corn", 40, datePtr(2026, time.June, 1), received)

	stock, err := view.GetStock(ctx, "corn")
	require.NoError(t, err)
	assert.True(t, stock.Equal(kg(100)))

	_, err = eng.Consume(ctx, "corn", kg(75), inventory.ConsumptionRef{Actor: "tester"})
	require.NoError(t, err)

	stock, err = view.GetStock(ctx, "corn")
	require.NoError(t, err)
	assert.True(t, stock.Equal(kg(25)))

	batches, err := eng.Store.ActiveBatches(ctx, "corn")
	require.NoError(t, err)
	sum := kg(0)
	for _, b := range batches {
		sum = sum.Add(b.Remaining)
	}
	assert.True(t, stock.Equal(sum))
}

func TestGetStock_RepairsDriftedCache(t *testing.T) {
	// GIVEN: A stock row that disagrees with batch remainders
	// WHEN: Reading consolidated stock
	// THEN: The derived figure wins and the cache is repaired

	ctx := context.Background()
	eng, st := newTestEngine()
	view := inventory.NewView(st)

	received := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	addBatch(t, eng, "corn", 80, datePtr(2026, time.April, 1), received)

	require.NoError(t, st.PutStock(ctx, inventory.Stock{
		ProductID: "corn",
		Quantity:  kg(999),
		UpdatedAt: time.Now(),
	}))

	stock, err := view.GetStock(ctx, "corn")
	require.NoError(t, err)
	assert.True(t, stock.Equal(kg(80)))

	cached, err := st.GetStock(ctx, "corn")
	require.NoError(t, err)
	assert.True(t, cached.Quantity.Equal(kg(80)))
}

// =============================================================================
// REVERSAL TESTS
// =============================================================================

func TestReverse_RecreditsBatchesAndStock(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine()
	view := inventory.NewView(eng.Store)

	received := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	b := addBatch(t, eng, "corn", 100, datePtr(2026, time.April, 1), received)

	allocs, err := eng.Consume(ctx, "corn", kg(40), inventory.ConsumptionRef{Actor: "tester"})
	require.NoError(t, err)

	require.NoError(t, eng.Reverse(ctx, allocs, inventory.ReversalRef{Actor: "tester"}))

	got, err := eng.Store.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.Remaining.Equal(kg(100)))

	stock, err := view.GetStock(ctx, "corn")
	require.NoError(t, err)
	assert.True(t, stock.Equal(kg(100)))

	// Compensating movement references the original
	movements, err := eng.Store.Movements(ctx, "corn")
	require.NoError(t, err)
	var adjustments int
	for _, m := range movements {
		if m.Type == inventory.MovementAdjustment {
			adjustments++
			assert.Equal(t, allocs[0].MovementID, m.ReversalOf)
		}
	}
	assert.Equal(t, 1, adjustments)
}

func TestReverse_Twice_CreditsExactlyOnce(t *testing.T) {
	// Double reversal of the same allocations must be a no-op, not a
	// double credit.

	ctx := context.Background()
	eng, _ := newTestEngine()

	received := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	b := addBatch(t, eng, "corn", 100, datePtr(2026, time.April, 1), received)

	allocs, err := eng.Consume(ctx, "corn", kg(40), inventory.ConsumptionRef{Actor: "tester"})
	require.NoError(t, err)

	require.NoError(t, eng.Reverse(ctx, allocs, inventory.ReversalRef{Actor: "tester"}))
	require.NoError(t, eng.Reverse(ctx, allocs, inventory.ReversalRef{Actor: "tester"}))

	got, err := eng.Store.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.Remaining.Equal(kg(100)))
}

// =============================================================================
// EXPIRY PROJECTION TESTS
// =============================================================================

func TestGetExpiring_WindowExcludesExpiredAndFarBatches(t *testing.T) {
	// GIVEN: One expired batch, one expiring in 10 days, one in 90 days
	// WHEN: Projecting 30 days ahead
	// THEN: Only the 10-day batch appears; the expired one shows under GetExpired

	ctx := context.Background()
	eng, st := newTestEngine()
	view := inventory.NewView(st)
	view.Clock = eng.Clock

	now := eng.Clock()
	received := now.AddDate(0, -2, 0)
	expired := addBatch(t, eng, "corn", 10, datePtr(2026, time.February, 1), received)
	near := addBatch(t, eng, "corn", 10, datePtr(2026, time.March, 11), received)
	addBatch(t, eng, "corn", 10, datePtr(2026, time.June, 1), received)

	expiring, err := view.GetExpiring(ctx, nil, 30)
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, near.ID, expiring[0].ID)

	gone, err := view.GetExpired(ctx, nil)
	require.NoError(t, err)
	require.Len(t, gone, 1)
	assert.Equal(t, expired.ID, gone[0].ID)
}
