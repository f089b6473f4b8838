/*
consolidated.go - Consolidated stock view and expiry projections

PURPOSE:
  Read-side of the inventory subsystem: the per-product aggregate quantity
  and the date-filtered batch projections used for expiry alerting.

RECONCILIATION:
  The cached stock row is maintained transactionally by the engine, but
  GetStock never trusts it blindly: it recomputes the sum of active batches'
  remaining quantities and repairs the cache when they disagree. The derived
  figure is what callers get.

PROJECTIONS:
  GetExpiring and GetExpired are read-only and relative to the view's clock.
  They exist for alerting; consumption ordering always re-derives FEFO order
  from live batch data and never reads these projections.

SEE ALSO:
  - fefo.go: Write-side engine maintaining the cache
  - alerts/: Cron-driven scanner over these projections
*/
package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// VIEW
// =============================================================================

// View exposes consolidated stock and expiry projections over a Store.
type View struct {
	Store Store
	Clock func() time.Time
}

func NewView(store Store) *View {
	return &View{Store: store, Clock: time.Now}
}

// GetStock returns the consolidated quantity for a product: the sum of its
// active batches' remaining quantities. When the cached stock row disagrees
// with the derived sum, the cache is repaired before returning.
func (v *View) GetStock(ctx context.Context, productID ProductID) (Amount, error) {
	batches, err := v.Store.ActiveBatches(ctx, productID)
	if err != nil {
		return Amount{Value: decimal.Zero}, err
	}

	derived := Amount{Value: decimal.Zero}
	for _, b := range batches {
		derived = derived.Add(b.Remaining)
		derived.Unit = firstUnit(derived.Unit, b.Remaining.Unit)
	}

	cached, err := v.Store.GetStock(ctx, productID)
	if err != nil {
		return Amount{Value: decimal.Zero}, err
	}
	if cached == nil || !cached.Quantity.Equal(derived) {
		repair := Stock{ProductID: productID, Quantity: derived, UpdatedAt: v.Clock()}
		if err := v.Store.PutStock(ctx, repair); err != nil {
			return Amount{Value: decimal.Zero}, err
		}
	}
	return derived, nil
}

// GetExpiring returns active batches with remaining quantity expiring within
// the given number of days from now, excluding already-expired batches.
// A nil productID spans all products.
func (v *View) GetExpiring(ctx context.Context, productID *ProductID, withinDays int) ([]Batch, error) {
	now := v.Clock()
	cutoff := now.AddDate(0, 0, withinDays)
	batches, err := v.Store.BatchesExpiringBefore(ctx, productID, cutoff)
	if err != nil {
		return nil, err
	}

	expiring := batches[:0]
	for _, b := range batches {
		if !b.Expired(now) {
			expiring = append(expiring, b)
		}
	}
	return expiring, nil
}

// GetExpired returns active batches with remaining quantity whose expiration
// date has passed. A nil productID spans all products.
func (v *View) GetExpired(ctx context.Context, productID *ProductID) ([]Batch, error) {
	now := v.Clock()
	batches, err := v.Store.BatchesExpiringBefore(ctx, productID, now)
	if err != nil {
		return nil, err
	}

	expired := batches[:0]
	for _, b := range batches {
		if b.Expired(now) {
			expired = append(expired, b)
		}
	}
	return expired, nil
}

// SumConsumptionByProduct aggregates OUT and LOT_CONSUMPTION movement
// quantities per product. Used by reporting collaborators.
func (v *View) SumConsumptionByProduct(ctx context.Context) (map[ProductID]decimal.Decimal, error) {
	return v.Store.SumMovements(ctx, []MovementType{MovementOut, MovementLotConsumption})
}

// Movements returns the chronological movement log for a product.
func (v *View) Movements(ctx context.Context, productID ProductID) ([]Movement, error) {
	return v.Store.Movements(ctx, productID)
}
