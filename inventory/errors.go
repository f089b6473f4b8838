/*
errors.go - Centralized error types for the inventory subsystem

PURPOSE:
  All inventory error types in one place for consistency and discoverability.
  Calling packages (feeding, api) match on sentinels with errors.Is() or pull
  structured detail with errors.As().

ERROR CATEGORIES:
  1. Stock errors - FEFO allocation shortfalls
  2. Validation errors - Bad quantities or units
  3. Lookup errors - Unknown products/batches/movements

USAGE:
  var short *inventory.InsufficientStockError
  if errors.As(err, &short) {
      log.Printf("short by %v", short.Shortfall.Value)
  }

SEE ALSO:
  - fefo.go: Returns these errors
  - feeding/errors.go: Feeding-side taxonomy
*/
package inventory

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientStock is returned when a FEFO allocation cannot satisfy
	// the requested quantity. No partial deduction is ever committed.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrBatchNotFound is returned when a referenced batch doesn't exist.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrInvalidQuantity is returned for zero or negative quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrAlreadyReversed is returned when a movement already has a
	// compensating movement. Reverse treats this as a no-op per allocation,
	// so callers normally never see it.
	ErrAlreadyReversed = errors.New("movement already reversed")

	// ErrConcurrentModification is returned when a transactional retry is
	// exhausted due to conflicting writers on the same product.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientStockError reports a FEFO shortfall: what was requested versus
// what was available across all consumable batches at plan time.
type InsufficientStockError struct {
	ProductID ProductID
	Requested Amount
	Available Amount
	Shortfall Amount
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %v, available %v, short %v",
		e.ProductID, e.Requested.Value, e.Available.Value, e.Shortfall.Value)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InvalidQuantityError reports a non-positive quantity passed to a mutation.
type InvalidQuantityError struct {
	ProductID ProductID
	Quantity  Amount
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity %v for product %s", e.Quantity.Value, e.ProductID)
}

func (e *InvalidQuantityError) Unwrap() error { return ErrInvalidQuantity }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input
// or a recoverable stock condition.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidQuantity)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBatchNotFound)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
