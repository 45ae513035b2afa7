package inventory

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrProductNotFound   = errors.New("product not found")
	ErrVersionConflict   = errors.New("stock version conflict")
	ErrNegativeStock     = errors.New("stock would go negative")
	ErrLedgerUnavailable = errors.New("ledger key could not be seeded")
)

// InsufficientStockError carries the remaining count seen by the atomic check.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// ReconciliationFailure is raised when a product could not be folded into the
// durable store within the retry budget. Live traffic is not affected.
type ReconciliationFailure struct {
	ProductID string
	Attempts  int
	Err       error
}

func (f ReconciliationFailure) Error() string {
	return fmt.Sprintf("reconcile %s failed after %d attempts: %v", f.ProductID, f.Attempts, f.Err)
}

func (f ReconciliationFailure) Unwrap() error { return f.Err }
