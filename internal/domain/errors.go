package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InsufficientStockError is a recoverable business-rule violation: the caller
// decides whether to retry, reduce quantity, or reject. It always carries the
// exact shortage so the user-visible message is actionable.
type InsufficientStockError struct {
	VariationID string
	LocationID  string
	Available   decimal.Decimal
	Requested   decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variation %s at location %s: available %s, requested %s (short by %s)",
		e.VariationID, e.LocationID, e.Available, e.Requested, e.Shortage())
}

func (e *InsufficientStockError) Shortage() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// DriftError reports disagreement between the stored balance and the
// ledger-derived sum for one key. Variance is physical minus ledger; it is
// surfaced with both values, never as a bare "mismatch".
type DriftError struct {
	VariationID string
	LocationID  string
	Physical    decimal.Decimal
	Ledger      decimal.Decimal
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("stock drift for variation %s at location %s: physical %s, ledger %s, variance %s",
		e.VariationID, e.LocationID, e.Physical, e.Ledger, e.Variance())
}

func (e *DriftError) Variance() decimal.Decimal {
	return e.Physical.Sub(e.Ledger)
}
