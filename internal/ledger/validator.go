package ledger

import (
	"context"
	"errors"
	"log"

	"github.com/shopspring/decimal"

	"tindahan/backend/internal/domain"
	"tindahan/backend/internal/store"
)

// driftTolerance absorbs fixed-point rounding in decimal(20,4) quantities.
var driftTolerance = decimal.RequireFromString("0.0001")

// Validator reconciles the mutable balance table against the append-only
// ledger. The ledger sum is the source of truth; the balance table is a
// performance cache of it.
type Validator struct {
	repo       store.Repository
	businessID string
	strict     bool
}

func NewValidator(repo store.Repository, businessID string, strict bool) *Validator {
	if businessID == "" {
		businessID = "main-business"
	}
	return &Validator{repo: repo, businessID: businessID, strict: strict}
}

func (v *Validator) CalculateLedgerBalance(ctx context.Context, variationID string, locationID string) (decimal.Decimal, error) {
	return v.repo.SumLedger(ctx, domain.StockKey{VariationID: variationID, LocationID: locationID})
}

// ValidateConsistency compares one key's stored balance against its ledger
// sum. Returns a *domain.DriftError when the variance exceeds tolerance; in
// advisory mode the caller typically logs it and proceeds.
func (v *Validator) ValidateConsistency(ctx context.Context, variationID string, locationID string) error {
	key := domain.StockKey{VariationID: variationID, LocationID: locationID}
	physical, err := v.repo.GetBalance(ctx, key)
	if err != nil {
		return err
	}
	ledger, err := v.repo.SumLedger(ctx, key)
	if err != nil {
		return err
	}
	if physical.Sub(ledger).Abs().Cmp(driftTolerance) <= 0 {
		return nil
	}
	return &domain.DriftError{
		VariationID: variationID,
		LocationID:  locationID,
		Physical:    physical,
		Ledger:      ledger,
	}
}

// CheckAfterWrite is the inline post-posting check. Drift is reported but
// never blocks the already-committed write unless strict mode is on.
func (v *Validator) CheckAfterWrite(ctx context.Context, variationID string, locationID string) error {
	err := v.ValidateConsistency(ctx, variationID, locationID)
	if err == nil {
		return nil
	}
	var drift *domain.DriftError
	if !errors.As(err, &drift) {
		return err
	}
	if v.strict {
		return drift
	}
	log.Printf("[ledger] WARN: balance drift variation=%s location=%s physical=%s ledger=%s variance=%s",
		drift.VariationID, drift.LocationID, drift.Physical, drift.Ledger, drift.Variance())
	return nil
}

func (v *Validator) FindAllDiscrepancies(ctx context.Context) ([]domain.DriftReport, error) {
	return v.repo.ListLedgerDiscrepancies(ctx, v.businessID, driftTolerance)
}

// SyncPhysicalToLedger repairs one key by overwriting the stored balance with
// the ledger sum. Destructive to the cached value, so callers gate it behind
// elevated authorization.
func (v *Validator) SyncPhysicalToLedger(ctx context.Context, variationID string, locationID string) (*domain.BalanceRepair, error) {
	repair, err := v.repo.SyncBalanceToLedger(ctx, domain.StockKey{VariationID: variationID, LocationID: locationID})
	if err != nil {
		return nil, err
	}
	log.Printf("[ledger] balance repaired variation=%s location=%s old=%s new=%s",
		repair.VariationID, repair.LocationID, repair.OldBalance, repair.NewBalance)
	return repair, nil
}
