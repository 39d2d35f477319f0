package ledger

import (
	"context"
	"errors"
	"testing"

	"tindahan/backend/internal/domain"
)

func seedStock(t *testing.T, engine *Engine, variationID, locationID, qty string) {
	t.Helper()
	if _, err := engine.AddStock(context.Background(), AddStockRequest{
		ProductID:   "prod-1",
		VariationID: variationID,
		LocationID:  locationID,
		Quantity:    dec(qty),
	}); err != nil {
		t.Fatalf("seed stock failed: %v", err)
	}
}

func TestValidateConsistencyCleanKeyPasses(t *testing.T) {
	engine, repo := newTestEngine()
	validator := NewValidator(repo, "biz-test", false)
	seedStock(t, engine, "var-1", "loc-a", "25")

	if err := validator.ValidateConsistency(context.Background(), "var-1", "loc-a"); err != nil {
		t.Fatalf("expected clean key to validate, got %v", err)
	}
}

func TestValidateConsistencyDetectsDrift(t *testing.T) {
	engine, repo := newTestEngine()
	validator := NewValidator(repo, "biz-test", false)
	seedStock(t, engine, "var-1", "loc-a", "25")

	repo.OverrideBalance(domain.StockKey{VariationID: "var-1", LocationID: "loc-a"}, dec("30"))

	err := validator.ValidateConsistency(context.Background(), "var-1", "loc-a")
	var drift *domain.DriftError
	if !errors.As(err, &drift) {
		t.Fatalf("expected DriftError, got %v", err)
	}
	if !drift.Variance().Equal(dec("5")) {
		t.Fatalf("expected variance +5 (physical higher), got %s", drift.Variance())
	}
}

func TestValidateConsistencyToleratesRoundingNoise(t *testing.T) {
	engine, repo := newTestEngine()
	validator := NewValidator(repo, "biz-test", false)
	seedStock(t, engine, "var-1", "loc-a", "25")

	repo.OverrideBalance(domain.StockKey{VariationID: "var-1", LocationID: "loc-a"}, dec("25.0001"))

	if err := validator.ValidateConsistency(context.Background(), "var-1", "loc-a"); err != nil {
		t.Fatalf("variance at tolerance must pass, got %v", err)
	}
}

func TestCheckAfterWriteAdvisoryVsStrict(t *testing.T) {
	engine, repo := newTestEngine()
	seedStock(t, engine, "var-1", "loc-a", "25")
	repo.OverrideBalance(domain.StockKey{VariationID: "var-1", LocationID: "loc-a"}, dec("20"))

	advisory := NewValidator(repo, "biz-test", false)
	if err := advisory.CheckAfterWrite(context.Background(), "var-1", "loc-a"); err != nil {
		t.Fatalf("advisory mode must swallow drift, got %v", err)
	}

	strict := NewValidator(repo, "biz-test", true)
	err := strict.CheckAfterWrite(context.Background(), "var-1", "loc-a")
	var drift *domain.DriftError
	if !errors.As(err, &drift) {
		t.Fatalf("strict mode must surface drift, got %v", err)
	}
	if !drift.Variance().Equal(dec("-5")) {
		t.Fatalf("expected variance -5 (ledger higher), got %s", drift.Variance())
	}
}

func TestFindAllDiscrepanciesReportsOnlyDriftedKeys(t *testing.T) {
	engine, repo := newTestEngine()
	validator := NewValidator(repo, "biz-test", false)
	seedStock(t, engine, "var-1", "loc-a", "25")
	seedStock(t, engine, "var-2", "loc-a", "10")
	repo.OverrideBalance(domain.StockKey{VariationID: "var-2", LocationID: "loc-a"}, dec("7"))

	reports, err := validator.FindAllDiscrepancies(context.Background())
	if err != nil {
		t.Fatalf("discrepancy scan failed: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 drifted key, got %d", len(reports))
	}
	report := reports[0]
	if report.VariationID != "var-2" {
		t.Fatalf("expected var-2, got %s", report.VariationID)
	}
	if !report.Variance.Equal(dec("-3")) {
		t.Fatalf("expected variance -3, got %s", report.Variance)
	}
	if report.Diagnosis != "ledger higher" {
		t.Fatalf("unexpected diagnosis %q", report.Diagnosis)
	}
}

func TestSyncPhysicalToLedgerRepairsBalance(t *testing.T) {
	engine, repo := newTestEngine()
	validator := NewValidator(repo, "biz-test", false)
	seedStock(t, engine, "var-1", "loc-a", "25")
	repo.OverrideBalance(domain.StockKey{VariationID: "var-1", LocationID: "loc-a"}, dec("40"))

	repair, err := validator.SyncPhysicalToLedger(context.Background(), "var-1", "loc-a")
	if err != nil {
		t.Fatalf("repair failed: %v", err)
	}
	if !repair.OldBalance.Equal(dec("40")) || !repair.NewBalance.Equal(dec("25")) {
		t.Fatalf("expected repair 40 -> 25, got %s -> %s", repair.OldBalance, repair.NewBalance)
	}

	balance, err := engine.GetCurrentStock(context.Background(), "var-1", "loc-a")
	if err != nil {
		t.Fatalf("get balance failed: %v", err)
	}
	if !balance.Equal(dec("25")) {
		t.Fatalf("expected repaired balance 25, got %s", balance)
	}
	if err := validator.ValidateConsistency(context.Background(), "var-1", "loc-a"); err != nil {
		t.Fatalf("repaired key must validate, got %v", err)
	}
}
