package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tindahan/backend/internal/domain"
)

func TestPostStockTransactionRoundTrip(t *testing.T) {
	databaseURL := os.Getenv("TINDAHAN_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set TINDAHAN_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	variationID := fmt.Sprintf("var-post-it-%d", stamp)
	locationID := "main-location"
	businessID := "it-business"
	key := domain.StockKey{VariationID: variationID, LocationID: locationID}

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_audits WHERE variation_id = $1`, variationID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_transactions WHERE variation_id = $1`, variationID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_balances WHERE variation_id = $1`, variationID)
	})

	added, err := s.PostStockTransaction(ctx, domain.StockPosting{
		BusinessID: businessID,
		ProductID:  "prod-post-it",
		Key:        key,
		Quantity:   decimal.RequireFromString("10"),
		Type:       domain.TxTypeOpeningStock,
		CreatedBy:  "integration",
	})
	if err != nil {
		t.Fatalf("opening posting: %v", err)
	}
	if !added.NewBalance.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("expected balance 10, got %s", added.NewBalance)
	}

	deducted, err := s.PostStockTransaction(ctx, domain.StockPosting{
		BusinessID: businessID,
		ProductID:  "prod-post-it",
		Key:        key,
		Quantity:   decimal.RequireFromString("-4"),
		Type:       domain.TxTypeSale,
		CreatedBy:  "integration",
	})
	if err != nil {
		t.Fatalf("sale posting: %v", err)
	}
	if !deducted.NewBalance.Equal(decimal.RequireFromString("6")) {
		t.Fatalf("expected balance 6, got %s", deducted.NewBalance)
	}

	_, err = s.PostStockTransaction(ctx, domain.StockPosting{
		BusinessID: businessID,
		ProductID:  "prod-post-it",
		Key:        key,
		Quantity:   decimal.RequireFromString("-7"),
		Type:       domain.TxTypeSale,
		Policy:     domain.StrictPositive,
		CreatedBy:  "integration",
	})
	var insufficient *domain.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}

	balance, err := s.GetBalance(ctx, key)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("6")) {
		t.Fatalf("rejected posting must not change stored balance, got %s", balance)
	}

	ledgerSum, err := s.SumLedger(ctx, key)
	if err != nil {
		t.Fatalf("sum ledger: %v", err)
	}
	if !ledgerSum.Equal(balance) {
		t.Fatalf("ledger sum %s disagrees with balance %s", ledgerSum, balance)
	}

	transactions, total, err := s.ListStockTransactions(ctx, domain.StockTransactionFilter{VariationID: variationID})
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if total != 2 || len(transactions) != 2 {
		t.Fatalf("expected 2 ledger rows, got total=%d len=%d", total, len(transactions))
	}
	if !transactions[0].BalanceAfter.Equal(decimal.RequireFromString("10")) ||
		!transactions[1].BalanceAfter.Equal(decimal.RequireFromString("6")) {
		t.Fatalf("unexpected balance snapshots %s / %s", transactions[0].BalanceAfter, transactions[1].BalanceAfter)
	}

	audits, err := s.ListStockAudits(ctx, domain.StockTransactionFilter{VariationID: variationID})
	if err != nil {
		t.Fatalf("list audits: %v", err)
	}
	if len(audits) != 2 {
		t.Fatalf("expected 2 audit rows, got %d", len(audits))
	}
}
