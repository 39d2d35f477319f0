package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tindahan/backend/internal/domain"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrShiftClosed      = errors.New("shift is closed")
	ErrDuplicateReading = errors.New("reading already issued for shift")
	ErrTransferState    = errors.New("transfer not in expected state")
)

// Repository is the persistence boundary for the ledger core. The postgres
// implementation coordinates concurrent writers through row-level locks so
// the service stays correct when horizontally scaled; the memory
// implementation replicates the same semantics behind a mutex for tests.
type Repository interface {
	// Ledger. PostStockTransaction is the only writer of balances: one
	// atomic unit locking the balance row (create-if-absent), checking the
	// negative policy, updating the balance, and appending the transaction
	// log entry plus its audit mirror. No partial writes survive a failure.
	PostStockTransaction(ctx context.Context, posting domain.StockPosting) (*domain.PostingResult, error)
	GetBalance(ctx context.Context, key domain.StockKey) (decimal.Decimal, error)
	GetBalances(ctx context.Context, locationID string, variationIDs []string) (map[string]decimal.Decimal, error)
	SumLedger(ctx context.Context, key domain.StockKey) (decimal.Decimal, error)
	ListLedgerDiscrepancies(ctx context.Context, businessID string, tolerance decimal.Decimal) ([]domain.DriftReport, error)
	SyncBalanceToLedger(ctx context.Context, key domain.StockKey) (*domain.BalanceRepair, error)
	ListStockTransactions(ctx context.Context, filter domain.StockTransactionFilter) ([]domain.StockTransaction, int64, error)
	ListStockAudits(ctx context.Context, filter domain.StockTransactionFilter) ([]domain.StockAudit, error)

	// Transfers.
	CreateStockTransfer(ctx context.Context, transfer domain.StockTransfer) (*domain.StockTransfer, error)
	GetStockTransfer(ctx context.Context, id string) (*domain.StockTransfer, error)
	AdvanceStockTransfer(ctx context.Context, id string, fromStatus string, toStatus string, at time.Time) (*domain.StockTransfer, error)

	// Shifts and running totals.
	CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	GetShift(ctx context.Context, id string) (*domain.Shift, error)
	GetActiveShift(ctx context.Context, locationID string, terminalID string) (*domain.Shift, error)
	CloseActiveShift(ctx context.Context, locationID string, terminalID string, endingCashCents int64, closedAt time.Time) (*domain.Shift, error)
	AccumulateShiftTotals(ctx context.Context, shiftID string, delta domain.TotalsDelta) error
	GetShiftTotals(ctx context.Context, shiftID string) (*domain.ShiftTotals, error)

	// Cash movements.
	CreateCashMovement(ctx context.Context, movement domain.CashMovement) (*domain.CashMovement, error)
	ListCashMovements(ctx context.Context, shiftID string) ([]domain.CashMovement, error)
	SumCashMovements(ctx context.Context, shiftID string) (inCents int64, outCents int64, err error)

	// Sales capture (the collaborator side of the ledger's sale postings).
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)
	MarkSaleVoided(ctx context.Context, id string, reason string, at time.Time) (*domain.Sale, error)
	// AggregateShiftSales is the O(n) fallback for shifts that predate the
	// running-totals accumulator: grouped aggregation over the sales rows.
	AggregateShiftSales(ctx context.Context, shiftID string) (*domain.ShiftTotals, error)
	// GetShiftItemBreakdown honors the context deadline; callers degrade by
	// omitting the breakdown when it expires.
	GetShiftItemBreakdown(ctx context.Context, shiftID string) ([]domain.ItemBreakdownRow, error)

	// Readings. Both writers perform their counter increment and the reading
	// insert in one atomic unit so concurrent requests can never share a
	// sequence number.
	CreateXReading(ctx context.Context, reading domain.Reading, incrementCounter bool) (*domain.Reading, error)
	// CreateZReading always consumes the next per-location sequence number;
	// non-incrementing Z previews never reach the store.
	CreateZReading(ctx context.Context, reading domain.Reading) (*domain.Reading, error)
	ListReadings(ctx context.Context, shiftID string) ([]domain.Reading, error)
	GetLocationCounters(ctx context.Context, locationID string) (*domain.LocationCounters, error)

	// Auth accounts.
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
