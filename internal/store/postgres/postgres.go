package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"tindahan/backend/internal/domain"
	"tindahan/backend/internal/store"
	"tindahan/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// PostStockTransaction is the single balance writer. The balance row is
// created lazily and locked FOR UPDATE before the policy check, so two
// concurrent postings against the same key serialize and each sees the
// other's committed balance. The log row and its audit mirror commit in the
// same transaction as the balance update.
func (s *Store) PostStockTransaction(ctx context.Context, posting domain.StockPosting) (*domain.PostingResult, error) {
	if posting.Quantity.IsZero() || !posting.Type.Valid() {
		return nil, store.ErrInvalidRequest
	}
	if posting.Key.VariationID == "" || posting.Key.LocationID == "" {
		return nil, store.ErrInvalidRequest
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	now := time.Now().UTC()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO stock_balances (variation_id, location_id, qty_available, updated_at)
		VALUES ($1,$2,0,$3)
		ON CONFLICT (variation_id, location_id) DO NOTHING
	`, posting.Key.VariationID, posting.Key.LocationID, now)
	if err != nil {
		return nil, err
	}

	var previous decimal.Decimal
	err = pgTx.QueryRowContext(ctx, `
		SELECT qty_available
		FROM stock_balances
		WHERE variation_id = $1 AND location_id = $2
		FOR UPDATE
	`, posting.Key.VariationID, posting.Key.LocationID).Scan(&previous)
	if err != nil {
		return nil, err
	}

	next := previous.Add(posting.Quantity)
	if next.IsNegative() && posting.Policy != domain.AllowNegative {
		return nil, &domain.InsufficientStockError{
			VariationID: posting.Key.VariationID,
			LocationID:  posting.Key.LocationID,
			Available:   previous,
			Requested:   posting.Quantity.Neg(),
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE stock_balances
		SET qty_available = $3, updated_at = $4
		WHERE variation_id = $1 AND location_id = $2
	`, posting.Key.VariationID, posting.Key.LocationID, next, now)
	if err != nil {
		return nil, err
	}

	txID := xid.New("stx")
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO stock_transactions (
			id, business_id, product_id, variation_id, location_id, type,
			quantity, unit_cost_cents, balance_after,
			reference_type, reference_id, reference_number,
			created_by, created_at, notes
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, txID, posting.BusinessID, posting.ProductID, posting.Key.VariationID, posting.Key.LocationID,
		posting.Type, posting.Quantity, posting.UnitCostCents, next,
		posting.Reference.Type, posting.Reference.ID, nullIfEmpty(posting.Reference.Number),
		posting.CreatedBy, now, nullIfEmpty(posting.Notes))
	if err != nil {
		return nil, err
	}

	displayName := posting.CreatedByName
	if displayName == "" {
		displayName = posting.CreatedBy
	}
	var totalValueCents any
	if posting.UnitCostCents != nil {
		totalValueCents = posting.Quantity.Abs().Mul(decimal.NewFromInt(*posting.UnitCostCents)).Round(0).IntPart()
	}
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO stock_audits (
			id, business_id, location_id, product_id, variation_id,
			transaction_type, transaction_date,
			reference_type, reference_id, reference_number,
			quantity_change, balance_quantity, unit_cost_cents, total_value_cents,
			created_by, created_by_name, reason
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, xid.New("saud"), posting.BusinessID, posting.Key.LocationID, posting.ProductID, posting.Key.VariationID,
		posting.Type, now,
		posting.Reference.Type, posting.Reference.ID, nullIfEmpty(posting.Reference.Number),
		posting.Quantity, next, posting.UnitCostCents, totalValueCents,
		posting.CreatedBy, displayName, nullIfEmpty(posting.Notes))
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &domain.PostingResult{
		TransactionID:   txID,
		PreviousBalance: previous,
		NewBalance:      next,
	}, nil
}

func (s *Store) GetBalance(ctx context.Context, key domain.StockKey) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT qty_available
		FROM stock_balances
		WHERE variation_id = $1 AND location_id = $2
	`, key.VariationID, key.LocationID).Scan(&qty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return qty, nil
}

func (s *Store) GetBalances(ctx context.Context, locationID string, variationIDs []string) (map[string]decimal.Decimal, error) {
	result := make(map[string]decimal.Decimal, len(variationIDs))
	for _, variationID := range variationIDs {
		result[variationID] = decimal.Zero
	}
	if len(variationIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT variation_id, qty_available
		FROM stock_balances
		WHERE location_id = $1 AND variation_id = ANY($2)
	`, locationID, variationIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var variationID string
		var qty decimal.Decimal
		if err := rows.Scan(&variationID, &qty); err != nil {
			return nil, err
		}
		result[variationID] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) SumLedger(ctx context.Context, key domain.StockKey) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM stock_transactions
		WHERE variation_id = $1 AND location_id = $2
	`, key.VariationID, key.LocationID).Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}

func (s *Store) ListLedgerDiscrepancies(ctx context.Context, businessID string, tolerance decimal.Decimal) ([]domain.DriftReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.variation_id, b.location_id, b.qty_available,
			COALESCE(t.ledger_sum, 0) AS ledger_sum
		FROM stock_balances b
		LEFT JOIN (
			SELECT variation_id, location_id, SUM(quantity) AS ledger_sum
			FROM stock_transactions
			WHERE business_id = $1
			GROUP BY variation_id, location_id
		) t ON t.variation_id = b.variation_id AND t.location_id = b.location_id
		WHERE ABS(b.qty_available - COALESCE(t.ledger_sum, 0)) > $2
		ORDER BY b.location_id, b.variation_id
	`, businessID, tolerance)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := make([]domain.DriftReport, 0)
	for rows.Next() {
		var report domain.DriftReport
		if err := rows.Scan(&report.VariationID, &report.LocationID, &report.Physical, &report.Ledger); err != nil {
			return nil, err
		}
		report.Variance = report.Physical.Sub(report.Ledger)
		if report.Variance.IsPositive() {
			report.Diagnosis = "physical higher"
		} else {
			report.Diagnosis = "ledger higher"
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reports, nil
}

// SyncBalanceToLedger rewrites the stored balance to the ledger-derived sum.
// The balance row is locked so a posting racing the repair lands before or
// after it, never inside it.
func (s *Store) SyncBalanceToLedger(ctx context.Context, key domain.StockKey) (*domain.BalanceRepair, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var old decimal.Decimal
	err = pgTx.QueryRowContext(ctx, `
		SELECT qty_available
		FROM stock_balances
		WHERE variation_id = $1 AND location_id = $2
		FOR UPDATE
	`, key.VariationID, key.LocationID).Scan(&old)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	var ledger decimal.Decimal
	err = pgTx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM stock_transactions
		WHERE variation_id = $1 AND location_id = $2
	`, key.VariationID, key.LocationID).Scan(&ledger)
	if err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE stock_balances
		SET qty_available = $3, updated_at = now()
		WHERE variation_id = $1 AND location_id = $2
	`, key.VariationID, key.LocationID, ledger)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &domain.BalanceRepair{
		VariationID: key.VariationID,
		LocationID:  key.LocationID,
		OldBalance:  old,
		NewBalance:  ledger,
		Variance:    old.Sub(ledger),
	}, nil
}

func (s *Store) ListStockTransactions(ctx context.Context, filter domain.StockTransactionFilter) ([]domain.StockTransaction, int64, error) {
	where, args := transactionFilterClause(filter)

	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM stock_transactions `+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit < 1 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query := fmt.Sprintf(`
		SELECT id, business_id, product_id, variation_id, location_id, type,
			quantity, unit_cost_cents, balance_after,
			reference_type, reference_id, COALESCE(reference_number, ''),
			created_by, created_at, COALESCE(notes, '')
		FROM stock_transactions
		%s
		ORDER BY created_at ASC, id ASC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	transactions := make([]domain.StockTransaction, 0, limit)
	for rows.Next() {
		var tx domain.StockTransaction
		if err := rows.Scan(
			&tx.ID, &tx.BusinessID, &tx.ProductID, &tx.VariationID, &tx.LocationID, &tx.Type,
			&tx.Quantity, &tx.UnitCostCents, &tx.BalanceAfter,
			&tx.ReferenceType, &tx.ReferenceID, &tx.ReferenceNumber,
			&tx.CreatedBy, &tx.CreatedAt, &tx.Notes,
		); err != nil {
			return nil, 0, err
		}
		tx.CreatedAt = tx.CreatedAt.UTC()
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return transactions, total, nil
}

func (s *Store) ListStockAudits(ctx context.Context, filter domain.StockTransactionFilter) ([]domain.StockAudit, error) {
	clauses := make([]string, 0, 6)
	args := make([]any, 0, 6)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.BusinessID != "" {
		add("business_id = $%d", filter.BusinessID)
	}
	if filter.LocationID != "" {
		add("location_id = $%d", filter.LocationID)
	}
	if filter.VariationID != "" {
		add("variation_id = $%d", filter.VariationID)
	}
	if filter.ProductID != "" {
		add("product_id = $%d", filter.ProductID)
	}
	if filter.Type != "" {
		add("transaction_type = $%d", filter.Type)
	}
	if !filter.From.IsZero() {
		add("transaction_date >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("transaction_date < $%d", filter.To)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}

	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT id, business_id, location_id, product_id, variation_id,
			transaction_type, transaction_date,
			reference_type, reference_id, COALESCE(reference_number, ''),
			quantity_change, balance_quantity, unit_cost_cents, total_value_cents,
			created_by, created_by_name, COALESCE(reason, '')
		FROM stock_audits
		%s
		ORDER BY transaction_date DESC, id DESC
		LIMIT $%d
	`, where, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	audits := make([]domain.StockAudit, 0, limit)
	for rows.Next() {
		var audit domain.StockAudit
		if err := rows.Scan(
			&audit.ID, &audit.BusinessID, &audit.LocationID, &audit.ProductID, &audit.VariationID,
			&audit.TransactionType, &audit.TransactionDate,
			&audit.ReferenceType, &audit.ReferenceID, &audit.ReferenceNumber,
			&audit.QuantityChange, &audit.BalanceQuantity, &audit.UnitCostCents, &audit.TotalValueCents,
			&audit.CreatedBy, &audit.CreatedByName, &audit.Reason,
		); err != nil {
			return nil, err
		}
		audit.TransactionDate = audit.TransactionDate.UTC()
		audits = append(audits, audit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return audits, nil
}

func transactionFilterClause(filter domain.StockTransactionFilter) (string, []any) {
	clauses := make([]string, 0, 6)
	args := make([]any, 0, 6)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.BusinessID != "" {
		add("business_id = $%d", filter.BusinessID)
	}
	if filter.LocationID != "" {
		add("location_id = $%d", filter.LocationID)
	}
	if filter.VariationID != "" {
		add("variation_id = $%d", filter.VariationID)
	}
	if filter.ProductID != "" {
		add("product_id = $%d", filter.ProductID)
	}
	if filter.Type != "" {
		add("type = $%d", filter.Type)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at < $%d", filter.To)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func (s *Store) CreateStockTransfer(ctx context.Context, transfer domain.StockTransfer) (*domain.StockTransfer, error) {
	if transfer.ID == "" {
		transfer.ID = xid.New("trf")
	}
	if transfer.CreatedAt.IsZero() {
		transfer.CreatedAt = time.Now().UTC()
	}
	if transfer.Status == "" {
		transfer.Status = domain.TransferStatusDeducted
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_transfers (
			id, business_id, product_id, variation_id,
			from_location_id, to_location_id, quantity, status,
			created_by, created_at, received_at, cancelled_at, notes
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, transfer.ID, transfer.BusinessID, transfer.ProductID, transfer.VariationID,
		transfer.FromLocationID, transfer.ToLocationID, transfer.Quantity, transfer.Status,
		transfer.CreatedBy, transfer.CreatedAt, nullTime(transfer.ReceivedAt), nullTime(transfer.CancelledAt),
		nullIfEmpty(transfer.Notes))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRequest
		}
		return nil, err
	}
	saved := transfer
	return &saved, nil
}

func (s *Store) GetStockTransfer(ctx context.Context, id string) (*domain.StockTransfer, error) {
	var transfer domain.StockTransfer
	var receivedAt, cancelledAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, business_id, product_id, variation_id,
			from_location_id, to_location_id, quantity, status,
			created_by, created_at, received_at, cancelled_at, COALESCE(notes, '')
		FROM stock_transfers
		WHERE id = $1
	`, id).Scan(
		&transfer.ID, &transfer.BusinessID, &transfer.ProductID, &transfer.VariationID,
		&transfer.FromLocationID, &transfer.ToLocationID, &transfer.Quantity, &transfer.Status,
		&transfer.CreatedBy, &transfer.CreatedAt, &receivedAt, &cancelledAt, &transfer.Notes,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	transfer.CreatedAt = transfer.CreatedAt.UTC()
	if receivedAt.Valid {
		at := receivedAt.Time.UTC()
		transfer.ReceivedAt = &at
	}
	if cancelledAt.Valid {
		at := cancelledAt.Time.UTC()
		transfer.CancelledAt = &at
	}
	return &transfer, nil
}

// AdvanceStockTransfer moves a transfer between statuses with a compare-and-
// swap on the current status, so the receiving and cancelling legs cannot
// both win.
func (s *Store) AdvanceStockTransfer(ctx context.Context, id string, fromStatus string, toStatus string, at time.Time) (*domain.StockTransfer, error) {
	stampColumn := ""
	switch toStatus {
	case domain.TransferStatusReceived:
		stampColumn = "received_at = $4,"
	case domain.TransferStatusCancelled:
		stampColumn = "cancelled_at = $4,"
	default:
		return nil, store.ErrInvalidRequest
	}

	var transfer domain.StockTransfer
	var receivedAt, cancelledAt sql.NullTime
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE stock_transfers
		SET %s status = $3
		WHERE id = $1 AND status = $2
		RETURNING id, business_id, product_id, variation_id,
			from_location_id, to_location_id, quantity, status,
			created_by, created_at, received_at, cancelled_at, COALESCE(notes, '')
	`, stampColumn), id, fromStatus, toStatus, at).Scan(
		&transfer.ID, &transfer.BusinessID, &transfer.ProductID, &transfer.VariationID,
		&transfer.FromLocationID, &transfer.ToLocationID, &transfer.Quantity, &transfer.Status,
		&transfer.CreatedBy, &transfer.CreatedAt, &receivedAt, &cancelledAt, &transfer.Notes,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			existing, getErr := s.GetStockTransfer(ctx, id)
			if getErr != nil {
				return nil, getErr
			}
			if existing.Status != fromStatus {
				return nil, store.ErrTransferState
			}
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	transfer.CreatedAt = transfer.CreatedAt.UTC()
	if receivedAt.Valid {
		t := receivedAt.Time.UTC()
		transfer.ReceivedAt = &t
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time.UTC()
		transfer.CancelledAt = &t
	}
	return &transfer, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
