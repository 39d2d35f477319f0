package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"tindahan/backend/internal/domain"
	"tindahan/backend/internal/store"
	"tindahan/backend/internal/xid"
)

func (s *Store) CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.LocationID) == "" || strings.TrimSpace(shift.TerminalID) == "" || strings.TrimSpace(shift.CashierName) == "" {
		return nil, store.ErrInvalidRequest
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpen
	shift.ClosedAt = nil
	shift.EndingCashCents = 0
	shift.XReadingCount = 0

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var open int
	err = pgTx.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM shifts
		WHERE location_id = $1 AND terminal_id = $2 AND status = 'open'
	`, shift.LocationID, shift.TerminalID).Scan(&open)
	if err != nil {
		return nil, err
	}
	if open > 0 {
		return nil, store.ErrInvalidRequest
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO shifts (
			id, business_id, location_id, terminal_id, cashier_name,
			beginning_cash_cents, ending_cash_cents, status, x_reading_count,
			opened_at, closed_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, shift.ID, shift.BusinessID, shift.LocationID, shift.TerminalID, shift.CashierName,
		shift.BeginningCashCents, shift.EndingCashCents, shift.Status, shift.XReadingCount,
		shift.OpenedAt, nullTime(shift.ClosedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRequest
		}
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO shift_totals (shift_id, revision, updated_at)
		VALUES ($1, 0, $2)
	`, shift.ID, shift.OpenedAt)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	saved := shift
	return &saved, nil
}

func (s *Store) GetShift(ctx context.Context, id string) (*domain.Shift, error) {
	return s.findShift(ctx, `
		SELECT id, business_id, location_id, terminal_id, cashier_name,
			beginning_cash_cents, ending_cash_cents, status, x_reading_count,
			opened_at, closed_at
		FROM shifts
		WHERE id = $1
	`, id)
}

func (s *Store) GetActiveShift(ctx context.Context, locationID string, terminalID string) (*domain.Shift, error) {
	return s.findShift(ctx, `
		SELECT id, business_id, location_id, terminal_id, cashier_name,
			beginning_cash_cents, ending_cash_cents, status, x_reading_count,
			opened_at, closed_at
		FROM shifts
		WHERE location_id = $1 AND terminal_id = $2 AND status = 'open'
		ORDER BY opened_at DESC
		LIMIT 1
	`, locationID, terminalID)
}

func (s *Store) findShift(ctx context.Context, query string, args ...any) (*domain.Shift, error) {
	var shift domain.Shift
	var closedAtNull sql.NullTime
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&shift.ID,
		&shift.BusinessID,
		&shift.LocationID,
		&shift.TerminalID,
		&shift.CashierName,
		&shift.BeginningCashCents,
		&shift.EndingCashCents,
		&shift.Status,
		&shift.XReadingCount,
		&shift.OpenedAt,
		&closedAtNull,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	shift.OpenedAt = shift.OpenedAt.UTC()
	if closedAtNull.Valid {
		at := closedAtNull.Time.UTC()
		shift.ClosedAt = &at
	}
	return &shift, nil
}

func (s *Store) CloseActiveShift(ctx context.Context, locationID string, terminalID string, endingCashCents int64, closedAt time.Time) (*domain.Shift, error) {
	if strings.TrimSpace(locationID) == "" || strings.TrimSpace(terminalID) == "" {
		return nil, store.ErrInvalidRequest
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	var shift domain.Shift
	var closedAtNull sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		UPDATE shifts
		SET status = 'closed', ending_cash_cents = $3, closed_at = $4
		WHERE location_id = $1 AND terminal_id = $2 AND status = 'open'
		RETURNING id, business_id, location_id, terminal_id, cashier_name,
			beginning_cash_cents, ending_cash_cents, status, x_reading_count,
			opened_at, closed_at
	`, locationID, terminalID, endingCashCents, closedAt).Scan(
		&shift.ID,
		&shift.BusinessID,
		&shift.LocationID,
		&shift.TerminalID,
		&shift.CashierName,
		&shift.BeginningCashCents,
		&shift.EndingCashCents,
		&shift.Status,
		&shift.XReadingCount,
		&shift.OpenedAt,
		&closedAtNull,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	shift.OpenedAt = shift.OpenedAt.UTC()
	if closedAtNull.Valid {
		at := closedAtNull.Time.UTC()
		shift.ClosedAt = &at
	}
	return &shift, nil
}

// AccumulateShiftTotals applies a signed delta to the running counters in one
// statement. Revision bumps on every apply so cached reading payloads can be
// invalidated by comparison alone.
func (s *Store) AccumulateShiftTotals(ctx context.Context, shiftID string, delta domain.TotalsDelta) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE shift_totals
		SET gross_sales_cents = gross_sales_cents + $2,
			net_sales_cents = net_sales_cents + $3,
			vatable_sales_cents = vatable_sales_cents + $4,
			vat_amount_cents = vat_amount_cents + $5,
			vat_exempt_sales_cents = vat_exempt_sales_cents + $6,
			zero_rated_sales_cents = zero_rated_sales_cents + $7,
			cash_sales_cents = cash_sales_cents + $8,
			card_sales_cents = card_sales_cents + $9,
			ewallet_sales_cents = ewallet_sales_cents + $10,
			charge_sales_cents = charge_sales_cents + $11,
			regular_discount_cents = regular_discount_cents + $12,
			senior_discount_cents = senior_discount_cents + $13,
			pwd_discount_cents = pwd_discount_cents + $14,
			ar_cash_collections_cents = ar_cash_collections_cents + $15,
			transaction_count = transaction_count + $16,
			void_count = void_count + $17,
			void_total_cents = void_total_cents + $18,
			revision = revision + 1,
			updated_at = now()
		WHERE shift_id = $1
	`, shiftID,
		delta.GrossSalesCents, delta.NetSalesCents, delta.VatableSalesCents, delta.VatAmountCents,
		delta.VatExemptSalesCents, delta.ZeroRatedSalesCents,
		delta.CashSalesCents, delta.CardSalesCents, delta.EWalletSalesCents, delta.ChargeSalesCents,
		delta.RegularDiscountCents, delta.SeniorDiscountCents, delta.PWDDiscountCents,
		delta.ARCashCollectionsCents,
		delta.TransactionCount, delta.VoidCount, delta.VoidTotalCents)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetShiftTotals(ctx context.Context, shiftID string) (*domain.ShiftTotals, error) {
	var totals domain.ShiftTotals
	err := s.db.QueryRowContext(ctx, `
		SELECT shift_id, gross_sales_cents, net_sales_cents,
			vatable_sales_cents, vat_amount_cents, vat_exempt_sales_cents, zero_rated_sales_cents,
			cash_sales_cents, card_sales_cents, ewallet_sales_cents, charge_sales_cents,
			regular_discount_cents, senior_discount_cents, pwd_discount_cents,
			ar_cash_collections_cents, transaction_count, void_count, void_total_cents,
			revision, updated_at
		FROM shift_totals
		WHERE shift_id = $1
	`, shiftID).Scan(
		&totals.ShiftID,
		&totals.GrossSalesCents,
		&totals.NetSalesCents,
		&totals.VatableSalesCents,
		&totals.VatAmountCents,
		&totals.VatExemptSalesCents,
		&totals.ZeroRatedSalesCents,
		&totals.CashSalesCents,
		&totals.CardSalesCents,
		&totals.EWalletSalesCents,
		&totals.ChargeSalesCents,
		&totals.RegularDiscountCents,
		&totals.SeniorDiscountCents,
		&totals.PWDDiscountCents,
		&totals.ARCashCollectionsCents,
		&totals.TransactionCount,
		&totals.VoidCount,
		&totals.VoidTotalCents,
		&totals.Revision,
		&totals.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Shifts that predate the accumulator have no totals row.
			if _, shiftErr := s.GetShift(ctx, shiftID); shiftErr != nil {
				return nil, shiftErr
			}
			return &domain.ShiftTotals{ShiftID: shiftID}, nil
		}
		return nil, err
	}
	totals.UpdatedAt = totals.UpdatedAt.UTC()
	return &totals, nil
}

func (s *Store) CreateCashMovement(ctx context.Context, movement domain.CashMovement) (*domain.CashMovement, error) {
	if movement.Kind != domain.CashMovementIn && movement.Kind != domain.CashMovementOut {
		return nil, store.ErrInvalidRequest
	}
	if movement.AmountCents <= 0 {
		return nil, store.ErrInvalidRequest
	}
	if movement.ID == "" {
		movement.ID = xid.New("cash")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cash_movements (id, shift_id, location_id, kind, amount_cents, reason, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, movement.ID, movement.ShiftID, movement.LocationID, movement.Kind,
		movement.AmountCents, nullIfEmpty(movement.Reason), movement.CreatedBy, movement.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	saved := movement
	return &saved, nil
}

func (s *Store) ListCashMovements(ctx context.Context, shiftID string) ([]domain.CashMovement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shift_id, location_id, kind, amount_cents, COALESCE(reason, ''), created_by, created_at
		FROM cash_movements
		WHERE shift_id = $1
		ORDER BY created_at ASC, id ASC
	`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.CashMovement, 0, 16)
	for rows.Next() {
		var movement domain.CashMovement
		if err := rows.Scan(&movement.ID, &movement.ShiftID, &movement.LocationID, &movement.Kind,
			&movement.AmountCents, &movement.Reason, &movement.CreatedBy, &movement.CreatedAt); err != nil {
			return nil, err
		}
		movement.CreatedAt = movement.CreatedAt.UTC()
		movements = append(movements, movement)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) SumCashMovements(ctx context.Context, shiftID string) (int64, int64, error) {
	var inCents, outCents int64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(amount_cents) FILTER (WHERE kind = 'cash_in'), 0),
			COALESCE(SUM(amount_cents) FILTER (WHERE kind = 'cash_out'), 0)
		FROM cash_movements
		WHERE shift_id = $1
	`, shiftID).Scan(&inCents, &outCents)
	if err != nil {
		return 0, 0, err
	}
	return inCents, outCents, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if sale.Status == "" {
		sale.Status = domain.SaleStatusPaid
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (
			id, business_id, location_id, terminal_id, shift_id, idempotency_key,
			invoice_number, payment_method, payment_reference,
			gross_cents, discount_cents, discount_type, vat_cents, total_cents,
			cash_received_cents, change_cents, status, void_reason, voided_at,
			created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`, sale.ID, sale.BusinessID, sale.LocationID, sale.TerminalID, sale.ShiftID,
		nullIfEmpty(sale.IdempotencyKey), sale.InvoiceNumber, sale.PaymentMethod,
		nullIfEmpty(sale.PaymentReference),
		sale.GrossCents, sale.DiscountCents, nullIfEmpty(sale.DiscountType), sale.VatCents, sale.TotalCents,
		sale.CashReceived, sale.ChangeCents, sale.Status, nullIfEmpty(sale.VoidReason), nullTime(sale.VoidedAt),
		sale.CreatedBy, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRequest
		}
		return nil, err
	}

	for _, line := range sale.Lines {
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, product_id, variation_id, qty, unit_price_cents, line_total_cents)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, sale.ID, line.ProductID, line.VariationID, line.Qty, line.UnitPriceCents, line.LineTotalCents)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	saved := sale
	return &saved, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return s.findSale(ctx, "id", id)
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	return s.findSale(ctx, "idempotency_key", key)
}

func (s *Store) findSale(ctx context.Context, column string, value string) (*domain.Sale, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, errors.New("unsupported lookup column")
	}

	var sale domain.Sale
	var idempotencyKey, paymentReference, discountType, voidReason sql.NullString
	var voidedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, business_id, location_id, terminal_id, shift_id, idempotency_key,
			invoice_number, payment_method, payment_reference,
			gross_cents, discount_cents, discount_type, vat_cents, total_cents,
			cash_received_cents, change_cents, status, void_reason, voided_at,
			created_by, created_at
		FROM sales
		WHERE `+column+` = $1
	`, value).Scan(
		&sale.ID, &sale.BusinessID, &sale.LocationID, &sale.TerminalID, &sale.ShiftID, &idempotencyKey,
		&sale.InvoiceNumber, &sale.PaymentMethod, &paymentReference,
		&sale.GrossCents, &sale.DiscountCents, &discountType, &sale.VatCents, &sale.TotalCents,
		&sale.CashReceived, &sale.ChangeCents, &sale.Status, &voidReason, &voidedAt,
		&sale.CreatedBy, &sale.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if idempotencyKey.Valid {
		sale.IdempotencyKey = idempotencyKey.String
	}
	if paymentReference.Valid {
		sale.PaymentReference = paymentReference.String
	}
	if discountType.Valid {
		sale.DiscountType = discountType.String
	}
	if voidReason.Valid {
		sale.VoidReason = voidReason.String
	}
	if voidedAt.Valid {
		at := voidedAt.Time.UTC()
		sale.VoidedAt = &at
	}
	sale.CreatedAt = sale.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, variation_id, qty, unit_price_cents, line_total_cents
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY id ASC
	`, sale.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.SaleLine, 0, 8)
	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.ProductID, &line.VariationID, &line.Qty, &line.UnitPriceCents, &line.LineTotalCents); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sale.Lines = lines
	return &sale, nil
}

func (s *Store) MarkSaleVoided(ctx context.Context, id string, reason string, at time.Time) (*domain.Sale, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sales
		SET status = 'voided', void_reason = $2, voided_at = $3
		WHERE id = $1 AND status = 'paid'
	`, id, reason, at)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, getErr := s.GetSale(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, store.ErrInvalidRequest
	}
	return s.GetSale(ctx, id)
}

// AggregateShiftSales rebuilds shift totals from the sales rows. This is the
// slow path for shifts without a running-totals row; one grouped scan, no
// locks.
func (s *Store) AggregateShiftSales(ctx context.Context, shiftID string) (*domain.ShiftTotals, error) {
	totals := domain.ShiftTotals{ShiftID: shiftID}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(gross_cents) FILTER (WHERE status = 'paid'), 0),
			COALESCE(SUM(total_cents) FILTER (WHERE status = 'paid'), 0),
			COALESCE(SUM(total_cents - vat_cents) FILTER (WHERE status = 'paid' AND vat_cents > 0), 0),
			COALESCE(SUM(vat_cents) FILTER (WHERE status = 'paid'), 0),
			COALESCE(SUM(total_cents) FILTER (WHERE status = 'paid' AND vat_cents = 0), 0),
			COALESCE(SUM(total_cents) FILTER (WHERE status = 'paid' AND payment_method = 'cash'), 0),
			COALESCE(SUM(total_cents) FILTER (WHERE status = 'paid' AND payment_method = 'card'), 0),
			COALESCE(SUM(total_cents) FILTER (WHERE status = 'paid' AND payment_method = 'ewallet'), 0),
			COALESCE(SUM(total_cents) FILTER (WHERE status = 'paid' AND payment_method = 'charge'), 0),
			COALESCE(SUM(discount_cents) FILTER (WHERE status = 'paid' AND COALESCE(discount_type, 'regular') NOT IN ('senior','pwd')), 0),
			COALESCE(SUM(discount_cents) FILTER (WHERE status = 'paid' AND discount_type = 'senior'), 0),
			COALESCE(SUM(discount_cents) FILTER (WHERE status = 'paid' AND discount_type = 'pwd'), 0),
			COUNT(*) FILTER (WHERE status = 'paid'),
			COUNT(*) FILTER (WHERE status = 'voided'),
			COALESCE(SUM(total_cents) FILTER (WHERE status = 'voided'), 0)
		FROM sales
		WHERE shift_id = $1
	`, shiftID).Scan(
		&totals.GrossSalesCents,
		&totals.NetSalesCents,
		&totals.VatableSalesCents,
		&totals.VatAmountCents,
		&totals.VatExemptSalesCents,
		&totals.CashSalesCents,
		&totals.CardSalesCents,
		&totals.EWalletSalesCents,
		&totals.ChargeSalesCents,
		&totals.RegularDiscountCents,
		&totals.SeniorDiscountCents,
		&totals.PWDDiscountCents,
		&totals.TransactionCount,
		&totals.VoidCount,
		&totals.VoidTotalCents,
	)
	if err != nil {
		return nil, err
	}
	return &totals, nil
}

func (s *Store) GetShiftItemBreakdown(ctx context.Context, shiftID string) ([]domain.ItemBreakdownRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.product_id, l.variation_id, SUM(l.qty), SUM(l.line_total_cents)
		FROM sale_lines l
		JOIN sales s ON s.id = l.sale_id
		WHERE s.shift_id = $1 AND s.status = 'paid'
		GROUP BY l.product_id, l.variation_id
		ORDER BY SUM(l.line_total_cents) DESC, l.variation_id ASC
	`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	breakdown := make([]domain.ItemBreakdownRow, 0, 32)
	for rows.Next() {
		var row domain.ItemBreakdownRow
		if err := rows.Scan(&row.ProductID, &row.VariationID, &row.QtySold, &row.SalesCents); err != nil {
			return nil, err
		}
		breakdown = append(breakdown, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return breakdown, nil
}

// CreateXReading stamps the reading with the shift's X counter. When the
// caller increments, the bump and the insert share one transaction, so two
// simultaneous requests get distinct numbers.
func (s *Store) CreateXReading(ctx context.Context, reading domain.Reading, incrementCounter bool) (*domain.Reading, error) {
	if reading.ID == "" {
		reading.ID = xid.New("rdg")
	}
	if reading.ReadingTime.IsZero() {
		reading.ReadingTime = time.Now().UTC()
	}
	reading.Type = domain.ReadingTypeX

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if incrementCounter {
		err = pgTx.QueryRowContext(ctx, `
			UPDATE shifts
			SET x_reading_count = x_reading_count + 1
			WHERE id = $1
			RETURNING x_reading_count
		`, reading.ShiftID).Scan(&reading.ReadingNumber)
	} else {
		err = pgTx.QueryRowContext(ctx, `
			SELECT x_reading_count FROM shifts WHERE id = $1
		`, reading.ShiftID).Scan(&reading.ReadingNumber)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if err := insertReading(ctx, pgTx, reading); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	saved := reading
	return &saved, nil
}

// CreateZReading consumes the next per-location Z number. The counter bump,
// the accumulated-sales rollforward, and the reading insert commit together
// or not at all; a gap in the sequence therefore cannot exist, and neither
// can two readings sharing a number.
func (s *Store) CreateZReading(ctx context.Context, reading domain.Reading) (*domain.Reading, error) {
	if reading.ID == "" {
		reading.ID = xid.New("rdg")
	}
	if reading.ReadingTime.IsZero() {
		reading.ReadingTime = time.Now().UTC()
	}
	reading.Type = domain.ReadingTypeZ

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var status string
	err = pgTx.QueryRowContext(ctx, `
		SELECT status FROM shifts WHERE id = $1 FOR UPDATE
	`, reading.ShiftID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if status != domain.ShiftStatusOpen {
		return nil, store.ErrShiftClosed
	}

	var existing int
	err = pgTx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM readings WHERE shift_id = $1 AND type = 'Z'
	`, reading.ShiftID).Scan(&existing)
	if err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, store.ErrDuplicateReading
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO location_counters (location_id, z_counter, reset_counter, accumulated_sales_cents, updated_at)
		VALUES ($1, 0, 0, 0, now())
		ON CONFLICT (location_id) DO NOTHING
	`, reading.LocationID)
	if err != nil {
		return nil, err
	}

	err = pgTx.QueryRowContext(ctx, `
		UPDATE location_counters
		SET z_counter = z_counter + 1,
			accumulated_sales_cents = accumulated_sales_cents + $2,
			updated_at = now()
		WHERE location_id = $1
		RETURNING z_counter
	`, reading.LocationID, reading.GrossSalesCents).Scan(&reading.ReadingNumber)
	if err != nil {
		return nil, err
	}

	if err := insertReading(ctx, pgTx, reading); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateReading
		}
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	saved := reading
	return &saved, nil
}

func insertReading(ctx context.Context, pgTx *sql.Tx, reading domain.Reading) error {
	_, err := pgTx.ExecContext(ctx, `
		INSERT INTO readings (
			id, business_id, location_id, shift_id, type, reading_number, reading_time,
			gross_sales_cents, net_sales_cents, total_discounts_cents,
			expected_cash_cents, transaction_count, payload
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, reading.ID, reading.BusinessID, reading.LocationID, reading.ShiftID,
		reading.Type, reading.ReadingNumber, reading.ReadingTime,
		reading.GrossSalesCents, reading.NetSalesCents, reading.TotalDiscountsCents,
		reading.ExpectedCashCents, reading.TransactionCount, []byte(reading.Payload))
	return err
}

func (s *Store) ListReadings(ctx context.Context, shiftID string) ([]domain.Reading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, business_id, location_id, shift_id, type, reading_number, reading_time,
			gross_sales_cents, net_sales_cents, total_discounts_cents,
			expected_cash_cents, transaction_count, payload
		FROM readings
		WHERE shift_id = $1
		ORDER BY reading_time ASC, id ASC
	`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	readings := make([]domain.Reading, 0, 8)
	for rows.Next() {
		var reading domain.Reading
		var payload []byte
		if err := rows.Scan(
			&reading.ID, &reading.BusinessID, &reading.LocationID, &reading.ShiftID,
			&reading.Type, &reading.ReadingNumber, &reading.ReadingTime,
			&reading.GrossSalesCents, &reading.NetSalesCents, &reading.TotalDiscountsCents,
			&reading.ExpectedCashCents, &reading.TransactionCount, &payload,
		); err != nil {
			return nil, err
		}
		reading.ReadingTime = reading.ReadingTime.UTC()
		reading.Payload = payload
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return readings, nil
}

func (s *Store) GetLocationCounters(ctx context.Context, locationID string) (*domain.LocationCounters, error) {
	var counters domain.LocationCounters
	err := s.db.QueryRowContext(ctx, `
		SELECT location_id, z_counter, reset_counter, accumulated_sales_cents, updated_at
		FROM location_counters
		WHERE location_id = $1
	`, locationID).Scan(
		&counters.LocationID,
		&counters.ZCounter,
		&counters.ResetCounter,
		&counters.AccumulatedSalesCents,
		&counters.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.LocationCounters{LocationID: locationID}, nil
		}
		return nil, err
	}
	counters.UpdatedAt = counters.UpdatedAt.UTC()
	return &counters, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRequest
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidRequest
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRequest
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
