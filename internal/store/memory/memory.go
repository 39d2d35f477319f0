package memory

import (
	"context"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"tindahan/backend/internal/domain"
	"tindahan/backend/internal/store"
	"tindahan/backend/internal/xid"
)

// Store is an in-memory Repository used for tests and credential-free dev
// runs. A single mutex stands in for the row locks of the postgres store:
// coarser, but it serializes same-key postings the same way, so every ledger
// invariant holds identically.
type Store struct {
	mu                 sync.Mutex
	balances           map[domain.StockKey]domain.StockBalance
	transactions       []domain.StockTransaction
	audits             []domain.StockAudit
	transfersByID      map[string]domain.StockTransfer
	shiftsByID         map[string]domain.Shift
	activeShiftByKey   map[string]string
	totalsByShift      map[string]domain.ShiftTotals
	cashMovements      map[string][]domain.CashMovement
	salesByID          map[string]domain.Sale
	saleIDByIdem       map[string]string
	readings           []domain.Reading
	zIssuedForShift    map[string]bool
	countersByLocation map[string]domain.LocationCounters
	usersByUsername    map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		balances:           make(map[domain.StockKey]domain.StockBalance),
		transfersByID:      make(map[string]domain.StockTransfer),
		shiftsByID:         make(map[string]domain.Shift),
		activeShiftByKey:   make(map[string]string),
		totalsByShift:      make(map[string]domain.ShiftTotals),
		cashMovements:      make(map[string][]domain.CashMovement),
		salesByID:          make(map[string]domain.Sale),
		saleIDByIdem:       make(map[string]string),
		zIssuedForShift:    make(map[string]bool),
		countersByLocation: make(map[string]domain.LocationCounters),
		usersByUsername:    make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store pre-loaded with dev credentials. Passwords come
// from SEED_ADMIN_PASSWORD / SEED_CASHIER_PASSWORD; hardcoded defaults are
// used (with a warning) when unset. Production deployments set DATABASE_URL
// and never touch this path.
func NewSeeded() *Store {
	s := New()
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}
	now := time.Now().UTC()
	for _, u := range []struct {
		username, password, role string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		s.usersByUsername[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) PostStockTransaction(_ context.Context, posting domain.StockPosting) (*domain.PostingResult, error) {
	if posting.Quantity.IsZero() || !posting.Type.Valid() {
		return nil, store.ErrInvalidRequest
	}
	if posting.Key.VariationID == "" || posting.Key.LocationID == "" {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	balance, ok := s.balances[posting.Key]
	if !ok {
		balance = domain.StockBalance{
			VariationID:  posting.Key.VariationID,
			LocationID:   posting.Key.LocationID,
			QtyAvailable: decimal.Zero,
		}
	}

	previous := balance.QtyAvailable
	next := previous.Add(posting.Quantity)
	if next.IsNegative() && posting.Policy != domain.AllowNegative {
		return nil, &domain.InsufficientStockError{
			VariationID: posting.Key.VariationID,
			LocationID:  posting.Key.LocationID,
			Available:   previous,
			Requested:   posting.Quantity.Neg(),
		}
	}

	balance.QtyAvailable = next
	balance.UpdatedAt = now
	s.balances[posting.Key] = balance

	tx := domain.StockTransaction{
		ID:              xid.New("stx"),
		BusinessID:      posting.BusinessID,
		ProductID:       posting.ProductID,
		VariationID:     posting.Key.VariationID,
		LocationID:      posting.Key.LocationID,
		Type:            posting.Type,
		Quantity:        posting.Quantity,
		UnitCostCents:   posting.UnitCostCents,
		BalanceAfter:    next,
		ReferenceType:   posting.Reference.Type,
		ReferenceID:     posting.Reference.ID,
		ReferenceNumber: posting.Reference.Number,
		CreatedBy:       posting.CreatedBy,
		CreatedAt:       now,
		Notes:           posting.Notes,
	}
	s.transactions = append(s.transactions, tx)

	displayName := posting.CreatedByName
	if displayName == "" {
		displayName = posting.CreatedBy
	}
	audit := domain.StockAudit{
		ID:              xid.New("saud"),
		BusinessID:      posting.BusinessID,
		LocationID:      posting.Key.LocationID,
		ProductID:       posting.ProductID,
		VariationID:     posting.Key.VariationID,
		TransactionType: posting.Type,
		TransactionDate: now,
		ReferenceType:   posting.Reference.Type,
		ReferenceID:     posting.Reference.ID,
		ReferenceNumber: posting.Reference.Number,
		QuantityChange:  posting.Quantity,
		BalanceQuantity: next,
		UnitCostCents:   posting.UnitCostCents,
		CreatedBy:       posting.CreatedBy,
		CreatedByName:   displayName,
		Reason:          posting.Notes,
	}
	if posting.UnitCostCents != nil {
		total := posting.Quantity.Abs().Mul(decimal.NewFromInt(*posting.UnitCostCents)).Round(0).IntPart()
		audit.TotalValueCents = &total
	}
	s.audits = append(s.audits, audit)

	return &domain.PostingResult{
		TransactionID:   tx.ID,
		PreviousBalance: previous,
		NewBalance:      next,
	}, nil
}

func (s *Store) GetBalance(_ context.Context, key domain.StockKey) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	balance, ok := s.balances[key]
	if !ok {
		return decimal.Zero, nil
	}
	return balance.QtyAvailable, nil
}

func (s *Store) GetBalances(_ context.Context, locationID string, variationIDs []string) (map[string]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[string]decimal.Decimal, len(variationIDs))
	for _, variationID := range variationIDs {
		balance, ok := s.balances[domain.StockKey{VariationID: variationID, LocationID: locationID}]
		if ok {
			result[variationID] = balance.QtyAvailable
		} else {
			result[variationID] = decimal.Zero
		}
	}
	return result, nil
}

func (s *Store) SumLedger(_ context.Context, key domain.StockKey) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sumLedgerLocked(key), nil
}

func (s *Store) sumLedgerLocked(key domain.StockKey) decimal.Decimal {
	sum := decimal.Zero
	for _, tx := range s.transactions {
		if tx.VariationID == key.VariationID && tx.LocationID == key.LocationID {
			sum = sum.Add(tx.Quantity)
		}
	}
	return sum
}

func (s *Store) ListLedgerDiscrepancies(_ context.Context, businessID string, tolerance decimal.Decimal) ([]domain.DriftReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reports := make([]domain.DriftReport, 0)
	keys := make([]domain.StockKey, 0, len(s.balances))
	for key := range s.balances {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].LocationID != keys[j].LocationID {
			return keys[i].LocationID < keys[j].LocationID
		}
		return keys[i].VariationID < keys[j].VariationID
	})

	for _, key := range keys {
		physical := s.balances[key].QtyAvailable
		ledger := s.sumLedgerLocked(key)
		variance := physical.Sub(ledger)
		if variance.Abs().Cmp(tolerance) <= 0 {
			continue
		}
		diagnosis := "ledger higher"
		if variance.IsPositive() {
			diagnosis = "physical higher"
		}
		reports = append(reports, domain.DriftReport{
			VariationID: key.VariationID,
			LocationID:  key.LocationID,
			Physical:    physical,
			Ledger:      ledger,
			Variance:    variance,
			Diagnosis:   diagnosis,
		})
	}
	return reports, nil
}

func (s *Store) SyncBalanceToLedger(_ context.Context, key domain.StockKey) (*domain.BalanceRepair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance, ok := s.balances[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	ledger := s.sumLedgerLocked(key)
	repair := &domain.BalanceRepair{
		VariationID: key.VariationID,
		LocationID:  key.LocationID,
		OldBalance:  balance.QtyAvailable,
		NewBalance:  ledger,
		Variance:    balance.QtyAvailable.Sub(ledger),
	}
	balance.QtyAvailable = ledger
	balance.UpdatedAt = time.Now().UTC()
	s.balances[key] = balance
	return repair, nil
}

// OverrideBalance mutates a stored balance without a ledger posting. Test
// hook for simulating drift; no production caller exists.
func (s *Store) OverrideBalance(key domain.StockKey, qty decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	balance, ok := s.balances[key]
	if !ok {
		balance = domain.StockBalance{VariationID: key.VariationID, LocationID: key.LocationID}
	}
	balance.QtyAvailable = qty
	balance.UpdatedAt = time.Now().UTC()
	s.balances[key] = balance
}

func matchesFilter(tx domain.StockTransaction, filter domain.StockTransactionFilter) bool {
	if filter.BusinessID != "" && tx.BusinessID != filter.BusinessID {
		return false
	}
	if filter.LocationID != "" && tx.LocationID != filter.LocationID {
		return false
	}
	if filter.VariationID != "" && tx.VariationID != filter.VariationID {
		return false
	}
	if filter.ProductID != "" && tx.ProductID != filter.ProductID {
		return false
	}
	if filter.Type != "" && tx.Type != filter.Type {
		return false
	}
	if !filter.From.IsZero() && tx.CreatedAt.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && !tx.CreatedAt.Before(filter.To) {
		return false
	}
	return true
}

func (s *Store) ListStockTransactions(_ context.Context, filter domain.StockTransactionFilter) ([]domain.StockTransaction, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]domain.StockTransaction, 0)
	for _, tx := range s.transactions {
		if matchesFilter(tx, filter) {
			matched = append(matched, tx)
		}
	}
	total := int64(len(matched))

	offset := filter.Offset
	if offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (s *Store) ListStockAudits(_ context.Context, filter domain.StockTransactionFilter) ([]domain.StockAudit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Newest first, matching the persisted store's ordering.
	matched := make([]domain.StockAudit, 0)
	for i := len(s.audits) - 1; i >= 0; i-- {
		audit := s.audits[i]
		tx := domain.StockTransaction{
			BusinessID:  audit.BusinessID,
			LocationID:  audit.LocationID,
			VariationID: audit.VariationID,
			ProductID:   audit.ProductID,
			Type:        audit.TransactionType,
			CreatedAt:   audit.TransactionDate,
		}
		if matchesFilter(tx, filter) {
			matched = append(matched, audit)
		}
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (s *Store) CreateStockTransfer(_ context.Context, transfer domain.StockTransfer) (*domain.StockTransfer, error) {
	if transfer.ID == "" {
		transfer.ID = xid.New("trf")
	}
	if transfer.CreatedAt.IsZero() {
		transfer.CreatedAt = time.Now().UTC()
	}
	if transfer.Status == "" {
		transfer.Status = domain.TransferStatusDeducted
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.transfersByID[transfer.ID]; exists {
		return nil, store.ErrInvalidRequest
	}
	s.transfersByID[transfer.ID] = transfer
	saved := transfer
	return &saved, nil
}

func (s *Store) GetStockTransfer(_ context.Context, id string) (*domain.StockTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	transfer, ok := s.transfersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	saved := transfer
	return &saved, nil
}

func (s *Store) AdvanceStockTransfer(_ context.Context, id string, fromStatus string, toStatus string, at time.Time) (*domain.StockTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	transfer, ok := s.transfersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if transfer.Status != fromStatus {
		return nil, store.ErrTransferState
	}
	transfer.Status = toStatus
	switch toStatus {
	case domain.TransferStatusReceived:
		transfer.ReceivedAt = &at
	case domain.TransferStatusCancelled:
		transfer.CancelledAt = &at
	}
	s.transfersByID[id] = transfer
	saved := transfer
	return &saved, nil
}

func shiftKey(locationID, terminalID string) string {
	return locationID + "|" + terminalID
}

func (s *Store) CreateShift(_ context.Context, shift domain.Shift) (*domain.Shift, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	key := shiftKey(shift.LocationID, shift.TerminalID)
	if _, open := s.activeShiftByKey[key]; open {
		return nil, store.ErrInvalidRequest
	}
	s.shiftsByID[shift.ID] = shift
	s.activeShiftByKey[key] = shift.ID
	s.totalsByShift[shift.ID] = domain.ShiftTotals{ShiftID: shift.ID, UpdatedAt: shift.OpenedAt}
	saved := shift
	return &saved, nil
}

func (s *Store) GetShift(_ context.Context, id string) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shift, ok := s.shiftsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	saved := shift
	return &saved, nil
}

func (s *Store) GetActiveShift(_ context.Context, locationID string, terminalID string) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.activeShiftByKey[shiftKey(locationID, terminalID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	shift := s.shiftsByID[id]
	saved := shift
	return &saved, nil
}

func (s *Store) CloseActiveShift(_ context.Context, locationID string, terminalID string, endingCashCents int64, closedAt time.Time) (*domain.Shift, error) {
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := shiftKey(locationID, terminalID)
	id, ok := s.activeShiftByKey[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	shift := s.shiftsByID[id]
	shift.Status = domain.ShiftStatusClosed
	shift.EndingCashCents = endingCashCents
	shift.ClosedAt = &closedAt
	s.shiftsByID[id] = shift
	delete(s.activeShiftByKey, key)
	saved := shift
	return &saved, nil
}

func (s *Store) AccumulateShiftTotals(_ context.Context, shiftID string, delta domain.TotalsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shiftsByID[shiftID]; !ok {
		return store.ErrNotFound
	}
	totals := s.totalsByShift[shiftID]
	totals.ShiftID = shiftID
	totals.GrossSalesCents += delta.GrossSalesCents
	totals.NetSalesCents += delta.NetSalesCents
	totals.VatableSalesCents += delta.VatableSalesCents
	totals.VatAmountCents += delta.VatAmountCents
	totals.VatExemptSalesCents += delta.VatExemptSalesCents
	totals.ZeroRatedSalesCents += delta.ZeroRatedSalesCents
	totals.CashSalesCents += delta.CashSalesCents
	totals.CardSalesCents += delta.CardSalesCents
	totals.EWalletSalesCents += delta.EWalletSalesCents
	totals.ChargeSalesCents += delta.ChargeSalesCents
	totals.RegularDiscountCents += delta.RegularDiscountCents
	totals.SeniorDiscountCents += delta.SeniorDiscountCents
	totals.PWDDiscountCents += delta.PWDDiscountCents
	totals.ARCashCollectionsCents += delta.ARCashCollectionsCents
	totals.TransactionCount += delta.TransactionCount
	totals.VoidCount += delta.VoidCount
	totals.VoidTotalCents += delta.VoidTotalCents
	totals.Revision++
	totals.UpdatedAt = time.Now().UTC()
	s.totalsByShift[shiftID] = totals
	return nil
}

func (s *Store) GetShiftTotals(_ context.Context, shiftID string) (*domain.ShiftTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shiftsByID[shiftID]; !ok {
		return nil, store.ErrNotFound
	}
	totals, ok := s.totalsByShift[shiftID]
	if !ok {
		totals = domain.ShiftTotals{ShiftID: shiftID}
	}
	saved := totals
	return &saved, nil
}

// DropShiftTotals removes the running-totals row for a shift, simulating
// legacy data that predates the accumulator. Test hook only.
func (s *Store) DropShiftTotals(shiftID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.totalsByShift, shiftID)
}

func (s *Store) CreateCashMovement(_ context.Context, movement domain.CashMovement) (*domain.CashMovement, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shiftsByID[movement.ShiftID]; !ok {
		return nil, store.ErrNotFound
	}
	s.cashMovements[movement.ShiftID] = append(s.cashMovements[movement.ShiftID], movement)
	saved := movement
	return &saved, nil
}

func (s *Store) ListCashMovements(_ context.Context, shiftID string) ([]domain.CashMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	movements := s.cashMovements[shiftID]
	result := make([]domain.CashMovement, len(movements))
	copy(result, movements)
	return result, nil
}

func (s *Store) SumCashMovements(_ context.Context, shiftID string) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inCents, outCents int64
	for _, movement := range s.cashMovements[shiftID] {
		switch movement.Kind {
		case domain.CashMovementIn:
			inCents += movement.AmountCents
		case domain.CashMovementOut:
			outCents += movement.AmountCents
		}
	}
	return inCents, outCents, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if sale.Status == "" {
		sale.Status = domain.SaleStatusPaid
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sale.IdempotencyKey != "" {
		if _, exists := s.saleIDByIdem[sale.IdempotencyKey]; exists {
			return nil, store.ErrInvalidRequest
		}
	}
	s.salesByID[sale.ID] = sale
	if sale.IdempotencyKey != "" {
		s.saleIDByIdem[sale.IdempotencyKey] = sale.ID
	}
	saved := sale
	return &saved, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	saved := sale
	return &saved, nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.saleIDByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale := s.salesByID[id]
	saved := sale
	return &saved, nil
}

func (s *Store) MarkSaleVoided(_ context.Context, id string, reason string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sale.Status != domain.SaleStatusPaid {
		return nil, store.ErrInvalidRequest
	}
	sale.Status = domain.SaleStatusVoided
	sale.VoidReason = reason
	sale.VoidedAt = &at
	s.salesByID[id] = sale
	saved := sale
	return &saved, nil
}

func (s *Store) AggregateShiftSales(_ context.Context, shiftID string) (*domain.ShiftTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	totals := domain.ShiftTotals{ShiftID: shiftID}
	for _, sale := range s.salesByID {
		if sale.ShiftID != shiftID {
			continue
		}
		if sale.Status == domain.SaleStatusVoided {
			totals.VoidCount++
			totals.VoidTotalCents += sale.TotalCents
			continue
		}
		totals.TransactionCount++
		totals.GrossSalesCents += sale.GrossCents
		totals.NetSalesCents += sale.TotalCents
		totals.VatAmountCents += sale.VatCents
		if sale.VatCents > 0 {
			totals.VatableSalesCents += sale.TotalCents - sale.VatCents
		} else {
			totals.VatExemptSalesCents += sale.TotalCents
		}
		switch sale.PaymentMethod {
		case domain.PaymentCash:
			totals.CashSalesCents += sale.TotalCents
		case domain.PaymentCard:
			totals.CardSalesCents += sale.TotalCents
		case domain.PaymentEWallet:
			totals.EWalletSalesCents += sale.TotalCents
		case domain.PaymentCharge:
			totals.ChargeSalesCents += sale.TotalCents
		}
		switch sale.DiscountType {
		case domain.DiscountSenior:
			totals.SeniorDiscountCents += sale.DiscountCents
		case domain.DiscountPWD:
			totals.PWDDiscountCents += sale.DiscountCents
		default:
			totals.RegularDiscountCents += sale.DiscountCents
		}
	}
	return &totals, nil
}

func (s *Store) GetShiftItemBreakdown(ctx context.Context, shiftID string) ([]domain.ItemBreakdownRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type itemKey struct{ productID, variationID string }
	grouped := make(map[itemKey]*domain.ItemBreakdownRow)
	for _, sale := range s.salesByID {
		if sale.ShiftID != shiftID || sale.Status == domain.SaleStatusVoided {
			continue
		}
		for _, line := range sale.Lines {
			key := itemKey{line.ProductID, line.VariationID}
			row, ok := grouped[key]
			if !ok {
				row = &domain.ItemBreakdownRow{ProductID: line.ProductID, VariationID: line.VariationID}
				grouped[key] = row
			}
			row.QtySold = row.QtySold.Add(line.Qty)
			row.SalesCents += line.LineTotalCents
		}
	}

	rows := make([]domain.ItemBreakdownRow, 0, len(grouped))
	for _, row := range grouped {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].SalesCents != rows[j].SalesCents {
			return rows[i].SalesCents > rows[j].SalesCents
		}
		return rows[i].VariationID < rows[j].VariationID
	})
	return rows, nil
}

func (s *Store) CreateXReading(_ context.Context, reading domain.Reading, incrementCounter bool) (*domain.Reading, error) {
	if reading.ID == "" {
		reading.ID = xid.New("rdg")
	}
	if reading.ReadingTime.IsZero() {
		reading.ReadingTime = time.Now().UTC()
	}
	reading.Type = domain.ReadingTypeX

	s.mu.Lock()
	defer s.mu.Unlock()
	shift, ok := s.shiftsByID[reading.ShiftID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if incrementCounter {
		shift.XReadingCount++
		s.shiftsByID[reading.ShiftID] = shift
	}
	reading.ReadingNumber = shift.XReadingCount
	s.readings = append(s.readings, reading)
	saved := reading
	return &saved, nil
}

func (s *Store) CreateZReading(_ context.Context, reading domain.Reading) (*domain.Reading, error) {
	if reading.ID == "" {
		reading.ID = xid.New("rdg")
	}
	if reading.ReadingTime.IsZero() {
		reading.ReadingTime = time.Now().UTC()
	}
	reading.Type = domain.ReadingTypeZ

	s.mu.Lock()
	defer s.mu.Unlock()
	shift, ok := s.shiftsByID[reading.ShiftID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if shift.Status != domain.ShiftStatusOpen {
		return nil, store.ErrShiftClosed
	}
	if s.zIssuedForShift[reading.ShiftID] {
		return nil, store.ErrDuplicateReading
	}

	counters, ok := s.countersByLocation[reading.LocationID]
	if !ok {
		counters = domain.LocationCounters{LocationID: reading.LocationID}
	}
	counters.ZCounter++
	counters.AccumulatedSalesCents += reading.GrossSalesCents
	counters.UpdatedAt = time.Now().UTC()
	s.countersByLocation[reading.LocationID] = counters

	reading.ReadingNumber = counters.ZCounter
	s.readings = append(s.readings, reading)
	s.zIssuedForShift[reading.ShiftID] = true
	saved := reading
	return &saved, nil
}

func (s *Store) ListReadings(_ context.Context, shiftID string) ([]domain.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]domain.Reading, 0)
	for _, reading := range s.readings {
		if reading.ShiftID == shiftID {
			result = append(result, reading)
		}
	}
	return result, nil
}

func (s *Store) GetLocationCounters(_ context.Context, locationID string) (*domain.LocationCounters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counters, ok := s.countersByLocation[locationID]
	if !ok {
		counters = domain.LocationCounters{LocationID: locationID}
	}
	saved := counters
	return &saved, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidRequest
	}
	user.Username = username
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
