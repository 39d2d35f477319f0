package sales

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tindahan/backend/internal/domain"
	"tindahan/backend/internal/ledger"
	"tindahan/backend/internal/store"
	"tindahan/backend/internal/xid"
)

// Service records sales against an open shift and keeps the stock ledger and
// the shift's running totals moving with them.
type Service struct {
	repo       store.Repository
	engine     *ledger.Engine
	validator  *ledger.Validator
	businessID string
}

func New(repo store.Repository, engine *ledger.Engine, validator *ledger.Validator, businessID string) *Service {
	if businessID == "" {
		businessID = "main-business"
	}
	return &Service{repo: repo, engine: engine, validator: validator, businessID: businessID}
}

type SaleLineRequest struct {
	ProductID      string          `json:"product_id"`
	VariationID    string          `json:"variation_id"`
	Qty            decimal.Decimal `json:"qty"`
	UnitPriceCents int64           `json:"unit_price_cents"`
}

type SaleRequest struct {
	LocationID       string            `json:"location_id"`
	TerminalID       string            `json:"terminal_id"`
	IdempotencyKey   string            `json:"idempotency_key"`
	Lines            []SaleLineRequest `json:"lines"`
	PaymentMethod    string            `json:"payment_method"`
	PaymentReference string            `json:"payment_reference,omitempty"`
	DiscountCents    int64             `json:"discount_cents"`
	DiscountType     string            `json:"discount_type,omitempty"`
	CashReceived     int64             `json:"cash_received_cents"`
}

// VAT is price-inclusive at 12%; senior and PWD sales are exempt.
const vatRatePercent = 12

func vatPortion(totalCents int64) int64 {
	return totalCents * vatRatePercent / (100 + vatRatePercent)
}

// RecordSale is idempotent on the client-supplied key. Stock leaves the
// ledger line by line; each posting is atomic on its own, and a rejection
// partway through compensates the lines already posted before surfacing the
// shortage.
func (s *Service) RecordSale(ctx context.Context, req SaleRequest) (*domain.Sale, error) {
	if strings.TrimSpace(req.IdempotencyKey) == "" || len(req.Lines) == 0 {
		return nil, store.ErrInvalidRequest
	}
	switch req.PaymentMethod {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentEWallet, domain.PaymentCharge:
	default:
		return nil, store.ErrInvalidRequest
	}
	switch req.DiscountType {
	case "", domain.DiscountRegular, domain.DiscountSenior, domain.DiscountPWD:
	default:
		return nil, store.ErrInvalidRequest
	}

	if existing, err := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	shift, err := s.repo.GetActiveShift(ctx, req.LocationID, req.TerminalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrShiftClosed
		}
		return nil, err
	}

	// Advisory pre-check to fail fast on an obviously short cart. The row
	// lock inside each posting is what actually enforces the policy.
	availabilityReqs := make([]ledger.AvailabilityRequest, 0, len(req.Lines))
	for _, line := range req.Lines {
		if !line.Qty.IsPositive() || line.UnitPriceCents < 0 {
			return nil, store.ErrInvalidRequest
		}
		availabilityReqs = append(availabilityReqs, ledger.AvailabilityRequest{
			VariationID: line.VariationID,
			Quantity:    line.Qty,
		})
	}
	checks, err := s.engine.CheckBatchAvailability(ctx, req.LocationID, availabilityReqs)
	if err != nil {
		return nil, err
	}
	for _, check := range checks {
		if !check.Available {
			return nil, &domain.InsufficientStockError{
				VariationID: check.VariationID,
				LocationID:  check.LocationID,
				Available:   check.CurrentStock,
				Requested:   check.Requested,
			}
		}
	}

	saleID := xid.New("sale")
	grossCents := int64(0)
	saleLines := make([]domain.SaleLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lineTotal := line.Qty.Mul(decimal.NewFromInt(line.UnitPriceCents)).Round(0).IntPart()
		grossCents += lineTotal
		saleLines = append(saleLines, domain.SaleLine{
			ProductID:      line.ProductID,
			VariationID:    line.VariationID,
			Qty:            line.Qty,
			UnitPriceCents: line.UnitPriceCents,
			LineTotalCents: lineTotal,
		})
	}
	if req.DiscountCents < 0 || req.DiscountCents > grossCents {
		return nil, store.ErrInvalidRequest
	}
	totalCents := grossCents - req.DiscountCents

	vatCents := int64(0)
	if req.DiscountType != domain.DiscountSenior && req.DiscountType != domain.DiscountPWD {
		vatCents = vatPortion(totalCents)
	}

	changeCents := int64(0)
	if req.PaymentMethod == domain.PaymentCash {
		if req.CashReceived < totalCents {
			return nil, store.ErrInvalidRequest
		}
		changeCents = req.CashReceived - totalCents
	}

	posted := make([]domain.SaleLine, 0, len(saleLines))
	for _, line := range saleLines {
		_, err := s.engine.DeductStock(ctx, ledger.DeductStockRequest{
			ProductID:   line.ProductID,
			VariationID: line.VariationID,
			LocationID:  req.LocationID,
			Quantity:    line.Qty,
			Type:        domain.TxTypeSale,
			Reference:   domain.Reference{Type: "sale", ID: saleID},
			Policy:      domain.StrictPositive,
		})
		if err != nil {
			s.compensatePostedLines(ctx, saleID, req.LocationID, posted)
			return nil, err
		}
		posted = append(posted, line)
	}

	createdBy := ""
	if actor, ok := domain.ActorFromContext(ctx); ok {
		createdBy = actor.Username
	}
	sale := domain.Sale{
		ID:               saleID,
		BusinessID:       s.businessID,
		LocationID:       req.LocationID,
		TerminalID:       req.TerminalID,
		ShiftID:          shift.ID,
		IdempotencyKey:   req.IdempotencyKey,
		InvoiceNumber:    xid.New("inv"),
		PaymentMethod:    req.PaymentMethod,
		PaymentReference: req.PaymentReference,
		GrossCents:       grossCents,
		DiscountCents:    req.DiscountCents,
		DiscountType:     req.DiscountType,
		VatCents:         vatCents,
		TotalCents:       totalCents,
		CashReceived:     req.CashReceived,
		ChangeCents:      changeCents,
		Status:           domain.SaleStatusPaid,
		CreatedBy:        createdBy,
		Lines:            saleLines,
	}

	saved, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		// A concurrent request with the same key won the race; the lookup
		// returns its sale, and our postings get compensated.
		if errors.Is(err, store.ErrInvalidRequest) {
			if existing, lookupErr := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey); lookupErr == nil {
				s.compensatePostedLines(ctx, saleID, req.LocationID, posted)
				return existing, nil
			}
		}
		s.compensatePostedLines(ctx, saleID, req.LocationID, posted)
		return nil, err
	}

	if err := s.repo.AccumulateShiftTotals(ctx, shift.ID, saleTotalsDelta(saved, 1)); err != nil {
		log.Printf("[sales] WARN: failed to accumulate totals for shift %s: %v", shift.ID, err)
	}

	if s.validator != nil {
		for _, line := range saved.Lines {
			if err := s.validator.CheckAfterWrite(ctx, line.VariationID, req.LocationID); err != nil {
				return nil, err
			}
		}
	}
	return saved, nil
}

func (s *Service) compensatePostedLines(ctx context.Context, saleID string, locationID string, posted []domain.SaleLine) {
	for _, line := range posted {
		_, err := s.engine.PostAdjustment(ctx, domain.StockPosting{
			ProductID: line.ProductID,
			Key:       domain.StockKey{VariationID: line.VariationID, LocationID: locationID},
			Quantity:  line.Qty,
			Type:      domain.TxTypeCorrection,
			Reference: domain.Reference{Type: "sale_rollback", ID: saleID},
			Notes:     "compensating rejected sale",
			Policy:    domain.AllowNegative,
		})
		if err != nil {
			log.Printf("[sales] ERROR: failed to compensate line variation=%s sale=%s: %v", line.VariationID, saleID, err)
		}
	}
}

// VoidSale reverses a paid sale: stock returns through positive sale-type
// postings referencing the void, and the shift counters take the negative
// delta plus the void tallies. Authorization happens at the transport layer.
func (s *Service) VoidSale(ctx context.Context, saleID string, reason string) (*domain.Sale, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, store.ErrInvalidRequest
	}

	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale.Status != domain.SaleStatusPaid {
		return nil, store.ErrInvalidRequest
	}

	voided, err := s.repo.MarkSaleVoided(ctx, saleID, reason, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	for _, line := range voided.Lines {
		_, err := s.engine.PostAdjustment(ctx, domain.StockPosting{
			ProductID: line.ProductID,
			Key:       domain.StockKey{VariationID: line.VariationID, LocationID: voided.LocationID},
			Quantity:  line.Qty,
			Type:      domain.TxTypeSale,
			Reference: domain.Reference{Type: "void", ID: voided.ID},
			Notes:     reason,
			Policy:    domain.AllowNegative,
		})
		if err != nil {
			log.Printf("[sales] ERROR: failed to restock voided line variation=%s sale=%s: %v", line.VariationID, voided.ID, err)
		}
	}

	delta := saleTotalsDelta(voided, -1)
	delta.TransactionCount = -1
	delta.VoidCount = 1
	delta.VoidTotalCents = voided.TotalCents
	if err := s.repo.AccumulateShiftTotals(ctx, voided.ShiftID, delta); err != nil {
		log.Printf("[sales] WARN: failed to reverse totals for shift %s: %v", voided.ShiftID, err)
	}
	return voided, nil
}

func saleTotalsDelta(sale *domain.Sale, sign int64) domain.TotalsDelta {
	delta := domain.TotalsDelta{
		GrossSalesCents:  sign * sale.GrossCents,
		NetSalesCents:    sign * sale.TotalCents,
		VatAmountCents:   sign * sale.VatCents,
		TransactionCount: sign,
	}
	if sale.VatCents > 0 {
		delta.VatableSalesCents = sign * (sale.TotalCents - sale.VatCents)
	} else {
		delta.VatExemptSalesCents = sign * sale.TotalCents
	}
	switch sale.PaymentMethod {
	case domain.PaymentCash:
		delta.CashSalesCents = sign * sale.TotalCents
	case domain.PaymentCard:
		delta.CardSalesCents = sign * sale.TotalCents
	case domain.PaymentEWallet:
		delta.EWalletSalesCents = sign * sale.TotalCents
	case domain.PaymentCharge:
		delta.ChargeSalesCents = sign * sale.TotalCents
	}
	switch sale.DiscountType {
	case domain.DiscountSenior:
		delta.SeniorDiscountCents = sign * sale.DiscountCents
	case domain.DiscountPWD:
		delta.PWDDiscountCents = sign * sale.DiscountCents
	default:
		delta.RegularDiscountCents = sign * sale.DiscountCents
	}
	return delta
}

func (s *Service) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	return s.repo.GetSale(ctx, saleID)
}

type OpenShiftRequest struct {
	LocationID         string `json:"location_id"`
	TerminalID         string `json:"terminal_id"`
	CashierName        string `json:"cashier_name"`
	BeginningCashCents int64  `json:"beginning_cash_cents"`
}

func (s *Service) OpenShift(ctx context.Context, req OpenShiftRequest) (*domain.Shift, error) {
	if req.BeginningCashCents < 0 {
		return nil, store.ErrInvalidRequest
	}
	return s.repo.CreateShift(ctx, domain.Shift{
		BusinessID:         s.businessID,
		LocationID:         req.LocationID,
		TerminalID:         req.TerminalID,
		CashierName:        req.CashierName,
		BeginningCashCents: req.BeginningCashCents,
	})
}

func (s *Service) CloseShift(ctx context.Context, locationID string, terminalID string, endingCashCents int64) (*domain.Shift, error) {
	if endingCashCents < 0 {
		return nil, store.ErrInvalidRequest
	}
	return s.repo.CloseActiveShift(ctx, locationID, terminalID, endingCashCents, time.Now().UTC())
}

func (s *Service) GetActiveShift(ctx context.Context, locationID string, terminalID string) (*domain.Shift, error) {
	return s.repo.GetActiveShift(ctx, locationID, terminalID)
}

type CashMovementRequest struct {
	ShiftID     string `json:"shift_id"`
	Kind        string `json:"kind"`
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason"`
}

func (s *Service) RecordCashMovement(ctx context.Context, req CashMovementRequest) (*domain.CashMovement, error) {
	shift, err := s.repo.GetShift(ctx, req.ShiftID)
	if err != nil {
		return nil, err
	}
	if shift.Status != domain.ShiftStatusOpen {
		return nil, store.ErrShiftClosed
	}

	createdBy := ""
	if actor, ok := domain.ActorFromContext(ctx); ok {
		createdBy = actor.Username
	}
	return s.repo.CreateCashMovement(ctx, domain.CashMovement{
		ShiftID:     shift.ID,
		LocationID:  shift.LocationID,
		Kind:        req.Kind,
		AmountCents: req.AmountCents,
		Reason:      strings.TrimSpace(req.Reason),
		CreatedBy:   createdBy,
	})
}

func (s *Service) ListCashMovements(ctx context.Context, shiftID string) ([]domain.CashMovement, error) {
	return s.repo.ListCashMovements(ctx, shiftID)
}
