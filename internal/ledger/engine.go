package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tindahan/backend/internal/domain"
	"tindahan/backend/internal/store"
)

var (
	ErrInvalidQuantity        = errors.New("quantity must be positive")
	ErrUnknownTransactionType = errors.New("unknown transaction type")
)

// Engine is the only writer of stock. Every mutation funnels through
// PostAdjustment so the balance update, the log entry, and the audit mirror
// always move together.
type Engine struct {
	repo       store.Repository
	businessID string
}

func New(repo store.Repository, businessID string) *Engine {
	if businessID == "" {
		businessID = "main-business"
	}
	return &Engine{repo: repo, businessID: businessID}
}

// AddStockRequest covers purchases, opening stock, customer returns, and
// positive corrections. SupplierName, when present, becomes the audit mirror's
// display name instead of the acting user.
type AddStockRequest struct {
	ProductID     string
	VariationID   string
	LocationID    string
	Quantity      decimal.Decimal
	Type          domain.TransactionType
	UnitCostCents *int64
	Reference     domain.Reference
	SupplierName  string
	Notes         string
}

type DeductStockRequest struct {
	ProductID   string
	VariationID string
	LocationID  string
	Quantity    decimal.Decimal
	Type        domain.TransactionType
	Reference   domain.Reference
	Notes       string
	Policy      domain.NegativePolicy
}

type TransferRequest struct {
	ProductID      string
	VariationID    string
	FromLocationID string
	ToLocationID   string
	Quantity       decimal.Decimal
	Notes          string
}

// PostAdjustment is the signed-quantity primitive. Positive adds, negative
// deducts; the store enforces the negative policy under its row lock.
func (e *Engine) PostAdjustment(ctx context.Context, posting domain.StockPosting) (*domain.PostingResult, error) {
	if posting.Quantity.IsZero() {
		return nil, ErrInvalidQuantity
	}
	if !posting.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransactionType, posting.Type)
	}
	if strings.TrimSpace(posting.Key.VariationID) == "" || strings.TrimSpace(posting.Key.LocationID) == "" {
		return nil, store.ErrInvalidRequest
	}
	if posting.BusinessID == "" {
		posting.BusinessID = e.businessID
	}
	if posting.Policy == "" {
		posting.Policy = domain.StrictPositive
	}
	if posting.CreatedBy == "" {
		if actor, ok := domain.ActorFromContext(ctx); ok {
			posting.CreatedBy = actor.Username
		}
	}
	return e.repo.PostStockTransaction(ctx, posting)
}

func (e *Engine) AddStock(ctx context.Context, req AddStockRequest) (*domain.PostingResult, error) {
	if !req.Quantity.IsPositive() {
		return nil, ErrInvalidQuantity
	}
	if req.Type == "" {
		req.Type = domain.TxTypePurchase
	}
	return e.PostAdjustment(ctx, domain.StockPosting{
		ProductID:     req.ProductID,
		Key:           domain.StockKey{VariationID: req.VariationID, LocationID: req.LocationID},
		Quantity:      req.Quantity,
		Type:          req.Type,
		UnitCostCents: req.UnitCostCents,
		Reference:     req.Reference,
		CreatedByName: req.SupplierName,
		Notes:         req.Notes,
		Policy:        domain.StrictPositive,
	})
}

func (e *Engine) DeductStock(ctx context.Context, req DeductStockRequest) (*domain.PostingResult, error) {
	if !req.Quantity.IsPositive() {
		return nil, ErrInvalidQuantity
	}
	if req.Type == "" {
		req.Type = domain.TxTypeSale
	}
	return e.PostAdjustment(ctx, domain.StockPosting{
		ProductID: req.ProductID,
		Key:       domain.StockKey{VariationID: req.VariationID, LocationID: req.LocationID},
		Quantity:  req.Quantity.Neg(),
		Type:      req.Type,
		Reference: req.Reference,
		Notes:     req.Notes,
		Policy:    req.Policy,
	})
}

// TransferOut runs the source leg: a transfer record in "deducted" plus the
// outbound posting. The two legs of a transfer are deliberately not atomic
// with each other; only each leg is.
func (e *Engine) TransferOut(ctx context.Context, req TransferRequest) (*domain.StockTransfer, error) {
	if !req.Quantity.IsPositive() {
		return nil, ErrInvalidQuantity
	}
	if req.FromLocationID == req.ToLocationID {
		return nil, store.ErrInvalidRequest
	}

	createdBy := ""
	if actor, ok := domain.ActorFromContext(ctx); ok {
		createdBy = actor.Username
	}
	transfer, err := e.repo.CreateStockTransfer(ctx, domain.StockTransfer{
		BusinessID:     e.businessID,
		ProductID:      req.ProductID,
		VariationID:    req.VariationID,
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		Quantity:       req.Quantity,
		Status:         domain.TransferStatusDeducted,
		CreatedBy:      createdBy,
		Notes:          req.Notes,
	})
	if err != nil {
		return nil, err
	}

	_, err = e.PostAdjustment(ctx, domain.StockPosting{
		ProductID: req.ProductID,
		Key:       domain.StockKey{VariationID: req.VariationID, LocationID: req.FromLocationID},
		Quantity:  req.Quantity.Neg(),
		Type:      domain.TxTypeTransferOut,
		Reference: domain.Reference{Type: "transfer", ID: transfer.ID},
		Notes:     req.Notes,
		Policy:    domain.StrictPositive,
	})
	if err != nil {
		// The posting failed before any stock moved, so mark the transfer
		// record cancelled rather than leaving it in "deducted" forever.
		if _, cancelErr := e.repo.AdvanceStockTransfer(ctx, transfer.ID, domain.TransferStatusDeducted, domain.TransferStatusCancelled, time.Now().UTC()); cancelErr != nil {
			log.Printf("[ledger] WARN: failed to cancel transfer %s after posting failure: %v", transfer.ID, cancelErr)
		}
		return nil, err
	}
	return transfer, nil
}

// TransferIn runs the destination leg. The status compare-and-swap happens
// first so a transfer can be received exactly once; the inbound posting
// follows.
func (e *Engine) TransferIn(ctx context.Context, transferID string) (*domain.StockTransfer, error) {
	transfer, err := e.repo.AdvanceStockTransfer(ctx, transferID, domain.TransferStatusDeducted, domain.TransferStatusReceived, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	_, err = e.PostAdjustment(ctx, domain.StockPosting{
		ProductID: transfer.ProductID,
		Key:       domain.StockKey{VariationID: transfer.VariationID, LocationID: transfer.ToLocationID},
		Quantity:  transfer.Quantity,
		Type:      domain.TxTypeTransferIn,
		Reference: domain.Reference{Type: "transfer", ID: transfer.ID},
		Notes:     transfer.Notes,
		Policy:    domain.AllowNegative,
	})
	if err != nil {
		return nil, err
	}
	return transfer, nil
}

// CancelTransfer resolves a stuck transfer by returning the stock to the
// source with a compensating inbound posting.
func (e *Engine) CancelTransfer(ctx context.Context, transferID string) (*domain.StockTransfer, error) {
	transfer, err := e.repo.AdvanceStockTransfer(ctx, transferID, domain.TransferStatusDeducted, domain.TransferStatusCancelled, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	_, err = e.PostAdjustment(ctx, domain.StockPosting{
		ProductID: transfer.ProductID,
		Key:       domain.StockKey{VariationID: transfer.VariationID, LocationID: transfer.FromLocationID},
		Quantity:  transfer.Quantity,
		Type:      domain.TxTypeTransferIn,
		Reference: domain.Reference{Type: "transfer_cancel", ID: transfer.ID},
		Notes:     transfer.Notes,
		Policy:    domain.AllowNegative,
	})
	if err != nil {
		return nil, err
	}
	return transfer, nil
}

func (e *Engine) GetTransfer(ctx context.Context, transferID string) (*domain.StockTransfer, error) {
	return e.repo.GetStockTransfer(ctx, transferID)
}

func (e *Engine) GetCurrentStock(ctx context.Context, variationID string, locationID string) (decimal.Decimal, error) {
	return e.repo.GetBalance(ctx, domain.StockKey{VariationID: variationID, LocationID: locationID})
}

// CheckAvailability is advisory. A passing check does not reserve anything;
// the authoritative rejection happens inside the posting under the row lock.
func (e *Engine) CheckAvailability(ctx context.Context, variationID string, locationID string, requested decimal.Decimal) (*domain.AvailabilityCheck, error) {
	current, err := e.repo.GetBalance(ctx, domain.StockKey{VariationID: variationID, LocationID: locationID})
	if err != nil {
		return nil, err
	}
	check := &domain.AvailabilityCheck{
		VariationID:  variationID,
		LocationID:   locationID,
		Requested:    requested,
		CurrentStock: current,
		Available:    current.Cmp(requested) >= 0,
		Shortage:     decimal.Zero,
	}
	if !check.Available {
		check.Shortage = requested.Sub(current)
	}
	return check, nil
}

type AvailabilityRequest struct {
	VariationID string          `json:"variation_id"`
	Quantity    decimal.Decimal `json:"quantity"`
}

func (e *Engine) CheckBatchAvailability(ctx context.Context, locationID string, requests []AvailabilityRequest) ([]domain.AvailabilityCheck, error) {
	variationIDs := make([]string, 0, len(requests))
	for _, req := range requests {
		variationIDs = append(variationIDs, req.VariationID)
	}
	balances, err := e.repo.GetBalances(ctx, locationID, variationIDs)
	if err != nil {
		return nil, err
	}

	checks := make([]domain.AvailabilityCheck, 0, len(requests))
	for _, req := range requests {
		current := balances[req.VariationID]
		check := domain.AvailabilityCheck{
			VariationID:  req.VariationID,
			LocationID:   locationID,
			Requested:    req.Quantity,
			CurrentStock: current,
			Available:    current.Cmp(req.Quantity) >= 0,
			Shortage:     decimal.Zero,
		}
		if !check.Available {
			check.Shortage = req.Quantity.Sub(current)
		}
		checks = append(checks, check)
	}
	return checks, nil
}

func (e *Engine) GetStockTransactionHistory(ctx context.Context, filter domain.StockTransactionFilter) ([]domain.StockTransaction, int64, error) {
	if filter.BusinessID == "" {
		filter.BusinessID = e.businessID
	}
	return e.repo.ListStockTransactions(ctx, filter)
}

func (e *Engine) GetStockAuditTrail(ctx context.Context, filter domain.StockTransactionFilter) ([]domain.StockAudit, error) {
	if filter.BusinessID == "" {
		filter.BusinessID = e.businessID
	}
	return e.repo.ListStockAudits(ctx, filter)
}
