package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// StockKey identifies one stock-keeping unit: a product variation held at a
// location. It is the partition key for balances, postings, and row locking.
type StockKey struct {
	VariationID string `json:"variation_id"`
	LocationID  string `json:"location_id"`
}

type TransactionType string

const (
	TxTypeOpeningStock     TransactionType = "opening_stock"
	TxTypePurchase         TransactionType = "purchase"
	TxTypeSale             TransactionType = "sale"
	TxTypeTransferIn       TransactionType = "transfer_in"
	TxTypeTransferOut      TransactionType = "transfer_out"
	TxTypeAdjustment       TransactionType = "adjustment"
	TxTypeCustomerReturn   TransactionType = "customer_return"
	TxTypeSupplierReturn   TransactionType = "supplier_return"
	TxTypeCorrection       TransactionType = "correction"
	TxTypeReplacementIssue TransactionType = "replacement_issued"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TxTypeOpeningStock, TxTypePurchase, TxTypeSale, TxTypeTransferIn,
		TxTypeTransferOut, TxTypeAdjustment, TxTypeCustomerReturn,
		TxTypeSupplierReturn, TxTypeCorrection, TxTypeReplacementIssue:
		return true
	}
	return false
}

// NegativePolicy makes the "allow negative balance" decision visible at every
// posting call site instead of threading a bare bool through signatures.
type NegativePolicy string

const (
	StrictPositive NegativePolicy = "strict_positive"
	AllowNegative  NegativePolicy = "allow_negative"
)

// Reference ties a posting back to the business document that caused it.
type Reference struct {
	Type   string `json:"reference_type"`
	ID     string `json:"reference_id"`
	Number string `json:"reference_number,omitempty"`
}

// StockPosting is the input to the ledger's single write primitive. Quantity
// is signed: positive adds stock, negative deducts.
type StockPosting struct {
	BusinessID    string
	ProductID     string
	Key           StockKey
	Quantity      decimal.Decimal
	Type          TransactionType
	UnitCostCents *int64
	Reference     Reference
	CreatedBy     string
	CreatedByName string
	Notes         string
	Policy        NegativePolicy
}

type PostingResult struct {
	TransactionID   string          `json:"transaction_id"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	NewBalance      decimal.Decimal `json:"new_balance"`
}

// StockBalance is the authoritative on-hand quantity for one key. Created
// lazily on first posting, updated only by the ledger engine, never deleted.
type StockBalance struct {
	VariationID  string          `json:"variation_id"`
	LocationID   string          `json:"location_id"`
	QtyAvailable decimal.Decimal `json:"qty_available"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// StockTransaction is one immutable row of the append-only transaction log.
// BalanceAfter is a point-in-time snapshot; reconciliation always re-sums
// Quantity and never trusts it.
type StockTransaction struct {
	ID              string          `json:"id"`
	BusinessID      string          `json:"business_id"`
	ProductID       string          `json:"product_id"`
	VariationID     string          `json:"variation_id"`
	LocationID      string          `json:"location_id"`
	Type            TransactionType `json:"type"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitCostCents   *int64          `json:"unit_cost_cents,omitempty"`
	BalanceAfter    decimal.Decimal `json:"balance_after"`
	ReferenceType   string          `json:"reference_type"`
	ReferenceID     string          `json:"reference_id"`
	ReferenceNumber string          `json:"reference_number,omitempty"`
	CreatedBy       string          `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
	Notes           string          `json:"notes,omitempty"`
}

// StockAudit mirrors a StockTransaction in reporting-friendly form so read
// surfaces never join against the raw ledger schema. CreatedByName may be a
// supplier or customer display name rather than the acting user.
type StockAudit struct {
	ID              string          `json:"id"`
	BusinessID      string          `json:"business_id"`
	LocationID      string          `json:"location_id"`
	ProductID       string          `json:"product_id"`
	VariationID     string          `json:"variation_id"`
	TransactionType TransactionType `json:"transaction_type"`
	TransactionDate time.Time       `json:"transaction_date"`
	ReferenceType   string          `json:"reference_type"`
	ReferenceID     string          `json:"reference_id"`
	ReferenceNumber string          `json:"reference_number,omitempty"`
	QuantityChange  decimal.Decimal `json:"quantity_change"`
	BalanceQuantity decimal.Decimal `json:"balance_quantity"`
	UnitCostCents   *int64          `json:"unit_cost_cents,omitempty"`
	TotalValueCents *int64          `json:"total_value_cents,omitempty"`
	CreatedBy       string          `json:"created_by"`
	CreatedByName   string          `json:"created_by_name"`
	Reason          string          `json:"reason,omitempty"`
}

type StockTransactionFilter struct {
	BusinessID  string
	LocationID  string
	VariationID string
	ProductID   string
	Type        TransactionType
	From        time.Time
	To          time.Time
	Limit       int
	Offset      int
}

// DriftReport describes one key whose stored balance disagrees with the
// ledger-derived sum. Variance is physical minus ledger.
type DriftReport struct {
	VariationID string          `json:"variation_id"`
	LocationID  string          `json:"location_id"`
	Physical    decimal.Decimal `json:"physical"`
	Ledger      decimal.Decimal `json:"ledger"`
	Variance    decimal.Decimal `json:"variance"`
	Diagnosis   string          `json:"diagnosis"`
}

// BalanceRepair records the before/after of a SyncPhysicalToLedger run.
type BalanceRepair struct {
	VariationID string          `json:"variation_id"`
	LocationID  string          `json:"location_id"`
	OldBalance  decimal.Decimal `json:"old_balance"`
	NewBalance  decimal.Decimal `json:"new_balance"`
	Variance    decimal.Decimal `json:"variance"`
}

const (
	TransferStatusDeducted  = "deducted"
	TransferStatusReceived  = "received"
	TransferStatusCancelled = "cancelled"
)

// StockTransfer models the two-phase transfer explicitly: the source leg and
// destination leg are independent postings, never jointly atomic. A transfer
// stuck in "deducted" is resolved either by the receiving leg or by the
// compensating cancel that returns stock to the source.
type StockTransfer struct {
	ID             string          `json:"id"`
	BusinessID     string          `json:"business_id"`
	ProductID      string          `json:"product_id"`
	VariationID    string          `json:"variation_id"`
	FromLocationID string          `json:"from_location_id"`
	ToLocationID   string          `json:"to_location_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	Status         string          `json:"status"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	ReceivedAt     *time.Time      `json:"received_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	Notes          string          `json:"notes,omitempty"`
}

type AvailabilityCheck struct {
	VariationID  string          `json:"variation_id"`
	LocationID   string          `json:"location_id"`
	Requested    decimal.Decimal `json:"requested"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	Available    bool            `json:"available"`
	Shortage     decimal.Decimal `json:"shortage"`
}

const (
	ShiftStatusOpen   = "open"
	ShiftStatusClosed = "closed"
)

type Shift struct {
	ID                 string     `json:"id"`
	BusinessID         string     `json:"business_id"`
	LocationID         string     `json:"location_id"`
	TerminalID         string     `json:"terminal_id"`
	CashierName        string     `json:"cashier_name"`
	BeginningCashCents int64      `json:"beginning_cash_cents"`
	EndingCashCents    int64      `json:"ending_cash_cents,omitempty"`
	Status             string     `json:"status"`
	XReadingCount      int64      `json:"x_reading_count"`
	OpenedAt           time.Time  `json:"opened_at"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`
}

// ShiftTotals are the per-shift running counters maintained incrementally by
// the sales/void path. Revision bumps on every accumulate so readers can tell
// whether a cached X-reading payload is still current. A shift whose counters
// were never touched (all zero) predates the accumulator and forces the
// reading generator onto its fallback aggregation.
type ShiftTotals struct {
	ShiftID                string    `json:"shift_id"`
	GrossSalesCents        int64     `json:"gross_sales_cents"`
	NetSalesCents          int64     `json:"net_sales_cents"`
	VatableSalesCents      int64     `json:"vatable_sales_cents"`
	VatAmountCents         int64     `json:"vat_amount_cents"`
	VatExemptSalesCents    int64     `json:"vat_exempt_sales_cents"`
	ZeroRatedSalesCents    int64     `json:"zero_rated_sales_cents"`
	CashSalesCents         int64     `json:"cash_sales_cents"`
	CardSalesCents         int64     `json:"card_sales_cents"`
	EWalletSalesCents      int64     `json:"ewallet_sales_cents"`
	ChargeSalesCents       int64     `json:"charge_sales_cents"`
	RegularDiscountCents   int64     `json:"regular_discount_cents"`
	SeniorDiscountCents    int64     `json:"senior_discount_cents"`
	PWDDiscountCents       int64     `json:"pwd_discount_cents"`
	ARCashCollectionsCents int64     `json:"ar_cash_collections_cents"`
	TransactionCount       int64     `json:"transaction_count"`
	VoidCount              int64     `json:"void_count"`
	VoidTotalCents         int64     `json:"void_total_cents"`
	Revision               int64     `json:"revision"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Initialized reports whether the running accumulators have ever been
// touched for this shift.
func (t ShiftTotals) Initialized() bool {
	return t.TransactionCount > 0 || t.GrossSalesCents > 0
}

// TotalsDelta is a signed increment applied atomically to ShiftTotals.
// Void reversals use negative amounts.
type TotalsDelta struct {
	GrossSalesCents        int64
	NetSalesCents          int64
	VatableSalesCents      int64
	VatAmountCents         int64
	VatExemptSalesCents    int64
	ZeroRatedSalesCents    int64
	CashSalesCents         int64
	CardSalesCents         int64
	EWalletSalesCents      int64
	ChargeSalesCents       int64
	RegularDiscountCents   int64
	SeniorDiscountCents    int64
	PWDDiscountCents       int64
	ARCashCollectionsCents int64
	TransactionCount       int64
	VoidCount              int64
	VoidTotalCents         int64
}

const (
	CashMovementIn  = "cash_in"
	CashMovementOut = "cash_out"
)

type CashMovement struct {
	ID          string    `json:"id"`
	ShiftID     string    `json:"shift_id"`
	LocationID  string    `json:"location_id"`
	Kind        string    `json:"kind"`
	AmountCents int64     `json:"amount_cents"`
	Reason      string    `json:"reason"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	SaleStatusPaid   = "paid"
	SaleStatusVoided = "voided"
)

const (
	PaymentCash    = "cash"
	PaymentCard    = "card"
	PaymentEWallet = "ewallet"
	PaymentCharge  = "charge"
)

const (
	DiscountRegular = "regular"
	DiscountSenior  = "senior"
	DiscountPWD     = "pwd"
)

type SaleLine struct {
	ProductID      string          `json:"product_id"`
	VariationID    string          `json:"variation_id"`
	Qty            decimal.Decimal `json:"qty"`
	UnitPriceCents int64           `json:"unit_price_cents"`
	LineTotalCents int64           `json:"line_total_cents"`
}

type Sale struct {
	ID               string     `json:"id"`
	BusinessID       string     `json:"business_id"`
	LocationID       string     `json:"location_id"`
	TerminalID       string     `json:"terminal_id"`
	ShiftID          string     `json:"shift_id"`
	IdempotencyKey   string     `json:"idempotency_key"`
	InvoiceNumber    string     `json:"invoice_number"`
	PaymentMethod    string     `json:"payment_method"`
	PaymentReference string     `json:"payment_reference,omitempty"`
	GrossCents       int64      `json:"gross_cents"`
	DiscountCents    int64      `json:"discount_cents"`
	DiscountType     string     `json:"discount_type,omitempty"`
	VatCents         int64      `json:"vat_cents"`
	TotalCents       int64      `json:"total_cents"`
	CashReceived     int64      `json:"cash_received_cents"`
	ChangeCents      int64      `json:"change_cents"`
	Status           string     `json:"status"`
	VoidReason       string     `json:"void_reason,omitempty"`
	VoidedAt         *time.Time `json:"voided_at,omitempty"`
	CreatedBy        string     `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	Lines            []SaleLine `json:"lines"`
}

const (
	ReadingTypeX = "X"
	ReadingTypeZ = "Z"
)

// Reading is one immutable register snapshot. The heavy breakdown lives in
// Payload so the log row stays queryable on compliance fields alone.
type Reading struct {
	ID                  string          `json:"id"`
	BusinessID          string          `json:"business_id"`
	LocationID          string          `json:"location_id"`
	ShiftID             string          `json:"shift_id"`
	Type                string          `json:"type"`
	ReadingNumber       int64           `json:"reading_number"`
	ReadingTime         time.Time       `json:"reading_time"`
	GrossSalesCents     int64           `json:"gross_sales_cents"`
	NetSalesCents       int64           `json:"net_sales_cents"`
	TotalDiscountsCents int64           `json:"total_discounts_cents"`
	ExpectedCashCents   int64           `json:"expected_cash_cents"`
	TransactionCount    int64           `json:"transaction_count"`
	Payload             json.RawMessage `json:"payload"`
}

const (
	ReadingModeInstant  = "instant"
	ReadingModeFallback = "fallback"
)

type PaymentBreakdown struct {
	CashCents    int64 `json:"cash_cents"`
	CardCents    int64 `json:"card_cents"`
	EWalletCents int64 `json:"ewallet_cents"`
	ChargeCents  int64 `json:"charge_cents"`
}

type DiscountBreakdown struct {
	RegularCents int64 `json:"regular_cents"`
	SeniorCents  int64 `json:"senior_cents"`
	PWDCents     int64 `json:"pwd_cents"`
	TotalCents   int64 `json:"total_cents"`
}

type ItemBreakdownRow struct {
	ProductID   string          `json:"product_id"`
	VariationID string          `json:"variation_id"`
	QtySold     decimal.Decimal `json:"qty_sold"`
	SalesCents  int64           `json:"sales_cents"`
}

// XReadingPayload is the full interim-snapshot body. Re-requesting without
// incrementing the counter on an unchanged shift must reproduce it exactly;
// only ReadingTime on the enclosing Reading differs.
type XReadingPayload struct {
	Mode                   string             `json:"mode"`
	ShiftID                string             `json:"shift_id"`
	LocationID             string             `json:"location_id"`
	TerminalID             string             `json:"terminal_id"`
	CashierName            string             `json:"cashier_name"`
	ShiftOpenedAt          time.Time          `json:"shift_opened_at"`
	GrossSalesCents        int64              `json:"gross_sales_cents"`
	NetSalesCents          int64              `json:"net_sales_cents"`
	Payments               PaymentBreakdown   `json:"payments"`
	Discounts              DiscountBreakdown  `json:"discounts"`
	BeginningCashCents     int64              `json:"beginning_cash_cents"`
	CashInCents            int64              `json:"cash_in_cents"`
	CashOutCents           int64              `json:"cash_out_cents"`
	ARCashCollectionsCents int64              `json:"ar_cash_collections_cents"`
	ExpectedCashCents      int64              `json:"expected_cash_cents"`
	TransactionCount       int64              `json:"transaction_count"`
	VoidCount              int64              `json:"void_count"`
	VoidTotalCents         int64              `json:"void_total_cents"`
	ItemBreakdown          []ItemBreakdownRow `json:"item_breakdown,omitempty"`
	BreakdownOmitted       bool               `json:"breakdown_omitted,omitempty"`
}

type VatBreakdown struct {
	VatableSalesCents   int64 `json:"vatable_sales_cents"`
	VatAmountCents      int64 `json:"vat_amount_cents"`
	VatExemptSalesCents int64 `json:"vat_exempt_sales_cents"`
	ZeroRatedSalesCents int64 `json:"zero_rated_sales_cents"`
}

// ZReadingPayload extends the X body with the closing-only fields.
type ZReadingPayload struct {
	XReadingPayload
	ResetCounter                int64        `json:"reset_counter"`
	EndingCashCents             int64        `json:"ending_cash_cents"`
	CashVarianceCents           int64        `json:"cash_variance_cents"`
	Vat                         VatBreakdown `json:"vat"`
	AccumulatedSalesBeforeCents int64        `json:"accumulated_sales_before_cents"`
	AccumulatedSalesAfterCents  int64        `json:"accumulated_sales_after_cents"`
}

// LocationCounters holds the per-location fiscal counters. ZCounter is the
// regulatory sequence: incremented atomically with the Z reading insert,
// never reused, never decremented outside an explicit reset procedure (which
// bumps ResetCounter).
type LocationCounters struct {
	LocationID            string    `json:"location_id"`
	ZCounter              int64     `json:"z_counter"`
	ResetCounter          int64     `json:"reset_counter"`
	AccumulatedSalesCents int64     `json:"accumulated_sales_cents"`
	UpdatedAt             time.Time `json:"updated_at"`
}

type DenominationCount struct {
	ValueCents int64 `json:"value_cents"`
	Count      int64 `json:"count"`
}

type Actor struct {
	Username string
	Role     string
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
