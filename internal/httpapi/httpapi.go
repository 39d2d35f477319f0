package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tindahan/backend/internal/domain"
	"tindahan/backend/internal/ledger"
	"tindahan/backend/internal/reading"
	"tindahan/backend/internal/sales"
	"tindahan/backend/internal/store"
)

type API struct {
	engine        *ledger.Engine
	validator     *ledger.Validator
	readings      *reading.Generator
	sales         *sales.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
	csrfSecret    []byte
}

func New(engine *ledger.Engine, validator *ledger.Validator, readings *reading.Generator, salesSvc *sales.Service, auth *AuthManager, allowedOrigin string) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		engine:        engine,
		validator:     validator,
		readings:      readings,
		sales:         salesSvc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	bucket := time.Now().UTC().Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken accepts the current or previous hour bucket, giving a
// 2-hour validity window.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	expected1 := a.csrfTokenForHour(currentBucket)
	expected2 := a.csrfTokenForHour(prevBucket)

	return hmac.Equal([]byte(token), []byte(expected1)) ||
		hmac.Equal([]byte(token), []byte(expected2))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/stock/adjustments", a.requireAuth(a.handleStockAdjustment, "admin"))
	mux.HandleFunc("/api/v1/stock/receive", a.requireAuth(a.handleStockReceive, "cashier", "admin"))
	mux.HandleFunc("/api/v1/stock/transfers", a.requireAuth(a.handleTransfers, "cashier", "admin"))
	mux.HandleFunc("/api/v1/stock/transfers/", a.requireAuth(a.handleTransferActions, "cashier", "admin"))
	mux.HandleFunc("/api/v1/stock/availability", a.requireAuth(a.handleAvailability, "cashier", "admin"))
	mux.HandleFunc("/api/v1/stock/balances", a.requireAuth(a.handleBalances, "cashier", "admin"))
	mux.HandleFunc("/api/v1/stock/transactions", a.requireAuth(a.handleStockTransactions, "cashier", "admin"))
	mux.HandleFunc("/api/v1/stock/audits", a.requireAuth(a.handleStockAudits, "admin"))
	mux.HandleFunc("/api/v1/stock/discrepancies", a.requireAuth(a.handleDiscrepancies, "admin"))
	mux.HandleFunc("/api/v1/stock/discrepancies/sync", a.requireAuth(a.handleDiscrepancySync, "admin"))

	mux.HandleFunc("/api/v1/shifts/open", a.requireAuth(a.handleShiftOpen, "cashier", "admin"))
	mux.HandleFunc("/api/v1/shifts/close", a.requireAuth(a.handleShiftClose, "cashier", "admin"))
	mux.HandleFunc("/api/v1/shifts/active", a.requireAuth(a.handleShiftActive, "cashier", "admin"))
	mux.HandleFunc("/api/v1/cash-movements", a.requireAuth(a.handleCashMovements, "cashier", "admin"))

	mux.HandleFunc("/api/v1/sales", a.requireAuth(a.handleSales, "cashier", "admin"))
	mux.HandleFunc("/api/v1/sales/", a.requireAuth(a.handleSaleActions, "cashier", "admin"))

	mux.HandleFunc("/api/v1/readings/x", a.requireAuth(a.handleXReading, "cashier", "admin"))
	mux.HandleFunc("/api/v1/readings/z", a.requireAuth(a.handleZReading, "cashier", "admin"))
	mux.HandleFunc("/api/v1/readings", a.requireAuth(a.handleReadings, "cashier", "admin"))
	mux.HandleFunc("/api/v1/counters", a.requireAuth(a.handleCounters, "admin"))

	mux.HandleFunc("/api/v1/users/cashiers", a.requireAuth(a.handleCashiers, "admin"))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(domain.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	method := r.Method
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch {
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

type stockAdjustmentRequest struct {
	ProductID     string          `json:"product_id"`
	VariationID   string          `json:"variation_id"`
	LocationID    string          `json:"location_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	Type          string          `json:"type"`
	UnitCostCents *int64          `json:"unit_cost_cents,omitempty"`
	ReferenceType string          `json:"reference_type,omitempty"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	AllowNegative bool            `json:"allow_negative,omitempty"`
}

func (a *API) handleStockAdjustment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req stockAdjustmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	policy := domain.StrictPositive
	if req.AllowNegative {
		policy = domain.AllowNegative
	}
	txType := domain.TransactionType(req.Type)
	if txType == "" {
		txType = domain.TxTypeAdjustment
	}
	result, err := a.engine.PostAdjustment(r.Context(), domain.StockPosting{
		ProductID:     req.ProductID,
		Key:           domain.StockKey{VariationID: req.VariationID, LocationID: req.LocationID},
		Quantity:      req.Quantity,
		Type:          txType,
		UnitCostCents: req.UnitCostCents,
		Reference:     domain.Reference{Type: req.ReferenceType, ID: req.ReferenceID},
		Notes:         req.Notes,
		Policy:        policy,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"result": result})
}

type stockReceiveRequest struct {
	ProductID     string          `json:"product_id"`
	VariationID   string          `json:"variation_id"`
	LocationID    string          `json:"location_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	Type          string          `json:"type,omitempty"`
	UnitCostCents *int64          `json:"unit_cost_cents,omitempty"`
	ReferenceType string          `json:"reference_type,omitempty"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	SupplierName  string          `json:"supplier_name,omitempty"`
	Notes         string          `json:"notes,omitempty"`
}

func (a *API) handleStockReceive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req stockReceiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := a.engine.AddStock(r.Context(), ledger.AddStockRequest{
		ProductID:     req.ProductID,
		VariationID:   req.VariationID,
		LocationID:    req.LocationID,
		Quantity:      req.Quantity,
		Type:          domain.TransactionType(req.Type),
		UnitCostCents: req.UnitCostCents,
		Reference:     domain.Reference{Type: req.ReferenceType, ID: req.ReferenceID},
		SupplierName:  req.SupplierName,
		Notes:         req.Notes,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"result": result})
}

type transferRequest struct {
	ProductID      string          `json:"product_id"`
	VariationID    string          `json:"variation_id"`
	FromLocationID string          `json:"from_location_id"`
	ToLocationID   string          `json:"to_location_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	Notes          string          `json:"notes,omitempty"`
}

func (a *API) handleTransfers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	transfer, err := a.engine.TransferOut(r.Context(), ledger.TransferRequest{
		ProductID:      req.ProductID,
		VariationID:    req.VariationID,
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		Quantity:       req.Quantity,
		Notes:          req.Notes,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"transfer": transfer})
}

func (a *API) handleTransferActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/stock/transfers/"
	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("transfer id required"))
		return
	}

	parts := strings.SplitN(tail, "/", 2)
	transferID := parts[0]
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		transfer, err := a.engine.GetTransfer(r.Context(), transferID)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transfer": transfer})
	case action == "receive" && r.Method == http.MethodPost:
		transfer, err := a.engine.TransferIn(r.Context(), transferID)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transfer": transfer})
	case action == "cancel" && r.Method == http.MethodPost:
		transfer, err := a.engine.CancelTransfer(r.Context(), transferID)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transfer": transfer})
	default:
		writeMethodNotAllowed(w)
	}
}

type availabilityBatchRequest struct {
	LocationID string                       `json:"location_id"`
	Items      []ledger.AvailabilityRequest `json:"items"`
}

func (a *API) handleAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req availabilityBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.LocationID == "" || len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("location_id and items required"))
		return
	}

	checks, err := a.engine.CheckBatchAvailability(r.Context(), req.LocationID, req.Items)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checks": checks})
}

func (a *API) handleBalances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	locationID := strings.TrimSpace(r.URL.Query().Get("location_id"))
	variationID := strings.TrimSpace(r.URL.Query().Get("variation_id"))
	if locationID == "" || variationID == "" {
		writeError(w, http.StatusBadRequest, errors.New("location_id and variation_id required"))
		return
	}

	qty, err := a.engine.GetCurrentStock(r.Context(), variationID, locationID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"variation_id":  variationID,
		"location_id":   locationID,
		"qty_available": qty,
	})
}

func (a *API) handleStockTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	filter := stockFilterFromQuery(r)
	transactions, total, err := a.engine.GetStockTransactionHistory(r.Context(), filter)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": transactions,
		"total":        total,
	})
}

func (a *API) handleStockAudits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	audits, err := a.engine.GetStockAuditTrail(r.Context(), stockFilterFromQuery(r))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audits": audits})
}

func stockFilterFromQuery(r *http.Request) domain.StockTransactionFilter {
	q := r.URL.Query()
	filter := domain.StockTransactionFilter{
		LocationID:  strings.TrimSpace(q.Get("location_id")),
		VariationID: strings.TrimSpace(q.Get("variation_id")),
		ProductID:   strings.TrimSpace(q.Get("product_id")),
		Type:        domain.TransactionType(strings.TrimSpace(q.Get("type"))),
		Limit:       parsePositiveLimit(q.Get("limit"), 50, 500),
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil && offset > 0 {
		filter.Offset = offset
	}
	if from, err := time.Parse(time.RFC3339, q.Get("from")); err == nil {
		filter.From = from
	}
	if to, err := time.Parse(time.RFC3339, q.Get("to")); err == nil {
		filter.To = to
	}
	return filter
}

func (a *API) handleDiscrepancies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	reports, err := a.validator.FindAllDiscrepancies(r.Context())
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"discrepancies": reports})
}

type discrepancySyncRequest struct {
	VariationID string `json:"variation_id"`
	LocationID  string `json:"location_id"`
	ManagerPIN  string `json:"manager_pin"`
}

func (a *API) handleDiscrepancySync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req discrepancySyncRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !a.pinLimiter.Allow("pin:sync:" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many PIN attempts"))
		return
	}
	if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
		writeError(w, http.StatusForbidden, errors.New("invalid manager PIN"))
		return
	}

	repair, err := a.validator.SyncPhysicalToLedger(r.Context(), req.VariationID, req.LocationID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"repair": repair})
}

func (a *API) handleShiftOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req sales.OpenShiftRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	shift, err := a.sales.OpenShift(r.Context(), req)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"shift": shift})
}

type shiftCloseRequest struct {
	LocationID      string `json:"location_id"`
	TerminalID      string `json:"terminal_id"`
	EndingCashCents int64  `json:"ending_cash_cents"`
}

func (a *API) handleShiftClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req shiftCloseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	shift, err := a.sales.CloseShift(r.Context(), req.LocationID, req.TerminalID, req.EndingCashCents)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shift": shift})
}

func (a *API) handleShiftActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	locationID := strings.TrimSpace(r.URL.Query().Get("location_id"))
	terminalID := strings.TrimSpace(r.URL.Query().Get("terminal_id"))
	shift, err := a.sales.GetActiveShift(r.Context(), locationID, terminalID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shift": shift})
}

func (a *API) handleCashMovements(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		shiftID := strings.TrimSpace(r.URL.Query().Get("shift_id"))
		if shiftID == "" {
			writeError(w, http.StatusBadRequest, errors.New("shift_id required"))
			return
		}
		movements, err := a.sales.ListCashMovements(r.Context(), shiftID)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cash_movements": movements})
	case http.MethodPost:
		var req sales.CashMovementRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		movement, err := a.sales.RecordCashMovement(r.Context(), req)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"cash_movement": movement})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req sales.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sale, err := a.sales.RecordSale(r.Context(), req)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
}

type voidRequest struct {
	Reason     string `json:"reason"`
	ManagerPIN string `json:"manager_pin"`
}

func (a *API) handleSaleActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/sales/"
	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("sale id required"))
		return
	}

	parts := strings.SplitN(tail, "/", 2)
	saleID := parts[0]
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		sale, err := a.sales.GetSale(r.Context(), saleID)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
	case action == "void" && r.Method == http.MethodPost:
		var req voidRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if !a.pinLimiter.Allow("pin:void:" + clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, errors.New("too many PIN attempts"))
			return
		}
		if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
			writeError(w, http.StatusForbidden, errors.New("invalid manager PIN"))
			return
		}
		sale, err := a.sales.VoidSale(r.Context(), saleID, req.Reason)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
	default:
		writeMethodNotAllowed(w)
	}
}

type xReadingRequest struct {
	ShiftID          string `json:"shift_id"`
	IncrementCounter bool   `json:"increment_counter"`
}

func (a *API) handleXReading(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req xReadingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.ShiftID) == "" {
		writeError(w, http.StatusBadRequest, errors.New("shift_id required"))
		return
	}

	result, err := a.readings.GenerateXReading(r.Context(), req.ShiftID, req.IncrementCounter)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reading": result})
}

func (a *API) handleZReading(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req reading.ZReadingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.ShiftID) == "" {
		writeError(w, http.StatusBadRequest, errors.New("shift_id required"))
		return
	}

	result, err := a.readings.GenerateZReading(r.Context(), req)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	status := http.StatusCreated
	if req.Preview {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"reading": result})
}

func (a *API) handleReadings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	shiftID := strings.TrimSpace(r.URL.Query().Get("shift_id"))
	if shiftID == "" {
		writeError(w, http.StatusBadRequest, errors.New("shift_id required"))
		return
	}
	readings, err := a.readings.ListShiftReadings(r.Context(), shiftID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"readings": readings})
}

func (a *API) handleCounters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	locationID := strings.TrimSpace(r.URL.Query().Get("location_id"))
	if locationID == "" {
		writeError(w, http.StatusBadRequest, errors.New("location_id required"))
		return
	}
	counters, err := a.readings.GetLocationCounters(r.Context(), locationID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"counters": counters})
}

func (a *API) handleCashiers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cashiers := a.auth.ListCashiers()
		writeJSON(w, http.StatusOK, map[string]any{"cashiers": cashiers})
	case http.MethodPost:
		var req domain.CashierCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		cashier, err := a.auth.CreateCashier(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

// writeLedgerError maps domain and store errors onto HTTP statuses. Business
// rejections carry their structured detail so clients can render actionable
// messages.
func writeLedgerError(w http.ResponseWriter, err error) {
	var insufficient *domain.InsufficientStockError
	if errors.As(err, &insufficient) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":        insufficient.Error(),
			"variation_id": insufficient.VariationID,
			"location_id":  insufficient.LocationID,
			"available":    insufficient.Available,
			"requested":    insufficient.Requested,
			"shortage":     insufficient.Shortage(),
		})
		return
	}
	var drift *domain.DriftError
	if errors.As(err, &drift) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":        drift.Error(),
			"variation_id": drift.VariationID,
			"location_id":  drift.LocationID,
			"physical":     drift.Physical,
			"ledger":       drift.Ledger,
			"variance":     drift.Variance(),
		})
		return
	}

	status := http.StatusUnprocessableEntity
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrInvalidRequest),
		errors.Is(err, ledger.ErrInvalidQuantity),
		errors.Is(err, ledger.ErrUnknownTransactionType):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrShiftClosed),
		errors.Is(err, store.ErrDuplicateReading),
		errors.Is(err, store.ErrTransferState):
		status = http.StatusConflict
	}
	writeError(w, status, err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx responses get a generic message so internals never leak; 4xx are
	// user-facing and keep the original text.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
