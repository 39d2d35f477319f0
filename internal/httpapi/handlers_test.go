package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tindahan/backend/internal/domain"
	"tindahan/backend/internal/ledger"
	"tindahan/backend/internal/reading"
	"tindahan/backend/internal/sales"
	"tindahan/backend/internal/store/memory"
)

func newTestAPI(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	engine := ledger.New(repo, "biz-test")
	validator := ledger.NewValidator(repo, "biz-test", false)
	readings := reading.New(repo, nil, 0, 0)
	salesSvc := sales.New(repo, engine, validator, "biz-test")
	auth := NewAuthManager("test-secret-key-0123456789abcdef", time.Hour, "739154", repo)
	api := New(engine, validator, readings, salesSvc, auth, "http://localhost:5173")
	return api.Handler(), repo
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func fetchCSRFToken(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/auth/csrf-token", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf token fetch failed with %d", rec.Code)
	}
	token, _ := decodeBody(t, rec)["csrf_token"].(string)
	if token == "" {
		t.Fatalf("empty csrf token")
	}
	return token
}

func loginAs(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed with %d: %s", username, rec.Code, rec.Body.String())
	}
	token, _ := decodeBody(t, rec)["access_token"].(string)
	if token == "" {
		t.Fatalf("empty access token")
	}
	return token
}

func loginAsAdmin(t *testing.T, handler http.Handler) map[string]string {
	t.Helper()
	return map[string]string{
		"Authorization": "Bearer " + loginAs(t, handler, "admin", "admin123"),
		"X-CSRF-Token":  fetchCSRFToken(t, handler),
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler, _ := newTestAPI(t)
	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ok, _ := decodeBody(t, rec)["ok"].(bool); !ok {
		t.Fatalf("expected ok=true, got %s", rec.Body.String())
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	handler, _ := newTestAPI(t)
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": "admin",
		"password": "wrong-password",
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	handler, _ := newTestAPI(t)
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/stock/balances?location_id=loc-a&variation_id=var-1", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestAdjustmentsRequireAdminRole(t *testing.T) {
	handler, _ := newTestAPI(t)
	headers := map[string]string{
		"Authorization": "Bearer " + loginAs(t, handler, "cashier", "cashier123"),
		"X-CSRF-Token":  fetchCSRFToken(t, handler),
	}
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/stock/adjustments", map[string]any{
		"variation_id": "var-1",
		"location_id":  "loc-a",
		"quantity":     "5",
	}, headers)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier on adjustments, got %d", rec.Code)
	}
}

func TestStockReceiveAndBalanceFlow(t *testing.T) {
	handler, _ := newTestAPI(t)
	headers := loginAsAdmin(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/stock/receive", map[string]any{
		"product_id":     "prod-1",
		"variation_id":   "var-1",
		"location_id":    "loc-a",
		"quantity":       "12.5",
		"unit_cost_cents": 2500,
		"supplier_name":  "Aling Nena Trading",
	}, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("receive failed with %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/stock/balances?location_id=loc-a&variation_id=var-1", nil, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("balances failed with %d: %s", rec.Code, rec.Body.String())
	}
	if qty, _ := decodeBody(t, rec)["qty_available"].(string); qty != "12.5" {
		t.Fatalf("expected qty 12.5, got %q", qty)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/stock/transactions?variation_id=var-1", nil, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("transactions failed with %d", rec.Code)
	}
	if total, _ := decodeBody(t, rec)["total"].(float64); total != 1 {
		t.Fatalf("expected 1 transaction, got %v", total)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/stock/audits?variation_id=var-1", nil, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("audits failed with %d", rec.Code)
	}
}

func TestAdjustmentShortageReturnsConflictDetail(t *testing.T) {
	handler, _ := newTestAPI(t)
	headers := loginAsAdmin(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/stock/adjustments", map[string]any{
		"variation_id": "var-1",
		"location_id":  "loc-a",
		"quantity":     "-5",
	}, headers)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["shortage"] == nil || body["available"] == nil {
		t.Fatalf("expected structured shortage detail, got %s", rec.Body.String())
	}
}

func TestTransferLifecycleOverHTTP(t *testing.T) {
	handler, _ := newTestAPI(t)
	headers := loginAsAdmin(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/stock/receive", map[string]any{
		"product_id":   "prod-1",
		"variation_id": "var-1",
		"location_id":  "loc-a",
		"quantity":     "50",
	}, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("receive failed with %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/stock/transfers", map[string]any{
		"product_id":       "prod-1",
		"variation_id":     "var-1",
		"from_location_id": "loc-a",
		"to_location_id":   "loc-b",
		"quantity":         "20",
	}, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("transfer out failed with %d: %s", rec.Code, rec.Body.String())
	}
	transfer, _ := decodeBody(t, rec)["transfer"].(map[string]any)
	transferID, _ := transfer["id"].(string)
	if transferID == "" {
		t.Fatalf("missing transfer id in %s", rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/stock/transfers/"+transferID+"/receive", map[string]any{}, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("receive leg failed with %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/stock/transfers/"+transferID+"/receive", map[string]any{}, headers)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on double receive, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/stock/transfers/"+transferID, nil, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("get transfer failed with %d", rec.Code)
	}
	transfer, _ = decodeBody(t, rec)["transfer"].(map[string]any)
	if status, _ := transfer["status"].(string); status != "received" {
		t.Fatalf("expected status received, got %q", status)
	}
}

func TestShiftSaleAndReadingFlow(t *testing.T) {
	handler, _ := newTestAPI(t)
	headers := loginAsAdmin(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/stock/receive", map[string]any{
		"product_id":   "prod-1",
		"variation_id": "var-1",
		"location_id":  "loc-a",
		"quantity":     "10",
	}, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("receive failed with %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/shifts/open", map[string]any{
		"location_id":          "loc-a",
		"terminal_id":          "term-1",
		"cashier_name":         "Maria Santos",
		"beginning_cash_cents": 100000,
	}, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("open shift failed with %d: %s", rec.Code, rec.Body.String())
	}
	shift, _ := decodeBody(t, rec)["shift"].(map[string]any)
	shiftID, _ := shift["id"].(string)
	if shiftID == "" {
		t.Fatalf("missing shift id")
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales", map[string]any{
		"location_id":         "loc-a",
		"terminal_id":         "term-1",
		"idempotency_key":     "sale-http-1",
		"payment_method":      "cash",
		"cash_received_cents": 20000,
		"lines": []map[string]any{
			{"product_id": "prod-1", "variation_id": "var-1", "qty": "2", "unit_price_cents": 5600},
		},
	}, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("sale failed with %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/readings/x", map[string]any{
		"shift_id": shiftID,
	}, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("x reading failed with %d: %s", rec.Code, rec.Body.String())
	}
	readingBody, _ := decodeBody(t, rec)["reading"].(map[string]any)
	if gross, _ := readingBody["gross_sales_cents"].(float64); gross != 11200 {
		t.Fatalf("expected gross 11200 on x reading, got %v", gross)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/readings/z", map[string]any{
		"shift_id": shiftID,
		"preview":  true,
	}, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("z preview failed with %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/readings/z", map[string]any{
		"shift_id":          shiftID,
		"ending_cash_cents": 111200,
	}, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("z reading failed with %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/readings/z", map[string]any{
		"shift_id":          shiftID,
		"ending_cash_cents": 111200,
	}, headers)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate z, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/readings?shift_id="+shiftID, nil, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("list readings failed with %d", rec.Code)
	}
	readings, _ := decodeBody(t, rec)["readings"].([]any)
	if len(readings) != 2 {
		t.Fatalf("expected 2 persisted readings (x + z), got %d", len(readings))
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/counters?location_id=loc-a", nil, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("counters failed with %d", rec.Code)
	}
}

func TestVoidSaleRequiresManagerPIN(t *testing.T) {
	handler, _ := newTestAPI(t)
	headers := loginAsAdmin(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/stock/receive", map[string]any{
		"product_id":   "prod-1",
		"variation_id": "var-1",
		"location_id":  "loc-a",
		"quantity":     "10",
	}, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("receive failed with %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/shifts/open", map[string]any{
		"location_id":  "loc-a",
		"terminal_id":  "term-1",
		"cashier_name": "Maria Santos",
	}, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("open shift failed with %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales", map[string]any{
		"location_id":         "loc-a",
		"terminal_id":         "term-1",
		"idempotency_key":     "sale-void-1",
		"payment_method":      "cash",
		"cash_received_cents": 10000,
		"lines": []map[string]any{
			{"product_id": "prod-1", "variation_id": "var-1", "qty": "1", "unit_price_cents": 10000},
		},
	}, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("sale failed with %d: %s", rec.Code, rec.Body.String())
	}
	sale, _ := decodeBody(t, rec)["sale"].(map[string]any)
	saleID, _ := sale["id"].(string)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales/"+saleID+"/void", map[string]any{
		"reason":      "wrong item",
		"manager_pin": "000000",
	}, headers)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with wrong PIN, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales/"+saleID+"/void", map[string]any{
		"reason":      "wrong item",
		"manager_pin": "739154",
	}, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("void with correct PIN failed with %d: %s", rec.Code, rec.Body.String())
	}
	voided, _ := decodeBody(t, rec)["sale"].(map[string]any)
	if status, _ := voided["status"].(string); status != "voided" {
		t.Fatalf("expected voided status, got %q", status)
	}
}

func TestDiscrepancySyncGatedByPIN(t *testing.T) {
	handler, repo := newTestAPI(t)
	headers := loginAsAdmin(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/stock/receive", map[string]any{
		"product_id":   "prod-1",
		"variation_id": "var-1",
		"location_id":  "loc-a",
		"quantity":     "10",
	}, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("receive failed with %d", rec.Code)
	}
	repo.OverrideBalance(domain.StockKey{VariationID: "var-1", LocationID: "loc-a"}, decimal.RequireFromString("13"))

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/stock/discrepancies", nil, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("discrepancies failed with %d", rec.Code)
	}
	reports, _ := decodeBody(t, rec)["discrepancies"].([]any)
	if len(reports) != 1 {
		t.Fatalf("expected 1 discrepancy, got %d", len(reports))
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/stock/discrepancies/sync", map[string]any{
		"variation_id": "var-1",
		"location_id":  "loc-a",
		"manager_pin":  "000000",
	}, headers)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with wrong PIN, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/stock/discrepancies/sync", map[string]any{
		"variation_id": "var-1",
		"location_id":  "loc-a",
		"manager_pin":  "739154",
	}, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("sync failed with %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/stock/balances?location_id=loc-a&variation_id=var-1", nil, headers)
	if qty, _ := decodeBody(t, rec)["qty_available"].(string); qty != "10" {
		t.Fatalf("expected repaired balance 10, got %q", qty)
	}
}

func TestCashierManagement(t *testing.T) {
	handler, _ := newTestAPI(t)
	headers := loginAsAdmin(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/users/cashiers", map[string]string{
		"username": "ana",
		"password": "secret123",
	}, headers)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for 3-char username, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/users/cashiers", map[string]string{
		"username": "anamarie",
		"password": "secret123",
	}, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create cashier failed with %d: %s", rec.Code, rec.Body.String())
	}

	// The new account can log in right away.
	loginAs(t, handler, "anamarie", "secret123")

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/users/cashiers", nil, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("list cashiers failed with %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler, _ := newTestAPI(t)
	headers := loginAsAdmin(t, handler)
	rec := doJSON(t, handler, http.MethodDelete, "/api/v1/stock/transactions", nil, headers)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestUnknownJSONFieldRejected(t *testing.T) {
	handler, _ := newTestAPI(t)
	headers := loginAsAdmin(t, handler)
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/shifts/open", map[string]any{
		"location_id":   "loc-a",
		"terminal_id":   "term-1",
		"cashier_name":  "Maria Santos",
		"unknown_field": true,
	}, headers)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestParsePositiveLimit(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{"", 50},
		{"25", 25},
		{"0", 50},
		{"-3", 50},
		{"junk", 50},
		{"9999", 500},
	}
	for _, c := range cases {
		if got := parsePositiveLimit(c.raw, 50, 500); got != c.want {
			t.Fatalf("parsePositiveLimit(%q) = %d, want %d", c.raw, got, c.want)
		}
	}
}
