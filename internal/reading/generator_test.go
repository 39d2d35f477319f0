package reading

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tindahan/backend/internal/domain"
	"tindahan/backend/internal/store"
	"tindahan/backend/internal/store/memory"
)

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]*domain.Reading
	hits    int
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*domain.Reading)}
}

func (c *fakeCache) Get(_ context.Context, key string) (*domain.Reading, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	c.hits++
	clone := *cached
	return &clone, true, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value *domain.Reading, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clone := *value
	c.entries[key] = &clone
	c.sets++
	return nil
}

func openShift(t *testing.T, repo *memory.Store, locationID, terminalID string, beginningCash int64) *domain.Shift {
	t.Helper()
	shift, err := repo.CreateShift(context.Background(), domain.Shift{
		BusinessID:         "biz-test",
		LocationID:         locationID,
		TerminalID:         terminalID,
		CashierName:        "Maria Santos",
		BeginningCashCents: beginningCash,
	})
	if err != nil {
		t.Fatalf("open shift failed: %v", err)
	}
	return shift
}

// recordSale writes the sale row and pushes its delta into the running
// totals, the same double write the sales service performs.
func recordSale(t *testing.T, repo *memory.Store, shift *domain.Shift, payment string, totalCents int64, lines []domain.SaleLine) *domain.Sale {
	t.Helper()
	gross := totalCents
	vat := totalCents * 12 / 112
	sale, err := repo.CreateSale(context.Background(), domain.Sale{
		BusinessID:    "biz-test",
		LocationID:    shift.LocationID,
		TerminalID:    shift.TerminalID,
		ShiftID:       shift.ID,
		PaymentMethod: payment,
		GrossCents:    gross,
		VatCents:      vat,
		TotalCents:    totalCents,
		Status:        domain.SaleStatusPaid,
		Lines:         lines,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	delta := domain.TotalsDelta{
		GrossSalesCents:   gross,
		NetSalesCents:     totalCents,
		VatAmountCents:    vat,
		VatableSalesCents: totalCents - vat,
		TransactionCount:  1,
	}
	switch payment {
	case domain.PaymentCash:
		delta.CashSalesCents = totalCents
	case domain.PaymentCard:
		delta.CardSalesCents = totalCents
	}
	if err := repo.AccumulateShiftTotals(context.Background(), shift.ID, delta); err != nil {
		t.Fatalf("accumulate totals failed: %v", err)
	}
	return sale
}

func singleLine(totalCents int64) []domain.SaleLine {
	return []domain.SaleLine{{
		ProductID:      "prod-1",
		VariationID:    "var-1",
		Qty:            decimal.NewFromInt(1),
		UnitPriceCents: totalCents,
		LineTotalCents: totalCents,
	}}
}

func decodeXPayload(t *testing.T, reading *domain.Reading) domain.XReadingPayload {
	t.Helper()
	var payload domain.XReadingPayload
	if err := json.Unmarshal(reading.Payload, &payload); err != nil {
		t.Fatalf("decode payload failed: %v", err)
	}
	return payload
}

func decodeZPayload(t *testing.T, reading *domain.Reading) domain.ZReadingPayload {
	t.Helper()
	var payload domain.ZReadingPayload
	if err := json.Unmarshal(reading.Payload, &payload); err != nil {
		t.Fatalf("decode payload failed: %v", err)
	}
	return payload
}

func TestXReadingInstantMode(t *testing.T) {
	repo := memory.New()
	gen := New(repo, nil, 0, 0)
	shift := openShift(t, repo, "loc-a", "term-1", 100000)
	recordSale(t, repo, shift, domain.PaymentCash, 56000, singleLine(56000))

	reading, err := gen.GenerateXReading(context.Background(), shift.ID, false)
	if err != nil {
		t.Fatalf("generate x failed: %v", err)
	}
	payload := decodeXPayload(t, reading)
	if payload.Mode != domain.ReadingModeInstant {
		t.Fatalf("expected instant mode, got %s", payload.Mode)
	}
	if reading.GrossSalesCents != 56000 {
		t.Fatalf("expected gross 56000, got %d", reading.GrossSalesCents)
	}
	if payload.Payments.CashCents != 56000 {
		t.Fatalf("expected cash payments 56000, got %d", payload.Payments.CashCents)
	}
	if payload.TransactionCount != 1 {
		t.Fatalf("expected 1 transaction, got %d", payload.TransactionCount)
	}
}

func TestXReadingFallbackModeMatchesInstant(t *testing.T) {
	repo := memory.New()
	gen := New(repo, nil, 0, 0)
	shift := openShift(t, repo, "loc-a", "term-1", 100000)
	recordSale(t, repo, shift, domain.PaymentCash, 33600, singleLine(33600))
	recordSale(t, repo, shift, domain.PaymentCard, 11200, singleLine(11200))

	instant, err := gen.GenerateXReading(context.Background(), shift.ID, false)
	if err != nil {
		t.Fatalf("generate instant x failed: %v", err)
	}

	// A shift without a totals row takes the aggregation path and must land
	// on the same numbers.
	repo.DropShiftTotals(shift.ID)
	fallback, err := gen.GenerateXReading(context.Background(), shift.ID, false)
	if err != nil {
		t.Fatalf("generate fallback x failed: %v", err)
	}

	instantPayload := decodeXPayload(t, instant)
	fallbackPayload := decodeXPayload(t, fallback)
	if instantPayload.Mode != domain.ReadingModeInstant || fallbackPayload.Mode != domain.ReadingModeFallback {
		t.Fatalf("expected instant/fallback modes, got %s/%s", instantPayload.Mode, fallbackPayload.Mode)
	}
	if instantPayload.GrossSalesCents != fallbackPayload.GrossSalesCents ||
		instantPayload.Payments != fallbackPayload.Payments ||
		instantPayload.TransactionCount != fallbackPayload.TransactionCount ||
		instantPayload.ExpectedCashCents != fallbackPayload.ExpectedCashCents {
		t.Fatalf("fallback disagrees with instant:\ninstant:  %+v\nfallback: %+v", instantPayload, fallbackPayload)
	}
}

func TestXReadingNonIncrementRepeatable(t *testing.T) {
	repo := memory.New()
	gen := New(repo, nil, 0, 0)
	shift := openShift(t, repo, "loc-a", "term-1", 50000)
	recordSale(t, repo, shift, domain.PaymentCash, 22400, singleLine(22400))

	first, err := gen.GenerateXReading(context.Background(), shift.ID, false)
	if err != nil {
		t.Fatalf("first x failed: %v", err)
	}
	second, err := gen.GenerateXReading(context.Background(), shift.ID, false)
	if err != nil {
		t.Fatalf("second x failed: %v", err)
	}
	if !bytes.Equal(first.Payload, second.Payload) {
		t.Fatalf("same revision must reproduce the same body:\nfirst:  %s\nsecond: %s", first.Payload, second.Payload)
	}
	if first.ReadingNumber != second.ReadingNumber {
		t.Fatalf("non-incrementing reads must not advance the counter: %d vs %d", first.ReadingNumber, second.ReadingNumber)
	}
}

func TestXReadingCacheHitSkipsPersist(t *testing.T) {
	repo := memory.New()
	readingCache := newFakeCache()
	gen := New(repo, readingCache, 0, 0)
	shift := openShift(t, repo, "loc-a", "term-1", 50000)
	recordSale(t, repo, shift, domain.PaymentCash, 22400, singleLine(22400))

	if _, err := gen.GenerateXReading(context.Background(), shift.ID, false); err != nil {
		t.Fatalf("first x failed: %v", err)
	}
	if _, err := gen.GenerateXReading(context.Background(), shift.ID, false); err != nil {
		t.Fatalf("second x failed: %v", err)
	}
	if readingCache.hits != 1 || readingCache.sets != 1 {
		t.Fatalf("expected one set then one hit, got sets=%d hits=%d", readingCache.sets, readingCache.hits)
	}
	stored, err := repo.ListReadings(context.Background(), shift.ID)
	if err != nil {
		t.Fatalf("list readings failed: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("cached re-read must not persist again, got %d rows", len(stored))
	}

	// A new sale bumps the revision, so the next read misses and recomputes.
	recordSale(t, repo, shift, domain.PaymentCash, 11200, singleLine(11200))
	fresh, err := gen.GenerateXReading(context.Background(), shift.ID, false)
	if err != nil {
		t.Fatalf("post-sale x failed: %v", err)
	}
	if fresh.GrossSalesCents != 33600 {
		t.Fatalf("expected refreshed gross 33600, got %d", fresh.GrossSalesCents)
	}
	if readingCache.sets != 2 {
		t.Fatalf("expected second cache fill after revision change, got sets=%d", readingCache.sets)
	}
}

func TestXReadingCacheRefreshesAfterIncrement(t *testing.T) {
	repo := memory.New()
	readingCache := newFakeCache()
	gen := New(repo, readingCache, 0, 0)
	shift := openShift(t, repo, "loc-a", "term-1", 50000)
	recordSale(t, repo, shift, domain.PaymentCash, 22400, singleLine(22400))

	first, err := gen.GenerateXReading(context.Background(), shift.ID, false)
	if err != nil {
		t.Fatalf("first x failed: %v", err)
	}
	if first.ReadingNumber != 0 {
		t.Fatalf("expected reading number 0 before any increment, got %d", first.ReadingNumber)
	}

	// Bumping the counter leaves the totals revision alone, so a stale
	// cache key would keep serving the pre-increment number.
	official, err := gen.GenerateXReading(context.Background(), shift.ID, true)
	if err != nil {
		t.Fatalf("incrementing x failed: %v", err)
	}
	if official.ReadingNumber != 1 {
		t.Fatalf("expected incremented reading number 1, got %d", official.ReadingNumber)
	}

	again, err := gen.GenerateXReading(context.Background(), shift.ID, false)
	if err != nil {
		t.Fatalf("post-increment x failed: %v", err)
	}
	if again.ReadingNumber != 1 {
		t.Fatalf("expected re-read to reflect the new counter, got %d", again.ReadingNumber)
	}
	if readingCache.hits != 0 {
		t.Fatalf("expected no cache hits across counter bump, got %d", readingCache.hits)
	}
}

func TestXReadingIncrementCounterSequence(t *testing.T) {
	repo := memory.New()
	gen := New(repo, nil, 0, 0)
	shift := openShift(t, repo, "loc-a", "term-1", 50000)

	for want := int64(1); want <= 3; want++ {
		reading, err := gen.GenerateXReading(context.Background(), shift.ID, true)
		if err != nil {
			t.Fatalf("x #%d failed: %v", want, err)
		}
		if reading.ReadingNumber != want {
			t.Fatalf("expected reading number %d, got %d", want, reading.ReadingNumber)
		}
	}
}

func TestExpectedCashFormula(t *testing.T) {
	repo := memory.New()
	gen := New(repo, nil, 0, 0)
	shift := openShift(t, repo, "loc-a", "term-1", 100000)
	recordSale(t, repo, shift, domain.PaymentCash, 56000, singleLine(56000))
	recordSale(t, repo, shift, domain.PaymentCard, 28000, singleLine(28000))

	for _, m := range []domain.CashMovement{
		{ShiftID: shift.ID, LocationID: "loc-a", Kind: domain.CashMovementIn, AmountCents: 20000, Reason: "change fund top-up"},
		{ShiftID: shift.ID, LocationID: "loc-a", Kind: domain.CashMovementOut, AmountCents: 5000, Reason: "supplier COD"},
	} {
		if _, err := repo.CreateCashMovement(context.Background(), m); err != nil {
			t.Fatalf("cash movement failed: %v", err)
		}
	}

	reading, err := gen.GenerateXReading(context.Background(), shift.ID, false)
	if err != nil {
		t.Fatalf("generate x failed: %v", err)
	}
	payload := decodeXPayload(t, reading)

	// beginning + cash sales + cash in - cash out; card sales stay out.
	want := int64(100000 + 56000 + 20000 - 5000)
	if payload.ExpectedCashCents != want {
		t.Fatalf("expected cash %d, got %d", want, payload.ExpectedCashCents)
	}
	if payload.CashInCents != 20000 || payload.CashOutCents != 5000 {
		t.Fatalf("unexpected movement sums in=%d out=%d", payload.CashInCents, payload.CashOutCents)
	}
}

func TestZReadingMonotonicPerLocation(t *testing.T) {
	repo := memory.New()
	gen := New(repo, nil, 0, 0)
	ctx := context.Background()

	first := openShift(t, repo, "loc-a", "term-1", 100000)
	recordSale(t, repo, first, domain.PaymentCash, 56000, singleLine(56000))
	z1, err := gen.GenerateZReading(ctx, ZReadingRequest{ShiftID: first.ID, EndingCashCents: 156000})
	if err != nil {
		t.Fatalf("first z failed: %v", err)
	}
	if z1.ReadingNumber != 1 {
		t.Fatalf("expected z #1, got %d", z1.ReadingNumber)
	}
	if _, err := repo.CloseActiveShift(ctx, "loc-a", "term-1", 156000, time.Now().UTC()); err != nil {
		t.Fatalf("close shift failed: %v", err)
	}

	second := openShift(t, repo, "loc-a", "term-1", 100000)
	recordSale(t, repo, second, domain.PaymentCash, 28000, singleLine(28000))
	z2, err := gen.GenerateZReading(ctx, ZReadingRequest{ShiftID: second.ID, EndingCashCents: 128000})
	if err != nil {
		t.Fatalf("second z failed: %v", err)
	}
	if z2.ReadingNumber != 2 {
		t.Fatalf("expected z #2, got %d", z2.ReadingNumber)
	}

	// A different location runs its own sequence.
	other := openShift(t, repo, "loc-b", "term-1", 0)
	zOther, err := gen.GenerateZReading(ctx, ZReadingRequest{ShiftID: other.ID})
	if err != nil {
		t.Fatalf("other-location z failed: %v", err)
	}
	if zOther.ReadingNumber != 1 {
		t.Fatalf("expected independent sequence starting at 1, got %d", zOther.ReadingNumber)
	}
}

func TestZReadingAccumulatedSalesRollforward(t *testing.T) {
	repo := memory.New()
	gen := New(repo, nil, 0, 0)
	ctx := context.Background()

	first := openShift(t, repo, "loc-a", "term-1", 0)
	recordSale(t, repo, first, domain.PaymentCash, 56000, singleLine(56000))
	z1, err := gen.GenerateZReading(ctx, ZReadingRequest{ShiftID: first.ID, EndingCashCents: 56000})
	if err != nil {
		t.Fatalf("first z failed: %v", err)
	}
	p1 := decodeZPayload(t, z1)
	if p1.AccumulatedSalesBeforeCents != 0 || p1.AccumulatedSalesAfterCents != 56000 {
		t.Fatalf("expected rollforward 0 -> 56000, got %d -> %d", p1.AccumulatedSalesBeforeCents, p1.AccumulatedSalesAfterCents)
	}
	if _, err := repo.CloseActiveShift(ctx, "loc-a", "term-1", 56000, time.Now().UTC()); err != nil {
		t.Fatalf("close shift failed: %v", err)
	}

	second := openShift(t, repo, "loc-a", "term-1", 0)
	recordSale(t, repo, second, domain.PaymentCash, 28000, singleLine(28000))
	z2, err := gen.GenerateZReading(ctx, ZReadingRequest{ShiftID: second.ID, EndingCashCents: 28000})
	if err != nil {
		t.Fatalf("second z failed: %v", err)
	}
	p2 := decodeZPayload(t, z2)
	if p2.AccumulatedSalesBeforeCents != 56000 || p2.AccumulatedSalesAfterCents != 84000 {
		t.Fatalf("expected rollforward 56000 -> 84000, got %d -> %d", p2.AccumulatedSalesBeforeCents, p2.AccumulatedSalesAfterCents)
	}

	counters, err := gen.GetLocationCounters(ctx, "loc-a")
	if err != nil {
		t.Fatalf("get counters failed: %v", err)
	}
	if counters.ZCounter != 2 || counters.AccumulatedSalesCents != 84000 {
		t.Fatalf("expected counters z=2 accumulated=84000, got z=%d accumulated=%d", counters.ZCounter, counters.AccumulatedSalesCents)
	}
}

func TestZReadingRejectsClosedShiftAndDuplicates(t *testing.T) {
	repo := memory.New()
	gen := New(repo, nil, 0, 0)
	ctx := context.Background()

	shift := openShift(t, repo, "loc-a", "term-1", 0)
	if _, err := gen.GenerateZReading(ctx, ZReadingRequest{ShiftID: shift.ID}); err != nil {
		t.Fatalf("first z failed: %v", err)
	}
	if _, err := gen.GenerateZReading(ctx, ZReadingRequest{ShiftID: shift.ID}); !errors.Is(err, store.ErrDuplicateReading) {
		t.Fatalf("expected ErrDuplicateReading, got %v", err)
	}

	if _, err := repo.CloseActiveShift(ctx, "loc-a", "term-1", 0, time.Now().UTC()); err != nil {
		t.Fatalf("close shift failed: %v", err)
	}
	if _, err := gen.GenerateZReading(ctx, ZReadingRequest{ShiftID: shift.ID}); !errors.Is(err, store.ErrShiftClosed) {
		t.Fatalf("expected ErrShiftClosed, got %v", err)
	}
}

func TestZReadingPreviewDoesNotConsumeSequence(t *testing.T) {
	repo := memory.New()
	gen := New(repo, nil, 0, 0)
	ctx := context.Background()

	shift := openShift(t, repo, "loc-a", "term-1", 0)
	preview, err := gen.GenerateZReading(ctx, ZReadingRequest{ShiftID: shift.ID, Preview: true})
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if preview.ReadingNumber != 1 {
		t.Fatalf("expected provisional number 1, got %d", preview.ReadingNumber)
	}

	counters, err := gen.GetLocationCounters(ctx, "loc-a")
	if err != nil {
		t.Fatalf("get counters failed: %v", err)
	}
	if counters.ZCounter != 0 {
		t.Fatalf("preview must not touch the counter, got %d", counters.ZCounter)
	}
	stored, err := repo.ListReadings(ctx, shift.ID)
	if err != nil {
		t.Fatalf("list readings failed: %v", err)
	}
	if len(stored) != 0 {
		t.Fatalf("preview must not persist, got %d rows", len(stored))
	}

	official, err := gen.GenerateZReading(ctx, ZReadingRequest{ShiftID: shift.ID})
	if err != nil {
		t.Fatalf("official z failed: %v", err)
	}
	if official.ReadingNumber != 1 {
		t.Fatalf("official run must take the number the preview projected, got %d", official.ReadingNumber)
	}
}

func TestZReadingDenominationCount(t *testing.T) {
	repo := memory.New()
	gen := New(repo, nil, 0, 0)
	ctx := context.Background()

	shift := openShift(t, repo, "loc-a", "term-1", 100000)
	recordSale(t, repo, shift, domain.PaymentCash, 56000, singleLine(56000))

	z, err := gen.GenerateZReading(ctx, ZReadingRequest{
		ShiftID: shift.ID,
		Denominations: []domain.DenominationCount{
			{ValueCents: 100000, Count: 1},
			{ValueCents: 50000, Count: 1},
			{ValueCents: 2000, Count: 2},
		},
	})
	if err != nil {
		t.Fatalf("z with denominations failed: %v", err)
	}
	payload := decodeZPayload(t, z)
	if payload.EndingCashCents != 154000 {
		t.Fatalf("expected counted cash 154000, got %d", payload.EndingCashCents)
	}
	// expected = 100000 beginning + 56000 cash sales; counted is short 2000.
	if payload.CashVarianceCents != -2000 {
		t.Fatalf("expected variance -2000, got %d", payload.CashVarianceCents)
	}
}

func TestZReadingRejectsNegativeDenomination(t *testing.T) {
	repo := memory.New()
	gen := New(repo, nil, 0, 0)
	shift := openShift(t, repo, "loc-a", "term-1", 0)

	_, err := gen.GenerateZReading(context.Background(), ZReadingRequest{
		ShiftID:       shift.ID,
		Denominations: []domain.DenominationCount{{ValueCents: 2000, Count: -1}},
	})
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestConcurrentZReadingsGetDistinctNumbers(t *testing.T) {
	repo := memory.New()
	gen := New(repo, nil, 0, 0)
	ctx := context.Background()

	const n = 8
	shifts := make([]*domain.Shift, n)
	for i := 0; i < n; i++ {
		shifts[i] = openShift(t, repo, "loc-a", "term-"+string(rune('a'+i)), 0)
	}

	var wg sync.WaitGroup
	numbers := make([]int64, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			z, err := gen.GenerateZReading(ctx, ZReadingRequest{ShiftID: shifts[i].ID})
			if err != nil {
				errs[i] = err
				return
			}
			numbers[i] = z.ReadingNumber
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("z for shift %d failed: %v", i, errs[i])
		}
		if numbers[i] < 1 || numbers[i] > n {
			t.Fatalf("z number %d out of range", numbers[i])
		}
		if seen[numbers[i]] {
			t.Fatalf("z number %d issued twice", numbers[i])
		}
		seen[numbers[i]] = true
	}
}

func TestItemBreakdownDegradesOnTimeout(t *testing.T) {
	repo := memory.New()
	gen := New(repo, nil, time.Nanosecond, 0)
	shift := openShift(t, repo, "loc-a", "term-1", 0)
	recordSale(t, repo, shift, domain.PaymentCash, 56000, singleLine(56000))

	reading, err := gen.GenerateXReading(context.Background(), shift.ID, false)
	if err != nil {
		t.Fatalf("generate x failed: %v", err)
	}
	payload := decodeXPayload(t, reading)
	if !payload.BreakdownOmitted {
		t.Fatalf("expected breakdown omitted under timeout")
	}
	if len(payload.ItemBreakdown) != 0 {
		t.Fatalf("expected empty breakdown, got %d rows", len(payload.ItemBreakdown))
	}
	// The compliance fields still come through.
	if reading.GrossSalesCents != 56000 {
		t.Fatalf("expected gross 56000 despite omitted breakdown, got %d", reading.GrossSalesCents)
	}
}

func TestItemBreakdownGroupsAndOrders(t *testing.T) {
	repo := memory.New()
	gen := New(repo, nil, 0, 0)
	shift := openShift(t, repo, "loc-a", "term-1", 0)

	recordSale(t, repo, shift, domain.PaymentCash, 30000, []domain.SaleLine{
		{ProductID: "prod-1", VariationID: "var-a", Qty: decimal.NewFromInt(2), UnitPriceCents: 5000, LineTotalCents: 10000},
		{ProductID: "prod-2", VariationID: "var-b", Qty: decimal.NewFromInt(1), UnitPriceCents: 20000, LineTotalCents: 20000},
	})
	recordSale(t, repo, shift, domain.PaymentCash, 5000, []domain.SaleLine{
		{ProductID: "prod-1", VariationID: "var-a", Qty: decimal.NewFromInt(1), UnitPriceCents: 5000, LineTotalCents: 5000},
	})

	reading, err := gen.GenerateXReading(context.Background(), shift.ID, false)
	if err != nil {
		t.Fatalf("generate x failed: %v", err)
	}
	payload := decodeXPayload(t, reading)
	if len(payload.ItemBreakdown) != 2 {
		t.Fatalf("expected 2 grouped rows, got %d", len(payload.ItemBreakdown))
	}
	top := payload.ItemBreakdown[0]
	if top.VariationID != "var-b" || top.SalesCents != 20000 {
		t.Fatalf("expected var-b first with 20000, got %s/%d", top.VariationID, top.SalesCents)
	}
	second := payload.ItemBreakdown[1]
	if second.VariationID != "var-a" || second.SalesCents != 15000 || !second.QtySold.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected var-a grouped to qty 3 / 15000, got %+v", second)
	}
}
