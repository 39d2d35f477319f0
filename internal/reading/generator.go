package reading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"tindahan/backend/internal/cache"
	"tindahan/backend/internal/domain"
	"tindahan/backend/internal/store"
)

// Generator produces X and Z register readings. Shifts with live running
// totals get the instant path; shifts that predate the accumulator fall back
// to aggregating their sales rows.
type Generator struct {
	repo             store.Repository
	cache            cache.ReadingCache
	breakdownTimeout time.Duration
	cacheTTL         time.Duration
}

func New(repo store.Repository, readingCache cache.ReadingCache, breakdownTimeout time.Duration, cacheTTL time.Duration) *Generator {
	if readingCache == nil {
		readingCache = cache.NoopReadingCache{}
	}
	if breakdownTimeout <= 0 {
		breakdownTimeout = 5 * time.Second
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Generator{
		repo:             repo,
		cache:            readingCache,
		breakdownTimeout: breakdownTimeout,
		cacheTTL:         cacheTTL,
	}
}

// GenerateXReading snapshots a shift mid-stream. With incrementCounter the
// shift's X counter bumps atomically with the stored reading; without it the
// same body is reproduced, served from cache while the shift's totals
// revision is unchanged.
func (g *Generator) GenerateXReading(ctx context.Context, shiftID string, incrementCounter bool) (*domain.Reading, error) {
	shift, err := g.repo.GetShift(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	totals, mode, err := g.loadTotals(ctx, shiftID)
	if err != nil {
		return nil, err
	}

	if !incrementCounter {
		cacheKey := xCacheKey(shiftID, totals.Revision, shift.XReadingCount)
		cached, hit, err := g.cache.Get(ctx, cacheKey)
		if err != nil {
			log.Printf("[reading] WARN: cache get failed for %s: %v", cacheKey, err)
		} else if hit {
			cached.ReadingTime = time.Now().UTC()
			return cached, nil
		}
	}

	payload, err := g.buildXPayload(ctx, shift, totals, mode)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	reading := domain.Reading{
		BusinessID:          shift.BusinessID,
		LocationID:          shift.LocationID,
		ShiftID:             shift.ID,
		Type:                domain.ReadingTypeX,
		GrossSalesCents:     payload.GrossSalesCents,
		NetSalesCents:       payload.NetSalesCents,
		TotalDiscountsCents: payload.Discounts.TotalCents,
		ExpectedCashCents:   payload.ExpectedCashCents,
		TransactionCount:    payload.TransactionCount,
		Payload:             body,
	}

	saved, err := g.repo.CreateXReading(ctx, reading, incrementCounter)
	if err != nil {
		return nil, err
	}

	if !incrementCounter {
		cacheKey := xCacheKey(shiftID, totals.Revision, shift.XReadingCount)
		if err := g.cache.Set(ctx, cacheKey, saved, g.cacheTTL); err != nil {
			log.Printf("[reading] WARN: cache set failed for %s: %v", cacheKey, err)
		}
	}
	return saved, nil
}

// ZReadingRequest closes out a shift's register. Ending cash comes from the
// denomination count when present, otherwise EndingCashCents is taken as
// already summed. Preview produces the full body with a provisional sequence
// number and touches no counters.
type ZReadingRequest struct {
	ShiftID         string                     `json:"shift_id"`
	EndingCashCents int64                      `json:"ending_cash_cents"`
	Denominations   []domain.DenominationCount `json:"denominations,omitempty"`
	Preview         bool                       `json:"preview,omitempty"`
}

func (g *Generator) GenerateZReading(ctx context.Context, req ZReadingRequest) (*domain.Reading, error) {
	shift, err := g.repo.GetShift(ctx, req.ShiftID)
	if err != nil {
		return nil, err
	}
	if shift.Status != domain.ShiftStatusOpen {
		return nil, store.ErrShiftClosed
	}
	totals, mode, err := g.loadTotals(ctx, req.ShiftID)
	if err != nil {
		return nil, err
	}

	xBody, err := g.buildXPayload(ctx, shift, totals, mode)
	if err != nil {
		return nil, err
	}

	endingCash := req.EndingCashCents
	if len(req.Denominations) > 0 {
		endingCash = 0
		for _, d := range req.Denominations {
			if d.ValueCents < 0 || d.Count < 0 {
				return nil, store.ErrInvalidRequest
			}
			endingCash += d.ValueCents * d.Count
		}
	}

	counters, err := g.repo.GetLocationCounters(ctx, shift.LocationID)
	if err != nil {
		return nil, err
	}

	payload := domain.ZReadingPayload{
		XReadingPayload:   *xBody,
		ResetCounter:      counters.ResetCounter,
		EndingCashCents:   endingCash,
		CashVarianceCents: endingCash - xBody.ExpectedCashCents,
		Vat: domain.VatBreakdown{
			VatableSalesCents:   totals.VatableSalesCents,
			VatAmountCents:      totals.VatAmountCents,
			VatExemptSalesCents: totals.VatExemptSalesCents,
			ZeroRatedSalesCents: totals.ZeroRatedSalesCents,
		},
		AccumulatedSalesBeforeCents: counters.AccumulatedSalesCents,
		AccumulatedSalesAfterCents:  counters.AccumulatedSalesCents + totals.GrossSalesCents,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	reading := domain.Reading{
		BusinessID:          shift.BusinessID,
		LocationID:          shift.LocationID,
		ShiftID:             shift.ID,
		Type:                domain.ReadingTypeZ,
		ReadingTime:         time.Now().UTC(),
		GrossSalesCents:     payload.GrossSalesCents,
		NetSalesCents:       payload.NetSalesCents,
		TotalDiscountsCents: payload.Discounts.TotalCents,
		ExpectedCashCents:   payload.ExpectedCashCents,
		TransactionCount:    payload.TransactionCount,
		Payload:             body,
	}

	if req.Preview {
		// Provisional number only. The official run re-derives it inside the
		// store transaction, so a concurrent Z elsewhere cannot invalidate
		// anything but this display value.
		reading.ReadingNumber = counters.ZCounter + 1
		return &reading, nil
	}

	return g.repo.CreateZReading(ctx, reading)
}

func (g *Generator) ListShiftReadings(ctx context.Context, shiftID string) ([]domain.Reading, error) {
	return g.repo.ListReadings(ctx, shiftID)
}

func (g *Generator) GetLocationCounters(ctx context.Context, locationID string) (*domain.LocationCounters, error) {
	return g.repo.GetLocationCounters(ctx, locationID)
}

// loadTotals chooses between the running counters and the sales-row
// aggregation, and reports which path produced the result. An
// uninitialized totals row is indistinguishable from a legacy shift, so
// both take the slow path; re-aggregating a truly empty shift yields the
// same zeros either way. The mode must come from the stored row, not the
// returned totals: a re-aggregated legacy shift looks initialized.
func (g *Generator) loadTotals(ctx context.Context, shiftID string) (*domain.ShiftTotals, string, error) {
	totals, err := g.repo.GetShiftTotals(ctx, shiftID)
	if err != nil {
		return nil, "", err
	}
	if totals.Initialized() {
		return totals, domain.ReadingModeInstant, nil
	}
	aggregated, err := g.repo.AggregateShiftSales(ctx, shiftID)
	if err != nil {
		return nil, "", err
	}
	aggregated.Revision = totals.Revision
	return aggregated, domain.ReadingModeFallback, nil
}

func (g *Generator) buildXPayload(ctx context.Context, shift *domain.Shift, totals *domain.ShiftTotals, mode string) (*domain.XReadingPayload, error) {
	cashIn, cashOut, err := g.repo.SumCashMovements(ctx, shift.ID)
	if err != nil {
		return nil, err
	}

	payload := &domain.XReadingPayload{
		Mode:                   mode,
		ShiftID:                shift.ID,
		LocationID:             shift.LocationID,
		TerminalID:             shift.TerminalID,
		CashierName:            shift.CashierName,
		ShiftOpenedAt:          shift.OpenedAt,
		GrossSalesCents:        totals.GrossSalesCents,
		NetSalesCents:          totals.NetSalesCents,
		Payments: domain.PaymentBreakdown{
			CashCents:    totals.CashSalesCents,
			CardCents:    totals.CardSalesCents,
			EWalletCents: totals.EWalletSalesCents,
			ChargeCents:  totals.ChargeSalesCents,
		},
		Discounts: domain.DiscountBreakdown{
			RegularCents: totals.RegularDiscountCents,
			SeniorCents:  totals.SeniorDiscountCents,
			PWDCents:     totals.PWDDiscountCents,
			TotalCents:   totals.RegularDiscountCents + totals.SeniorDiscountCents + totals.PWDDiscountCents,
		},
		BeginningCashCents:     shift.BeginningCashCents,
		CashInCents:            cashIn,
		CashOutCents:           cashOut,
		ARCashCollectionsCents: totals.ARCashCollectionsCents,
		TransactionCount:       totals.TransactionCount,
		VoidCount:              totals.VoidCount,
		VoidTotalCents:         totals.VoidTotalCents,
	}
	payload.ExpectedCashCents = shift.BeginningCashCents + totals.CashSalesCents + cashIn - cashOut + totals.ARCashCollectionsCents

	breakdownCtx, cancel := context.WithTimeout(ctx, g.breakdownTimeout)
	defer cancel()
	breakdown, err := g.repo.GetShiftItemBreakdown(breakdownCtx, shift.ID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// Compliance fields are all present; only the itemized section
			// degrades under load.
			log.Printf("[reading] WARN: item breakdown timed out for shift %s, omitting", shift.ID)
			payload.BreakdownOmitted = true
			return payload, nil
		}
		return nil, err
	}
	payload.ItemBreakdown = breakdown
	return payload, nil
}

// xCacheKey covers everything a cached X body depends on: the totals
// revision and the shift's X counter. An incrementing X bumps the counter
// without touching the revision, so the counter has to be part of the key
// or a later re-read would serve the pre-increment reading number.
func xCacheKey(shiftID string, revision int64, xCount int64) string {
	return fmt.Sprintf("reading:x:%s:rev:%d:seq:%d", shiftID, revision, xCount)
}
