package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aethergate/aethergate/internal/budget"
	"github.com/aethergate/aethergate/internal/models"
	"github.com/aethergate/aethergate/internal/provider"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupLedgerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:ledger_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.AutoMigrate(&models.ModelRate{}, &models.UsageRecord{}, &models.Budget{}); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return db
}

func seedRate(t *testing.T, db *gorm.DB, providerID, model string, inRate, outRate int64) {
	t.Helper()
	row := models.ModelRate{
		Provider:              providerID,
		Model:                 model,
		InputRateMicrosPer1K:  inRate,
		OutputRateMicrosPer1K: outRate,
		IsEnabled:             true,
	}
	if errCreate := db.Create(&row).Error; errCreate != nil {
		t.Fatalf("seed rate: %v", errCreate)
	}
}

func freshRates(t *testing.T, db *gorm.DB, policy RatePolicy, fallbackIn, fallbackOut int64) *Rates {
	t.Helper()
	rates := NewRates(db, policy, fallbackIn, fallbackOut)
	if errRefresh := rates.Refresh(context.Background()); errRefresh != nil {
		t.Fatalf("refresh rates: %v", errRefresh)
	}
	return rates
}

func TestCostMicrosFormula(t *testing.T) {
	db := setupLedgerDB(t)
	seedRate(t, db, "alpha", "alpha-model", 2000, 6000)
	rates := freshRates(t, db, RatePolicyError, 0, 0)

	cost, err := rates.CostMicros("alpha", "alpha-model", 1500, 500)
	if err != nil {
		t.Fatalf("cost: %v", err)
	}
	// 1500 * 2000/1K input + 500 * 6000/1K output.
	if cost != 6000 {
		t.Errorf("cost = %d, want 6000", cost)
	}

	zero, errZero := rates.CostMicros("alpha", "alpha-model", 0, 0)
	if errZero != nil || zero != 0 {
		t.Errorf("zero-token cost = %d (%v), want 0", zero, errZero)
	}
}

func TestUnknownRateErrorsUnderErrorPolicy(t *testing.T) {
	db := setupLedgerDB(t)
	rates := freshRates(t, db, RatePolicyError, 0, 0)

	if _, err := rates.CostMicros("ghost", "ghost-model", 100, 100); !errors.Is(err, ErrUnknownRate) {
		t.Fatalf("err = %v, want ErrUnknownRate", err)
	}
}

func TestUnknownRateUsesFallbackUnderFallbackPolicy(t *testing.T) {
	db := setupLedgerDB(t)
	rates := freshRates(t, db, RatePolicyFallback, 1000, 3000)

	cost, err := rates.CostMicros("ghost", "ghost-model", 1000, 1000)
	if err != nil {
		t.Fatalf("cost: %v", err)
	}
	if cost != 4000 {
		t.Errorf("fallback cost = %d, want 4000", cost)
	}
}

func TestRecordUsageAppendsAndCommitsSpendAtomically(t *testing.T) {
	db := setupLedgerDB(t)
	seedRate(t, db, "alpha", "alpha-model", 2000, 6000)
	seedBudgetRow(t, db, 1, models.BudgetPeriodDaily, 10_000_000, 1_000_000)

	journal := New(db, freshRates(t, db, RatePolicyError, 0, 0))
	record, err := journal.RecordUsage(context.Background(), Params{
		OrgID:    1,
		Provider: "alpha",
		Model:    "alpha-model",
		Usage:    provider.TokenUsage{InputTokens: 1500, OutputTokens: 500},
	})
	if err != nil {
		t.Fatalf("record usage: %v", err)
	}
	if record.CostMicros != 6000 || record.TotalTokens != 2000 {
		t.Errorf("record = %+v, want cost 6000 total 2000", record)
	}

	var budgetRow models.Budget
	if errLoad := db.Where("org_id = ?", 1).Take(&budgetRow).Error; errLoad != nil {
		t.Fatalf("load budget: %v", errLoad)
	}
	if budgetRow.SpentMicros != 1_006_000 {
		t.Errorf("spent = %d, want 1006000", budgetRow.SpentMicros)
	}

	var count int64
	if errCount := db.Model(&models.UsageRecord{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if count != 1 {
		t.Errorf("usage records = %d, want 1", count)
	}
}

func TestRecordUsageUnknownRateLeavesNoPartialEntry(t *testing.T) {
	db := setupLedgerDB(t)
	seedBudgetRow(t, db, 1, models.BudgetPeriodDaily, 10_000_000, 0)

	journal := New(db, freshRates(t, db, RatePolicyError, 0, 0))
	_, err := journal.RecordUsage(context.Background(), Params{
		OrgID:    1,
		Provider: "ghost",
		Model:    "ghost-model",
		Usage:    provider.TokenUsage{InputTokens: 10, OutputTokens: 10},
	})

	var write *WriteError
	if !errors.As(err, &write) {
		t.Fatalf("err = %v, want WriteError", err)
	}
	if !errors.Is(err, ErrUnknownRate) {
		t.Errorf("err = %v, want ErrUnknownRate in chain", err)
	}

	var count int64
	if errCount := db.Model(&models.UsageRecord{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if count != 0 {
		t.Errorf("usage records = %d, want none after failed write", count)
	}
	var budgetRow models.Budget
	if errLoad := db.Where("org_id = ?", 1).Take(&budgetRow).Error; errLoad != nil {
		t.Fatalf("load budget: %v", errLoad)
	}
	if budgetRow.SpentMicros != 0 {
		t.Errorf("spent = %d, want 0 after failed write", budgetRow.SpentMicros)
	}
}

func TestRecordUsageRollsLapsedWindowForward(t *testing.T) {
	db := setupLedgerDB(t)
	seedRate(t, db, "alpha", "alpha-model", 1000, 1000)
	staleStart := budget.PeriodStart(models.BudgetPeriodDaily, time.Now().AddDate(0, 0, -3))
	row := models.Budget{
		OrgID:       1,
		Period:      models.BudgetPeriodDaily,
		PeriodStart: staleStart,
		LimitMicros: 10_000_000,
		SpentMicros: 9_999_999,
	}
	if errCreate := db.Create(&row).Error; errCreate != nil {
		t.Fatalf("seed budget: %v", errCreate)
	}

	journal := New(db, freshRates(t, db, RatePolicyError, 0, 0))
	if _, err := journal.RecordUsage(context.Background(), Params{
		OrgID:    1,
		Provider: "alpha",
		Model:    "alpha-model",
		Usage:    provider.TokenUsage{InputTokens: 1000, OutputTokens: 1000},
	}); err != nil {
		t.Fatalf("record usage: %v", err)
	}

	var fresh models.Budget
	if errLoad := db.Where("org_id = ?", 1).Take(&fresh).Error; errLoad != nil {
		t.Fatalf("load budget: %v", errLoad)
	}
	if fresh.SpentMicros != 2000 {
		t.Errorf("spent = %d, want 2000 (stale spend dropped on roll forward)", fresh.SpentMicros)
	}
	if fresh.PeriodStart.Before(budget.PeriodStart(models.BudgetPeriodDaily, time.Now())) {
		t.Errorf("period start = %s, want current window", fresh.PeriodStart)
	}
}

func TestEstimateUsesMostExpensiveKnownRates(t *testing.T) {
	db := setupLedgerDB(t)
	seedRate(t, db, "cheap", "cheap-model", 100, 200)
	seedRate(t, db, "pricey", "pricey-model", 5000, 10000)
	rates := freshRates(t, db, RatePolicyError, 0, 0)

	// 1000 in * 5000/1K + 1000 out * 10000/1K.
	if got := rates.EstimateMicros(1000, 1000); got != 15000 {
		t.Errorf("estimate = %d, want 15000 from the most expensive rates", got)
	}
}

func seedBudgetRow(t *testing.T, db *gorm.DB, orgID uint64, period models.BudgetPeriod, limit, spent int64) {
	t.Helper()
	row := models.Budget{
		OrgID:       orgID,
		Period:      period,
		PeriodStart: budget.PeriodStart(period, time.Now()),
		LimitMicros: limit,
		SpentMicros: spent,
	}
	if errCreate := db.Create(&row).Error; errCreate != nil {
		t.Fatalf("seed budget: %v", errCreate)
	}
}
