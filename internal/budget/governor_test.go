package budget

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aethergate/aethergate/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupBudgetDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:budget_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.AutoMigrate(&models.Budget{}, &models.AuditEntry{}); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return db
}

func seedBudget(t *testing.T, db *gorm.DB, orgID uint64, period models.BudgetPeriod, limit, spent int64) {
	t.Helper()
	row := models.Budget{
		OrgID:       orgID,
		Period:      period,
		PeriodStart: PeriodStart(period, time.Now()),
		LimitMicros: limit,
		SpentMicros: spent,
	}
	if errCreate := db.Create(&row).Error; errCreate != nil {
		t.Fatalf("seed budget: %v", errCreate)
	}
}

func TestEstimatePushingPastDailyLimitIsDenied(t *testing.T) {
	db := setupBudgetDB(t)
	// $10.00 daily limit with $9.90 already spent.
	seedBudget(t, db, 1, models.BudgetPeriodDaily, 10_000_000, 9_900_000)

	governor := NewGovernor(db, nil, false)
	_, err := governor.CheckAllowance(context.Background(), 1, 500_000)

	var denial *ExceededError
	if !errors.As(err, &denial) {
		t.Fatalf("err = %v, want ExceededError", err)
	}
	if denial.Reason != ReasonDailyExceeded {
		t.Errorf("reason = %q, want %q", denial.Reason, ReasonDailyExceeded)
	}
	if denial.SpentMicros != 9_900_000 || denial.LimitMicros != 10_000_000 || denial.EstimatedMicros != 500_000 {
		t.Errorf("denial numbers = %+v, want spent/limit/estimate echoed", denial)
	}

	// The denial must not move recorded spend.
	var row models.Budget
	if errLoad := db.Where("org_id = ?", 1).Take(&row).Error; errLoad != nil {
		t.Fatalf("load budget: %v", errLoad)
	}
	if row.SpentMicros != 9_900_000 {
		t.Errorf("spent after denial = %d, want unchanged 9900000", row.SpentMicros)
	}
}

func TestEstimateWithinLimitIsAllowed(t *testing.T) {
	db := setupBudgetDB(t)
	seedBudget(t, db, 1, models.BudgetPeriodDaily, 10_000_000, 9_000_000)

	governor := NewGovernor(db, nil, false)
	reservation, err := governor.CheckAllowance(context.Background(), 1, 500_000)
	if err != nil {
		t.Fatalf("check allowance: %v", err)
	}
	reservation.Release()
}

func TestMonthlyCeilingAlsoBlocks(t *testing.T) {
	db := setupBudgetDB(t)
	seedBudget(t, db, 1, models.BudgetPeriodDaily, 50_000_000, 0)
	seedBudget(t, db, 1, models.BudgetPeriodMonthly, 20_000_000, 19_900_000)

	governor := NewGovernor(db, nil, false)
	_, err := governor.CheckAllowance(context.Background(), 1, 500_000)

	var denial *ExceededError
	if !errors.As(err, &denial) {
		t.Fatalf("err = %v, want ExceededError", err)
	}
	if denial.Reason != ReasonMonthlyExceeded {
		t.Errorf("reason = %q, want %q", denial.Reason, ReasonMonthlyExceeded)
	}
}

func TestReservationBoundsConcurrentOvershoot(t *testing.T) {
	db := setupBudgetDB(t)
	// Room for exactly one 500k estimate.
	seedBudget(t, db, 1, models.BudgetPeriodDaily, 10_000_000, 9_200_000)

	governor := NewGovernor(db, nil, false)

	first, errFirst := governor.CheckAllowance(context.Background(), 1, 500_000)
	if errFirst != nil {
		t.Fatalf("first allowance: %v", errFirst)
	}

	// While the first estimate is in flight, an identical second request
	// has to be denied even though recorded spend has not moved.
	if _, errSecond := governor.CheckAllowance(context.Background(), 1, 500_000); errSecond == nil {
		t.Fatal("second allowance granted; overshoot could exceed one in-flight estimate")
	}

	first.Release()
	reservation, errRetry := governor.CheckAllowance(context.Background(), 1, 500_000)
	if errRetry != nil {
		t.Fatalf("allowance after release: %v", errRetry)
	}
	reservation.Release()
}

func TestReleaseIsIdempotent(t *testing.T) {
	db := setupBudgetDB(t)
	seedBudget(t, db, 1, models.BudgetPeriodDaily, 1_000_000, 0)

	governor := NewGovernor(db, nil, false)
	reservation, err := governor.CheckAllowance(context.Background(), 1, 400_000)
	if err != nil {
		t.Fatalf("check allowance: %v", err)
	}
	reservation.Release()
	reservation.Release()

	// A double release must not free room twice.
	second, errSecond := governor.CheckAllowance(context.Background(), 1, 900_000)
	if errSecond != nil {
		t.Fatalf("allowance after double release: %v", errSecond)
	}
	second.Release()
}

func TestUnmeteredOrgDeniedByDefault(t *testing.T) {
	db := setupBudgetDB(t)
	governor := NewGovernor(db, nil, false)

	_, err := governor.CheckAllowance(context.Background(), 7, 100)
	var denial *ExceededError
	if !errors.As(err, &denial) {
		t.Fatalf("err = %v, want ExceededError", err)
	}
	if denial.Reason != ReasonUnmetered {
		t.Errorf("reason = %q, want %q", denial.Reason, ReasonUnmetered)
	}
}

func TestUnmeteredOrgAllowedWhenConfigured(t *testing.T) {
	db := setupBudgetDB(t)
	governor := NewGovernor(db, nil, true)

	reservation, err := governor.CheckAllowance(context.Background(), 7, 100)
	if err != nil {
		t.Fatalf("check allowance: %v", err)
	}
	reservation.Release()
}

func TestLapsedWindowCountsAsZeroSpend(t *testing.T) {
	db := setupBudgetDB(t)
	row := models.Budget{
		OrgID:       1,
		Period:      models.BudgetPeriodDaily,
		PeriodStart: PeriodStart(models.BudgetPeriodDaily, time.Now().AddDate(0, 0, -2)),
		LimitMicros: 1_000_000,
		SpentMicros: 999_999,
	}
	if errCreate := db.Create(&row).Error; errCreate != nil {
		t.Fatalf("seed budget: %v", errCreate)
	}

	governor := NewGovernor(db, nil, false)
	reservation, err := governor.CheckAllowance(context.Background(), 1, 900_000)
	if err != nil {
		t.Fatalf("check allowance in fresh window: %v", err)
	}
	reservation.Release()
}

func TestGetBudgetStatus(t *testing.T) {
	db := setupBudgetDB(t)
	seedBudget(t, db, 1, models.BudgetPeriodDaily, 10_000_000, 2_500_000)

	governor := NewGovernor(db, nil, false)
	status, err := governor.GetBudgetStatus(context.Background(), 1, models.BudgetPeriodDaily)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.SpentMicros != 2_500_000 || status.RemainingMicros != 7_500_000 {
		t.Errorf("status = %+v, want spent 2.5M remaining 7.5M", status)
	}

	missing, errMissing := governor.GetBudgetStatus(context.Background(), 9, models.BudgetPeriodMonthly)
	if errMissing != nil {
		t.Fatalf("status for unmetered org: %v", errMissing)
	}
	if !missing.Unmetered {
		t.Error("expected unmetered status for org without budget rows")
	}
}

func TestUpsertBudgetCreatesAndUpdates(t *testing.T) {
	db := setupBudgetDB(t)
	governor := NewGovernor(db, nil, false)
	ctx := context.Background()

	created, errCreate := governor.UpsertBudget(ctx, 3, models.BudgetPeriodDaily, 5_000_000)
	if errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}
	if created.LimitMicros != 5_000_000 {
		t.Errorf("limit = %d, want 5000000", created.LimitMicros)
	}

	updated, errUpdate := governor.UpsertBudget(ctx, 3, models.BudgetPeriodDaily, 8_000_000)
	if errUpdate != nil {
		t.Fatalf("update: %v", errUpdate)
	}
	if updated.LimitMicros != 8_000_000 {
		t.Errorf("limit = %d, want 8000000", updated.LimitMicros)
	}

	var count int64
	if errCount := db.Model(&models.Budget{}).Where("org_id = ?", 3).Count(&count).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if count != 1 {
		t.Errorf("budget rows = %d, want 1 (upsert, not duplicate)", count)
	}
}
