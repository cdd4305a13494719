package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aethergate/aethergate/internal/budget"
	"github.com/aethergate/aethergate/internal/config"
	"github.com/aethergate/aethergate/internal/dispatch"
	"github.com/aethergate/aethergate/internal/ledger"
	"github.com/aethergate/aethergate/internal/models"
	"github.com/aethergate/aethergate/internal/provider"
	"github.com/aethergate/aethergate/internal/selector"
	"github.com/aethergate/aethergate/internal/trace"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// stubAdapter serves fixed content and usage, or a fixed error.
type stubAdapter struct {
	err   error
	usage provider.TokenUsage
}

func (a stubAdapter) Call(_ context.Context, _, model string) (*provider.CallResult, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &provider.CallResult{Content: "answer from " + model, Usage: a.usage}, nil
}

func (a stubAdapter) Health(context.Context) bool { return true }

func setupEngineDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:engine_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.AutoMigrate(
		&models.Request{}, &models.DecisionTrace{}, &models.Budget{},
		&models.UsageRecord{}, &models.ModelRate{}, &models.AuditEntry{},
	); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return db
}

// fixture wires an orchestrator around sqlite and the given providers.
type fixture struct {
	db           *gorm.DB
	registry     *provider.Registry
	orchestrator *Orchestrator
}

type fixtureProvider struct {
	id      string
	adapter provider.Adapter
	rated   bool
}

func buildFixture(t *testing.T, gatedKinds []string, providers []fixtureProvider) *fixture {
	t.Helper()
	db := setupEngineDB(t)

	registry := provider.NewRegistry(provider.NewMemoryHealthCache(), 30*time.Second)
	for i, p := range providers {
		desc, errNew := provider.NewKeyProvider(p.id, provider.TierFree, []string{p.id + "-model"}, i, "secret")
		if errNew != nil {
			t.Fatalf("new provider %s: %v", p.id, errNew)
		}
		if errRegister := registry.Register(desc, p.adapter); errRegister != nil {
			t.Fatalf("register %s: %v", p.id, errRegister)
		}
		if p.rated {
			row := models.ModelRate{
				Provider:              p.id,
				Model:                 p.id + "-model",
				InputRateMicrosPer1K:  2000,
				OutputRateMicrosPer1K: 6000,
				IsEnabled:             true,
			}
			if errSeed := db.Create(&row).Error; errSeed != nil {
				t.Fatalf("seed rate for %s: %v", p.id, errSeed)
			}
		}
	}

	rates := ledger.NewRates(db, ledger.RatePolicyError, 0, 0)
	if errRefresh := rates.Refresh(context.Background()); errRefresh != nil {
		t.Fatalf("refresh rates: %v", errRefresh)
	}
	journal := ledger.New(db, rates)
	governor := budget.NewGovernor(db, nil, true)
	tracer := trace.NewService(db, gatedKinds)
	dispatcher := dispatch.NewEngine(registry, dispatch.RetryPolicy{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
	}, time.Second)

	cfg := config.EngineConfig{DefaultEstimateOutputTokens: 100}
	orchestrator := NewOrchestrator(db, cfg, selector.New(registry), dispatcher, governor, journal, tracer)
	return &fixture{db: db, registry: registry, orchestrator: orchestrator}
}

func seedDailyBudget(t *testing.T, db *gorm.DB, orgID uint64, limitMicros, spentMicros int64) {
	t.Helper()
	row := models.Budget{
		OrgID:       orgID,
		Period:      models.BudgetPeriodDaily,
		PeriodStart: budget.PeriodStart(models.BudgetPeriodDaily, time.Now()),
		LimitMicros: limitMicros,
		SpentMicros: spentMicros,
	}
	if errSeed := db.Create(&row).Error; errSeed != nil {
		t.Fatalf("seed budget: %v", errSeed)
	}
}

func traceKinds(t *testing.T, db *gorm.DB, requestID uint64) []string {
	t.Helper()
	var rows []models.DecisionTrace
	if errFind := db.Where("request_id = ?", requestID).Order("step_number ASC").Find(&rows).Error; errFind != nil {
		t.Fatalf("load trace: %v", errFind)
	}
	kinds := make([]string, 0, len(rows))
	for i, row := range rows {
		if row.StepNumber != i+1 {
			t.Fatalf("trace step[%d] number = %d, want %d", i, row.StepNumber, i+1)
		}
		kinds = append(kinds, row.Kind)
	}
	return kinds
}

func TestDispatchCompletesRequestAndRecordsUsage(t *testing.T) {
	f := buildFixture(t, nil, []fixtureProvider{
		{id: "alpha", adapter: stubAdapter{usage: provider.TokenUsage{InputTokens: 1000, OutputTokens: 500}}, rated: true},
	})
	seedDailyBudget(t, f.db, 1, 100_000_000, 0)

	outcome, errDispatch := f.orchestrator.Dispatch(context.Background(), 1, TaskSpec{Prompt: "hello"})
	if errDispatch != nil {
		t.Fatalf("dispatch: %v", errDispatch)
	}
	if outcome.Result == nil || outcome.Result.ProviderID != "alpha" {
		t.Fatalf("result = %+v, want alpha's answer", outcome.Result)
	}

	var request models.Request
	if errLoad := f.db.Take(&request, outcome.Request.ID).Error; errLoad != nil {
		t.Fatalf("reload request: %v", errLoad)
	}
	if request.State != models.RequestStateCompleted || request.ProviderID != "alpha" {
		t.Errorf("request = state %s provider %s, want completed by alpha", request.State, request.ProviderID)
	}

	var record models.UsageRecord
	if errLoad := f.db.Take(&record).Error; errLoad != nil {
		t.Fatalf("load usage record: %v", errLoad)
	}
	// 1000 in at 2000/1k plus 500 out at 6000/1k.
	if record.CostMicros != 5000 || record.TotalTokens != 1500 {
		t.Errorf("record = cost %d total %d, want 5000 and 1500", record.CostMicros, record.TotalTokens)
	}

	var row models.Budget
	if errLoad := f.db.Where("org_id = ?", 1).Take(&row).Error; errLoad != nil {
		t.Fatalf("load budget: %v", errLoad)
	}
	if row.SpentMicros != 5000 {
		t.Errorf("budget spent = %d, want 5000", row.SpentMicros)
	}

	kinds := traceKinds(t, f.db, request.ID)
	if len(kinds) != 2 || kinds[0] != StepProviderSelection || kinds[1] != StepCompletion {
		t.Errorf("trace kinds = %v, want selection then completion", kinds)
	}
}

func TestDispatchFailsOverAndTracesIt(t *testing.T) {
	badCall := &provider.CallError{Provider: "alpha", StatusCode: 401, Message: "unauthorized"}
	f := buildFixture(t, nil, []fixtureProvider{
		{id: "alpha", adapter: stubAdapter{err: badCall}, rated: true},
		{id: "beta", adapter: stubAdapter{usage: provider.TokenUsage{InputTokens: 100, OutputTokens: 100}}, rated: true},
	})
	seedDailyBudget(t, f.db, 1, 100_000_000, 0)

	outcome, errDispatch := f.orchestrator.Dispatch(context.Background(), 1, TaskSpec{Prompt: "hello"})
	if errDispatch != nil {
		t.Fatalf("dispatch: %v", errDispatch)
	}
	if outcome.Result.ProviderID != "beta" {
		t.Fatalf("served by %s, want beta after alpha's terminal failure", outcome.Result.ProviderID)
	}

	kinds := traceKinds(t, f.db, outcome.Request.ID)
	want := []string{StepProviderSelection, StepFailover, StepCompletion}
	if len(kinds) != len(want) {
		t.Fatalf("trace kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("trace kind[%d] = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestDispatchAllProvidersFailed(t *testing.T) {
	badCall := &provider.CallError{Provider: "alpha", StatusCode: 401, Message: "unauthorized"}
	f := buildFixture(t, nil, []fixtureProvider{
		{id: "alpha", adapter: stubAdapter{err: badCall}, rated: true},
	})
	seedDailyBudget(t, f.db, 1, 100_000_000, 0)

	_, errDispatch := f.orchestrator.Dispatch(context.Background(), 1, TaskSpec{Prompt: "hello"})
	var allFailed *dispatch.AllProvidersFailedError
	if !errors.As(errDispatch, &allFailed) {
		t.Fatalf("err = %v, want AllProvidersFailedError", errDispatch)
	}
	if len(allFailed.Failures) != 1 || allFailed.Failures[0].ProviderID != "alpha" {
		t.Errorf("failures = %+v, want one entry for alpha", allFailed.Failures)
	}

	var request models.Request
	if errLoad := f.db.Take(&request).Error; errLoad != nil {
		t.Fatalf("load request: %v", errLoad)
	}
	if request.State != models.RequestStateFailed || request.FailureReason == "" {
		t.Errorf("request = state %s reason %q, want failed with a reason", request.State, request.FailureReason)
	}
}

func TestBudgetDenialFailsRequestWithoutUsage(t *testing.T) {
	f := buildFixture(t, nil, []fixtureProvider{
		{id: "alpha", adapter: stubAdapter{usage: provider.TokenUsage{InputTokens: 10, OutputTokens: 10}}, rated: true},
	})
	// Estimate for a short prompt lands around 600 micros, above this limit.
	seedDailyBudget(t, f.db, 1, 500, 0)

	_, errDispatch := f.orchestrator.Dispatch(context.Background(), 1, TaskSpec{Prompt: "hello"})
	var exceeded *budget.ExceededError
	if !errors.As(errDispatch, &exceeded) {
		t.Fatalf("err = %v, want budget denial", errDispatch)
	}
	if exceeded.Period != models.BudgetPeriodDaily {
		t.Errorf("denial period = %s, want daily", exceeded.Period)
	}

	var recordCount int64
	if errCount := f.db.Model(&models.UsageRecord{}).Count(&recordCount).Error; errCount != nil {
		t.Fatalf("count records: %v", errCount)
	}
	if recordCount != 0 {
		t.Errorf("usage records = %d, want none for a denied request", recordCount)
	}

	var request models.Request
	if errLoad := f.db.Take(&request).Error; errLoad != nil {
		t.Fatalf("load request: %v", errLoad)
	}
	if request.State != models.RequestStateFailed {
		t.Errorf("request state = %s, want failed", request.State)
	}
}

func TestNoProviderAvailableFailsRequest(t *testing.T) {
	f := buildFixture(t, nil, nil)
	seedDailyBudget(t, f.db, 1, 100_000_000, 0)

	_, errDispatch := f.orchestrator.Dispatch(context.Background(), 1, TaskSpec{Prompt: "hello"})
	if !errors.Is(errDispatch, selector.ErrNoProviderAvailable) {
		t.Fatalf("err = %v, want ErrNoProviderAvailable", errDispatch)
	}
}

func TestLedgerFailureFailsRequestAfterProviderSuccess(t *testing.T) {
	f := buildFixture(t, nil, []fixtureProvider{
		// No rate row: the error policy makes the ledger write fatal.
		{id: "alpha", adapter: stubAdapter{usage: provider.TokenUsage{InputTokens: 10, OutputTokens: 10}}, rated: false},
	})
	seedDailyBudget(t, f.db, 1, 100_000_000, 0)

	_, errDispatch := f.orchestrator.Dispatch(context.Background(), 1, TaskSpec{Prompt: "hello"})
	var writeErr *ledger.WriteError
	if !errors.As(errDispatch, &writeErr) {
		t.Fatalf("err = %v, want ledger write failure", errDispatch)
	}

	var request models.Request
	if errLoad := f.db.Take(&request).Error; errLoad != nil {
		t.Fatalf("load request: %v", errLoad)
	}
	if request.State != models.RequestStateFailed {
		t.Errorf("request state = %s, want failed despite the provider answering", request.State)
	}
}

func TestGatedDispatchSuspendsThenResumeCompletes(t *testing.T) {
	f := buildFixture(t, []string{StepProviderSelection}, []fixtureProvider{
		{id: "alpha", adapter: stubAdapter{usage: provider.TokenUsage{InputTokens: 1000, OutputTokens: 500}}, rated: true},
	})
	seedDailyBudget(t, f.db, 1, 100_000_000, 0)
	ctx := context.Background()

	outcome, errDispatch := f.orchestrator.Dispatch(ctx, 1, TaskSpec{Prompt: "hello"})
	if errDispatch != nil {
		t.Fatalf("dispatch: %v", errDispatch)
	}
	if outcome.Result != nil || outcome.PendingTrace == nil {
		t.Fatalf("outcome = %+v, want suspended with a pending step", outcome)
	}

	var request models.Request
	if errLoad := f.db.Take(&request, outcome.Request.ID).Error; errLoad != nil {
		t.Fatalf("reload request: %v", errLoad)
	}
	if request.State != models.RequestStateAwaitingApproval {
		t.Fatalf("request state = %s, want awaiting_approval", request.State)
	}

	// No spend happens while suspended.
	var row models.Budget
	if errLoad := f.db.Where("org_id = ?", 1).Take(&row).Error; errLoad != nil {
		t.Fatalf("load budget: %v", errLoad)
	}
	if row.SpentMicros != 0 {
		t.Errorf("budget spent = %d while suspended, want 0", row.SpentMicros)
	}

	if errResume := f.orchestrator.Resume(ctx, request.ID); errResume != nil {
		t.Fatalf("resume: %v", errResume)
	}

	if errLoad := f.db.Take(&request, request.ID).Error; errLoad != nil {
		t.Fatalf("reload request: %v", errLoad)
	}
	if request.State != models.RequestStateCompleted {
		t.Errorf("request state after resume = %s, want completed", request.State)
	}

	kinds := traceKinds(t, f.db, request.ID)
	want := []string{StepProviderSelection, StepResumption, StepCompletion}
	if len(kinds) != len(want) {
		t.Fatalf("trace kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("trace kind[%d] = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestResumeIsNoOpForNonSuspendedRequest(t *testing.T) {
	f := buildFixture(t, nil, []fixtureProvider{
		{id: "alpha", adapter: stubAdapter{usage: provider.TokenUsage{InputTokens: 10, OutputTokens: 10}}, rated: true},
	})
	seedDailyBudget(t, f.db, 1, 100_000_000, 0)
	ctx := context.Background()

	outcome, errDispatch := f.orchestrator.Dispatch(ctx, 1, TaskSpec{Prompt: "hello"})
	if errDispatch != nil {
		t.Fatalf("dispatch: %v", errDispatch)
	}
	if errResume := f.orchestrator.Resume(ctx, outcome.Request.ID); errResume != nil {
		t.Fatalf("resume completed request: %v", errResume)
	}
	var recordCount int64
	if errCount := f.db.Model(&models.UsageRecord{}).Count(&recordCount).Error; errCount != nil {
		t.Fatalf("count records: %v", errCount)
	}
	if recordCount != 1 {
		t.Errorf("usage records = %d, want the single original call", recordCount)
	}

	if errResume := f.orchestrator.Resume(ctx, 9999); !errors.Is(errResume, ErrRequestNotFound) {
		t.Fatalf("err = %v, want ErrRequestNotFound", errResume)
	}
}

func TestExecuteTurnChargesOrg(t *testing.T) {
	f := buildFixture(t, nil, []fixtureProvider{
		{id: "alpha", adapter: stubAdapter{usage: provider.TokenUsage{InputTokens: 1000, OutputTokens: 500}}, rated: true},
	})
	seedDailyBudget(t, f.db, 1, 100_000_000, 0)

	desc, _, ok := f.registry.Get("alpha")
	if !ok {
		t.Fatal("alpha not registered")
	}
	result, errTurn := f.orchestrator.ExecuteTurn(context.Background(), 1, desc, "speak", "")
	if errTurn != nil {
		t.Fatalf("execute turn: %v", errTurn)
	}
	if result.ProviderID != "alpha" {
		t.Errorf("served by %s, want alpha", result.ProviderID)
	}

	var row models.Budget
	if errLoad := f.db.Where("org_id = ?", 1).Take(&row).Error; errLoad != nil {
		t.Fatalf("load budget: %v", errLoad)
	}
	if row.SpentMicros != 5000 {
		t.Errorf("budget spent = %d, want 5000", row.SpentMicros)
	}
}
