// Package budget enforces per-organization spend ceilings before and
// during dispatch.
package budget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aethergate/aethergate/internal/audit"
	"github.com/aethergate/aethergate/internal/models"
	"github.com/aethergate/aethergate/internal/settings"

	"gorm.io/gorm"
)

// Structured denial reasons carried by ExceededError.
const (
	ReasonDailyExceeded   = "Daily budget exceeded"
	ReasonMonthlyExceeded = "Monthly budget exceeded"
	ReasonUnmetered       = "Organization has no budget"
)

// ExceededError is a structured budget denial. It carries the numbers a
// caller needs to decide whether to wait, raise the limit, or fall back.
type ExceededError struct {
	OrgID           uint64              `json:"org_id"`
	Period          models.BudgetPeriod `json:"period,omitempty"`
	Reason          string              `json:"reason"`
	SpentMicros     int64               `json:"spent_micros"`
	LimitMicros     int64               `json:"limit_micros"`
	EstimatedMicros int64               `json:"estimated_micros"`
}

func (e *ExceededError) Error() string {
	if e == nil {
		return "budget exceeded"
	}
	return fmt.Sprintf("budget: %s (org=%d spent=%d limit=%d estimate=%d)",
		e.Reason, e.OrgID, e.SpentMicros, e.LimitMicros, e.EstimatedMicros)
}

// Status reports one organization budget window.
type Status struct {
	OrgID           uint64              `json:"org_id"`
	Period          models.BudgetPeriod `json:"period"`
	Unmetered       bool                `json:"unmetered"`
	LimitMicros     int64               `json:"limit_micros"`
	SpentMicros     int64               `json:"spent_micros"`
	RemainingMicros int64               `json:"remaining_micros"`
	PeriodStart     time.Time           `json:"period_start"`
}

// Governor enforces spend ceilings. Allowance checks reserve the estimate
// in-process so concurrent requests for one org cannot jointly overshoot
// the limit by more than one in-flight estimate.
type Governor struct {
	db      *gorm.DB
	auditor *audit.Recorder

	// allowUnmetered applies when an org has no budget rows at all.
	allowUnmetered bool

	mu       sync.Mutex
	orgLocks map[uint64]*sync.Mutex
	inflight map[inflightKey]int64
}

type inflightKey struct {
	orgID  uint64
	period models.BudgetPeriod
}

// NewGovernor constructs a budget governor. allowUnmetered is the config
// default; the ALLOW_UNMETERED_ORGS setting overrides it at runtime.
func NewGovernor(db *gorm.DB, auditor *audit.Recorder, allowUnmetered bool) *Governor {
	return &Governor{
		db:             db,
		auditor:        auditor,
		allowUnmetered: allowUnmetered,
		orgLocks:       make(map[uint64]*sync.Mutex),
		inflight:       make(map[inflightKey]int64),
	}
}

func (g *Governor) lockFor(orgID uint64) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.orgLocks[orgID]
	if !ok {
		lock = &sync.Mutex{}
		g.orgLocks[orgID] = lock
	}
	return lock
}

// PeriodStart returns the UTC start of the window containing now.
func PeriodStart(period models.BudgetPeriod, now time.Time) time.Time {
	now = now.UTC()
	switch period {
	case models.BudgetPeriodMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// effectiveSpent returns the row's spend within the current window. A row
// whose window has lapsed counts as zero; the reset job and the ledger
// commit roll the row forward.
func effectiveSpent(row models.Budget, now time.Time) int64 {
	if row.PeriodStart.Before(PeriodStart(row.Period, now)) {
		return 0
	}
	return row.SpentMicros
}

// Reservation holds an in-flight estimate against an org's budgets.
// Release must be called once the request reaches a terminal state;
// releasing twice is a no-op.
type Reservation struct {
	governor *Governor
	orgID    uint64
	micros   int64
	periods  []models.BudgetPeriod

	once sync.Once
}

// Release returns the reserved estimate.
func (r *Reservation) Release() {
	if r == nil || r.governor == nil || r.micros <= 0 {
		return
	}
	r.once.Do(func() {
		g := r.governor
		g.mu.Lock()
		defer g.mu.Unlock()
		for _, period := range r.periods {
			key := inflightKey{orgID: r.orgID, period: period}
			g.inflight[key] -= r.micros
			if g.inflight[key] <= 0 {
				delete(g.inflight, key)
			}
		}
	})
}

// CheckAllowance evaluates daily and monthly budgets against the estimate
// and reserves it on success. Either period exceeding blocks the request
// with a structured ExceededError and writes an audit entry.
func (g *Governor) CheckAllowance(ctx context.Context, orgID uint64, estimatedMicros int64) (*Reservation, error) {
	if g == nil || g.db == nil {
		return nil, errors.New("budget: governor not initialized")
	}
	if estimatedMicros < 0 {
		estimatedMicros = 0
	}

	orgLock := g.lockFor(orgID)
	orgLock.Lock()
	defer orgLock.Unlock()

	var rows []models.Budget
	if errFind := g.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("period ASC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("budget: load: %w", errFind)
	}

	if len(rows) == 0 {
		if settings.Bool(settings.AllowUnmeteredOrgsKey, g.allowUnmetered) {
			return &Reservation{}, nil
		}
		denial := &ExceededError{OrgID: orgID, Reason: ReasonUnmetered, EstimatedMicros: estimatedMicros}
		g.recordDenial(denial)
		return nil, denial
	}

	now := time.Now()
	periods := make([]models.BudgetPeriod, 0, len(rows))
	g.mu.Lock()
	for _, row := range rows {
		spent := effectiveSpent(row, now)
		reserved := g.inflight[inflightKey{orgID: orgID, period: row.Period}]
		if spent+reserved+estimatedMicros > row.LimitMicros {
			g.mu.Unlock()
			reason := ReasonDailyExceeded
			if row.Period == models.BudgetPeriodMonthly {
				reason = ReasonMonthlyExceeded
			}
			denial := &ExceededError{
				OrgID:           orgID,
				Period:          row.Period,
				Reason:          reason,
				SpentMicros:     spent,
				LimitMicros:     row.LimitMicros,
				EstimatedMicros: estimatedMicros,
			}
			g.recordDenial(denial)
			return nil, denial
		}
		periods = append(periods, row.Period)
	}
	for _, period := range periods {
		g.inflight[inflightKey{orgID: orgID, period: period}] += estimatedMicros
	}
	g.mu.Unlock()

	return &Reservation{
		governor: g,
		orgID:    orgID,
		micros:   estimatedMicros,
		periods:  periods,
	}, nil
}

func (g *Governor) recordDenial(denial *ExceededError) {
	if g.auditor == nil {
		return
	}
	g.auditor.Record(denial.OrgID, models.AuditKindBudgetDenied, denial)
}

// GetBudgetStatus reports the current window for one org and period.
func (g *Governor) GetBudgetStatus(ctx context.Context, orgID uint64, period models.BudgetPeriod) (*Status, error) {
	if g == nil || g.db == nil {
		return nil, errors.New("budget: governor not initialized")
	}
	if !period.Valid() {
		return nil, fmt.Errorf("budget: unknown period %q", period)
	}

	var row models.Budget
	errFind := g.db.WithContext(ctx).
		Where("org_id = ? AND period = ?", orgID, period).
		Take(&row).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return &Status{OrgID: orgID, Period: period, Unmetered: true}, nil
		}
		return nil, fmt.Errorf("budget: load: %w", errFind)
	}

	now := time.Now()
	spent := effectiveSpent(row, now)
	remaining := row.LimitMicros - spent
	if remaining < 0 {
		remaining = 0
	}
	return &Status{
		OrgID:           orgID,
		Period:          period,
		LimitMicros:     row.LimitMicros,
		SpentMicros:     spent,
		RemainingMicros: remaining,
		PeriodStart:     PeriodStart(period, now),
	}, nil
}

// UpsertBudget creates or updates an org budget row. Admin-only; this is
// the only path that may raise or lower a limit.
func (g *Governor) UpsertBudget(ctx context.Context, orgID uint64, period models.BudgetPeriod, limitMicros int64) (*models.Budget, error) {
	if g == nil || g.db == nil {
		return nil, errors.New("budget: governor not initialized")
	}
	if !period.Valid() {
		return nil, fmt.Errorf("budget: unknown period %q", period)
	}
	if limitMicros < 0 {
		return nil, fmt.Errorf("budget: negative limit")
	}

	var row models.Budget
	errFind := g.db.WithContext(ctx).
		Where("org_id = ? AND period = ?", orgID, period).
		Take(&row).Error
	switch {
	case errFind == nil:
		if errUpdate := g.db.WithContext(ctx).
			Model(&models.Budget{}).
			Where("id = ?", row.ID).
			Update("limit_micros", limitMicros).Error; errUpdate != nil {
			return nil, fmt.Errorf("budget: update: %w", errUpdate)
		}
		row.LimitMicros = limitMicros
		return &row, nil
	case errors.Is(errFind, gorm.ErrRecordNotFound):
		row = models.Budget{
			OrgID:       orgID,
			Period:      period,
			PeriodStart: PeriodStart(period, time.Now()),
			LimitMicros: limitMicros,
		}
		if errCreate := g.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
			return nil, fmt.Errorf("budget: create: %w", errCreate)
		}
		return &row, nil
	default:
		return nil, fmt.Errorf("budget: load: %w", errFind)
	}
}
