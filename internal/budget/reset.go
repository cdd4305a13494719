package budget

import (
	"context"
	"time"

	"github.com/aethergate/aethergate/internal/audit"
	"github.com/aethergate/aethergate/internal/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// resetPollInterval is how often the reset job looks for lapsed windows.
// The governor and ledger also roll stale rows forward on their own, so
// this only has to be frequent enough to keep reported status fresh.
const resetPollInterval = 5 * time.Minute

// ResetJob rolls budget windows forward at period boundaries. Rolling a
// row zeroes its spend and moves PeriodStart to the current window, the
// one place spend ever decreases.
type ResetJob struct {
	db      *gorm.DB
	auditor *audit.Recorder
}

// NewResetJob constructs a reset job.
func NewResetJob(db *gorm.DB, auditor *audit.Recorder) *ResetJob {
	if db == nil {
		return nil
	}
	return &ResetJob{db: db, auditor: auditor}
}

// Start launches the reset loop in a background goroutine.
func (j *ResetJob) Start(ctx context.Context) {
	if j == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go j.run(ctx)
	log.Infof("budget reset job started (interval=%s)", resetPollInterval)
}

func (j *ResetJob) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if errSweep := j.Sweep(ctx); errSweep != nil {
			log.WithError(errSweep).Warn("budget reset: sweep failed")
		}
		timer := time.NewTimer(resetPollInterval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

// Sweep resets every budget row whose window has lapsed.
func (j *ResetJob) Sweep(ctx context.Context) error {
	if j == nil || j.db == nil {
		return nil
	}
	now := time.Now()

	for _, period := range []models.BudgetPeriod{models.BudgetPeriodDaily, models.BudgetPeriodMonthly} {
		windowStart := PeriodStart(period, now)

		errTx := j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var stale []models.Budget
			if errFind := tx.
				Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("period = ? AND period_start < ?", period, windowStart).
				Find(&stale).Error; errFind != nil {
				return errFind
			}
			for _, row := range stale {
				if errUpdate := tx.Model(&models.Budget{}).
					Where("id = ?", row.ID).
					Updates(map[string]any{
						"spent_micros": 0,
						"period_start": windowStart,
					}).Error; errUpdate != nil {
					return errUpdate
				}
				if j.auditor != nil {
					j.auditor.Record(row.OrgID, models.AuditKindBudgetReset, map[string]any{
						"period":             row.Period,
						"prior_spent_micros": row.SpentMicros,
						"period_start":       windowStart,
					})
				}
			}
			return nil
		})
		if errTx != nil {
			return errTx
		}
	}
	return nil
}
