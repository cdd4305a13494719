// Package ledger owns the append-only usage record table and is the sole
// writer of budget spend.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aethergate/aethergate/internal/budget"
	"github.com/aethergate/aethergate/internal/models"
	"github.com/aethergate/aethergate/internal/provider"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WriteError is a fatal ledger failure. Unlike best-effort audit logging,
// a failed usage write fails the owning request; cost attribution must
// never be silently lost.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	if e == nil || e.Err == nil {
		return "ledger: write failed"
	}
	return fmt.Sprintf("ledger: write failed: %v", e.Err)
}

func (e *WriteError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Params describes one completed provider call to record.
type Params struct {
	OrgID     uint64
	MemberID  *uint64
	RequestID *uint64

	Provider string
	Model    string
	Usage    provider.TokenUsage

	RequestedAt time.Time
}

// Ledger appends usage records and commits spend to budget rows.
type Ledger struct {
	db    *gorm.DB
	rates *Rates
}

// New constructs a ledger.
func New(db *gorm.DB, rates *Rates) *Ledger {
	return &Ledger{db: db, rates: rates}
}

// Rates exposes the rate resolver for estimation.
func (l *Ledger) Rates() *Rates {
	if l == nil {
		return nil
	}
	return l.rates
}

// RecordUsage prices the call and, in one transaction, appends the usage
// record and increments the org's budget spend under row locks. The write
// is atomic with success: a cancelled or failed request leaves no partial
// entry. Any failure here is a WriteError and must fail the owning
// request.
func (l *Ledger) RecordUsage(ctx context.Context, p Params) (*models.UsageRecord, error) {
	if l == nil || l.db == nil {
		return nil, &WriteError{Err: errors.New("ledger not initialized")}
	}

	cost, errCost := l.rates.CostMicros(p.Provider, p.Model, p.Usage.InputTokens, p.Usage.OutputTokens)
	if errCost != nil {
		return nil, &WriteError{Err: errCost}
	}

	requestedAt := p.RequestedAt
	if requestedAt.IsZero() {
		requestedAt = time.Now().UTC()
	}

	row := models.UsageRecord{
		OrgID:        p.OrgID,
		MemberID:     p.MemberID,
		RequestID:    p.RequestID,
		Provider:     p.Provider,
		Model:        p.Model,
		InputTokens:  p.Usage.InputTokens,
		OutputTokens: p.Usage.OutputTokens,
		TotalTokens:  p.Usage.Total(),
		CostMicros:   cost,
		RequestedAt:  requestedAt.UTC(),
	}

	if errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errCreate := tx.Create(&row).Error; errCreate != nil {
			return errCreate
		}
		return commitSpend(tx, p.OrgID, cost)
	}); errTx != nil {
		return nil, &WriteError{Err: errTx}
	}
	return &row, nil
}

// commitSpend increments every budget row for the org under a row lock,
// rolling lapsed windows forward first. Row locks serialize commits per
// org+period, so concurrent requests never interleave increments.
func commitSpend(tx *gorm.DB, orgID uint64, costMicros int64) error {
	if costMicros <= 0 {
		return nil
	}

	var rows []models.Budget
	if errFind := tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("org_id = ?", orgID).
		Order("id ASC").
		Find(&rows).Error; errFind != nil {
		return errFind
	}

	now := time.Now()
	for _, row := range rows {
		windowStart := budget.PeriodStart(row.Period, now)
		if row.PeriodStart.Before(windowStart) {
			// Window lapsed before the reset job got to it; roll forward.
			if errReset := tx.Model(&models.Budget{}).
				Where("id = ?", row.ID).
				Updates(map[string]any{
					"period_start": windowStart,
					"spent_micros": costMicros,
				}).Error; errReset != nil {
				return errReset
			}
			continue
		}
		if errUpdate := tx.Model(&models.Budget{}).
			Where("id = ?", row.ID).
			Update("spent_micros", gorm.Expr("spent_micros + ?", costMicros)).Error; errUpdate != nil {
			return errUpdate
		}
	}
	return nil
}
