package models

import "time"

// BudgetPeriod identifies the rolling window a budget row covers.
type BudgetPeriod string

// Budget periods.
const (
	// BudgetPeriodDaily resets at UTC midnight.
	BudgetPeriodDaily BudgetPeriod = "daily"
	// BudgetPeriodMonthly resets on the first of the month.
	BudgetPeriodMonthly BudgetPeriod = "monthly"
)

// Valid reports whether the period is a known value.
func (p BudgetPeriod) Valid() bool {
	return p == BudgetPeriodDaily || p == BudgetPeriodMonthly
}

// Budget is a spend ceiling for one organization and period.
//
// SpentMicros is written only by the usage ledger commit path; it never
// decreases except when the reset job rolls the period window forward.
type Budget struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	OrgID  uint64       `gorm:"not null;uniqueIndex:idx_budget_org_period,priority:1"`           // Owning organization.
	Period BudgetPeriod `gorm:"type:text;not null;uniqueIndex:idx_budget_org_period,priority:2"` // Window kind.

	PeriodStart time.Time `gorm:"not null"`           // Start of the current window.
	LimitMicros int64     `gorm:"not null;default:0"` // Ceiling in micro-dollars.
	SpentMicros int64     `gorm:"not null;default:0"` // Committed spend in micro-dollars.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
