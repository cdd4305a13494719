package models

import "time"

// UsageRecord is one immutable ledger entry for a completed provider call.
//
// Rows are append-only; nothing updates or deletes them. Spend aggregation
// reads this table as the sole source of truth.
type UsageRecord struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	OrgID     uint64  `gorm:"not null;index"` // Owning organization.
	MemberID  *uint64 `gorm:"index"`          // Dispatching member, when known.
	RequestID *uint64 `gorm:"index"`          // Owning orchestrated request, when any.

	Provider string `gorm:"type:text;not null;index"` // Provider that served the call.
	Model    string `gorm:"type:text;not null;index"` // Model that served the call.

	InputTokens  int64 `gorm:"not null;default:0"` // Input token count.
	OutputTokens int64 `gorm:"not null;default:0"` // Output token count.
	TotalTokens  int64 `gorm:"not null;default:0"` // Total token count.

	CostMicros int64 `gorm:"not null;default:0"` // Estimated cost in micro-dollars.

	RequestedAt time.Time `gorm:"not null;index"`          // When the provider call completed.
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"` // Row creation timestamp.
}
