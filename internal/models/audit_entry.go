package models

import (
	"time"

	"gorm.io/datatypes"
)

// Audit entry kinds written by the engine.
const (
	AuditKindBudgetDenied     = "budget_denied"
	AuditKindApprovalDecision = "approval_decision"
	AuditKindBudgetReset      = "budget_reset"
)

// AuditEntry is a best-effort operational audit record.
//
// Unlike usage ledger writes, a failed audit write is logged and dropped;
// it is never fatal to the owning request.
type AuditEntry struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	OrgID uint64 `gorm:"index"`                    // Related organization, when any.
	Kind  string `gorm:"type:text;not null;index"` // Entry kind.

	Detail datatypes.JSON `gorm:"type:jsonb"` // Structured entry payload.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
