package models

import (
	"time"

	"gorm.io/datatypes"
)

// ApprovalStatus is the human-approval state of a decision trace step.
type ApprovalStatus string

// Approval statuses.
const (
	ApprovalNotRequired ApprovalStatus = "not_required"
	ApprovalPending     ApprovalStatus = "pending"
	ApprovalApproved    ApprovalStatus = "approved"
	ApprovalRejected    ApprovalStatus = "rejected"
)

// Resolved reports whether the status is a final human decision.
func (s ApprovalStatus) Resolved() bool {
	return s == ApprovalApproved || s == ApprovalRejected
}

// DecisionTrace is one audit step of an orchestrated request.
//
// Rows are append-only; ApprovalStatus is the single field updated, and it
// transitions away from pending exactly once.
type DecisionTrace struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	RequestID  uint64 `gorm:"not null;uniqueIndex:idx_trace_request_step,priority:1"` // Owning request.
	StepNumber int    `gorm:"not null;uniqueIndex:idx_trace_request_step,priority:2"` // Strictly increasing per request, from 1.

	Kind       string  `gorm:"type:text;not null;index"` // Step kind, used for approval gating.
	Decision   string  `gorm:"type:text;not null"`       // What was decided.
	Reasoning  string  `gorm:"type:text"`                // Why it was decided.
	Confidence float64 `gorm:"not null;default:0"`       // Decision confidence in [0,1].

	Alternatives datatypes.JSON `gorm:"type:jsonb"` // Options that were not taken.

	ApprovalStatus  ApprovalStatus `gorm:"type:text;not null;index"` // Gate state.
	RejectionReason string         `gorm:"type:text"`                // Operator reason on rejection.
	ResolvedAt      *time.Time     ``                                // When the gate was resolved.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
