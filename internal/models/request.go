package models

import (
	"time"

	"gorm.io/datatypes"
)

// RequestState is the lifecycle state of an orchestrated request.
type RequestState string

// Request states.
const (
	RequestStateQueued           RequestState = "queued"
	RequestStateRunning          RequestState = "running"
	RequestStateCompleted        RequestState = "completed"
	RequestStateFailed           RequestState = "failed"
	RequestStateCancelled        RequestState = "cancelled"
	RequestStateAwaitingApproval RequestState = "awaiting_approval"
)

// Terminal reports whether no further transitions are allowed from the state.
func (s RequestState) Terminal() bool {
	return s == RequestStateCompleted || s == RequestStateFailed || s == RequestStateCancelled
}

// Request is one orchestrated provider call tracked end to end.
type Request struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	PublicID string `gorm:"type:text;not null;uniqueIndex"` // Caller-facing UUID.

	OrgID    uint64  `gorm:"not null;index"` // Owning organization.
	MemberID *uint64 `gorm:"index"`          // Dispatching member, when known.

	State RequestState `gorm:"type:text;not null;index"` // Lifecycle state.

	TaskHint      string `gorm:"type:text"`              // Model/task hint from the caller.
	PreferQuality bool   `gorm:"not null;default:false"` // Whether the caller asked for quality tier.
	Prompt        string `gorm:"type:text"`              // Prompt payload.

	Payload datatypes.JSON `gorm:"type:jsonb"` // Extra task parameters.

	ProviderID string `gorm:"type:text;index"` // Provider that served the request.
	Model      string `gorm:"type:text"`       // Model that served the request.
	Content    string `gorm:"type:text"`       // Response content on completion.

	FailureReason   string `gorm:"type:text"` // Terminal failure reason, when failed.
	RejectionReason string `gorm:"type:text"` // Human rejection reason, when rejected.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
