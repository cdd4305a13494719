package models

import (
	"time"

	"gorm.io/datatypes"
)

// RoundtableMode controls how providers take turns within a session.
type RoundtableMode string

// Roundtable modes.
const (
	// RoundtableRoundRobin cycles providers in registration order.
	RoundtableRoundRobin RoundtableMode = "round_robin"
	// RoundtableTopicBased re-ranks providers by topic relevance each round.
	RoundtableTopicBased RoundtableMode = "topic_based"
	// RoundtableFreeForm lets any active provider respond.
	RoundtableFreeForm RoundtableMode = "free_form"
)

// Valid reports whether the mode is a known value.
func (m RoundtableMode) Valid() bool {
	return m == RoundtableRoundRobin || m == RoundtableTopicBased || m == RoundtableFreeForm
}

// RoundtableState is the lifecycle state of a session.
type RoundtableState string

// Roundtable session states.
const (
	RoundtableActive    RoundtableState = "active"
	RoundtablePaused    RoundtableState = "paused"
	RoundtableCompleted RoundtableState = "completed"
)

// RoundtableSession is a turn-based multi-provider conversation.
type RoundtableSession struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	PublicID string `gorm:"type:text;not null;uniqueIndex"` // Caller-facing UUID.

	OrgID    uint64  `gorm:"not null;index"` // Owning organization.
	MemberID *uint64 `gorm:"index"`          // Creating member, when known.

	Mode  RoundtableMode  `gorm:"type:text;not null"`       // Turn ordering mode.
	Topic string          `gorm:"type:text"`                // Discussion topic, used by topic_based ranking.
	State RoundtableState `gorm:"type:text;not null;index"` // Lifecycle state.

	MaxTurns    int `gorm:"not null"`           // Rounds before forced completion.
	CurrentTurn int `gorm:"not null;default:0"` // Completed rounds; monotonic.

	Participants datatypes.JSON `gorm:"type:jsonb;not null"` // Ordered participant list (see roundtable.Participant).

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// RoundtableSender identifies who produced a roundtable message.
type RoundtableSender string

// Roundtable sender types.
const (
	RoundtableSenderProvider RoundtableSender = "provider"
	RoundtableSenderSystem   RoundtableSender = "system"
	RoundtableSenderUser     RoundtableSender = "user"
)

// RoundtableMessage is one message in a session.
//
// SequenceNumber is strictly increasing, gapless, and starts at 1 within a
// session. Rows are append-only.
type RoundtableMessage struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	SessionID      uint64 `gorm:"not null;uniqueIndex:idx_rt_session_seq,priority:1"` // Owning session.
	SequenceNumber int    `gorm:"not null;uniqueIndex:idx_rt_session_seq,priority:2"` // Position within the session.

	Sender     RoundtableSender `gorm:"type:text;not null"` // Who produced the message.
	ProviderID string           `gorm:"type:text;index"`    // Speaking provider, for provider messages.
	Content    string           `gorm:"type:text;not null"` // Message body.
	Signature  string           `gorm:"type:text"`          // Optional provider signature.

	Turn int `gorm:"not null"` // Round the message belongs to.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
