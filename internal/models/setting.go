package models

import (
	"time"

	"gorm.io/datatypes"
)

// Setting stores one runtime-tunable configuration value.
type Setting struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Key   string         `gorm:"type:text;not null;uniqueIndex"` // Setting key.
	Value datatypes.JSON `gorm:"type:jsonb"`                     // JSON-encoded value.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
