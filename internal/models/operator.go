package models

import "time"

// Operator is a platform administrator who can resolve approval gates
// and manage budgets and rates.
type Operator struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username     string `gorm:"type:text;not null;uniqueIndex"` // Login name.
	PasswordHash string `gorm:"type:text;not null"`             // Bcrypt password hash.
	Disabled     bool   `gorm:"not null;default:false"`         // Whether the operator is suspended.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
