package models

import "time"

// Organization is a tenant; budgets and usage are scoped to it.
type Organization struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name     string `gorm:"type:text;not null;uniqueIndex"` // Display name.
	Disabled bool   `gorm:"not null;default:false"`         // Whether the org is suspended.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Member is an organization user allowed to dispatch requests.
type Member struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	OrgID uint64 `gorm:"not null;index"` // Owning organization.

	Email        string `gorm:"type:text;not null;uniqueIndex"` // Login email.
	PasswordHash string `gorm:"type:text;not null"`             // Bcrypt password hash.
	Disabled     bool   `gorm:"not null;default:false"`         // Whether the member is suspended.

	Organization Organization `gorm:"foreignKey:OrgID"` // Org relation.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
