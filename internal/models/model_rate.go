package models

import "time"

// ModelRate defines per-token pricing for one provider/model pair.
//
// Rates are micro-dollars per 1,000 tokens, so
// cost_micros = tokens * rate / 1000.
type ModelRate struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Provider string `gorm:"type:text;not null;uniqueIndex:idx_rate_provider_model,priority:1"` // Provider name.
	Model    string `gorm:"type:text;not null;uniqueIndex:idx_rate_provider_model,priority:2"` // Model name.

	InputRateMicrosPer1K  int64 `gorm:"column:input_rate_micros_per_1k;not null;default:0"`  // Input token rate.
	OutputRateMicrosPer1K int64 `gorm:"column:output_rate_micros_per_1k;not null;default:0"` // Output token rate.

	IsEnabled bool `gorm:"not null;default:true"` // Whether the rate is active.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
