package db

import (
	"fmt"

	"github.com/aethergate/aethergate/internal/models"

	"gorm.io/gorm"
)

// Migrate runs schema migrations for all engine models.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	return conn.AutoMigrate(
		&models.Organization{},
		&models.Member{},
		&models.Operator{},
		&models.Budget{},
		&models.UsageRecord{},
		&models.ModelRate{},
		&models.Request{},
		&models.DecisionTrace{},
		&models.RoundtableSession{},
		&models.RoundtableMessage{},
		&models.AuditEntry{},
		&models.Setting{},
	)
}
