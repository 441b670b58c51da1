package db

import (
	"fmt"

	"github.com/fixaren/backoffice/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model owned by the pipeline engine.
func AllModels() []interface{} {
	return []interface{}{
		&models.Stage{},
		&models.Deal{},
		&models.Activity{},
		&models.AutomationSettings{},
	}
}

// AutoMigrate creates or updates all pipeline tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
