package db

import (
	"fmt"

	"github.com/zulandar/calliope/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates the schema for all Calliope models.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&models.Setting{},
		&models.PlayRecord{},
	); err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}
	return nil
}
