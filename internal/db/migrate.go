package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/models"
)

// AllModels returns every GORM model managed by the bot.
func AllModels() []interface{} {
	return []interface{}{
		&models.Question{},
		&models.QuestionMentor{},
		&models.StatusEntry{},
		&models.Mentor{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// OpenMemory returns a migrated in-memory SQLite database. Used by tests and
// by the CLI's dry-run paths.
func OpenMemory() (*gorm.DB, error) {
	db, err := Connect(DriverSQLite, ":memory:")
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
