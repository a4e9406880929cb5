package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/gozman/bookshelf/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.EmailVerification{},
		&models.PasswordResetToken{},
		&models.AuditLog{},
		&models.CacheEntry{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
