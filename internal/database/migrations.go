package database

import (
	"gorm.io/gorm"

	"github.com/dugout-developers/catchmate-server/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Board{},
		&models.Enrollment{},
		&models.ChatRoom{},
		&models.RoomMembership{},
		&models.Notification{},
	)
}
