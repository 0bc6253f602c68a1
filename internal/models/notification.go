package models

import (
	"time"

	"gorm.io/datatypes"
)

// Notification is the durable record of a dispatched domain event. One row
// exists per committed accept/reject decision whether or not the push attempt
// succeeded; it backs the in-app notification history.
type Notification struct {
	BaseModel

	RecipientID string         `gorm:"type:uuid;not null;index" json:"recipient_id"`
	SenderID    string         `gorm:"type:uuid;index" json:"sender_id"`
	BoardID     string         `gorm:"type:uuid;index" json:"board_id"`
	Title       string         `gorm:"type:varchar(255);not null" json:"title"`
	Body        string         `gorm:"type:text" json:"body"`
	Metadata    datatypes.JSON `json:"metadata,omitempty"`

	IsRead bool       `gorm:"default:false;index" json:"is_read"`
	ReadAt *time.Time `json:"read_at,omitempty"`
}
