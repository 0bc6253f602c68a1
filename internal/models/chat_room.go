package models

import "time"

// ChatRoom is the durable chat channel tied to one board. The unique index on
// BoardID is what makes concurrent room creation race-safe: the loser of the
// race observes a unique violation and fetches the winner's row.
type ChatRoom struct {
	BaseModel
	Lifecycle

	BoardID          string    `gorm:"type:uuid;not null;uniqueIndex" json:"board_id"`
	ParticipantCount int       `gorm:"not null;default:0" json:"participant_count"`
	LastMessageAt    time.Time `gorm:"index" json:"last_message_at"`
}

// RoomMembership links a user to a room. At most one row exists per
// (room, user); leaving soft-deletes the row and re-joining revives it.
type RoomMembership struct {
	BaseModel
	Lifecycle

	RoomID   string     `gorm:"type:uuid;not null;index:idx_memberships_room_user,unique" json:"room_id"`
	UserID   string     `gorm:"type:uuid;not null;index:idx_memberships_room_user,unique" json:"user_id"`
	JoinedAt time.Time  `gorm:"not null" json:"joined_at"`
	// LastReadAt is nil until the member's first read marker arrives. Updates
	// are monotonic; stale markers never move it backwards.
	LastReadAt *time.Time `json:"last_read_at,omitempty"`
}
