package models

import "time"

// Board is a meetup listing. Accepting an enrollment against a board creates
// the board's chat room.
type Board struct {
	BaseModel
	Lifecycle

	OwnerID    string    `gorm:"type:uuid;not null;index" json:"owner_id"`
	Title      string    `gorm:"type:varchar(255);not null" json:"title"`
	Content    string    `gorm:"type:text" json:"content"`
	MeetAt     time.Time `gorm:"index" json:"meet_at"`
	MaxMembers int       `gorm:"not null;default:8" json:"max_members"`
}

// EnrollmentStatus tracks the decision state of an application to a board.
type EnrollmentStatus string

const (
	EnrollmentPending  EnrollmentStatus = "pending"
	EnrollmentAccepted EnrollmentStatus = "accepted"
	EnrollmentRejected EnrollmentStatus = "rejected"
)

// Enrollment is a user's application to join a board. The accept/reject
// decision is the domain action that drives the notification pipeline.
type Enrollment struct {
	BaseModel
	Lifecycle

	BoardID     string           `gorm:"type:uuid;not null;index:idx_enrollments_board_applicant,unique" json:"board_id"`
	ApplicantID string           `gorm:"type:uuid;not null;index:idx_enrollments_board_applicant,unique" json:"applicant_id"`
	Description string           `gorm:"type:text" json:"description"`
	Status      EnrollmentStatus `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	DecidedAt   *time.Time       `json:"decided_at,omitempty"`
}
