package models

// User is a registered member of the platform. Device token and avatar are the
// fields the chat and notification pipeline reads; everything else is profile
// data owned by collaborating services.
type User struct {
	BaseModel

	Nickname     string `gorm:"type:varchar(64);uniqueIndex;not null" json:"nickname"`
	Email        string `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"type:varchar(255);not null" json:"-"`

	// DeviceToken is the push gateway registration for the user's primary device.
	// Empty when the user never granted push permission.
	DeviceToken string `gorm:"type:varchar(512)" json:"-"`
	AvatarURL   string `gorm:"type:text" json:"avatar_url,omitempty"`
}
