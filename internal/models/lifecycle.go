package models

import (
	"time"

	"gorm.io/gorm"
)

// LifecycleState is an explicit entity lifecycle marker. Soft-removed rows keep
// their data but move to StateDeleted with a deletion timestamp.
type LifecycleState string

const (
	StateActive  LifecycleState = "active"
	StateDeleted LifecycleState = "deleted"
)

// Lifecycle is embedded by soft-deletable models.
type Lifecycle struct {
	State     LifecycleState `gorm:"type:varchar(16);not null;default:'active';index" json:"state"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty"`
}

// MarkDeleted flips the lifecycle to deleted at the supplied instant.
func (l *Lifecycle) MarkDeleted(at time.Time) {
	l.State = StateDeleted
	l.DeletedAt = &at
}

// Revive restores a soft-deleted row.
func (l *Lifecycle) Revive() {
	l.State = StateActive
	l.DeletedAt = nil
}

// IsActive reports whether the row is live.
func (l Lifecycle) IsActive() bool {
	return l.State == StateActive
}

// Alive is the single query predicate for live rows. Every lookup that must
// ignore soft-deleted entities goes through this scope.
func Alive(db *gorm.DB) *gorm.DB {
	return db.Where("state = ?", StateActive)
}
