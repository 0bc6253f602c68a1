package notify

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/dugout-developers/catchmate-server/internal/models"
	apperrors "github.com/dugout-developers/catchmate-server/pkg/errors"
)

// Store persists in-app notification records. Records back every delivery
// attempt: a row is written whether or not the push leg succeeded, so the
// notification history is the authoritative record.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// CreateInput describes one notification record.
type CreateInput struct {
	RecipientID string
	SenderID    string
	BoardID     string
	Title       string
	Body        string
	Metadata    map[string]string
}

// Create writes a notification record for the recipient.
func (s *Store) Create(ctx context.Context, input CreateInput) (*models.Notification, error) {
	if input.RecipientID == "" {
		return nil, apperrors.NewBadRequest("recipient is required")
	}

	record := &models.Notification{
		RecipientID: input.RecipientID,
		SenderID:    input.SenderID,
		BoardID:     input.BoardID,
		Title:       input.Title,
		Body:        input.Body,
	}
	if len(input.Metadata) > 0 {
		meta, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, apperrors.Wrap(err, "encode notification metadata")
		}
		record.Metadata = datatypes.JSON(meta)
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, apperrors.Wrap(err, "create notification")
	}
	return record, nil
}

// ListForUser returns the user's notifications, newest first.
func (s *Store) ListForUser(ctx context.Context, userID string, limit, offset int) ([]models.Notification, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	query := s.db.WithContext(ctx).Model(&models.Notification{}).Where("recipient_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, apperrors.Wrap(err, "count notifications")
	}

	var records []models.Notification
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&records).Error; err != nil {
		return nil, 0, apperrors.Wrap(err, "list notifications")
	}
	return records, total, nil
}

// UnreadCount reports how many notifications the user has not opened yet.
func (s *Store) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("recipient_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	if err != nil {
		return 0, apperrors.Wrap(err, "count unread notifications")
	}
	return count, nil
}

// MarkRead marks one notification as read. Repeated calls are no-ops and the
// original read timestamp is preserved.
func (s *Store) MarkRead(ctx context.Context, userID, notificationID string) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND recipient_id = ? AND is_read = ?", notificationID, userID, false).
		Updates(map[string]any{"is_read": true, "read_at": now})
	if result.Error != nil {
		return apperrors.Wrap(result.Error, "mark notification read")
	}
	if result.RowsAffected == 0 {
		var exists int64
		if err := s.db.WithContext(ctx).Model(&models.Notification{}).
			Where("id = ? AND recipient_id = ?", notificationID, userID).
			Count(&exists).Error; err != nil {
			return apperrors.Wrap(err, "check notification")
		}
		if exists == 0 {
			return apperrors.ErrNotFound
		}
	}
	return nil
}

// MarkAllRead marks every unread notification for the user as read.
func (s *Store) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("recipient_id = ? AND is_read = ?", userID, false).
		Updates(map[string]any{"is_read": true, "read_at": now})
	if result.Error != nil {
		return 0, apperrors.Wrap(result.Error, "mark all notifications read")
	}
	return result.RowsAffected, nil
}
