package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/dugout-developers/catchmate-server/internal/database"
	"github.com/dugout-developers/catchmate-server/internal/models"
	apperrors "github.com/dugout-developers/catchmate-server/pkg/errors"
)

// RoomDirectory is the relational record of chat rooms and their membership.
// All mutations rely on the storage engine's row-level concurrency control;
// nothing here takes an in-process lock, because connections may live on
// different processes.
type RoomDirectory struct {
	db      *gorm.DB
	timeNow func() time.Time
}

// NewRoomDirectory constructs the directory over the supplied database handle.
func NewRoomDirectory(db *gorm.DB) (*RoomDirectory, error) {
	if db == nil {
		return nil, errors.New("room directory: db is required")
	}
	return &RoomDirectory{db: db, timeNow: time.Now}, nil
}

// WithTx returns a directory bound to the given transaction, so room setup
// can commit or roll back together with the caller's own writes.
func (d *RoomDirectory) WithTx(tx *gorm.DB) *RoomDirectory {
	return &RoomDirectory{db: tx, timeNow: d.timeNow}
}

// CreateRoom creates the chat room for a board, or returns the existing one.
// Concurrent calls for the same board resolve to a single winner through the
// unique index on board_id; the loser re-fetches instead of erroring.
func (d *RoomDirectory) CreateRoom(ctx context.Context, boardID string) (*models.ChatRoom, error) {
	boardID = strings.TrimSpace(boardID)
	if boardID == "" {
		return nil, apperrors.NewBadRequest("board id is required")
	}

	room := models.ChatRoom{
		BoardID:       boardID,
		LastMessageAt: d.timeNow().UTC(),
	}
	room.State = models.StateActive

	err := d.db.WithContext(ctx).Create(&room).Error
	if err == nil {
		return &room, nil
	}
	if !database.IsUniqueViolation(err) {
		return nil, apperrors.WrapTransient(err, "room directory: create room")
	}

	// Lost the race; the winner's row is the room for this board.
	var existing models.ChatRoom
	if err := d.db.WithContext(ctx).Where("board_id = ?", boardID).First(&existing).Error; err != nil {
		return nil, apperrors.WrapTransient(err, "room directory: fetch room after conflict")
	}
	return &existing, nil
}

// GetRoom loads a live room by id.
func (d *RoomDirectory) GetRoom(ctx context.Context, roomID string) (*models.ChatRoom, error) {
	var room models.ChatRoom
	err := d.db.WithContext(ctx).Scopes(models.Alive).Where("id = ?", roomID).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, apperrors.WrapTransient(err, "room directory: load room")
	}
	return &room, nil
}

// GetRoomByBoard loads the live room owned by a board.
func (d *RoomDirectory) GetRoomByBoard(ctx context.Context, boardID string) (*models.ChatRoom, error) {
	var room models.ChatRoom
	err := d.db.WithContext(ctx).Scopes(models.Alive).Where("board_id = ?", boardID).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, apperrors.WrapTransient(err, "room directory: load room by board")
	}
	return &room, nil
}

// ErrRoomFull reports that a capped room has no seat left.
var ErrRoomFull = apperrors.New("ROOM_FULL", "chat room is full", http.StatusConflict)

// AddMember adds a user to a room. Re-adding an active member is a no-op; a
// previously removed membership is revived. The participant count only moves
// when the membership actually changes state.
func (d *RoomDirectory) AddMember(ctx context.Context, roomID, userID string) error {
	return d.addMember(ctx, roomID, userID, 0)
}

// AddMemberWithLimit behaves like AddMember but refuses to grow the room past
// maxParticipants. The guard rides on the increment itself, so concurrent
// joins cannot overfill the room.
func (d *RoomDirectory) AddMemberWithLimit(ctx context.Context, roomID, userID string, maxParticipants int) error {
	return d.addMember(ctx, roomID, userID, maxParticipants)
}

func (d *RoomDirectory) addMember(ctx context.Context, roomID, userID string, maxParticipants int) error {
	roomID = strings.TrimSpace(roomID)
	userID = strings.TrimSpace(userID)
	if roomID == "" || userID == "" {
		return apperrors.NewBadRequest("room id and user id are required")
	}

	now := d.timeNow().UTC()

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var membership models.RoomMembership
		err := tx.Where("room_id = ? AND user_id = ?", roomID, userID).First(&membership).Error
		switch {
		case err == nil:
			if membership.IsActive() {
				return nil
			}
			membership.Revive()
			membership.JoinedAt = now
			membership.LastReadAt = nil
			if err := tx.Save(&membership).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			membership = models.RoomMembership{
				RoomID:   roomID,
				UserID:   userID,
				JoinedAt: now,
			}
			membership.State = models.StateActive
			if err := tx.Create(&membership).Error; err != nil {
				if database.IsUniqueViolation(err) {
					// Concurrent join won; membership exists.
					return nil
				}
				return err
			}
		default:
			return err
		}

		increment := tx.Model(&models.ChatRoom{}).Where("id = ?", roomID)
		if maxParticipants > 0 {
			increment = increment.Where("participant_count < ?", maxParticipants)
		}
		result := increment.UpdateColumn("participant_count", gorm.Expr("participant_count + 1"))
		if result.Error != nil {
			return result.Error
		}
		if maxParticipants > 0 && result.RowsAffected == 0 {
			return ErrRoomFull
		}
		return nil
	})
	if errors.Is(err, ErrRoomFull) {
		return ErrRoomFull
	}
	if err != nil {
		return apperrors.WrapTransient(err, "room directory: add member")
	}
	return nil
}

// RemoveMember soft-removes a membership and decrements the participant
// count. Removing a non-member is a no-op.
func (d *RoomDirectory) RemoveMember(ctx context.Context, roomID, userID string) error {
	now := d.timeNow().UTC()

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.RoomMembership{}).
			Where("room_id = ? AND user_id = ? AND state = ?", roomID, userID, models.StateActive).
			Updates(map[string]any{
				"state":      models.StateDeleted,
				"deleted_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		return tx.Model(&models.ChatRoom{}).
			Where("id = ? AND participant_count > 0", roomID).
			UpdateColumn("participant_count", gorm.Expr("participant_count - 1")).Error
	})
	if err != nil {
		return apperrors.WrapTransient(err, "room directory: remove member")
	}
	return nil
}

// IsMember reports whether the user holds an active membership of the room.
func (d *RoomDirectory) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&models.RoomMembership{}).
		Where("room_id = ? AND user_id = ? AND state = ?", roomID, userID, models.StateActive).
		Count(&count).Error
	if err != nil {
		return false, apperrors.WrapTransient(err, "room directory: membership lookup")
	}
	return count > 0, nil
}

// ListMembers returns the active memberships of a room.
func (d *RoomDirectory) ListMembers(ctx context.Context, roomID string) ([]models.RoomMembership, error) {
	var rows []models.RoomMembership
	err := d.db.WithContext(ctx).Scopes(models.Alive).
		Where("room_id = ?", roomID).
		Order("joined_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, apperrors.WrapTransient(err, "room directory: list members")
	}
	return rows, nil
}

// ListRoomsForUser returns the live rooms a user belongs to, most recently
// active first.
func (d *RoomDirectory) ListRoomsForUser(ctx context.Context, userID string) ([]models.ChatRoom, error) {
	var rooms []models.ChatRoom
	err := d.db.WithContext(ctx).
		Joins("JOIN room_memberships ON room_memberships.room_id = chat_rooms.id").
		Where("room_memberships.user_id = ? AND room_memberships.state = ?", userID, models.StateActive).
		Where("chat_rooms.state = ?", models.StateActive).
		Order("chat_rooms.last_message_at DESC").
		Find(&rooms).Error
	if err != nil {
		return nil, apperrors.WrapTransient(err, "room directory: list rooms for user")
	}
	return rooms, nil
}

// TouchLastRead advances a member's read marker, but only forwards. A stale
// marker delivered out of order leaves the stored value untouched.
func (d *RoomDirectory) TouchLastRead(ctx context.Context, roomID, userID string, at time.Time) error {
	err := d.db.WithContext(ctx).Model(&models.RoomMembership{}).
		Where("room_id = ? AND user_id = ? AND state = ?", roomID, userID, models.StateActive).
		Where("last_read_at IS NULL OR last_read_at < ?", at).
		UpdateColumn("last_read_at", at).Error
	if err != nil {
		return apperrors.WrapTransient(err, "room directory: touch last read")
	}
	return nil
}

// TouchLastMessage records room activity for the retention sweep.
func (d *RoomDirectory) TouchLastMessage(ctx context.Context, roomID string, at time.Time) error {
	err := d.db.WithContext(ctx).Model(&models.ChatRoom{}).
		Where("id = ?", roomID).
		UpdateColumn("last_message_at", at).Error
	if err != nil {
		return apperrors.WrapTransient(err, "room directory: touch last message")
	}
	return nil
}

// ListIdleRooms returns live rooms whose last activity predates the cutoff.
func (d *RoomDirectory) ListIdleRooms(ctx context.Context, cutoff time.Time) ([]models.ChatRoom, error) {
	var rooms []models.ChatRoom
	err := d.db.WithContext(ctx).Scopes(models.Alive).
		Where("last_message_at < ?", cutoff).
		Find(&rooms).Error
	if err != nil {
		return nil, apperrors.WrapTransient(err, "room directory: list idle rooms")
	}
	return rooms, nil
}

// ExpireRoom soft-deletes a room. Rooms are never hard-deleted; the retention
// sweep purges their message log separately.
func (d *RoomDirectory) ExpireRoom(ctx context.Context, roomID string) error {
	now := d.timeNow().UTC()
	err := d.db.WithContext(ctx).Model(&models.ChatRoom{}).
		Where("id = ? AND state = ?", roomID, models.StateActive).
		Updates(map[string]any{
			"state":      models.StateDeleted,
			"deleted_at": now,
		}).Error
	if err != nil {
		return apperrors.WrapTransient(err, fmt.Sprintf("room directory: expire room %s", roomID))
	}
	return nil
}
