package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/dugout-developers/catchmate-server/internal/chat"
	"github.com/dugout-developers/catchmate-server/internal/database"
	"github.com/dugout-developers/catchmate-server/internal/events"
	"github.com/dugout-developers/catchmate-server/internal/models"
	apperrors "github.com/dugout-developers/catchmate-server/pkg/errors"
)

var (
	// ErrAlreadyApplied indicates the user already has an enrollment for the board.
	ErrAlreadyApplied = apperrors.New("ENROLLMENT_EXISTS", "Already applied to this board", http.StatusConflict)
	// ErrAlreadyDecided indicates the enrollment left the pending state.
	ErrAlreadyDecided = apperrors.New("ENROLLMENT_DECIDED", "Enrollment has already been decided", http.StatusConflict)
	// ErrBoardFull indicates the board reached its member limit.
	ErrBoardFull = apperrors.New("BOARD_FULL", "Board has no remaining seats", http.StatusConflict)
)

// EnrollmentService manages applications to boards and the accept/reject
// decision that creates chat rooms and drives notifications.
//
// Decisions are two-phase: the relational writes, including room setup on
// acceptance, commit in one transaction; the notification event publishes
// only after the commit succeeds. A failed transaction publishes nothing.
type EnrollmentService struct {
	db      *gorm.DB
	rooms   *chat.RoomDirectory
	bus     *events.Bus
	timeNow func() time.Time
}

// NewEnrollmentService constructs an EnrollmentService instance.
func NewEnrollmentService(db *gorm.DB, rooms *chat.RoomDirectory, bus *events.Bus) (*EnrollmentService, error) {
	if db == nil {
		return nil, errors.New("enrollment service: db is required")
	}
	if rooms == nil {
		return nil, errors.New("enrollment service: room directory is required")
	}
	if bus == nil {
		return nil, errors.New("enrollment service: event bus is required")
	}
	return &EnrollmentService{db: db, rooms: rooms, bus: bus, timeNow: time.Now}, nil
}

// Apply records a pending enrollment of the applicant on the board.
func (s *EnrollmentService) Apply(ctx context.Context, boardID, applicantID, description string) (*models.Enrollment, error) {
	ctx = ensureContext(ctx)

	boardID = strings.TrimSpace(boardID)
	applicantID = strings.TrimSpace(applicantID)
	if boardID == "" || applicantID == "" {
		return nil, apperrors.NewBadRequest("board id and applicant id are required")
	}

	var board models.Board
	err := s.db.WithContext(ctx).Scopes(models.Alive).Where("id = ?", boardID).First(&board).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("enrollment service: load board: %w", err)
	}
	if board.OwnerID == applicantID {
		return nil, apperrors.NewBadRequest("cannot apply to your own board")
	}

	enrollment := &models.Enrollment{
		BoardID:     boardID,
		ApplicantID: applicantID,
		Description: strings.TrimSpace(description),
		Status:      models.EnrollmentPending,
	}
	enrollment.State = models.StateActive

	if err := s.db.WithContext(ctx).Create(enrollment).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrAlreadyApplied
		}
		return nil, fmt.Errorf("enrollment service: create enrollment: %w", err)
	}
	return enrollment, nil
}

// ListForBoard returns the board's enrollments. Only the board owner may list them.
func (s *EnrollmentService) ListForBoard(ctx context.Context, boardID, requesterID string) ([]models.Enrollment, error) {
	ctx = ensureContext(ctx)

	var board models.Board
	err := s.db.WithContext(ctx).Scopes(models.Alive).Where("id = ?", boardID).First(&board).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("enrollment service: load board: %w", err)
	}
	if board.OwnerID != requesterID {
		return nil, apperrors.ErrForbidden
	}

	var enrollments []models.Enrollment
	err = s.db.WithContext(ctx).Scopes(models.Alive).
		Where("board_id = ?", boardID).
		Order("created_at ASC").
		Find(&enrollments).Error
	if err != nil {
		return nil, fmt.Errorf("enrollment service: list enrollments: %w", err)
	}
	return enrollments, nil
}

// ListForApplicant returns the user's own enrollments, newest first.
func (s *EnrollmentService) ListForApplicant(ctx context.Context, applicantID string) ([]models.Enrollment, error) {
	ctx = ensureContext(ctx)

	var enrollments []models.Enrollment
	err := s.db.WithContext(ctx).Scopes(models.Alive).
		Where("applicant_id = ?", applicantID).
		Order("created_at DESC").
		Find(&enrollments).Error
	if err != nil {
		return nil, fmt.Errorf("enrollment service: list enrollments: %w", err)
	}
	return enrollments, nil
}

// Accept approves a pending enrollment. In one transaction the enrollment
// moves to accepted and the board's chat room is created with both the
// applicant and the owner as members. The acceptance event publishes after
// the commit.
func (s *EnrollmentService) Accept(ctx context.Context, enrollmentID, requesterID string) (*models.Enrollment, error) {
	return s.decide(ctx, enrollmentID, requesterID, models.EnrollmentAccepted)
}

// Reject declines a pending enrollment. No chat room is involved; the
// rejection event publishes after the commit.
func (s *EnrollmentService) Reject(ctx context.Context, enrollmentID, requesterID string) (*models.Enrollment, error) {
	return s.decide(ctx, enrollmentID, requesterID, models.EnrollmentRejected)
}

func (s *EnrollmentService) decide(ctx context.Context, enrollmentID, requesterID string, status models.EnrollmentStatus) (*models.Enrollment, error) {
	ctx = ensureContext(ctx)
	now := s.timeNow().UTC()

	var (
		enrollment models.Enrollment
		event      events.EnrollmentEvent
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Scopes(models.Alive).Where("id = ?", enrollmentID).First(&enrollment).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load enrollment: %w", err)
		}
		if enrollment.Status != models.EnrollmentPending {
			return ErrAlreadyDecided
		}

		var board models.Board
		err = tx.Scopes(models.Alive).Where("id = ?", enrollment.BoardID).First(&board).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load board: %w", err)
		}
		if board.OwnerID != requesterID {
			return apperrors.ErrForbidden
		}

		enrollment.Status = status
		enrollment.DecidedAt = &now
		if err := tx.Save(&enrollment).Error; err != nil {
			return fmt.Errorf("save decision: %w", err)
		}

		var applicant models.User
		if err := tx.Where("id = ?", enrollment.ApplicantID).First(&applicant).Error; err != nil {
			return fmt.Errorf("load applicant: %w", err)
		}

		event = events.EnrollmentEvent{
			BoardID:     board.ID,
			SenderID:    board.OwnerID,
			RecipientID: applicant.ID,
			DeviceToken: applicant.DeviceToken,
		}

		if status == models.EnrollmentRejected {
			event.Kind = events.KindEnrollmentRejected
			event.Title = "Enrollment rejected"
			event.Body = fmt.Sprintf("Your application to %q was not accepted.", board.Title)
			return nil
		}

		rooms := s.rooms.WithTx(tx)
		room, err := rooms.CreateRoom(ctx, board.ID)
		if err != nil {
			return fmt.Errorf("create room: %w", err)
		}
		if room.ParticipantCount >= board.MaxMembers {
			return ErrBoardFull
		}
		// The capacity guard lives on the increment itself, so a decision
		// racing another accept of the same board rolls back instead of
		// overfilling the room.
		if err := rooms.AddMemberWithLimit(ctx, room.ID, board.OwnerID, board.MaxMembers); err != nil {
			if errors.Is(err, chat.ErrRoomFull) {
				return ErrBoardFull
			}
			return fmt.Errorf("add owner: %w", err)
		}
		if err := rooms.AddMemberWithLimit(ctx, room.ID, applicant.ID, board.MaxMembers); err != nil {
			if errors.Is(err, chat.ErrRoomFull) {
				return ErrBoardFull
			}
			return fmt.Errorf("add applicant: %w", err)
		}

		event.Kind = events.KindEnrollmentAccepted
		event.Title = "Enrollment accepted"
		event.Body = fmt.Sprintf("You joined %q. Say hello in the chat room.", board.Title)
		event.ChatRoomID = room.ID
		return nil
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, fmt.Errorf("enrollment service: decide: %w", err)
	}

	s.bus.Publish(ctx, event)
	return &enrollment, nil
}
