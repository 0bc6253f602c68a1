package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/dugout-developers/catchmate-server/internal/models"
	apperrors "github.com/dugout-developers/catchmate-server/pkg/errors"
)

// CreateBoardInput describes a new meetup listing.
type CreateBoardInput struct {
	OwnerID    string
	Title      string
	Content    string
	MeetAt     time.Time
	MaxMembers int
}

// ListBoardsOptions controls pagination for board listing.
type ListBoardsOptions struct {
	Page     int
	PageSize int
	// UpcomingOnly hides boards whose meet time already passed.
	UpcomingOnly bool
}

// BoardService manages meetup listings.
type BoardService struct {
	db      *gorm.DB
	timeNow func() time.Time
}

// NewBoardService constructs a BoardService instance.
func NewBoardService(db *gorm.DB) (*BoardService, error) {
	if db == nil {
		return nil, errors.New("board service: db is required")
	}
	return &BoardService{db: db, timeNow: time.Now}, nil
}

// Create provisions a new board owned by the given user.
func (s *BoardService) Create(ctx context.Context, input CreateBoardInput) (*models.Board, error) {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(input.OwnerID) == "" {
		return nil, apperrors.NewBadRequest("owner is required")
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperrors.NewBadRequest("title is required")
	}
	if input.MeetAt.Before(s.timeNow()) {
		return nil, apperrors.NewBadRequest("meet time must be in the future")
	}

	maxMembers := input.MaxMembers
	if maxMembers <= 0 {
		maxMembers = 8
	}

	board := &models.Board{
		OwnerID:    input.OwnerID,
		Title:      title,
		Content:    input.Content,
		MeetAt:     input.MeetAt.UTC(),
		MaxMembers: maxMembers,
	}
	board.State = models.StateActive

	if err := s.db.WithContext(ctx).Create(board).Error; err != nil {
		return nil, fmt.Errorf("board service: create board: %w", err)
	}
	return board, nil
}

// GetByID loads a live board.
func (s *BoardService) GetByID(ctx context.Context, boardID string) (*models.Board, error) {
	ctx = ensureContext(ctx)

	var board models.Board
	err := s.db.WithContext(ctx).Scopes(models.Alive).Where("id = ?", boardID).First(&board).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("board service: load board: %w", err)
	}
	return &board, nil
}

// List returns live boards ordered by meet time, soonest first.
func (s *BoardService) List(ctx context.Context, opts ListBoardsOptions) ([]models.Board, int64, error) {
	ctx = ensureContext(ctx)

	page := opts.Page
	if page < 1 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	query := s.db.WithContext(ctx).Model(&models.Board{}).Scopes(models.Alive)
	if opts.UpcomingOnly {
		query = query.Where("meet_at > ?", s.timeNow().UTC())
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("board service: count boards: %w", err)
	}

	var boards []models.Board
	err := query.Order("meet_at ASC").
		Limit(pageSize).Offset((page - 1) * pageSize).
		Find(&boards).Error
	if err != nil {
		return nil, 0, fmt.Errorf("board service: list boards: %w", err)
	}
	return boards, total, nil
}

// Delete soft-deletes a board. Only the owner may delete it.
func (s *BoardService) Delete(ctx context.Context, boardID, requesterID string) error {
	ctx = ensureContext(ctx)

	board, err := s.GetByID(ctx, boardID)
	if err != nil {
		return err
	}
	if board.OwnerID != requesterID {
		return apperrors.ErrForbidden
	}

	board.MarkDeleted(s.timeNow().UTC())
	if err := s.db.WithContext(ctx).Save(board).Error; err != nil {
		return fmt.Errorf("board service: delete board: %w", err)
	}
	return nil
}
