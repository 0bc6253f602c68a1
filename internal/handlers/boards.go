package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dugout-developers/catchmate-server/internal/middleware"
	"github.com/dugout-developers/catchmate-server/internal/services"
	"github.com/dugout-developers/catchmate-server/pkg/errors"
	"github.com/dugout-developers/catchmate-server/pkg/response"
)

// BoardHandler exposes meetup listing endpoints.
type BoardHandler struct {
	boards *services.BoardService
}

// NewBoardHandler constructs a board handler.
func NewBoardHandler(boards *services.BoardService) *BoardHandler {
	return &BoardHandler{boards: boards}
}

type createBoardRequest struct {
	Title      string    `json:"title" validate:"required,min=2,max=255"`
	Content    string    `json:"content" validate:"max=4000"`
	MeetAt     time.Time `json:"meet_at" validate:"required"`
	MaxMembers int       `json:"max_members" validate:"omitempty,min=2,max=64"`
}

// Create opens a new board owned by the caller.
func (h *BoardHandler) Create(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req createBoardRequest
	if !bindAndValidate(c, &req) {
		return
	}

	board, err := h.boards.Create(requestContext(c), services.CreateBoardInput{
		OwnerID:    userID,
		Title:      req.Title,
		Content:    req.Content,
		MeetAt:     req.MeetAt,
		MaxMembers: req.MaxMembers,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, board)
}

// List returns boards, paged, soonest meet time first.
func (h *BoardHandler) List(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	pageSize := parseIntQuery(c, "page_size", 20)
	upcoming := strings.EqualFold(c.Query("upcoming"), "true")

	boards, total, err := h.boards.List(requestContext(c), services.ListBoardsOptions{
		Page:         page,
		PageSize:     pageSize,
		UpcomingOnly: upcoming,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	response.SuccessWithMeta(c, http.StatusOK, boards, &response.Meta{
		Page:       page,
		PerPage:    pageSize,
		Total:      int(total),
		TotalPages: totalPages,
	})
}

// Get returns one board.
func (h *BoardHandler) Get(c *gin.Context) {
	board, err := h.boards.GetByID(requestContext(c), strings.TrimSpace(c.Param("id")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, board)
}

// Delete soft-removes the caller's board.
func (h *BoardHandler) Delete(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	if err := h.boards.Delete(requestContext(c), strings.TrimSpace(c.Param("id")), userID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
