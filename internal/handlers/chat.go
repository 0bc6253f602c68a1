package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/dugout-developers/catchmate-server/internal/chat"
	"github.com/dugout-developers/catchmate-server/internal/middleware"
	"github.com/dugout-developers/catchmate-server/internal/models"
	"github.com/dugout-developers/catchmate-server/internal/msgstore"
	"github.com/dugout-developers/catchmate-server/pkg/errors"
	"github.com/dugout-developers/catchmate-server/pkg/response"
)

const (
	defaultHistoryPage = 50
	maxHistoryPage     = 200
)

// ChatHandler exposes room listing, history, and membership endpoints. Live
// traffic goes over the websocket; these endpoints serve catch-up and
// room management.
type ChatHandler struct {
	directory *chat.RoomDirectory
	store     *msgstore.Store
	gateway   *chat.Gateway
}

// NewChatHandler constructs a chat handler.
func NewChatHandler(directory *chat.RoomDirectory, store *msgstore.Store, gateway *chat.Gateway) *ChatHandler {
	return &ChatHandler{directory: directory, store: store, gateway: gateway}
}

// messageDTO matches the frame payload delivered over the websocket, so a
// client can correlate history entries with live messages by id.
type messageDTO struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type roomDTO struct {
	ID               string    `json:"id"`
	BoardID          string    `json:"board_id"`
	ParticipantCount int       `json:"participant_count"`
	LastMessageAt    time.Time `json:"last_message_at"`
}

// ListRooms returns the caller's rooms, most recently active first.
func (h *ChatHandler) ListRooms(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	rooms, err := h.directory.ListRoomsForUser(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	dtos := lo.Map(rooms, func(room models.ChatRoom, _ int) roomDTO {
		return roomDTO{
			ID:               room.ID,
			BoardID:          room.BoardID,
			ParticipantCount: room.ParticipantCount,
			LastMessageAt:    room.LastMessageAt,
		}
	})
	response.Success(c, http.StatusOK, dtos)
}

// Members returns the room's active membership. Only members may look.
func (h *ChatHandler) Members(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	ctx := requestContext(c)
	roomID := strings.TrimSpace(c.Param("id"))

	member, err := h.directory.IsMember(ctx, roomID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !member {
		response.Error(c, errors.ErrForbidden)
		return
	}

	members, err := h.directory.ListMembers(ctx, roomID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, members)
}

// History returns one page of the room's message log. The cursor is opaque;
// clients pass back next_cursor to continue where the page ended.
func (h *ChatHandler) History(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	ctx := requestContext(c)
	roomID := strings.TrimSpace(c.Param("id"))

	member, err := h.directory.IsMember(ctx, roomID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !member {
		response.Error(c, errors.ErrForbidden)
		return
	}

	pageSize := parseIntQuery(c, "page_size", defaultHistoryPage)
	if pageSize <= 0 || pageSize > maxHistoryPage {
		pageSize = defaultHistoryPage
	}

	order := msgstore.NewestFirst
	if strings.EqualFold(c.Query("order"), "oldest") {
		order = msgstore.OldestFirst
	}

	page, err := h.store.ListByRoom(ctx, roomID, strings.TrimSpace(c.Query("cursor")), pageSize, order)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := lo.Map(page.Messages, func(msg msgstore.Message, _ int) messageDTO {
		return messageDTO{
			ID:        msg.ID(),
			RoomID:    msg.RoomID,
			SenderID:  msg.SenderID,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
		}
	})
	response.SuccessWithMeta(c, http.StatusOK, items, &response.Meta{
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	})
}

// Leave removes the caller from the room.
func (h *ChatHandler) Leave(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	roomID := strings.TrimSpace(c.Param("id"))
	if err := h.directory.RemoveMember(requestContext(c), roomID, userID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"left": true})
}

// MarkRead advances the caller's read position over HTTP, for clients that
// are catching up without an open websocket.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	roomID := strings.TrimSpace(c.Param("id"))
	if err := h.directory.TouchLastRead(requestContext(c), roomID, userID, time.Now()); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"read": true})
}

// Socket upgrades the request to the chat websocket.
func (h *ChatHandler) Socket(c *gin.Context) {
	h.gateway.Serve(c.Writer, c.Request)
}
