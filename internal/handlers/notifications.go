package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dugout-developers/catchmate-server/internal/middleware"
	"github.com/dugout-developers/catchmate-server/internal/notify"
	"github.com/dugout-developers/catchmate-server/pkg/errors"
	"github.com/dugout-developers/catchmate-server/pkg/response"
)

// NotificationHandler exposes HTTP endpoints for the notification history.
type NotificationHandler struct {
	store *notify.Store
}

// NewNotificationHandler constructs a notification handler.
func NewNotificationHandler(store *notify.Store) *NotificationHandler {
	return &NotificationHandler{store: store}
}

// List returns notifications for the current user.
func (h *NotificationHandler) List(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	limit := parseIntQuery(c, "limit", 20)
	offset := parseIntQuery(c, "offset", 0)

	records, total, err := h.store.ListForUser(requestContext(c), userID, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, records, &response.Meta{Total: int(total)})
}

// UnreadCount returns the number of unread notifications.
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	count, err := h.store.UnreadCount(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"unread": count})
}

// MarkRead marks one notification as read.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	id := strings.TrimSpace(c.Param("id"))
	if err := h.store.MarkRead(requestContext(c), userID, id); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"read": true})
}

// MarkAllRead marks every unread notification as read.
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	updated, err := h.store.MarkAllRead(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"updated": updated})
}
