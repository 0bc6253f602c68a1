package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dugout-developers/catchmate-server/internal/middleware"
	"github.com/dugout-developers/catchmate-server/internal/models"
	"github.com/dugout-developers/catchmate-server/internal/services"
	"github.com/dugout-developers/catchmate-server/pkg/errors"
	"github.com/dugout-developers/catchmate-server/pkg/response"
)

// AuthHandler exposes registration, login, and profile endpoints.
type AuthHandler struct {
	users *services.UserService
}

// NewAuthHandler constructs an auth handler.
func NewAuthHandler(users *services.UserService) *AuthHandler {
	return &AuthHandler{users: users}
}

type registerRequest struct {
	Nickname    string `json:"nickname" validate:"required,min=2,max=64"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8,max=128"`
	DeviceToken string `json:"device_token"`
	AvatarURL   string `json:"avatar_url"`
}

// Register creates a new account.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Register(requestContext(c), services.RegisterInput{
		Nickname:    req.Nickname,
		Email:       req.Email,
		Password:    req.Password,
		DeviceToken: req.DeviceToken,
		AvatarURL:   req.AvatarURL,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, userDTO(user))
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Login verifies credentials and issues a token pair.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	pair, user, err := h.users.Login(requestContext(c), req.Email, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"tokens": pair,
		"user":   userDTO(user),
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// Refresh exchanges a refresh token for a new token pair.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bindAndValidate(c, &req) {
		return
	}

	pair, err := h.users.Refresh(requestContext(c), req.RefreshToken)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, pair)
}

// Me returns the current user's profile.
func (h *AuthHandler) Me(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	user, err := h.users.GetByID(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, userDTO(user))
}

type deviceTokenRequest struct {
	DeviceToken string `json:"device_token"`
}

// UpdateDeviceToken records or clears the push registration for the caller.
func (h *AuthHandler) UpdateDeviceToken(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req deviceTokenRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.users.UpdateDeviceToken(requestContext(c), userID, req.DeviceToken); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"updated": true})
}

func userDTO(user *models.User) gin.H {
	return gin.H{
		"id":         user.ID,
		"nickname":   user.Nickname,
		"email":      user.Email,
		"avatar_url": user.AvatarURL,
		"created_at": user.CreatedAt,
	}
}
