package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dugout-developers/catchmate-server/internal/middleware"
	"github.com/dugout-developers/catchmate-server/internal/services"
	"github.com/dugout-developers/catchmate-server/pkg/errors"
	"github.com/dugout-developers/catchmate-server/pkg/response"
)

// EnrollmentHandler exposes application and decision endpoints.
type EnrollmentHandler struct {
	enrollments *services.EnrollmentService
}

// NewEnrollmentHandler constructs an enrollment handler.
func NewEnrollmentHandler(enrollments *services.EnrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

type applyRequest struct {
	Description string `json:"description" validate:"max=2000"`
}

// Apply submits the caller's application to a board.
func (h *EnrollmentHandler) Apply(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req applyRequest
	if !bindAndValidate(c, &req) {
		return
	}

	enrollment, err := h.enrollments.Apply(requestContext(c), strings.TrimSpace(c.Param("id")), userID, req.Description)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, enrollment)
}

// ListForBoard returns a board's enrollments to its owner.
func (h *EnrollmentHandler) ListForBoard(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	enrollments, err := h.enrollments.ListForBoard(requestContext(c), strings.TrimSpace(c.Param("id")), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, enrollments)
}

// ListMine returns the caller's own applications.
func (h *EnrollmentHandler) ListMine(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	enrollments, err := h.enrollments.ListForApplicant(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, enrollments)
}

// Accept approves a pending enrollment.
func (h *EnrollmentHandler) Accept(c *gin.Context) {
	h.decide(c, true)
}

// Reject declines a pending enrollment.
func (h *EnrollmentHandler) Reject(c *gin.Context) {
	h.decide(c, false)
}

func (h *EnrollmentHandler) decide(c *gin.Context, accept bool) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	id := strings.TrimSpace(c.Param("id"))
	var (
		enrollment any
		err        error
	)
	if accept {
		enrollment, err = h.enrollments.Accept(requestContext(c), id, userID)
	} else {
		enrollment, err = h.enrollments.Reject(requestContext(c), id, userID)
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, enrollment)
}
