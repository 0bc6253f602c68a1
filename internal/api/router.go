package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	iauth "github.com/dugout-developers/catchmate-server/internal/auth"
	"github.com/dugout-developers/catchmate-server/internal/chat"
	"github.com/dugout-developers/catchmate-server/internal/handlers"
	"github.com/dugout-developers/catchmate-server/internal/middleware"
	"github.com/dugout-developers/catchmate-server/internal/msgstore"
	"github.com/dugout-developers/catchmate-server/internal/notify"
	"github.com/dugout-developers/catchmate-server/internal/services"
)

// Deps bundles everything the router mounts. All fields except the rate
// limit knobs are required.
type Deps struct {
	DB            *gorm.DB
	JWT           *iauth.JWTService
	Users         *services.UserService
	Boards        *services.BoardService
	Enrollments   *services.EnrollmentService
	Rooms         *chat.RoomDirectory
	Messages      *msgstore.Store
	Gateway       *chat.Gateway
	Notifications *notify.Store

	RatePerSecond float64
	RateBurst     int
}

func (d Deps) validate() error {
	switch {
	case d.DB == nil:
		return fmt.Errorf("database handle must be provided")
	case d.JWT == nil:
		return fmt.Errorf("jwt service must be provided")
	case d.Users == nil:
		return fmt.Errorf("user service must be provided")
	case d.Boards == nil:
		return fmt.Errorf("board service must be provided")
	case d.Enrollments == nil:
		return fmt.Errorf("enrollment service must be provided")
	case d.Rooms == nil:
		return fmt.Errorf("room directory must be provided")
	case d.Messages == nil:
		return fmt.Errorf("message store must be provided")
	case d.Gateway == nil:
		return fmt.Errorf("chat gateway must be provided")
	case d.Notifications == nil:
		return fmt.Errorf("notification store must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.RateLimit(deps.RatePerSecond, deps.RateBurst))

	// Public endpoints
	r.GET("/health", handlers.Health(deps.DB))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	chatHandler := handlers.NewChatHandler(deps.Rooms, deps.Messages, deps.Gateway)
	// The socket authenticates in-band through its connect frame.
	r.GET("/ws/chat", chatHandler.Socket)

	authHandler := handlers.NewAuthHandler(deps.Users)
	auth := r.Group("/api/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
	}

	requireAuth := middleware.Auth(deps.JWT)
	api := r.Group("/api")
	api.Use(requireAuth)

	api.GET("/auth/me", authHandler.Me)
	api.PUT("/auth/device-token", authHandler.UpdateDeviceToken)

	boardHandler := handlers.NewBoardHandler(deps.Boards)
	enrollmentHandler := handlers.NewEnrollmentHandler(deps.Enrollments)
	boards := api.Group("/boards")
	{
		boards.POST("", boardHandler.Create)
		boards.GET("", boardHandler.List)
		boards.GET("/:id", boardHandler.Get)
		boards.DELETE("/:id", boardHandler.Delete)
		boards.POST("/:id/enrollments", enrollmentHandler.Apply)
		boards.GET("/:id/enrollments", enrollmentHandler.ListForBoard)
	}

	enrollments := api.Group("/enrollments")
	{
		enrollments.GET("", enrollmentHandler.ListMine)
		enrollments.POST("/:id/accept", enrollmentHandler.Accept)
		enrollments.POST("/:id/reject", enrollmentHandler.Reject)
	}

	rooms := api.Group("/chat/rooms")
	{
		rooms.GET("", chatHandler.ListRooms)
		rooms.GET("/:id/members", chatHandler.Members)
		rooms.GET("/:id/messages", chatHandler.History)
		rooms.POST("/:id/read", chatHandler.MarkRead)
		rooms.POST("/:id/leave", chatHandler.Leave)
	}

	notificationHandler := handlers.NewNotificationHandler(deps.Notifications)
	notifications := api.Group("/notifications")
	{
		notifications.GET("", notificationHandler.List)
		notifications.GET("/unread-count", notificationHandler.UnreadCount)
		notifications.POST("/:id/read", notificationHandler.MarkRead)
		notifications.POST("/read-all", notificationHandler.MarkAllRead)
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
