package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dugout-developers/catchmate-server/internal/api"
	"github.com/dugout-developers/catchmate-server/internal/app"
	"github.com/dugout-developers/catchmate-server/internal/app/maintenance"
	iauth "github.com/dugout-developers/catchmate-server/internal/auth"
	"github.com/dugout-developers/catchmate-server/internal/chat"
	"github.com/dugout-developers/catchmate-server/internal/database"
	"github.com/dugout-developers/catchmate-server/internal/events"
	"github.com/dugout-developers/catchmate-server/internal/msgstore"
	"github.com/dugout-developers/catchmate-server/internal/notify"
	"github.com/dugout-developers/catchmate-server/internal/services"
	"github.com/dugout-developers/catchmate-server/pkg/logger"
)

// runtimeStack bundles long-lived components used by the HTTP server.
type runtimeStack struct {
	DB       *gorm.DB
	Messages *msgstore.Store
	Reads    *chat.ReadTracker
	Sweeper  *maintenance.Sweeper
	Router   *gin.Engine
}

// bootstrapRuntime initialises storage, services, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stack.Messages, err = msgstore.Open(msgstore.Config{
		Path:     cfg.Messages.Path,
		InMemory: cfg.Messages.InMemory,
	})
	if err != nil {
		return nil, fmt.Errorf("open message store: %w", err)
	}

	jwtService, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:          cfg.Auth.JWT.Secret,
		Issuer:          cfg.Auth.JWT.Issuer,
		AccessTokenTTL:  cfg.Auth.JWT.AccessTTL,
		RefreshTokenTTL: cfg.Auth.JWT.RefreshTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	directory, err := chat.NewRoomDirectory(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise room directory: %w", err)
	}

	broker := chat.NewBroker(cfg.Chat.SubscribeBuffer)
	stack.Reads = chat.NewReadTracker(directory, cfg.Chat.ReadQueueSize)
	gateway := chat.NewGateway(broker, stack.Messages, directory, stack.Reads,
		iauth.NewGatewayValidator(jwtService),
		chat.GatewayConfig{AuthTimeout: cfg.Chat.AuthTimeout},
	)

	bus := events.NewBus()
	notifyStore := notify.NewStore(stack.DB)

	var pushDispatcher *notify.PushDispatcher
	if cfg.Push.Enabled {
		pushDispatcher, err = notify.NewPushDispatcher(notify.PushConfig{
			Enabled:         true,
			ProjectID:       cfg.Push.ProjectID,
			CredentialsFile: cfg.Push.CredentialsFile,
			Endpoint:        cfg.Push.Endpoint,
			Timeout:         cfg.Push.Timeout,
			ValidateOnly:    cfg.Push.ValidateOnly,
		})
		if err != nil {
			return nil, fmt.Errorf("initialise push dispatcher: %w", err)
		}
	} else {
		log.Info("push gateway disabled; notifications are in-app only")
	}
	notify.NewEnrollmentNotifier(pushDispatcher, notifyStore).Register(bus)

	userService, err := services.NewUserService(stack.DB, jwtService)
	if err != nil {
		return nil, fmt.Errorf("initialise user service: %w", err)
	}
	boardService, err := services.NewBoardService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise board service: %w", err)
	}
	enrollmentService, err := services.NewEnrollmentService(stack.DB, directory, bus)
	if err != nil {
		return nil, fmt.Errorf("initialise enrollment service: %w", err)
	}

	if cfg.Retention.Enabled {
		stack.Sweeper = maintenance.NewSweeper(stack.DB, directory, stack.Messages,
			maintenance.WithSchedule(cfg.Retention.Schedule),
			maintenance.WithRoomIdleAfter(cfg.Retention.RoomIdleAfter),
			maintenance.WithNotificationRetentionDays(cfg.Retention.NotificationDays),
		)
		if err := stack.Sweeper.Start(); err != nil {
			return nil, fmt.Errorf("start retention sweep: %w", err)
		}
	}

	stack.Router, err = api.NewRouter(api.Deps{
		DB:            stack.DB,
		JWT:           jwtService,
		Users:         userService,
		Boards:        boardService,
		Enrollments:   enrollmentService,
		Rooms:         directory,
		Messages:      stack.Messages,
		Gateway:       gateway,
		Notifications: notifyStore,
		RatePerSecond: cfg.Server.RateLimitPerSecond,
		RateBurst:     cfg.Server.RateLimitBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown releases the stack's resources in reverse dependency order.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s.Sweeper != nil {
		stopCtx := s.Sweeper.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
	}

	if s.Reads != nil {
		s.Reads.Close()
	}

	if s.Messages != nil {
		if err := s.Messages.Close(); err != nil {
			log.Warn("failed to close message store", zap.Error(err))
		}
	}

	closeDatabase(s.DB, log)
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAll(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
