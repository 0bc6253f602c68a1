package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dugout-developers/catchmate-server/internal/chat"
	"github.com/dugout-developers/catchmate-server/internal/models"
	"github.com/dugout-developers/catchmate-server/internal/msgstore"
	"github.com/dugout-developers/catchmate-server/pkg/logger"
)

const (
	defaultSchedule         = "@daily"
	defaultRoomIdleAfter    = 30 * 24 * time.Hour
	defaultNotificationDays = 90
)

// Sweeper runs background retention: idle chat rooms are expired together
// with their message log, and old read notifications are purged.
type Sweeper struct {
	db        *gorm.DB
	directory *chat.RoomDirectory
	messages  *msgstore.Store
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger

	schedule         string
	roomIdleAfter    time.Duration
	notificationDays int
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock used for retention comparisons.
func WithNow(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSchedule overrides the cron expression used for the sweep.
func WithSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

// WithRoomIdleAfter adjusts how long a room may stay silent before expiry.
func WithRoomIdleAfter(idle time.Duration) Option {
	return func(s *Sweeper) {
		if idle > 0 {
			s.roomIdleAfter = idle
		}
	}
}

// WithNotificationRetentionDays adjusts how long read notifications are kept.
func WithNotificationRetentionDays(days int) Option {
	return func(s *Sweeper) {
		if days > 0 {
			s.notificationDays = days
		}
	}
}

// NewSweeper constructs a Sweeper with sensible defaults.
func NewSweeper(db *gorm.DB, directory *chat.RoomDirectory, messages *msgstore.Store, opts ...Option) *Sweeper {
	sweeper := &Sweeper{
		db:               db,
		directory:        directory,
		messages:         messages,
		now:              time.Now,
		schedule:         defaultSchedule,
		roomIdleAfter:    defaultRoomIdleAfter,
		notificationDays: defaultNotificationDays,
		log:              logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(sweeper)
	}

	if sweeper.cron == nil {
		sweeper.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return sweeper
}

// Start registers the sweep with the cron scheduler and launches it.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.RunOnce(context.Background()); err != nil {
			s.log.Warn("retention sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes the full sweep sequentially. Individual failures are
// collected so one bad room never blocks the rest.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	errs = multierr.Append(errs, s.sweepRooms(ctx))
	errs = multierr.Append(errs, s.sweepNotifications(ctx))
	return errs
}

func (s *Sweeper) sweepRooms(ctx context.Context) error {
	if s.directory == nil || s.messages == nil {
		return nil
	}

	cutoff := s.now().UTC().Add(-s.roomIdleAfter)
	rooms, err := s.directory.ListIdleRooms(ctx, cutoff)
	if err != nil {
		return err
	}

	var errs error
	for _, room := range rooms {
		if err := s.directory.ExpireRoom(ctx, room.ID); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if err := s.messages.DeleteAllForRoom(ctx, room.ID); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		s.log.Info("expired idle room",
			zap.String("room_id", room.ID),
			zap.Time("last_message_at", room.LastMessageAt),
		)
	}
	return errs
}

func (s *Sweeper) sweepNotifications(ctx context.Context) error {
	if s.db == nil || s.notificationDays <= 0 {
		return nil
	}

	cutoff := s.now().UTC().AddDate(0, 0, -s.notificationDays)
	result := s.db.WithContext(ctx).
		Where("is_read = ? AND created_at < ?", true, cutoff).
		Delete(&models.Notification{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		s.log.Info("purged read notifications", zap.Int64("count", result.RowsAffected))
	}
	return nil
}
