package chat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dugout-developers/catchmate-server/pkg/logger"
)

const defaultReadQueueSize = 256

// ReadEvent is one read-marker update: the user has seen the room up to At.
type ReadEvent struct {
	RoomID string
	UserID string
	At     time.Time
}

// ReadTracker applies read-marker updates off the message path. Events are
// consumed asynchronously by a single worker; read state is advisory, so a
// marker observed late (or dropped on overflow) is corrected by the next one.
type ReadTracker struct {
	directory *RoomDirectory
	events    chan ReadEvent
	log       *zap.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewReadTracker starts the tracker's worker goroutine.
func NewReadTracker(directory *RoomDirectory, queueSize int) *ReadTracker {
	if queueSize <= 0 {
		queueSize = defaultReadQueueSize
	}

	t := &ReadTracker{
		directory: directory,
		events:    make(chan ReadEvent, queueSize),
		log:       logger.WithModule("readtracker"),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go t.run()
	return t
}

// Track enqueues a read event without blocking the caller. Overflow drops the
// event; the marker is monotonic and advisory, so a later event supersedes it.
func (t *ReadTracker) Track(event ReadEvent) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	select {
	case t.events <- event:
	case <-t.stop:
	default:
		t.log.Warn("read event queue full, dropping marker",
			zap.String("room_id", event.RoomID),
			zap.String("user_id", event.UserID),
		)
	}
}

// Close stops the worker after draining queued events.
func (t *ReadTracker) Close() {
	t.stopOnce.Do(func() {
		close(t.stop)
	})
	<-t.done
}

func (t *ReadTracker) run() {
	defer close(t.done)

	for {
		select {
		case event := <-t.events:
			t.apply(event)
		case <-t.stop:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case event := <-t.events:
					t.apply(event)
				default:
					return
				}
			}
		}
	}
}

func (t *ReadTracker) apply(event ReadEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := t.directory.TouchLastRead(ctx, event.RoomID, event.UserID, event.At); err != nil {
		t.log.Warn("read marker update failed",
			zap.String("room_id", event.RoomID),
			zap.String("user_id", event.UserID),
			zap.Error(err),
		)
	}
}
