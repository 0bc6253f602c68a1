package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/dugout-developers/catchmate-server/pkg/logger"
)

// Kind names a domain event type.
type Kind string

const (
	KindEnrollmentAccepted Kind = "enrollment.accepted"
	KindEnrollmentRejected Kind = "enrollment.rejected"
)

// EnrollmentEvent describes a committed accept/reject decision. It is
// transient: never persisted, produced once by the enrollment service and
// consumed once per registered handler after the transaction commits.
type EnrollmentEvent struct {
	Kind        Kind
	BoardID     string
	SenderID    string
	RecipientID string
	DeviceToken string
	Title       string
	Body        string

	// ChatRoomID is set only for acceptance, naming the room created for the
	// board.
	ChatRoomID string
}

// Handler consumes one event. A returned error is logged, never propagated.
type Handler func(ctx context.Context, event EnrollmentEvent) error

// Bus dispatches domain events to registered handlers.
//
// The central correctness rule lives at the call site: Publish must only be
// invoked after the unit of work that produced the event has committed. The
// two-phase ordering (commit, then dispatch) is explicit in the enrollment
// service rather than hidden in a storage hook, so a rolled-back change can
// never fire side effects.
//
// Delivery is synchronous and in-process. An event raised but not yet handled
// at crash time is lost; that at-most-once limit is accepted for the push
// side channel, with the durable notification record as the backstop.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
	log      *zap.Logger
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Kind][]Handler),
		log:      logger.WithModule("events"),
	}
}

// Subscribe registers a handler for an event kind. Multiple handlers per kind
// run independently.
func (b *Bus) Subscribe(kind Kind, handler Handler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	b.handlers[kind] = append(b.handlers[kind], handler)
	b.mu.Unlock()
}

// Publish delivers the event to every handler of its kind. Each handler is
// isolated: a panic or error in one never prevents the others from running.
func (b *Bus) Publish(ctx context.Context, event EnrollmentEvent) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Kind]))
	copy(handlers, b.handlers[event.Kind])
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.dispatch(ctx, handler, event)
	}
}

func (b *Bus) dispatch(ctx context.Context, handler Handler, event EnrollmentEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				zap.String("kind", string(event.Kind)),
				zap.Any("panic", r),
			)
		}
	}()

	if err := handler(ctx, event); err != nil {
		b.log.Error("event handler failed",
			zap.String("kind", string(event.Kind)),
			zap.String("board_id", event.BoardID),
			zap.Error(err),
		)
	}
}
