package chat

import (
	"sync"

	"go.uber.org/zap"

	"github.com/dugout-developers/catchmate-server/internal/msgstore"
	"github.com/dugout-developers/catchmate-server/pkg/logger"
)

const defaultSubscriberBuffer = 64

// Broker is the in-process fan-out for live chat delivery. It serves only
// currently-connected subscribers; durability is entirely the message store's
// job. Delivery is FIFO per room per publisher, with no ordering guarantee
// across rooms.
type Broker struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Subscription]struct{}
	buffer int
	log    *zap.Logger
}

// NewBroker constructs a broker whose subscribers each get a bounded delivery
// queue of the supplied size.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Broker{
		rooms:  make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		log:    logger.WithModule("broker"),
	}
}

// Subscription is one connection's interest in a room. Messages arrive on C
// until the subscription is cancelled; the channel closes when the subscriber
// is dropped or unsubscribes.
type Subscription struct {
	broker *Broker
	roomID string
	ch     chan msgstore.Message

	mu     sync.Mutex
	closed bool
}

// C exposes the delivery channel.
func (s *Subscription) C() <-chan msgstore.Message {
	return s.ch
}

// RoomID names the room this subscription is bound to.
func (s *Subscription) RoomID() string {
	return s.roomID
}

// Cancel removes the subscription and closes its channel. Idempotent.
func (s *Subscription) Cancel() {
	s.broker.remove(s)

	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
}

// tryDeliver enqueues without blocking. It reports false only when the queue
// is full; delivery to an already-cancelled subscription counts as done.
func (s *Subscription) tryDeliver(msg msgstore.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

// Subscribe registers interest in a room and returns the handle.
func (b *Broker) Subscribe(roomID string) *Subscription {
	sub := &Subscription{
		broker: b,
		roomID: roomID,
		ch:     make(chan msgstore.Message, b.buffer),
	}

	b.mu.Lock()
	if b.rooms[roomID] == nil {
		b.rooms[roomID] = make(map[*Subscription]struct{})
	}
	b.rooms[roomID][sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Publish delivers a message to every current subscriber of its room. A slow
// subscriber whose queue is full is dropped rather than blocking the publisher
// or the other subscribers; backpressure is isolated per subscriber.
func (b *Broker) Publish(msg msgstore.Message) {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.rooms[msg.RoomID]))
	for sub := range b.rooms[msg.RoomID] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if !sub.tryDeliver(msg) {
			b.log.Warn("dropping backpressure subscriber", zap.String("room_id", msg.RoomID))
			sub.Cancel()
		}
	}
}

// SubscriberCount reports how many live subscriptions a room has.
func (b *Broker) SubscriberCount(roomID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[roomID])
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.rooms[sub.roomID]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.rooms, sub.roomID)
	}
}
