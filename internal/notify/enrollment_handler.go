package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/dugout-developers/catchmate-server/internal/events"
	"github.com/dugout-developers/catchmate-server/pkg/logger"
)

// EnrollmentNotifier turns committed enrollment decisions into notifications.
//
// Delivery guarantees are ordered weakest first: the push leg is attempted
// and its failure only logged, then the in-app record is written and that
// write must succeed. A recipient whose device is unreachable still finds
// the decision in their notification history.
type EnrollmentNotifier struct {
	push  *PushDispatcher
	store *Store
	log   *zap.Logger
}

// NewEnrollmentNotifier builds the notifier. push may be nil when the push
// gateway is disabled; the in-app record is written either way.
func NewEnrollmentNotifier(push *PushDispatcher, store *Store) *EnrollmentNotifier {
	return &EnrollmentNotifier{
		push:  push,
		store: store,
		log:   logger.WithModule("notify"),
	}
}

// Register subscribes the notifier to enrollment decision events.
func (n *EnrollmentNotifier) Register(bus *events.Bus) {
	bus.Subscribe(events.KindEnrollmentAccepted, n.Handle)
	bus.Subscribe(events.KindEnrollmentRejected, n.Handle)
}

// Handle processes one committed decision event.
func (n *EnrollmentNotifier) Handle(ctx context.Context, event events.EnrollmentEvent) error {
	status := "rejected"
	if event.Kind == events.KindEnrollmentAccepted {
		status = "accepted"
	}

	if n.push != nil && event.DeviceToken != "" {
		data := PushData{
			BoardID:      event.BoardID,
			ChatRoomID:   event.ChatRoomID,
			AcceptStatus: status,
		}
		if err := n.push.Send(ctx, event.DeviceToken, event.Title, event.Body, data); err != nil {
			n.log.Warn("push delivery failed, record kept",
				zap.String("board_id", event.BoardID),
				zap.String("recipient_id", event.RecipientID),
				zap.Error(err),
			)
		}
	}

	metadata := map[string]string{
		"boardId":      event.BoardID,
		"acceptStatus": status,
	}
	if event.ChatRoomID != "" {
		metadata["chatRoomId"] = event.ChatRoomID
	}

	_, err := n.store.Create(ctx, CreateInput{
		RecipientID: event.RecipientID,
		SenderID:    event.SenderID,
		BoardID:     event.BoardID,
		Title:       event.Title,
		Body:        event.Body,
		Metadata:    metadata,
	})
	return err
}
