package chat

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dugout-developers/catchmate-server/internal/msgstore"
	apperrors "github.com/dugout-developers/catchmate-server/pkg/errors"
	"github.com/dugout-developers/catchmate-server/pkg/logger"
	"github.com/dugout-developers/catchmate-server/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 1 << 20 // 1 MiB
	outboundBuffer = 64

	defaultAuthTimeout = 10 * time.Second
)

// CredentialValidator authenticates the bearer credential carried by a
// connect frame.
type CredentialValidator interface {
	Validate(token string) (userID string, err error)
}

// connState tracks the per-connection lifecycle. Closed is terminal; a new
// connection starts a fresh state machine.
type connState int

const (
	stateConnecting connState = iota
	stateAuthenticated
	stateActive
	stateClosed
)

// Inbound frame actions.
const (
	actionConnect     = "connect"
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
	actionSend        = "send"
	actionRead        = "read"
	actionLeave       = "leave"
	actionPing        = "ping"
)

type inboundFrame struct {
	Action  string `json:"action"`
	Token   string `json:"token,omitempty"`
	RoomID  string `json:"room_id,omitempty"`
	Content string `json:"content,omitempty"`
}

type outboundFrame struct {
	Event  string `json:"event"`
	RoomID string `json:"room_id,omitempty"`
	Data   any    `json:"data,omitempty"`
	Error  *frameError `json:"error,omitempty"`
}

type frameError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type messagePayload struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// GatewayConfig tunes the websocket entry point.
type GatewayConfig struct {
	AuthTimeout time.Duration
}

// Gateway is the stateful websocket entry point for chat. Each accepted
// connection runs the Connecting -> Authenticated -> Active -> Closed state
// machine; sends are durably appended before they are fanned out.
type Gateway struct {
	broker    *Broker
	store     *msgstore.Store
	directory *RoomDirectory
	reads     *ReadTracker
	creds     CredentialValidator

	authTimeout time.Duration
	upgrader    websocket.Upgrader
	log         *zap.Logger
}

// NewGateway wires the gateway over its collaborators.
func NewGateway(broker *Broker, store *msgstore.Store, directory *RoomDirectory, reads *ReadTracker, creds CredentialValidator, cfg GatewayConfig) *Gateway {
	authTimeout := cfg.AuthTimeout
	if authTimeout <= 0 {
		authTimeout = defaultAuthTimeout
	}

	return &Gateway{
		broker:      broker,
		store:       store,
		directory:   directory,
		reads:       reads,
		creds:       creds,
		authTimeout: authTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browser clients authenticate with the connect frame, not
				// cookies, so cross-origin upgrades carry no ambient authority.
				return true
			},
		},
		log: logger.WithModule("gateway"),
	}
}

// Serve upgrades the HTTP request and runs the connection until it closes.
func (g *Gateway) Serve(w http.ResponseWriter, r *http.Request) {
	socket, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := &connection{
		gw:     g,
		socket: socket,
		state:  stateConnecting,
		out:    make(chan outboundFrame, outboundBuffer),
	}

	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	go conn.writeLoop()
	conn.readLoop()
}

type connection struct {
	gw     *Gateway
	socket *websocket.Conn

	mu     sync.Mutex
	state  connState
	userID string
	sub    *Subscription

	out  chan outboundFrame
	once sync.Once
}

func (c *connection) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxFrameSize)

	// The connect frame must arrive and validate within the auth window; a
	// stalled handshake is treated as failed and the connection terminated.
	_ = c.socket.SetReadDeadline(time.Now().Add(c.gw.authTimeout))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame inboundFrame
		if err := c.socket.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.gw.log.Debug("unexpected close", zap.String("user_id", c.currentUser()), zap.Error(err))
			}
			return
		}

		switch strings.ToLower(strings.TrimSpace(frame.Action)) {
		case actionConnect:
			if !c.handleConnect(frame) {
				return
			}
		case actionSubscribe:
			c.handleSubscribe(frame)
		case actionUnsubscribe:
			c.handleUnsubscribe()
		case actionSend:
			c.handleSend(frame)
		case actionRead:
			c.handleRead()
		case actionLeave:
			c.handleLeave()
		case actionPing:
			c.enqueue(outboundFrame{Event: "pong"})
		default:
			c.sendError("UNSUPPORTED_ACTION", "unsupported frame action", false)
		}
	}
}

// handleConnect moves Connecting -> Authenticated. A failed validation sends
// an explicit authentication error and reports false so the transport is torn
// down rather than silently dropped.
func (c *connection) handleConnect(frame inboundFrame) bool {
	c.mu.Lock()
	if c.state != stateConnecting {
		c.mu.Unlock()
		c.sendError("ALREADY_CONNECTED", "connection is already authenticated", false)
		return true
	}
	c.mu.Unlock()

	userID, err := c.gw.creds.Validate(strings.TrimSpace(frame.Token))
	if err != nil || strings.TrimSpace(userID) == "" {
		c.sendError(apperrors.ErrUnauthorized.Code, "authentication failed", false)
		return false
	}

	c.mu.Lock()
	c.state = stateAuthenticated
	c.userID = userID
	c.mu.Unlock()

	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.enqueue(outboundFrame{Event: "connected"})
	return true
}

// handleSubscribe binds the connection to one room. A connection already
// bound must unsubscribe first; rebinding is never implicit.
func (c *connection) handleSubscribe(frame inboundFrame) {
	c.mu.Lock()
	state, userID := c.state, c.userID
	c.mu.Unlock()

	switch state {
	case stateConnecting, stateClosed:
		c.sendError(apperrors.ErrUnauthorized.Code, "connect before subscribing", false)
		return
	case stateActive:
		c.sendError("ALREADY_SUBSCRIBED", "unsubscribe from the current room first", false)
		return
	}

	roomID := strings.TrimSpace(frame.RoomID)
	if roomID == "" {
		c.sendError(apperrors.ErrBadRequest.Code, "room id is required", false)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	member, err := c.gw.directory.IsMember(ctx, roomID, userID)
	if err != nil {
		c.sendError(apperrors.ErrStorageUnavailable.Code, "membership lookup failed", true)
		return
	}
	if !member {
		c.sendError(apperrors.ErrForbidden.Code, "not a member of this room", false)
		return
	}

	sub := c.gw.broker.Subscribe(roomID)

	c.mu.Lock()
	c.state = stateActive
	c.sub = sub
	c.mu.Unlock()

	go c.forward(sub)
	c.enqueue(outboundFrame{Event: "subscribed", RoomID: roomID})
}

func (c *connection) handleUnsubscribe() {
	if c.detachSubscription() {
		c.enqueue(outboundFrame{Event: "unsubscribed"})
	}
}

// handleSend appends to the durable log first and only publishes on success.
// An append failure is surfaced to this sender alone as a retryable error;
// publishing without a durable write would desynchronise history and live view.
func (c *connection) handleSend(frame inboundFrame) {
	c.mu.Lock()
	state, userID := c.state, c.userID
	var roomID string
	if c.sub != nil {
		roomID = c.sub.RoomID()
	}
	c.mu.Unlock()

	if state != stateActive || roomID == "" {
		c.sendError(apperrors.ErrBadRequest.Code, "subscribe to a room before sending", false)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg, err := c.gw.store.Append(ctx, roomID, userID, frame.Content)
	if err != nil {
		retryable := apperrors.IsRetryable(err)
		if retryable {
			c.gw.log.Error("message append failed", zap.String("room_id", roomID), zap.Error(err))
		}
		c.sendError(apperrors.FromError(err).Code, "message was not stored", retryable)
		return
	}

	metrics.MessagesAppended.Inc()
	c.gw.broker.Publish(msg)

	if err := c.gw.directory.TouchLastMessage(ctx, roomID, msg.CreatedAt); err != nil {
		// Activity tracking is advisory; the message itself is durable.
		c.gw.log.Warn("room activity update failed", zap.String("room_id", roomID), zap.Error(err))
	}
}

func (c *connection) handleRead() {
	c.mu.Lock()
	state, userID := c.state, c.userID
	var roomID string
	if c.sub != nil {
		roomID = c.sub.RoomID()
	}
	c.mu.Unlock()

	if state != stateActive || roomID == "" {
		return
	}

	c.gw.reads.Track(ReadEvent{RoomID: roomID, UserID: userID, At: time.Now().UTC()})
}

// handleLeave is the explicit exit: the membership is removed, not just the
// live subscription.
func (c *connection) handleLeave() {
	c.mu.Lock()
	userID := c.userID
	var roomID string
	if c.sub != nil {
		roomID = c.sub.RoomID()
	}
	c.mu.Unlock()

	if roomID == "" {
		c.sendError(apperrors.ErrBadRequest.Code, "no room to leave", false)
		return
	}

	c.detachSubscription()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.gw.directory.RemoveMember(ctx, roomID, userID); err != nil {
		c.sendError(apperrors.ErrStorageUnavailable.Code, "leave failed, retry", true)
		return
	}

	c.enqueue(outboundFrame{Event: "left", RoomID: roomID})
}

// detachSubscription drops the live subscription and returns the connection
// to Authenticated. Idempotent.
func (c *connection) detachSubscription() bool {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	if c.state == stateActive {
		c.state = stateAuthenticated
	}
	c.mu.Unlock()

	if sub == nil {
		return false
	}
	sub.Cancel()
	return true
}

// forward pumps broker deliveries into the writer queue. When the broker
// drops the subscription for backpressure, the whole connection closes: a
// client too slow for its queue is too slow for the socket.
func (c *connection) forward(sub *Subscription) {
	for msg := range sub.C() {
		c.enqueue(outboundFrame{
			Event:  "message",
			RoomID: msg.RoomID,
			Data: messagePayload{
				ID:        msg.ID(),
				RoomID:    msg.RoomID,
				SenderID:  msg.SenderID,
				Content:   msg.Content,
				CreatedAt: msg.CreatedAt,
			},
		})
	}

	c.mu.Lock()
	dropped := c.sub == sub
	c.mu.Unlock()
	if dropped {
		c.close()
	}
}

// writeLoop owns all socket writes and the socket teardown: it drains frames
// queued before close so an authentication error always reaches the client
// before the transport goes away.
func (c *connection) writeLoop() {
	defer func() {
		c.close()
		_ = c.socket.Close()
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-c.out:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue hands a frame to the writer without blocking. The state check and
// the channel send stay under one lock so a concurrent close cannot slip a
// send onto a closed channel.
func (c *connection) enqueue(frame outboundFrame) {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return
	}
	select {
	case c.out <- frame:
		c.mu.Unlock()
		return
	default:
	}
	c.mu.Unlock()

	c.gw.log.Warn("dropping unresponsive connection", zap.String("user_id", c.currentUser()))
	c.close()
}

func (c *connection) sendError(code, message string, retryable bool) {
	c.enqueue(outboundFrame{
		Event: "error",
		Error: &frameError{Code: code, Message: message, Retryable: retryable},
	})
}

func (c *connection) currentUser() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// close is the single transition into the terminal state. It cancels the live
// subscription and stops the writer, which tears down the socket after
// flushing; membership is untouched unless the client left explicitly.
func (c *connection) close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.state = stateClosed
		sub := c.sub
		c.sub = nil
		close(c.out)
		c.mu.Unlock()

		if sub != nil {
			sub.Cancel()
		}
	})
}
