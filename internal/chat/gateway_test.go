package chat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dugout-developers/catchmate-server/internal/msgstore"
)

type staticCreds map[string]string

func (s staticCreds) Validate(token string) (string, error) {
	userID, ok := s[token]
	if !ok {
		return "", errors.New("invalid token")
	}
	return userID, nil
}

type gatewayFixture struct {
	gateway   *Gateway
	broker    *Broker
	store     *msgstore.Store
	directory *RoomDirectory
	server    *httptest.Server
	roomID    string
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	dir, _ := newDirectory(t)

	store, err := msgstore.Open(msgstore.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	broker := NewBroker(16)
	reads := NewReadTracker(dir, 16)
	t.Cleanup(reads.Close)

	creds := staticCreds{"token-a": "user-a", "token-b": "user-b"}
	gateway := NewGateway(broker, store, dir, reads, creds, GatewayConfig{AuthTimeout: 2 * time.Second})

	server := httptest.NewServer(http.HandlerFunc(gateway.Serve))
	t.Cleanup(server.Close)

	ctx := context.Background()
	room, err := dir.CreateRoom(ctx, "board-7")
	require.NoError(t, err)
	require.NoError(t, dir.AddMember(ctx, room.ID, "user-a"))
	require.NoError(t, dir.AddMember(ctx, room.ID, "user-b"))

	return &gatewayFixture{
		gateway:   gateway,
		broker:    broker,
		store:     store,
		directory: dir,
		server:    server,
		roomID:    room.ID,
	}
}

func (f *gatewayFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, frame inboundFrame) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

func expect(t *testing.T, conn *websocket.Conn, event string) outboundFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var frame outboundFrame
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Event == event {
			return frame
		}
	}
}

func connectAndSubscribe(t *testing.T, f *gatewayFixture, conn *websocket.Conn, token string) {
	t.Helper()
	send(t, conn, inboundFrame{Action: actionConnect, Token: token})
	expect(t, conn, "connected")
	send(t, conn, inboundFrame{Action: actionSubscribe, RoomID: f.roomID})
	expect(t, conn, "subscribed")
}

func TestConnectWithInvalidTokenTerminatesConnection(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t)

	send(t, conn, inboundFrame{Action: actionConnect, Token: "bogus"})

	frame := expect(t, conn, "error")
	require.NotNil(t, frame.Error)
	assert.Equal(t, "UNAUTHORIZED", frame.Error.Code)

	// The transport is told to terminate; subsequent reads fail.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var next outboundFrame
	assert.Error(t, conn.ReadJSON(&next))
}

func TestSendRequiresSubscription(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t)

	send(t, conn, inboundFrame{Action: actionConnect, Token: "token-a"})
	expect(t, conn, "connected")

	send(t, conn, inboundFrame{Action: actionSend, Content: "hello"})
	frame := expect(t, conn, "error")
	assert.Equal(t, "BAD_REQUEST", frame.Error.Code)
}

func TestSubscribeRequiresMembership(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	require.NoError(t, f.directory.RemoveMember(ctx, f.roomID, "user-b"))

	conn := f.dial(t)
	send(t, conn, inboundFrame{Action: actionConnect, Token: "token-b"})
	expect(t, conn, "connected")

	send(t, conn, inboundFrame{Action: actionSubscribe, RoomID: f.roomID})
	frame := expect(t, conn, "error")
	assert.Equal(t, "FORBIDDEN", frame.Error.Code)
}

func TestRebindRequiresExplicitUnsubscribe(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t)
	connectAndSubscribe(t, f, conn, "token-a")

	send(t, conn, inboundFrame{Action: actionSubscribe, RoomID: f.roomID})
	frame := expect(t, conn, "error")
	assert.Equal(t, "ALREADY_SUBSCRIBED", frame.Error.Code)

	send(t, conn, inboundFrame{Action: actionUnsubscribe})
	expect(t, conn, "unsubscribed")

	send(t, conn, inboundFrame{Action: actionSubscribe, RoomID: f.roomID})
	expect(t, conn, "subscribed")
}

func TestSendFansOutLiveAndLandsInHistory(t *testing.T) {
	f := newGatewayFixture(t)

	sender := f.dial(t)
	receiver := f.dial(t)
	connectAndSubscribe(t, f, sender, "token-a")
	connectAndSubscribe(t, f, receiver, "token-b")

	send(t, sender, inboundFrame{Action: actionSend, Content: "hello"})

	frame := expect(t, receiver, "message")
	data, ok := frame.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hello", data["content"])
	assert.Equal(t, "user-a", data["sender_id"])

	// History must agree with the live view, with the new message last.
	page, err := f.store.ListByRoom(context.Background(), f.roomID, "", 50, msgstore.OldestFirst)
	require.NoError(t, err)
	require.NotEmpty(t, page.Messages)
	last := page.Messages[len(page.Messages)-1]
	assert.Equal(t, "hello", last.Content)
	assert.Equal(t, "user-a", last.SenderID)
}

func TestLeaveRemovesMembership(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t)
	connectAndSubscribe(t, f, conn, "token-a")

	send(t, conn, inboundFrame{Action: actionLeave})
	expect(t, conn, "left")

	ok, err := f.directory.IsMember(context.Background(), f.roomID, "user-a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDisconnectOnlyDropsSubscription(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t)
	connectAndSubscribe(t, f, conn, "token-a")

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return f.broker.SubscriberCount(f.roomID) == 0
	}, 2*time.Second, 20*time.Millisecond)

	// Disconnect is not leave: the membership stays.
	ok, err := f.directory.IsMember(context.Background(), f.roomID, "user-a")
	require.NoError(t, err)
	assert.True(t, ok)
}
