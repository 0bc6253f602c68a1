package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iauth "github.com/dugout-developers/catchmate-server/internal/auth"
	"github.com/dugout-developers/catchmate-server/internal/chat"
	"github.com/dugout-developers/catchmate-server/internal/database/testutil"
	"github.com/dugout-developers/catchmate-server/internal/events"
	"github.com/dugout-developers/catchmate-server/internal/msgstore"
	"github.com/dugout-developers/catchmate-server/internal/notify"
	"github.com/dugout-developers/catchmate-server/internal/services"
)

type apiFixture struct {
	router   *gin.Engine
	messages *msgstore.Store
	t        *testing.T
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t)

	jwt, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "router-test-secret"})
	require.NoError(t, err)

	store, err := msgstore.Open(msgstore.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	rooms, err := chat.NewRoomDirectory(db)
	require.NoError(t, err)

	broker := chat.NewBroker(0)
	reads := chat.NewReadTracker(rooms, 0)
	t.Cleanup(reads.Close)
	gateway := chat.NewGateway(broker, store, rooms, reads, iauth.NewGatewayValidator(jwt), chat.GatewayConfig{})

	bus := events.NewBus()
	notifyStore := notify.NewStore(db)
	notify.NewEnrollmentNotifier(nil, notifyStore).Register(bus)

	users, err := services.NewUserService(db, jwt)
	require.NoError(t, err)
	boards, err := services.NewBoardService(db)
	require.NoError(t, err)
	enrollments, err := services.NewEnrollmentService(db, rooms, bus)
	require.NoError(t, err)

	router, err := NewRouter(Deps{
		DB:            db,
		JWT:           jwt,
		Users:         users,
		Boards:        boards,
		Enrollments:   enrollments,
		Rooms:         rooms,
		Messages:      store,
		Gateway:       gateway,
		Notifications: notifyStore,
	})
	require.NoError(t, err)

	return &apiFixture{router: router, messages: store, t: t}
}

func (f *apiFixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	f.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) registerAndLogin(nickname, email string) string {
	f.t.Helper()

	rec := f.do(http.MethodPost, "/api/auth/register", "", gin.H{
		"nickname": nickname,
		"email":    email,
		"password": "password123",
	})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(http.MethodPost, "/api/auth/login", "", gin.H{
		"email":    email,
		"password": "password123",
	})
	require.Equal(f.t, http.StatusOK, rec.Code, rec.Body.String())

	var payload struct {
		Data struct {
			Tokens struct {
				AccessToken string `json:"access_token"`
			} `json:"tokens"`
		} `json:"data"`
	}
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.NotEmpty(f.t, payload.Data.Tokens.AccessToken)
	return payload.Data.Tokens.AccessToken
}

func (f *apiFixture) dataField(rec *httptest.ResponseRecorder, key string) string {
	f.t.Helper()

	var payload struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &payload))
	value, _ := payload.Data[key].(string)
	return value
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	f := newAPIFixture(t)

	for _, path := range []string{"/api/auth/me", "/api/boards", "/api/chat/rooms", "/api/notifications"} {
		rec := f.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestEnrollmentLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	ownerToken := f.registerAndLogin("owner", "owner@example.com")
	applicantToken := f.registerAndLogin("applicant", "applicant@example.com")

	rec := f.do(http.MethodPost, "/api/boards", ownerToken, gin.H{
		"title":   "Saturday game",
		"meet_at": time.Now().Add(48 * time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	boardID := f.dataField(rec, "id")
	require.NotEmpty(t, boardID)

	rec = f.do(http.MethodPost, fmt.Sprintf("/api/boards/%s/enrollments", boardID), applicantToken, gin.H{
		"description": "count me in",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	enrollmentID := f.dataField(rec, "id")

	// Applicant cannot decide.
	rec = f.do(http.MethodPost, fmt.Sprintf("/api/enrollments/%s/accept", enrollmentID), applicantToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, fmt.Sprintf("/api/enrollments/%s/accept", enrollmentID), ownerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Both sides see the room.
	for _, token := range []string{ownerToken, applicantToken} {
		rec = f.do(http.MethodGet, "/api/chat/rooms", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var payload struct {
			Data []map[string]any `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
		require.Len(t, payload.Data, 1)
		assert.Equal(t, boardID, payload.Data[0]["board_id"])
	}

	// The applicant has an in-app notification for the acceptance.
	rec = f.do(http.MethodGet, "/api/notifications", applicantToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var notifications struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &notifications))
	require.Len(t, notifications.Data, 1)

	rec = f.do(http.MethodGet, "/api/notifications/unread-count", applicantToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"unread":1`)
}

func TestChatHistoryOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	ownerToken := f.registerAndLogin("owner", "owner@example.com")
	applicantToken := f.registerAndLogin("applicant", "applicant@example.com")

	rec := f.do(http.MethodPost, "/api/boards", ownerToken, gin.H{
		"title":   "Saturday game",
		"meet_at": time.Now().Add(48 * time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	boardID := f.dataField(rec, "id")

	rec = f.do(http.MethodPost, fmt.Sprintf("/api/boards/%s/enrollments", boardID), applicantToken, gin.H{})
	require.Equal(t, http.StatusCreated, rec.Code)
	enrollmentID := f.dataField(rec, "id")

	rec = f.do(http.MethodPost, fmt.Sprintf("/api/enrollments/%s/accept", enrollmentID), ownerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/api/chat/rooms", ownerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var roomsPayload struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &roomsPayload))
	require.Len(t, roomsPayload.Data, 1)
	roomID, _ := roomsPayload.Data[0]["id"].(string)
	require.NotEmpty(t, roomID)

	// History starts empty, then grows.
	rec = f.do(http.MethodGet, fmt.Sprintf("/api/chat/rooms/%s/messages", roomID), ownerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// History entries carry the same payload shape as live frames, keyed by
	// the opaque message id.
	appended, err := f.messages.Append(context.Background(), roomID, "owner", "first pitch at noon")
	require.NoError(t, err)

	rec = f.do(http.MethodGet, fmt.Sprintf("/api/chat/rooms/%s/messages", roomID), ownerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var historyPayload struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &historyPayload))
	require.Len(t, historyPayload.Data, 1)
	entry := historyPayload.Data[0]
	assert.Equal(t, appended.ID(), entry["id"])
	assert.Equal(t, roomID, entry["room_id"])
	assert.Equal(t, "owner", entry["sender_id"])
	assert.Equal(t, "first pitch at noon", entry["content"])
	assert.NotContains(t, entry, "seq")

	// A non-member is refused.
	strangerToken := f.registerAndLogin("stranger", "stranger@example.com")
	rec = f.do(http.MethodGet, fmt.Sprintf("/api/chat/rooms/%s/messages", roomID), strangerToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Leaving drops the membership.
	rec = f.do(http.MethodPost, fmt.Sprintf("/api/chat/rooms/%s/leave", roomID), applicantToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(http.MethodGet, "/api/chat/rooms", applicantToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), roomID)
}
