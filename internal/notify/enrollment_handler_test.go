package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dugout-developers/catchmate-server/internal/database/testutil"
	"github.com/dugout-developers/catchmate-server/internal/events"
)

func acceptedEvent() events.EnrollmentEvent {
	return events.EnrollmentEvent{
		Kind:        events.KindEnrollmentAccepted,
		BoardID:     "board-1",
		SenderID:    "owner-1",
		RecipientID: "applicant-1",
		DeviceToken: "device-1",
		Title:       "Enrollment accepted",
		Body:        "Welcome aboard",
		ChatRoomID:  "room-1",
	}
}

func TestHandleWritesRecordAndPushes(t *testing.T) {
	var captured pushRequest
	dispatcher := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusOK)
	})
	store := NewStore(testutil.MustOpenTestDB(t))
	notifier := NewEnrollmentNotifier(dispatcher, store)

	require.NoError(t, notifier.Handle(context.Background(), acceptedEvent()))

	assert.Equal(t, "device-1", captured.Message.Token)
	assert.Equal(t, "room-1", captured.Message.Data["chatRoomId"])
	assert.Equal(t, "accepted", captured.Message.Data["acceptStatus"])

	records, _, err := store.ListForUser(context.Background(), "applicant-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Enrollment accepted", records[0].Title)

	var metadata map[string]string
	require.NoError(t, json.Unmarshal(records[0].Metadata, &metadata))
	assert.Equal(t, "room-1", metadata["chatRoomId"])
}

func TestHandleKeepsRecordWhenPushFails(t *testing.T) {
	dispatcher := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})
	store := NewStore(testutil.MustOpenTestDB(t))
	notifier := NewEnrollmentNotifier(dispatcher, store)

	require.NoError(t, notifier.Handle(context.Background(), acceptedEvent()))

	records, _, err := store.ListForUser(context.Background(), "applicant-1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestHandleRejectionSkipsRoomMetadata(t *testing.T) {
	dispatcher := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	store := NewStore(testutil.MustOpenTestDB(t))
	notifier := NewEnrollmentNotifier(dispatcher, store)

	event := acceptedEvent()
	event.Kind = events.KindEnrollmentRejected
	event.ChatRoomID = ""
	event.Title = "Enrollment rejected"
	require.NoError(t, notifier.Handle(context.Background(), event))

	records, _, err := store.ListForUser(context.Background(), "applicant-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)

	var metadata map[string]string
	require.NoError(t, json.Unmarshal(records[0].Metadata, &metadata))
	_, ok := metadata["chatRoomId"]
	assert.False(t, ok)
	assert.Equal(t, "rejected", metadata["acceptStatus"])
}

func TestHandleWithoutDeviceTokenSkipsPush(t *testing.T) {
	dispatcher := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("gateway should not be reached")
	})
	store := NewStore(testutil.MustOpenTestDB(t))
	notifier := NewEnrollmentNotifier(dispatcher, store)

	event := acceptedEvent()
	event.DeviceToken = ""
	require.NoError(t, notifier.Handle(context.Background(), event))

	records, _, err := store.ListForUser(context.Background(), "applicant-1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
