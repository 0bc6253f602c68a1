package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dugout-developers/catchmate-server/internal/chat"
	"github.com/dugout-developers/catchmate-server/internal/database/testutil"
	"github.com/dugout-developers/catchmate-server/internal/models"
	"github.com/dugout-developers/catchmate-server/internal/msgstore"
	apperrors "github.com/dugout-developers/catchmate-server/pkg/errors"
)

func TestRunOnceExpiresIdleRooms(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	directory, err := chat.NewRoomDirectory(db)
	require.NoError(t, err)

	store, err := msgstore.Open(msgstore.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()

	idle, err := directory.CreateRoom(ctx, "board-idle")
	require.NoError(t, err)
	busy, err := directory.CreateRoom(ctx, "board-busy")
	require.NoError(t, err)

	_, err = store.Append(ctx, idle.ID, "user-1", "last words")
	require.NoError(t, err)

	// Only the idle room's last activity predates the cutoff.
	stale := time.Now().Add(-40 * 24 * time.Hour).UTC()
	require.NoError(t, db.Model(&models.ChatRoom{}).Where("id = ?", idle.ID).
		UpdateColumn("last_message_at", stale).Error)
	require.NoError(t, directory.TouchLastMessage(ctx, busy.ID, time.Now()))

	sweeper := NewSweeper(db, directory, store, WithRoomIdleAfter(30*24*time.Hour))
	require.NoError(t, sweeper.RunOnce(ctx))

	_, err = directory.GetRoom(ctx, idle.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = directory.GetRoom(ctx, busy.ID)
	assert.NoError(t, err)

	page, err := store.ListByRoom(ctx, idle.ID, "", 10, msgstore.OldestFirst)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
}

func TestRunOncePurgesReadNotifications(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	old := time.Now().AddDate(0, 0, -120).UTC()
	readAt := old.Add(time.Hour)

	stale := models.Notification{RecipientID: "user-1", Title: "old", IsRead: true, ReadAt: &readAt}
	require.NoError(t, db.Create(&stale).Error)
	require.NoError(t, db.Model(&models.Notification{}).Where("id = ?", stale.ID).
		UpdateColumn("created_at", old).Error)

	fresh := models.Notification{RecipientID: "user-1", Title: "fresh", IsRead: true, ReadAt: &readAt}
	require.NoError(t, db.Create(&fresh).Error)
	unread := models.Notification{RecipientID: "user-1", Title: "unread"}
	require.NoError(t, db.Create(&unread).Error)
	require.NoError(t, db.Model(&models.Notification{}).Where("id = ?", unread.ID).
		UpdateColumn("created_at", old).Error)

	sweeper := NewSweeper(db, nil, nil, WithNotificationRetentionDays(90))
	require.NoError(t, sweeper.RunOnce(context.Background()))

	var remaining []models.Notification
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 2)
	for _, record := range remaining {
		assert.NotEqual(t, stale.ID, record.ID)
	}
}

func TestSweeperSchedule(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	sweeper := NewSweeper(db, nil, nil, WithSchedule("@every 1h"))
	require.NoError(t, sweeper.Start())

	done := sweeper.Stop()
	select {
	case <-done.Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
