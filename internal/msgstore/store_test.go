package msgstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestAppendAssignsMonotonicIdentity(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var last uint64
	for i := 0; i < 10; i++ {
		msg, err := store.Append(ctx, "room-1", "user-a", fmt.Sprintf("message %d", i))
		require.NoError(t, err)
		assert.Greater(t, msg.Seq, last)
		last = msg.Seq
	}
}

func TestAppendValidatesInput(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, "", "user-a", "hi")
	assert.Error(t, err)
	_, err = store.Append(ctx, "room-1", "", "hi")
	assert.Error(t, err)
	_, err = store.Append(ctx, "room-1", "user-a", "   ")
	assert.Error(t, err)
}

func TestListByRoomPreservesAppendOrderAcrossPages(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	const total = 25
	for i := 0; i < total; i++ {
		_, err := store.Append(ctx, "room-1", "user-a", fmt.Sprintf("m%03d", i))
		require.NoError(t, err)
	}
	// Appends to other rooms must never leak into room-1's history.
	_, err := store.Append(ctx, "room-2", "user-b", "other room")
	require.NoError(t, err)

	var collected []Message
	cursor := ""
	for {
		page, err := store.ListByRoom(ctx, "room-1", cursor, 10, OldestFirst)
		require.NoError(t, err)
		collected = append(collected, page.Messages...)
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}

	require.Len(t, collected, total)
	for i, msg := range collected {
		assert.Equal(t, fmt.Sprintf("m%03d", i), msg.Content)
		assert.Equal(t, "room-1", msg.RoomID)
		if i > 0 {
			assert.Greater(t, msg.Seq, collected[i-1].Seq)
		}
	}
}

func TestListByRoomNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.Append(ctx, "room-1", "user-a", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	page, err := store.ListByRoom(ctx, "room-1", "", 3, NewestFirst)
	require.NoError(t, err)
	require.Len(t, page.Messages, 3)
	assert.True(t, page.HasMore)
	assert.Equal(t, "m4", page.Messages[0].Content)
	assert.Equal(t, "m2", page.Messages[2].Content)

	next, err := store.ListByRoom(ctx, "room-1", page.NextCursor, 3, NewestFirst)
	require.NoError(t, err)
	require.Len(t, next.Messages, 2)
	assert.Equal(t, "m1", next.Messages[0].Content)
	assert.Equal(t, "m0", next.Messages[1].Content)
	assert.False(t, next.HasMore)
}

func TestCursorPaginationSkipsNothingUnderConcurrentAppends(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := store.Append(ctx, "room-1", "user-a", fmt.Sprintf("m%02d", i))
		require.NoError(t, err)
	}

	page, err := store.ListByRoom(ctx, "room-1", "", 5, OldestFirst)
	require.NoError(t, err)
	require.Len(t, page.Messages, 5)

	// New messages arriving between page reads must not shift the cursor.
	for i := 10; i < 15; i++ {
		_, err := store.Append(ctx, "room-1", "user-b", fmt.Sprintf("m%02d", i))
		require.NoError(t, err)
	}

	var rest []Message
	cursor := page.NextCursor
	for {
		next, err := store.ListByRoom(ctx, "room-1", cursor, 5, OldestFirst)
		require.NoError(t, err)
		rest = append(rest, next.Messages...)
		if !next.HasMore {
			break
		}
		cursor = next.NextCursor
	}

	require.Len(t, rest, 10)
	assert.Equal(t, "m05", rest[0].Content)
	assert.Equal(t, "m14", rest[9].Content)
}

func TestInvalidCursorRejected(t *testing.T) {
	store := openTestStore(t)

	_, err := store.ListByRoom(context.Background(), "room-1", "not base64!!", 10, OldestFirst)
	assert.Error(t, err)
}

func TestDeleteAllForRoomIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := store.Append(ctx, "room-1", "user-a", "bye")
		require.NoError(t, err)
	}
	_, err := store.Append(ctx, "room-2", "user-b", "stays")
	require.NoError(t, err)

	require.NoError(t, store.DeleteAllForRoom(ctx, "room-1"))
	// Second delete of an already-empty log is a no-op.
	require.NoError(t, store.DeleteAllForRoom(ctx, "room-1"))

	page, err := store.ListByRoom(ctx, "room-1", "", 10, OldestFirst)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)

	other, err := store.ListByRoom(ctx, "room-2", "", 10, OldestFirst)
	require.NoError(t, err)
	assert.Len(t, other.Messages, 1)
}
