package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync-service/internal/models"
)

func countOf(n int) *int {
	return &n
}

func roomListEvent(rooms ...models.RoomSummary) models.PushEvent {
	return models.PushEvent{Type: models.EventRoomList, Rooms: rooms}
}

func newMessageEvent(m models.Message) models.PushEvent {
	return models.PushEvent{Type: models.EventNewMessage, RoomID: m.RoomID, Message: &m}
}

func TestStateRoomListReplacesRoomsAndCounts(t *testing.T) {
	state := NewState(1)

	state.Apply(roomListEvent(
		models.RoomSummary{RoomID: 5, Type: models.RoomTypeDirect, Unread: 2},
		models.RoomSummary{RoomID: 7, Type: models.RoomTypeJob, Unread: 0},
	))

	rooms := state.Rooms()
	require.Len(t, rooms, 2)
	assert.Equal(t, 2, state.Unread(5))
	assert.Equal(t, 0, state.Unread(7))
	assert.Equal(t, 2, state.Badge())

	// A later snapshot is authoritative, including zeroing.
	state.Apply(roomListEvent(models.RoomSummary{RoomID: 5, Type: models.RoomTypeDirect, Unread: 0}))
	assert.Equal(t, 0, state.Badge())
	require.Len(t, state.Rooms(), 1)
}

func TestStateNewMessageUpdatesTimelineUnreadAndRoomOrder(t *testing.T) {
	state := NewState(1)
	state.Apply(roomListEvent(
		models.RoomSummary{RoomID: 5, Type: models.RoomTypeDirect},
		models.RoomSummary{RoomID: 7, Type: models.RoomTypeJob},
	))

	state.Apply(newMessageEvent(models.Message{ID: 4, RoomID: 7, SenderID: 2, Content: "hi", CreatedAt: testBase}))

	entries := state.RoomSnapshot(7)
	require.Len(t, entries, 1)
	assert.Equal(t, 4, entries[0].Message.ID)
	assert.Equal(t, 1, state.Unread(7))
	assert.Equal(t, 1, state.Badge())

	rooms := state.Rooms()
	require.Len(t, rooms, 2)
	assert.Equal(t, 7, rooms[0].RoomID)
	require.NotNil(t, rooms[0].LastMessage)
	assert.Equal(t, "hi", rooms[0].LastMessage.Preview)
}

func TestStateOwnEchoDoesNotCountUnread(t *testing.T) {
	state := NewState(1)

	state.Apply(newMessageEvent(models.Message{ID: 4, RoomID: 5, SenderID: 1, Content: "hi", CreatedAt: testBase}))

	assert.Equal(t, 0, state.Unread(5))
	require.Len(t, state.RoomSnapshot(5), 1)
}

func TestStateFocusedRoomStaysRead(t *testing.T) {
	state := NewState(1)
	state.Focus(5)

	state.Apply(newMessageEvent(models.Message{ID: 4, RoomID: 5, SenderID: 2, Content: "hi", CreatedAt: testBase}))
	assert.Equal(t, 0, state.Unread(5))

	// The server counter event raced the read ack; focus wins locally.
	state.Apply(models.PushEvent{Type: models.EventUnreadCount, RoomID: 5, Count: countOf(3)})
	assert.Equal(t, 0, state.Unread(5))

	// Other rooms still accumulate while 5 is focused.
	state.Apply(newMessageEvent(models.Message{ID: 9, RoomID: 7, SenderID: 2, Content: "yo", CreatedAt: testBase}))
	assert.Equal(t, 1, state.Unread(7))
	assert.Equal(t, 1, state.Badge())

	state.Blur()
	state.Apply(models.PushEvent{Type: models.EventUnreadCount, RoomID: 5, Count: countOf(3)})
	assert.Equal(t, 3, state.Unread(5))
	assert.Equal(t, 4, state.Badge())
}

func TestStateFocusClearsCounter(t *testing.T) {
	state := NewState(1)
	state.Apply(newMessageEvent(models.Message{ID: 4, RoomID: 5, SenderID: 2, Content: "hi", CreatedAt: testBase}))
	require.Equal(t, 1, state.Unread(5))

	state.Focus(5)
	assert.Equal(t, 0, state.Unread(5))
	assert.Equal(t, 0, state.Badge())
	assert.Equal(t, 5, state.FocusedRoom())
}

func TestStateUnknownEventTypeIgnored(t *testing.T) {
	state := NewState(1)
	state.Apply(models.PushEvent{Type: "presence_update", RoomID: 5})
	assert.Empty(t, state.Rooms())
	assert.Equal(t, 0, state.Badge())
}

func TestStateBadgeIsSumAcrossRooms(t *testing.T) {
	state := NewState(1)
	for i := 0; i < 3; i++ {
		state.Apply(newMessageEvent(models.Message{ID: 10 + i, RoomID: 5, SenderID: 2, Content: "a", CreatedAt: testBase}))
	}
	state.Apply(newMessageEvent(models.Message{ID: 20, RoomID: 7, SenderID: 3, Content: "b", CreatedAt: testBase}))

	assert.Equal(t, 3, state.Unread(5))
	assert.Equal(t, 1, state.Unread(7))
	assert.Equal(t, 4, state.Badge())

	state.Focus(5)
	assert.Equal(t, 1, state.Badge())
}

func TestStateListenersNotifiedOutsideLock(t *testing.T) {
	state := NewState(1)
	notified := 0
	state.Subscribe(func() {
		notified++
		// Reading back under a listener must not deadlock.
		_ = state.Badge()
	})

	state.Apply(newMessageEvent(models.Message{ID: 4, RoomID: 5, SenderID: 2, Content: "hi", CreatedAt: testBase}))
	state.Focus(5)

	assert.Equal(t, 2, notified)
}

func TestStatePendingFlowAcrossRooms(t *testing.T) {
	state := NewState(1)
	state.AddPending(OptimisticMessage{TempID: "t1", RoomID: 5, SenderID: 1, Content: "a", SentAt: testBase})
	state.AddPending(OptimisticMessage{TempID: "t2", RoomID: 7, SenderID: 1, Content: "b", SentAt: testBase})

	expired := state.ExpirePending(testBase.Add(time.Minute), 15*time.Second)
	assert.Equal(t, 2, expired)

	p, ok := state.ResetPending(5, "t1", testBase.Add(2*time.Minute))
	require.True(t, ok)
	assert.Equal(t, "a", p.Content)

	entries := state.RoomSnapshot(5)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Pending)
}
