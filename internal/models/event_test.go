package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomTypeValid(t *testing.T) {
	for _, rt := range []RoomType{RoomTypeDirect, RoomTypeJob, RoomTypeSupport, RoomTypeGeneral} {
		assert.True(t, rt.Valid(), string(rt))
	}
	assert.False(t, RoomType("group").Valid())
	assert.False(t, RoomType("").Valid())
}

func TestUnreadOfZeroCountSerializes(t *testing.T) {
	// A zeroed counter must reach the client; omitting it would leave a
	// stale badge in place.
	payload, err := json.Marshal(UnreadOf(5, 0))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"unread_count","room_id":5,"count":0}`, string(payload))
}

func TestPushEventOmitsUnsetFields(t *testing.T) {
	payload, err := json.Marshal(PushEvent{Type: EventRoomList, Rooms: []RoomSummary{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"room_list"}`, string(payload))
}
