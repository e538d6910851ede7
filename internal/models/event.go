package models

// EventType names the push envelope variants delivered over the stream.
type EventType string

const (
	EventNewMessage  EventType = "new_message"
	EventRoomList    EventType = "room_list"
	EventUnreadCount EventType = "unread_count"
)

// PushEvent is the envelope broadcast through the per-client stream. The
// populated fields depend on Type; RoomID is zero for room_list events.
type PushEvent struct {
	Type    EventType     `json:"type"`
	RoomID  int           `json:"room_id,omitempty"`
	Message *Message      `json:"message,omitempty"`
	Rooms   []RoomSummary `json:"rooms,omitempty"`
	Count   *int          `json:"count,omitempty"`
}

// UnreadOf is a convenience for building unread_count events.
func UnreadOf(roomID, count int) PushEvent {
	return PushEvent{Type: EventUnreadCount, RoomID: roomID, Count: &count}
}
