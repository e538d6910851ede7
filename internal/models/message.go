package models

import "time"

// Message represents a persisted chat message. The id is assigned by the
// room's append sequence and is strictly increasing within the room.
// Messages are immutable once persisted.
type Message struct {
	ID        int       `db:"seq" json:"id"`
	RoomID    int       `db:"room_id" json:"room_id"`
	SenderID  int       `db:"sender_id" json:"sender_id"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
