package models

import "time"

// RoomType discriminates the closed set of room kinds. Job rooms carry an
// opaque reference to the job they were created for.
type RoomType string

const (
	RoomTypeDirect  RoomType = "direct"
	RoomTypeJob     RoomType = "job"
	RoomTypeSupport RoomType = "support"
	RoomTypeGeneral RoomType = "general"
)

// Valid reports whether the type is one of the known room kinds.
func (t RoomType) Valid() bool {
	switch t {
	case RoomTypeDirect, RoomTypeJob, RoomTypeSupport, RoomTypeGeneral:
		return true
	}
	return false
}

// Room represents a conversation context with a fixed participant set.
// Rooms are never hard-deleted.
type Room struct {
	ID        int       `db:"id" json:"id"`
	Type      RoomType  `db:"type" json:"type"`
	JobRef    *string   `db:"job_ref" json:"job_ref,omitempty"`
	PairKey   *string   `db:"pair_key" json:"-"`
	LastSeq   int       `db:"last_seq" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// LastMessage is the denormalized snapshot of a room's newest message,
// refreshed on every append.
type LastMessage struct {
	Seq      int       `json:"seq"`
	SenderID int       `json:"sender_id"`
	Preview  string    `json:"preview"`
	SentAt   time.Time `json:"sent_at"`
}

// RoomSummary is the API-facing view of a room for one user.
type RoomSummary struct {
	RoomID       int          `json:"room_id"`
	Type         RoomType     `json:"type"`
	JobRef       *string      `json:"job_ref,omitempty"`
	Participants []int        `json:"participants"`
	LastMessage  *LastMessage `json:"last_message,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at"`
	Unread       int          `json:"unread"`
}
