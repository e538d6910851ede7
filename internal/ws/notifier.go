package ws

import (
	"context"

	"github.com/rs/zerolog"

	"chat-sync-service/internal/models"
	"chat-sync-service/internal/repositories"
	"chat-sync-service/internal/unread"
)

// Notifier drives the post-append pipeline: fan-out to subscribed
// participants, unread bookkeeping, and room list refreshes on room
// creation. It is the only caller of the hub's room locks.
type Notifier struct {
	hub    *Hub
	rooms  repositories.RoomRepository
	unread unread.Store
	logger zerolog.Logger
}

// NewNotifier constructs a Notifier.
func NewNotifier(hub *Hub, rooms repositories.RoomRepository, unread unread.Store, logger zerolog.Logger) *Notifier {
	return &Notifier{hub: hub, rooms: rooms, unread: unread, logger: logger}
}

// Append runs the store append and the resulting fan-out under the
// room's lock, so events leave the hub in append order. The message is
// the durable outcome; delivery and unread bookkeeping after a
// successful append are best effort and only logged on failure.
func (n *Notifier) Append(ctx context.Context, roomID int, senderID int, append func() (models.Message, error)) (models.Message, error) {
	n.hub.LockRoom(roomID)
	defer n.hub.UnlockRoom(roomID)

	msg, err := append()
	if err != nil {
		return models.Message{}, err
	}

	participants, err := n.rooms.Participants(ctx, roomID)
	if err != nil {
		n.logger.Error().Err(err).Int("room_id", roomID).Msg("fan-out skipped: participants lookup failed")
		return msg, nil
	}

	n.hub.FanOutMessage(roomID, msg, participants)

	for _, userID := range participants {
		if userID == senderID {
			continue
		}
		count, err := n.unread.Increment(ctx, userID, roomID)
		if err != nil {
			n.logger.Error().Err(err).Int("user_id", userID).Int("room_id", roomID).Msg("unread increment failed")
			continue
		}
		n.hub.PushUnreadCount(userID, roomID, count)
	}
	return msg, nil
}

// AcknowledgeRead zeroes the user's counter for the room and pushes the
// zeroed count so the session's badge converges immediately.
func (n *Notifier) AcknowledgeRead(ctx context.Context, userID int, roomID int) error {
	if err := n.unread.Clear(ctx, userID, roomID); err != nil {
		return err
	}
	n.hub.PushUnreadCount(userID, roomID, 0)
	return nil
}

// RoomCreated subscribes already-connected participants to the new room
// and hands each a fresh room list, the same refresh a reconnect gets.
func (n *Notifier) RoomCreated(ctx context.Context, room models.Room, participants []int) {
	for _, userID := range participants {
		if !n.hub.Connected(userID) {
			continue
		}
		n.hub.Subscribe(userID, room.ID)
		rooms, err := n.RoomList(ctx, userID)
		if err != nil {
			n.logger.Error().Err(err).Int("user_id", userID).Msg("room list refresh failed")
			continue
		}
		n.hub.PushRoomList(userID, rooms)
	}
}

// RoomList builds the user's room summaries with unread counts merged in.
func (n *Notifier) RoomList(ctx context.Context, userID int) ([]models.RoomSummary, error) {
	rooms, err := n.rooms.ListRoomsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	counts, err := n.unread.Counts(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range rooms {
		rooms[i].Unread = counts[rooms[i].RoomID]
	}
	return rooms, nil
}
