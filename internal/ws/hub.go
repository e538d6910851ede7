package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"chat-sync-service/internal/models"
	"chat-sync-service/internal/observability"
)

// session is one client's long-lived stream plus its actively-pushed
// room set, derived from registry membership at connect time.
type session struct {
	conn    *websocket.Conn
	info    ConnInfo
	subs    map[int]struct{}
	writeMu sync.Mutex
}

func (s *session) write(event models.PushEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub maintains one active session per user and multiplexes events for
// every room the user belongs to onto that single stream.
type Hub struct {
	mu       sync.RWMutex
	sessions map[int]*session

	lockMu    sync.Mutex
	roomLocks map[int]*sync.Mutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		sessions:  make(map[int]*session),
		roomLocks: make(map[int]*sync.Mutex),
	}
}

// Register attaches a connection for the user, subscribed to the given
// rooms. A previous session for the same user is superseded and closed.
func (h *Hub) Register(userID int, conn *websocket.Conn, roomIDs []int, info ConnInfo) {
	subs := make(map[int]struct{}, len(roomIDs))
	for _, id := range roomIDs {
		subs[id] = struct{}{}
	}

	h.mu.Lock()
	old := h.sessions[userID]
	h.sessions[userID] = &session{conn: conn, info: info, subs: subs}
	h.mu.Unlock()

	if old != nil {
		old.conn.Close()
	}
}

// Unregister removes the user's session if it still owns this connection.
// A superseding Register keeps the newer session in place.
func (h *Hub) Unregister(userID int, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sess, ok := h.sessions[userID]; ok && sess.conn == conn {
		delete(h.sessions, userID)
	}
}

// Subscribe adds a room to the user's active session, if any. Used when a
// room is created while the user is already connected; a reconnect
// rebuilds the whole set from registry membership instead.
func (h *Hub) Subscribe(userID int, roomID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sess, ok := h.sessions[userID]; ok {
		sess.subs[roomID] = struct{}{}
	}
}

// Connected reports whether the user has an active session.
func (h *Hub) Connected(userID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[userID]
	return ok
}

// LockRoom serializes appends and fan-outs for one room: callers hold the
// lock across both so push order always matches append order within a
// room. There is no ordering across rooms.
func (h *Hub) LockRoom(roomID int) {
	h.roomLock(roomID).Lock()
}

// UnlockRoom releases the room's append serialization lock.
func (h *Hub) UnlockRoom(roomID int) {
	h.roomLock(roomID).Unlock()
}

func (h *Hub) roomLock(roomID int) *sync.Mutex {
	h.lockMu.Lock()
	defer h.lockMu.Unlock()
	mu, ok := h.roomLocks[roomID]
	if !ok {
		mu = &sync.Mutex{}
		h.roomLocks[roomID] = mu
	}
	return mu
}

// FanOutMessage delivers a new_message event to every subscribed
// participant's session.
func (h *Hub) FanOutMessage(roomID int, msg models.Message, participants []int) {
	event := models.PushEvent{Type: models.EventNewMessage, RoomID: roomID, Message: &msg}
	for _, userID := range participants {
		if h.push(userID, roomID, event) {
			observability.IncWSEvent("push", "new_message")
		}
	}
}

// PushRoomList sends a full room list refresh to one user.
func (h *Hub) PushRoomList(userID int, rooms []models.RoomSummary) bool {
	ok := h.pushUnchecked(userID, models.PushEvent{Type: models.EventRoomList, Rooms: rooms})
	if ok {
		observability.IncWSEvent("push", "room_list")
	}
	return ok
}

// PushUnreadCount sends the user's current counter for one room.
func (h *Hub) PushUnreadCount(userID int, roomID int, count int) bool {
	ok := h.push(userID, roomID, models.UnreadOf(roomID, count))
	if ok {
		observability.IncWSEvent("push", "unread_count")
	}
	return ok
}

// push delivers an event to the user's session when it is subscribed to
// the room. Write failures close and drop the session.
func (h *Hub) push(userID int, roomID int, event models.PushEvent) bool {
	h.mu.RLock()
	sess, ok := h.sessions[userID]
	if ok {
		_, ok = sess.subs[roomID]
	}
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return h.deliver(userID, sess, event)
}

// pushUnchecked delivers an event that is not scoped to a room.
func (h *Hub) pushUnchecked(userID int, event models.PushEvent) bool {
	h.mu.RLock()
	sess, ok := h.sessions[userID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return h.deliver(userID, sess, event)
}

func (h *Hub) deliver(userID int, sess *session, event models.PushEvent) bool {
	if err := sess.write(event); err != nil {
		log.Warn().Err(err).Int("user_id", userID).Msg("websocket write failed")
		sess.conn.Close()
		h.Unregister(userID, sess.conn)
		h.publishWSError(sess.info, err)
		return false
	}
	return true
}

func (h *Hub) publishWSError(info ConnInfo, err error) {
	observability.IncWSEvent("push", "ws_error")
	_ = observability.PublishEvent(context.Background(), "ws_events.push", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        "push",
				"event":       "ws_error",
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      err.Error(),
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
