package client

import (
	"sort"
	"sync"
	"time"

	"chat-sync-service/internal/models"
)

// State is the single process-scoped chat state: room list, per-room
// timelines, unread counters, and focus. All mutation goes through its
// methods; push events go through one exhaustive switch in Apply, each
// case a pure state transition. Readers get whole-value snapshots, so a
// partially applied merge is never observable.
type State struct {
	mu        sync.Mutex
	selfID    int
	rooms     []models.RoomSummary
	timelines map[int]*Timeline
	unread    *Accumulator
	focused   int

	listeners []func()
}

// NewState creates the state store for one authenticated user.
func NewState(selfID int) *State {
	return &State{
		selfID:    selfID,
		timelines: make(map[int]*Timeline),
		unread:    NewAccumulator(),
	}
}

// Subscribe registers a change listener, invoked after every applied
// mutation. Listeners read back through the snapshot accessors.
func (s *State) Subscribe(fn func()) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *State) notify() {
	s.mu.Lock()
	listeners := make([]func(), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func (s *State) timeline(roomID int) *Timeline {
	tl, ok := s.timelines[roomID]
	if !ok {
		tl = NewTimeline(roomID)
		s.timelines[roomID] = tl
	}
	return tl
}

// Apply dispatches one push event. Unknown event types are ignored so a
// newer server cannot wedge an older client.
func (s *State) Apply(event models.PushEvent) {
	s.mu.Lock()
	switch event.Type {
	case models.EventRoomList:
		s.rooms = append([]models.RoomSummary(nil), event.Rooms...)
		for _, room := range event.Rooms {
			s.unread.SetCount(room.RoomID, room.Unread)
		}
	case models.EventNewMessage:
		if event.Message != nil {
			s.timeline(event.RoomID).ApplyPush(*event.Message)
			s.unread.OnMessageEvent(event.RoomID, *event.Message, s.selfID, s.focused == event.RoomID)
			s.touchRoom(event.RoomID, *event.Message)
		}
	case models.EventUnreadCount:
		if event.Count != nil {
			count := *event.Count
			// A focused room is read by definition; the ack in
			// flight will bring the server to the same zero.
			if event.RoomID == s.focused {
				count = 0
			}
			s.unread.SetCount(event.RoomID, count)
		}
	}
	s.mu.Unlock()
	s.notify()
}

// touchRoom refreshes the room's denormalized snapshot and moves it to
// the front of the update-ordered list.
func (s *State) touchRoom(roomID int, msg models.Message) {
	for i := range s.rooms {
		if s.rooms[i].RoomID != roomID {
			continue
		}
		room := s.rooms[i]
		room.LastMessage = &models.LastMessage{
			Seq:      msg.ID,
			SenderID: msg.SenderID,
			Preview:  msg.Content,
			SentAt:   msg.CreatedAt,
		}
		room.UpdatedAt = msg.CreatedAt
		s.rooms = append(s.rooms[:i], s.rooms[i+1:]...)
		s.rooms = append([]models.RoomSummary{room}, s.rooms...)
		return
	}
}

// ApplyLatestPage installs the newest fetched page for a room.
func (s *State) ApplyLatestPage(roomID int, msgs []models.Message, nextCursor string) {
	s.mu.Lock()
	s.timeline(roomID).ApplyLatestPage(msgs, nextCursor)
	s.mu.Unlock()
	s.notify()
}

// ApplyOlderPage prepends an older fetched page for a room.
func (s *State) ApplyOlderPage(roomID int, msgs []models.Message, nextCursor string) {
	s.mu.Lock()
	s.timeline(roomID).PrependOlder(msgs, nextCursor)
	s.mu.Unlock()
	s.notify()
}

// AddPending registers an optimistic send.
func (s *State) AddPending(p OptimisticMessage) {
	s.mu.Lock()
	s.timeline(p.RoomID).AddPending(p)
	s.mu.Unlock()
	s.notify()
}

// MarkSendFailed flags an optimistic send as failed.
func (s *State) MarkSendFailed(roomID int, tempID string) {
	s.mu.Lock()
	changed := s.timeline(roomID).MarkFailed(tempID)
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// ResetPending rearms a failed send for retry.
func (s *State) ResetPending(roomID int, tempID string, now time.Time) (OptimisticMessage, bool) {
	s.mu.Lock()
	p, ok := s.timeline(roomID).ResetPending(tempID, now)
	s.mu.Unlock()
	if ok {
		s.notify()
	}
	return p, ok
}

// ExpirePending fails optimistic sends older than the timeout across all
// rooms and reports how many newly failed.
func (s *State) ExpirePending(now time.Time, timeout time.Duration) int {
	s.mu.Lock()
	expired := 0
	for _, tl := range s.timelines {
		expired += len(tl.ExpirePending(now, timeout))
	}
	s.mu.Unlock()
	if expired > 0 {
		s.notify()
	}
	return expired
}

// Focus marks a room as the one on screen: its counter zeroes and stays
// zero while focused. Focus does not touch the push subscription.
func (s *State) Focus(roomID int) {
	s.mu.Lock()
	s.focused = roomID
	s.unread.AcknowledgeRead(roomID)
	s.mu.Unlock()
	s.notify()
}

// Blur clears focus. The underlying subscription keeps accumulating
// unread counts for the room.
func (s *State) Blur() {
	s.mu.Lock()
	s.focused = 0
	s.mu.Unlock()
	s.notify()
}

// SelfID returns the authenticated user id the state was built for.
func (s *State) SelfID() int {
	return s.selfID
}

// FocusedRoom returns the focused room id, zero when none.
func (s *State) FocusedRoom() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focused
}

// RoomSnapshot returns the merged, deduplicated, ordered sequence for a
// room as a fresh value.
func (s *State) RoomSnapshot(roomID int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline(roomID).Snapshot()
}

// LoadedRooms returns the ids of rooms with anything rendered, in
// ascending order. These are the timelines that need re-anchoring after
// a push channel gap.
func (s *State) LoadedRooms() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.timelines))
	for id, tl := range s.timelines {
		if tl.Empty() {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// NextCursor returns the room's load-older anchor.
func (s *State) NextCursor(roomID int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline(roomID).NextCursor()
}

// Rooms returns a copy of the room list, most recently updated first.
func (s *State) Rooms() []models.RoomSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.RoomSummary(nil), s.rooms...)
}

// Unread returns one room's counter.
func (s *State) Unread(roomID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread.Count(roomID)
}

// Badge returns the global badge value, the sum of per-room counters.
func (s *State) Badge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread.Badge()
}
