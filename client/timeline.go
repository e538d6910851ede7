package client

import (
	"time"

	"chat-sync-service/internal/models"
)

// OptimisticMessage is a locally rendered send awaiting its server echo.
// It lives only in this process and is never persisted server-side.
type OptimisticMessage struct {
	TempID   string
	RoomID   int
	SenderID int
	Content  string
	SentAt   time.Time
	Failed   bool
}

// Entry is one element of a room's rendered sequence: a confirmed
// message, or a still-pending optimistic send when TempID is set.
type Entry struct {
	Message models.Message
	TempID  string
	Pending bool
	Failed  bool
}

// Timeline merges three sources for one room: the fetched history
// window, the push stream accumulated since subscription, and pending
// optimistic sends. The merge is recomputed from scratch on every read;
// nothing about fetch progress ever gates it. Duplicate protection is
// purely id-based, which is sufficient on its own: a push arriving while
// a fetch is in flight stays in the pushed log and survives the fetch
// resolving, and a redelivered id is absorbed with no visible effect.
type Timeline struct {
	roomID int

	paginated    []models.Message
	paginatedIDs map[int]struct{}
	pushed       []models.Message
	pushedIDs    map[int]struct{}
	pending      []OptimisticMessage

	nextCursor string
}

// NewTimeline creates an empty timeline for a room.
func NewTimeline(roomID int) *Timeline {
	return &Timeline{
		roomID:       roomID,
		paginatedIDs: make(map[int]struct{}),
		pushedIDs:    make(map[int]struct{}),
	}
}

// ApplyLatestPage replaces the history window with the newest fetched
// page. The page arrives oldest-first and is used as delivered. Pushed
// messages and pending sends are kept; ids now covered by the page drop
// out of the push remainder at snapshot time.
func (t *Timeline) ApplyLatestPage(msgs []models.Message, nextCursor string) {
	t.paginated = append([]models.Message(nil), msgs...)
	t.paginatedIDs = make(map[int]struct{}, len(msgs))
	for _, m := range msgs {
		t.paginatedIDs[m.ID] = struct{}{}
		t.resolvePending(m)
	}
	t.nextCursor = nextCursor
}

// PrependOlder extends the history window downward. Ids already known
// from either source are skipped; the page's oldest-first order is
// preserved as-is.
func (t *Timeline) PrependOlder(msgs []models.Message, nextCursor string) {
	fresh := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if t.knows(m.ID) {
			continue
		}
		fresh = append(fresh, m)
	}
	for _, m := range fresh {
		t.paginatedIDs[m.ID] = struct{}{}
	}
	t.paginated = append(fresh, t.paginated...)
	t.nextCursor = nextCursor
}

// ApplyPush appends a pushed message to the accumulated stream and
// resolves any matching optimistic send. Redelivered ids are no-ops.
func (t *Timeline) ApplyPush(msg models.Message) {
	if _, ok := t.pushedIDs[msg.ID]; ok {
		return
	}
	t.pushedIDs[msg.ID] = struct{}{}
	t.pushed = append(t.pushed, msg)
	t.resolvePending(msg)
}

// AddPending registers an optimistic send at the tail of the sequence.
func (t *Timeline) AddPending(p OptimisticMessage) {
	t.pending = append(t.pending, p)
}

// resolvePending replaces a pending optimistic send with its confirmed
// echo: same sender and content, server timestamp at or after the local
// send time. A late echo also clears an entry already marked failed, so
// a send is never rendered twice.
func (t *Timeline) resolvePending(msg models.Message) {
	for i, p := range t.pending {
		if p.SenderID != msg.SenderID || p.Content != msg.Content {
			continue
		}
		if msg.CreatedAt.Before(p.SentAt) {
			continue
		}
		t.pending = append(t.pending[:i], t.pending[i+1:]...)
		return
	}
}

// MarkFailed flags a pending send as failed. The entry stays rendered
// with a retry affordance; it is never silently dropped.
func (t *Timeline) MarkFailed(tempID string) bool {
	for i := range t.pending {
		if t.pending[i].TempID == tempID {
			t.pending[i].Failed = true
			return true
		}
	}
	return false
}

// ExpirePending fails every pending send older than the timeout and
// returns the newly failed temp ids.
func (t *Timeline) ExpirePending(now time.Time, timeout time.Duration) []string {
	var expired []string
	for i := range t.pending {
		p := &t.pending[i]
		if p.Failed || now.Sub(p.SentAt) < timeout {
			continue
		}
		p.Failed = true
		expired = append(expired, p.TempID)
	}
	return expired
}

// ResetPending rearms a failed send for retry and returns it.
func (t *Timeline) ResetPending(tempID string, now time.Time) (OptimisticMessage, bool) {
	for i := range t.pending {
		if t.pending[i].TempID == tempID {
			t.pending[i].Failed = false
			t.pending[i].SentAt = now
			return t.pending[i], true
		}
	}
	return OptimisticMessage{}, false
}

// Empty reports whether the timeline holds nothing from any source.
func (t *Timeline) Empty() bool {
	return len(t.paginated) == 0 && len(t.pushed) == 0 && len(t.pending) == 0
}

// NextCursor returns the anchor for loading the next older page; empty
// at the start of history.
func (t *Timeline) NextCursor() string {
	return t.nextCursor
}

func (t *Timeline) knows(id int) bool {
	if _, ok := t.paginatedIDs[id]; ok {
		return true
	}
	_, ok := t.pushedIDs[id]
	return ok
}

// Snapshot builds the merged sequence as a fresh value: the history
// window, then pushed messages not covered by it, then pending sends.
// Both confirmed parts are already oldest-first, so concatenation
// preserves chronological order.
func (t *Timeline) Snapshot() []Entry {
	out := make([]Entry, 0, len(t.paginated)+len(t.pushed)+len(t.pending))
	for _, m := range t.paginated {
		out = append(out, Entry{Message: m})
	}
	for _, m := range t.pushed {
		if _, ok := t.paginatedIDs[m.ID]; ok {
			continue
		}
		out = append(out, Entry{Message: m})
	}
	for _, p := range t.pending {
		out = append(out, Entry{
			Message: models.Message{
				RoomID:    p.RoomID,
				SenderID:  p.SenderID,
				Content:   p.Content,
				CreatedAt: p.SentAt,
			},
			TempID:  p.TempID,
			Pending: !p.Failed,
			Failed:  p.Failed,
		})
	}
	return out
}
