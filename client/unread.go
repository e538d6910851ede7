package client

import "chat-sync-service/internal/models"

// Accumulator tracks per-room unread counters on the client. The global
// badge is always the sum of the per-room values: it is derived, never
// stored, so the two cannot drift apart. Counters never go negative.
type Accumulator struct {
	counts map[int]int
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{counts: make(map[int]int)}
}

// OnMessageEvent counts an inbound message. The user's own echoes and
// messages for the focused room are treated as immediately read.
func (a *Accumulator) OnMessageEvent(roomID int, msg models.Message, selfID int, focused bool) {
	if focused || msg.SenderID == selfID {
		return
	}
	a.counts[roomID]++
}

// SetCount applies an authoritative server counter value.
func (a *Accumulator) SetCount(roomID int, count int) {
	if count <= 0 {
		delete(a.counts, roomID)
		return
	}
	a.counts[roomID] = count
}

// AcknowledgeRead zeroes the room's counter.
func (a *Accumulator) AcknowledgeRead(roomID int) {
	delete(a.counts, roomID)
}

// Count returns one room's counter.
func (a *Accumulator) Count(roomID int) int {
	return a.counts[roomID]
}

// Badge returns the global badge value.
func (a *Accumulator) Badge() int {
	total := 0
	for _, c := range a.counts {
		total += c
	}
	return total
}
