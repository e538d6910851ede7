package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync-service/internal/models"
)

func newTestSession(t *testing.T, handler http.Handler) *Session {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	s := NewSession(NewClient(srv.URL, "test-token"), "ws://unused", 1, zerolog.Nop())
	s.fetchRetryBase = time.Millisecond
	return s
}

func writePage(w http.ResponseWriter, msgs []models.Message) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"messages":    msgs,
		"next_cursor": "",
		"reset":       false,
	})
}

func TestResyncRecoversMessagesMissedDuringOutage(t *testing.T) {
	// Pages 4 and 5 exist only server-side, appended while the push
	// channel was down.
	s := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rooms/5/messages", r.URL.Path)
		writePage(w, []models.Message{msg(1, "a"), msg(2, "b"), msg(3, "c"), msg(4, "d"), msg(5, "e")})
	}))

	s.State().ApplyLatestPage(5, []models.Message{msg(1, "a"), msg(2, "b")}, "")
	s.State().Apply(newMessageEvent(msg(3, "c")))

	s.resyncTimelines(context.Background())
	s.State().Apply(newMessageEvent(msg(6, "f")))

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, confirmedIDs(s.State().RoomSnapshot(5)))
}

func TestResyncFetchesOnlyRenderedRooms(t *testing.T) {
	var paths []string
	s := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		writePage(w, []models.Message{msg(1, "a")})
	}))

	s.State().ApplyLatestPage(5, []models.Message{msg(1, "a")}, "")
	s.State().Apply(roomListEvent(
		models.RoomSummary{RoomID: 5},
		models.RoomSummary{RoomID: 9},
	))

	s.resyncTimelines(context.Background())

	assert.Equal(t, []string{"/rooms/5/messages"}, paths)
}

func TestLoadLatestRetriesTransientFailures(t *testing.T) {
	var attempts int32
	s := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "temporarily unavailable"})
			return
		}
		writePage(w, []models.Message{msg(1, "a"), msg(2, "b")})
	}))

	require.NoError(t, s.LoadLatest(context.Background(), 5))

	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))
	assert.Equal(t, []int{1, 2}, confirmedIDs(s.State().RoomSnapshot(5)))
}

func TestLoadOlderFailurePreservesRenderedState(t *testing.T) {
	var attempts int32
	s := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "down"})
	}))

	s.State().ApplyLatestPage(5, []models.Message{msg(40, "x"), msg(41, "y")}, "40")

	err := s.LoadOlder(context.Background(), 5)
	require.Error(t, err)

	assert.EqualValues(t, fetchMaxAttempts, atomic.LoadInt32(&attempts))
	assert.Equal(t, []int{40, 41}, confirmedIDs(s.State().RoomSnapshot(5)))
	assert.Equal(t, "40", s.State().NextCursor(5))
}
