package client

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chat-sync-service/internal/models"
)

const (
	reconnectBaseDelay  = time.Second
	reconnectMaxDelay   = 30 * time.Second
	fetchRetryBaseDelay = 500 * time.Millisecond
	fetchMaxAttempts    = 4
	sendTimeout         = 15 * time.Second
	expiryTick          = 5 * time.Second
	defaultPageLimit    = 50
)

// Session ties the API client, the push channel, and the state store
// together for one connected user. It owns the websocket lifecycle and
// keeps reconnecting until its context is cancelled.
type Session struct {
	api    *Client
	state  *State
	wsURL  string
	logger zerolog.Logger

	fetchRetryBase time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewSession builds a session for the given user. wsURL is the push
// endpoint (ws:// or wss://).
func NewSession(api *Client, wsURL string, selfID int, logger zerolog.Logger) *Session {
	return &Session{
		api:            api,
		state:          NewState(selfID),
		wsURL:          wsURL,
		logger:         logger,
		fetchRetryBase: fetchRetryBaseDelay,
	}
}

// State exposes the session's state store for subscriptions and reads.
func (s *Session) State() *State {
	return s.state
}

// Run connects the push channel and keeps it alive, reconnecting with
// exponential backoff. It blocks until ctx is cancelled. Every
// (re)connect gets the server's room list over the channel and
// re-anchors the rendered timelines, since messages appended during a
// gap are never replayed by push.
func (s *Session) Run(ctx context.Context) error {
	go s.expiryLoop(ctx)

	delay := reconnectBaseDelay
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		connected, err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = reconnectBaseDelay
		}
		s.logger.Warn().Err(err).Dur("retry_in", delay).Msg("push channel lost, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

// connectAndRead dials the push endpoint and pumps events until the
// connection drops. connected reports whether the handshake succeeded,
// which resets the caller's backoff.
func (s *Session) connectAndRead(ctx context.Context) (connected bool, readErr error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.api.Token)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, s.wsURL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return false, err
	}
	if resp != nil {
		resp.Body.Close()
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	s.logger.Info().Str("url", s.wsURL).Msg("push channel connected")

	go s.resyncTimelines(ctx)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		s.dispatch(ctx, data)
	}
}

// dispatch decodes one push frame and applies it. Unknown event types
// are logged and skipped so protocol additions do not break old clients.
func (s *Session) dispatch(ctx context.Context, data []byte) {
	var event models.PushEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.logger.Warn().Err(err).Msg("malformed push event")
		return
	}
	switch event.Type {
	case models.EventNewMessage, models.EventRoomList, models.EventUnreadCount:
		s.state.Apply(event)
	default:
		s.logger.Debug().Str("type", string(event.Type)).Msg("unhandled push event type")
		return
	}

	// A message arriving in the focused room is seen immediately, so
	// the server counter is zeroed right away.
	if event.Type == models.EventNewMessage && event.Message != nil &&
		event.Message.SenderID != s.state.SelfID() &&
		s.state.FocusedRoom() == event.RoomID {
		if err := s.api.AckRead(ctx, event.RoomID); err != nil {
			s.logger.Warn().Err(err).Int("room_id", event.RoomID).Msg("read ack failed")
		}
	}
}

func (s *Session) expiryLoop(ctx context.Context) {
	ticker := time.NewTicker(expiryTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.state.ExpirePending(now, sendTimeout)
		}
	}
}

// resyncTimelines re-fetches the newest page for every room already
// rendered. Messages appended while the channel was down are not
// replayed by push, so the history window must re-anchor on reconnect;
// the merge keeps everything already on screen.
func (s *Session) resyncTimelines(ctx context.Context) {
	for _, roomID := range s.state.LoadedRooms() {
		if err := s.LoadLatest(ctx, roomID); err != nil {
			s.logger.Warn().Err(err).Int("room_id", roomID).Msg("timeline resync failed")
		}
	}
}

// fetchPage calls the pagination endpoint with bounded exponential
// backoff. An attempt that eventually succeeds is invisible to the
// caller; rendered state stays untouched until a page actually lands.
func (s *Session) fetchPage(ctx context.Context, roomID int, cursor string) ([]models.Message, string, bool, error) {
	delay := s.fetchRetryBase
	for attempt := 1; ; attempt++ {
		msgs, next, reset, err := s.api.FetchPage(ctx, roomID, cursor, defaultPageLimit)
		if err == nil {
			return msgs, next, reset, nil
		}
		if attempt >= fetchMaxAttempts {
			return nil, "", false, err
		}
		s.logger.Warn().Err(err).Int("room_id", roomID).Dur("retry_in", delay).Msg("page fetch failed, retrying")
		select {
		case <-ctx.Done():
			return nil, "", false, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// LoadLatest fetches the newest page of a room and re-anchors the
// timeline on it. Pushed and pending messages already known survive the
// swap; the merge never depends on fetch progress.
func (s *Session) LoadLatest(ctx context.Context, roomID int) error {
	msgs, next, _, err := s.fetchPage(ctx, roomID, "")
	if err != nil {
		return err
	}
	s.state.ApplyLatestPage(roomID, msgs, next)
	return nil
}

// LoadOlder fetches the page behind the current cursor. A stale cursor
// re-anchors at the latest page instead of failing; already rendered
// messages are kept either way.
func (s *Session) LoadOlder(ctx context.Context, roomID int) error {
	cursor := s.state.NextCursor(roomID)
	if cursor == "" {
		return nil
	}
	msgs, next, reset, err := s.fetchPage(ctx, roomID, cursor)
	if err != nil {
		return err
	}
	if reset {
		return s.LoadLatest(ctx, roomID)
	}
	s.state.ApplyOlderPage(roomID, msgs, next)
	return nil
}

// Send performs an optimistic send: the message renders immediately as
// pending and resolves when its confirmed copy arrives by push or page.
// On request failure it stays rendered, marked failed, for retry.
func (s *Session) Send(ctx context.Context, roomID int, content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", nil
	}
	tempID := uuid.NewString()
	s.state.AddPending(OptimisticMessage{
		TempID:   tempID,
		RoomID:   roomID,
		SenderID: s.state.SelfID(),
		Content:  content,
		SentAt:   time.Now(),
	})
	if _, err := s.api.SendMessage(ctx, roomID, content); err != nil {
		s.state.MarkSendFailed(roomID, tempID)
		return tempID, err
	}
	return tempID, nil
}

// Retry re-submits a failed or expired pending message under the same
// temp id.
func (s *Session) Retry(ctx context.Context, roomID int, tempID string) error {
	p, ok := s.state.ResetPending(roomID, tempID, time.Now())
	if !ok {
		return nil
	}
	if _, err := s.api.SendMessage(ctx, roomID, p.Content); err != nil {
		s.state.MarkSendFailed(roomID, tempID)
		return err
	}
	return nil
}

// Focus marks a room as the one on screen. Its unread counter is
// cleared locally and acknowledged to the server.
func (s *Session) Focus(ctx context.Context, roomID int) error {
	s.state.Focus(roomID)
	return s.api.AckRead(ctx, roomID)
}

// Blur clears the focused room.
func (s *Session) Blur() {
	s.state.Blur()
}
