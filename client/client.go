// Package client implements the session-side synchronization engine for
// the chat service: an HTTP client for rooms and pagination, a push
// channel consumer with reconnect, and the per-room reconciliation of
// history, live events, and optimistic sends.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"chat-sync-service/internal/models"
)

// Client is the HTTP API client. The token comes from the external auth
// service; the client only carries it.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates an API client for the given base URL and bearer token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, fmt.Errorf("chat api error %d: %s", resp.StatusCode, errResp.Error)
	}
	return respBody, nil
}

// ListRooms fetches the user's room summaries, most recently updated
// first.
func (c *Client) ListRooms(ctx context.Context) ([]models.RoomSummary, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/rooms", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Rooms []models.RoomSummary `json:"rooms"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

// StartDirectRoom opens (or finds) the direct room with another user.
// created reports whether this call created it.
func (c *Client) StartDirectRoom(ctx context.Context, otherID int) (models.Room, bool, error) {
	payload, _ := json.Marshal(map[string]int{"user_id": otherID})
	body, err := c.doRequest(ctx, http.MethodPost, "/rooms/direct", payload)
	if err != nil {
		return models.Room{}, false, err
	}
	var resp struct {
		Room    models.Room `json:"room"`
		Created bool        `json:"created"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.Room{}, false, err
	}
	return resp.Room, resp.Created, nil
}

// FetchPage retrieves one page of history, oldest-first. An empty cursor
// fetches the newest page. reset reports a stale cursor: the caller
// should re-anchor at the latest page.
func (c *Client) FetchPage(ctx context.Context, roomID int, cursor string, limit int) (msgs []models.Message, nextCursor string, reset bool, err error) {
	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	path := fmt.Sprintf("/rooms/%d/messages", roomID)
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, "", false, err
	}
	var resp struct {
		Messages   []models.Message `json:"messages"`
		NextCursor string           `json:"next_cursor"`
		Reset      bool             `json:"reset"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", false, err
	}
	return resp.Messages, resp.NextCursor, resp.Reset, nil
}

// SendMessage appends a message to a room.
func (c *Client) SendMessage(ctx context.Context, roomID int, content string) (models.Message, error) {
	payload, _ := json.Marshal(map[string]string{"content": content})
	body, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/rooms/%d/messages", roomID), payload)
	if err != nil {
		return models.Message{}, err
	}
	var msg models.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// AckRead acknowledges the room as read, zeroing the server counter.
func (c *Client) AckRead(ctx context.Context, roomID int) error {
	_, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/rooms/%d/read", roomID), nil)
	return err
}
