package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chat-sync-service/internal/models"
	"chat-sync-service/internal/observability"
	"chat-sync-service/internal/repositories"
	"chat-sync-service/internal/ws"
)

// MessageHandler manages the message store endpoints: bounded historical
// pagination and appends with fan-out.
type MessageHandler struct {
	roomRepo    repositories.RoomRepository
	messageRepo repositories.MessageRepository
	notifier    *ws.Notifier
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(roomRepo repositories.RoomRepository, messageRepo repositories.MessageRepository, notifier *ws.Notifier) *MessageHandler {
	return &MessageHandler{roomRepo: roomRepo, messageRepo: messageRepo, notifier: notifier}
}

// GetRoomMessages returns one page of history, oldest-first. A stale
// cursor is not an error to the client: it gets an empty page and a
// reset flag telling it to re-anchor at the latest page.
func (h *MessageHandler) GetRoomMessages(c *gin.Context) {
	roomID, err := strconv.Atoi(c.Param("room_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	userID := c.GetInt("userID")
	member, err := h.roomRepo.IsParticipant(c.Request.Context(), roomID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a room participant"})
		return
	}

	cursor := 0
	if raw := c.Query("cursor"); raw != "" {
		cursor, err = strconv.Atoi(raw)
		if err != nil || cursor <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
			return
		}
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
	}

	msgs, nextCursor, err := h.messageRepo.FetchPage(c.Request.Context(), roomID, cursor, limit)
	if errors.Is(err, repositories.ErrStaleCursor) {
		c.JSON(http.StatusOK, gin.H{"messages": []models.Message{}, "next_cursor": "", "reset": true})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	next := ""
	if nextCursor > 0 {
		next = strconv.Itoa(nextCursor)
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "next_cursor": next, "reset": false})
}

// PostRoomMessage appends a message and fans it out to every subscribed
// participant, the sender's session included: the echo is what resolves
// the sender's optimistic entry.
func (h *MessageHandler) PostRoomMessage(c *gin.Context) {
	roomID, err := strconv.Atoi(c.Param("room_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	userID := c.GetInt("userID")
	room, err := h.roomRepo.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrRoomNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "room not found"})
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.notifier.Append(c.Request.Context(), roomID, userID, func() (models.Message, error) {
		return h.messageRepo.AppendMessage(c.Request.Context(), roomID, userID, req.Content)
	})
	if errors.Is(err, repositories.ErrNotAParticipant) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a room participant"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	observability.IncMessageAppended(string(room.Type))
	c.JSON(http.StatusCreated, msg)
}
