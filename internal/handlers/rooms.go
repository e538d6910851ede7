package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chat-sync-service/internal/models"
	"chat-sync-service/internal/repositories"
	"chat-sync-service/internal/telemetry"
	"chat-sync-service/internal/ws"
)

// RoomHandler manages room registry endpoints.
type RoomHandler struct {
	roomRepo repositories.RoomRepository
	notifier *ws.Notifier
	audit    *telemetry.AuditEmitter
}

// NewRoomHandler builds a RoomHandler.
func NewRoomHandler(roomRepo repositories.RoomRepository, notifier *ws.Notifier, audit *telemetry.AuditEmitter) *RoomHandler {
	return &RoomHandler{roomRepo: roomRepo, notifier: notifier, audit: audit}
}

func (h *RoomHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}

// ListRooms returns the authenticated user's rooms, most recently
// updated first, with last-message snapshots and unread counts.
func (h *RoomHandler) ListRooms(c *gin.Context) {
	userID := c.GetInt("userID")

	rooms, err := h.notifier.RoomList(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load rooms"})
		return
	}
	if rooms == nil {
		rooms = []models.RoomSummary{}
	}

	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// StartDirectRoom creates or returns the direct room with another user.
// The created flag tells the later of two concurrent callers that the
// room already existed.
func (h *RoomHandler) StartDirectRoom(c *gin.Context) {
	var req struct {
		UserID int `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	if userID == req.UserID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot chat with yourself"})
		return
	}

	room, created, err := h.roomRepo.GetOrCreateDirectRoom(c.Request.Context(), userID, req.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create room"})
		return
	}

	if created {
		h.notifier.RoomCreated(c.Request.Context(), room, []int{userID, req.UserID})
		h.emitAudit(c, "INFO", "direct room created")
	}

	c.JSON(http.StatusOK, gin.H{"room": room, "created": created})
}

// MarkRoomRead zeroes the caller's unread counter for the room. Clients
// call it on focus transitions.
func (h *RoomHandler) MarkRoomRead(c *gin.Context) {
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
		h.emitAudit(c, "ERROR", "read ack denied")
		c.JSON(http.StatusForbidden, gin.H{"error": "not a room participant"})
		return
	}

	if err := h.notifier.AcknowledgeRead(c.Request.Context(), userID, roomID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not acknowledge read"})
		return
	}

	c.Status(http.StatusNoContent)
}
