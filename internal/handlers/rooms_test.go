package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync-service/internal/mocks"
	"chat-sync-service/internal/models"
	"chat-sync-service/internal/ws"
)

func setupRoomRouter(handler *RoomHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.GET("/rooms", handler.ListRooms)
	r.POST("/rooms/direct", handler.StartDirectRoom)
	r.POST("/rooms/:room_id/read", handler.MarkRoomRead)
	return r
}

func newTestNotifier(roomRepo *mocks.RoomRepositoryMock, unreadStore *mocks.UnreadStoreMock) *ws.Notifier {
	return ws.NewNotifier(ws.NewHub(), roomRepo, unreadStore, zerolog.Nop())
}

func TestListRoomsMergesUnreadCounts(t *testing.T) {
	roomRepo := new(mocks.RoomRepositoryMock)
	unreadStore := new(mocks.UnreadStoreMock)
	handler := NewRoomHandler(roomRepo, newTestNotifier(roomRepo, unreadStore), nil)
	router := setupRoomRouter(handler)

	roomRepo.On("ListRoomsForUser", mock.Anything, 1).Return([]models.RoomSummary{
		{RoomID: 3, Type: models.RoomTypeDirect, Participants: []int{1, 2}},
		{RoomID: 7, Type: models.RoomTypeJob, Participants: []int{1, 4}},
	}, nil).Once()
	unreadStore.On("Counts", mock.Anything, 1).Return(map[int]int{3: 2}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/rooms", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Rooms []models.RoomSummary `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Rooms, 2)
	assert.Equal(t, 2, resp.Rooms[0].Unread)
	assert.Equal(t, 0, resp.Rooms[1].Unread)

	roomRepo.AssertExpectations(t)
	unreadStore.AssertExpectations(t)
}

func TestListRoomsEmpty(t *testing.T) {
	roomRepo := new(mocks.RoomRepositoryMock)
	unreadStore := new(mocks.UnreadStoreMock)
	handler := NewRoomHandler(roomRepo, newTestNotifier(roomRepo, unreadStore), nil)
	router := setupRoomRouter(handler)

	roomRepo.On("ListRoomsForUser", mock.Anything, 1).Return(([]models.RoomSummary)(nil), nil).Once()
	unreadStore.On("Counts", mock.Anything, 1).Return(map[int]int{}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/rooms", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"rooms":[]}`, rec.Body.String())
	roomRepo.AssertExpectations(t)
}

func TestListRoomsRepoError(t *testing.T) {
	roomRepo := new(mocks.RoomRepositoryMock)
	unreadStore := new(mocks.UnreadStoreMock)
	handler := NewRoomHandler(roomRepo, newTestNotifier(roomRepo, unreadStore), nil)
	router := setupRoomRouter(handler)

	roomRepo.On("ListRoomsForUser", mock.Anything, 1).Return(([]models.RoomSummary)(nil), assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/rooms", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	roomRepo.AssertExpectations(t)
}

func TestStartDirectRoomCreated(t *testing.T) {
	roomRepo := new(mocks.RoomRepositoryMock)
	unreadStore := new(mocks.UnreadStoreMock)
	handler := NewRoomHandler(roomRepo, newTestNotifier(roomRepo, unreadStore), nil)
	router := setupRoomRouter(handler)

	roomRepo.On("GetOrCreateDirectRoom", mock.Anything, 1, 2).Return(models.Room{ID: 10, Type: models.RoomTypeDirect}, true, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/rooms/direct", bytes.NewBufferString(`{"user_id":2}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Room    models.Room `json:"room"`
		Created bool        `json:"created"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 10, resp.Room.ID)
	assert.True(t, resp.Created)
	roomRepo.AssertExpectations(t)
}

func TestStartDirectRoomExisting(t *testing.T) {
	roomRepo := new(mocks.RoomRepositoryMock)
	unreadStore := new(mocks.UnreadStoreMock)
	handler := NewRoomHandler(roomRepo, newTestNotifier(roomRepo, unreadStore), nil)
	router := setupRoomRouter(handler)

	roomRepo.On("GetOrCreateDirectRoom", mock.Anything, 1, 2).Return(models.Room{ID: 10, Type: models.RoomTypeDirect}, false, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/rooms/direct", bytes.NewBufferString(`{"user_id":2}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Created bool `json:"created"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Created)
	roomRepo.AssertExpectations(t)
}

func TestStartDirectRoomWithSelf(t *testing.T) {
	roomRepo := new(mocks.RoomRepositoryMock)
	unreadStore := new(mocks.UnreadStoreMock)
	handler := NewRoomHandler(roomRepo, newTestNotifier(roomRepo, unreadStore), nil)
	router := setupRoomRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/rooms/direct", bytes.NewBufferString(`{"user_id":1}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	roomRepo.AssertNotCalled(t, "GetOrCreateDirectRoom", mock.Anything, mock.Anything, mock.Anything)
}

func TestMarkRoomReadSuccess(t *testing.T) {
	roomRepo := new(mocks.RoomRepositoryMock)
	unreadStore := new(mocks.UnreadStoreMock)
	handler := NewRoomHandler(roomRepo, newTestNotifier(roomRepo, unreadStore), nil)
	router := setupRoomRouter(handler)

	roomRepo.On("IsParticipant", mock.Anything, 5, 1).Return(true, nil).Once()
	unreadStore.On("Clear", mock.Anything, 1, 5).Return(nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/rooms/5/read", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	roomRepo.AssertExpectations(t)
	unreadStore.AssertExpectations(t)
}

func TestMarkRoomReadNotParticipant(t *testing.T) {
	roomRepo := new(mocks.RoomRepositoryMock)
	unreadStore := new(mocks.UnreadStoreMock)
	handler := NewRoomHandler(roomRepo, newTestNotifier(roomRepo, unreadStore), nil)
	router := setupRoomRouter(handler)

	roomRepo.On("IsParticipant", mock.Anything, 5, 1).Return(false, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/rooms/5/read", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	unreadStore.AssertNotCalled(t, "Clear", mock.Anything, mock.Anything, mock.Anything)
}
