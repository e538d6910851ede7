package jobs

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"chat-sync-service/internal/mocks"
	"chat-sync-service/internal/models"
	"chat-sync-service/internal/ws"
)

func newTestConsumer(rooms *mocks.RoomRepositoryMock) *Consumer {
	notifier := ws.NewNotifier(ws.NewHub(), rooms, new(mocks.UnreadStoreMock), zerolog.Nop())
	return &Consumer{rooms: rooms, notifier: notifier, logger: zerolog.Nop()}
}

func TestConsumerCreatesJobRoom(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	consumer := newTestConsumer(rooms)

	rooms.On("CreateJobRoom", mock.Anything, "job-17", 1, 2).
		Return(models.Room{ID: 9, Type: models.RoomTypeJob}, true, nil).Once()

	consumer.handle(context.Background(), amqp.Delivery{
		Body: []byte(`{"job_ref":"job-17","client_id":1,"contractor_id":2}`),
	})

	rooms.AssertExpectations(t)
	// Neither participant is connected, so no room list refresh is built.
	rooms.AssertNotCalled(t, "ListRoomsForUser", mock.Anything, mock.Anything)
}

func TestConsumerRedeliveredEventIsIdempotent(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	consumer := newTestConsumer(rooms)

	rooms.On("CreateJobRoom", mock.Anything, "job-17", 1, 2).
		Return(models.Room{ID: 9, Type: models.RoomTypeJob}, false, nil).Once()

	consumer.handle(context.Background(), amqp.Delivery{
		Body: []byte(`{"job_ref":"job-17","client_id":1,"contractor_id":2}`),
	})
	rooms.AssertExpectations(t)
}

func TestConsumerDropsMalformedEvent(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	consumer := newTestConsumer(rooms)

	consumer.handle(context.Background(), amqp.Delivery{Body: []byte(`not json`)})
	consumer.handle(context.Background(), amqp.Delivery{Body: []byte(`{"job_ref":"","client_id":1,"contractor_id":2}`)})

	rooms.AssertNotCalled(t, "CreateJobRoom", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestConsumerRequeuesOnRepoError(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	consumer := newTestConsumer(rooms)

	rooms.On("CreateJobRoom", mock.Anything, "job-17", 1, 2).
		Return(models.Room{}, false, assert.AnError).Once()

	consumer.handle(context.Background(), amqp.Delivery{
		Body: []byte(`{"job_ref":"job-17","client_id":1,"contractor_id":2}`),
	})
	rooms.AssertExpectations(t)
}
