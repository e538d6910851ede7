// Package jobs consumes job-domain events. The service holds the job
// reference opaquely; the only thing an acceptance event means here is
// that a room must exist for its two parties.
package jobs

import (
	"context"
	"encoding/json"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"chat-sync-service/internal/observability"
	"chat-sync-service/internal/repositories"
	"chat-sync-service/internal/ws"
)

const acceptedRoutingKey = "job.accepted"

// AcceptedEvent is the payload the job service publishes when a bid is
// accepted.
type AcceptedEvent struct {
	JobRef       string `json:"job_ref"`
	ClientID     int    `json:"client_id"`
	ContractorID int    `json:"contractor_id"`
}

// Consumer binds a queue to the job events exchange and creates job
// rooms from acceptance events. Redeliveries are safe: room creation is
// idempotent on the job reference.
type Consumer struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	queue    string
	rooms    repositories.RoomRepository
	notifier *ws.Notifier
	logger   zerolog.Logger
}

// NewConsumer connects, declares the exchange/queue pair, and binds the
// acceptance routing key.
func NewConsumer(amqpURL, exchange, queue string, rooms repositories.RoomRepository, notifier *ws.Notifier, logger zerolog.Logger) (*Consumer, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	if err := ch.QueueBind(queue, acceptedRoutingKey, exchange, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch, queue: queue, rooms: rooms, notifier: notifier, logger: logger}, nil
}

// Start launches the delivery loop. It returns once consuming is set up;
// the loop runs until the context is cancelled or the channel closes.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case delivery, ok := <-deliveries:
				if !ok {
					c.logger.Warn().Msg("job events channel closed")
					return
				}
				c.handle(ctx, delivery)
			}
		}
	}()
	return nil
}

func (c *Consumer) handle(ctx context.Context, delivery amqp.Delivery) {
	var event AcceptedEvent
	if err := json.Unmarshal(delivery.Body, &event); err != nil {
		c.logger.Error().Err(err).Msg("malformed job event dropped")
		_ = delivery.Nack(false, false)
		return
	}
	if event.JobRef == "" || event.ClientID == 0 || event.ContractorID == 0 {
		c.logger.Error().Str("job_ref", event.JobRef).Msg("incomplete job event dropped")
		_ = delivery.Nack(false, false)
		return
	}

	room, created, err := c.rooms.CreateJobRoom(ctx, event.JobRef, event.ClientID, event.ContractorID)
	if err != nil {
		c.logger.Error().Err(err).Str("job_ref", event.JobRef).Msg("job room creation failed")
		_ = delivery.Nack(false, true)
		return
	}

	if created {
		observability.IncJobRoomCreated()
		c.notifier.RoomCreated(ctx, room, []int{event.ClientID, event.ContractorID})
		c.logger.Info().Str("job_ref", event.JobRef).Int("room_id", room.ID).Msg("job room created")
	}
	_ = delivery.Ack(false)
}

// Close tears down the channel and connection.
func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
