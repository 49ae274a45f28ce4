package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Guizzs26/outbox-relay/internal/models"
	"github.com/Guizzs26/outbox-relay/internal/topology"
)

// DeliveryHandler processes one dead-lettered delivery. A non-nil error makes
// the consumer reject the delivery without requeue.
type DeliveryHandler interface {
	Handle(ctx context.Context, eventType models.EventType, d amqp.Delivery) error
}

// DeadLetterConsumer drains the dead-letter queue of a single event type
type DeadLetterConsumer struct {
	session   Session
	channel   Channel
	eventType models.EventType
	topology  topology.Topology
	handler   DeliveryHandler
	logger    *slog.Logger
	closeOnce sync.Once
}

// NewDeadLetterConsumer connects and prepares a consumer for eventType
func NewDeadLetterConsumer(url string, dial Dialer, eventType models.EventType, prefetch int, handler DeliveryHandler, logger *slog.Logger) (*DeadLetterConsumer, error) {
	t, err := topology.Resolve(eventType)
	if err != nil {
		return nil, err
	}
	if dial == nil {
		dial = DialAMQP
	}

	session, err := dial(url)
	if err != nil {
		return nil, err
	}

	ch, err := session.Channel()
	if err != nil {
		session.Close()
		return nil, err
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		session.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	c := &DeadLetterConsumer{
		session:   session,
		channel:   ch,
		eventType: eventType,
		topology:  t,
		handler:   handler,
		logger:    logger.With("event_type", eventType, "queue", t.DeadLetterQueueName),
	}
	return c, nil
}

// Listen declares the dead-letter queue, subscribes with manual acks and
// processes deliveries until ctx is cancelled or the broker drops the channel
func (c *DeadLetterConsumer) Listen(ctx context.Context) error {
	if err := DeclareDeadLetter(c.channel, c.topology); err != nil {
		return err
	}

	msgs, err := c.channel.Consume(c.topology.DeadLetterQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	closed := c.channel.NotifyClose(make(chan *amqp.Error, 1))

	c.logger.Info("Dead-letter consumer is online and waiting for messages")

	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr, ok := <-closed:
			if ok && amqpErr != nil {
				return fmt.Errorf("channel closed: %w", amqpErr)
			}
			return fmt.Errorf("channel closed")
		case d, ok := <-msgs:
			if !ok {
					return fmt.Errorf("message channel closed")
			}
			c.dispatch(ctx, d)
		}
	}
}

func (c *DeadLetterConsumer) dispatch(ctx context.Context, d amqp.Delivery) {
	if err := c.handler.Handle(ctx, c.eventType, d); err != nil {
		c.logger.Error("Dead-letter processing failed, discarding", "message_id", d.MessageId, "error", err)
		// Never requeue: a dead letter that fails here would loop forever
		if err := d.Nack(false, false); err != nil {
			c.logger.Error("Failed to Nack dead letter", "message_id", d.MessageId, "error", err)
		}
		return
	}

	if err := d.Ack(false); err != nil {
		c.logger.Error("Failed to Ack dead letter", "message_id", d.MessageId, "error", err)
	}
}

// Close gracefully terminates RabbitMQ resources
func (c *DeadLetterConsumer) Close() {
	c.closeOnce.Do(func() {
		c.logger.Info("Shutting down dead-letter consumer")
		c.channel.Close()
		c.session.Close()
	})
}
