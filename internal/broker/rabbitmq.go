package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Guizzs26/outbox-relay/internal/models"
	"github.com/Guizzs26/outbox-relay/internal/topology"
)

var (
	ErrConfirmTimeout = errors.New("publisher confirm timeout")
	ErrPublishNacked  = errors.New("RabbitMQ NACK received: message not persisted")
	ErrUnroutable     = errors.New("message returned as unroutable")
	ErrChannelClosed  = errors.New("broker channel closed before confirmation")
)

// RabbitMQClient publishes outbox messages with publisher confirms. Every call
// opens its own connection and channel so a broken link never outlives a
// single message.
type RabbitMQClient struct {
	url            string
	dial           Dialer
	confirmTimeout time.Duration
	logger         *slog.Logger
}

func NewRabbitMQClient(url string, dial Dialer, confirmTimeout time.Duration, l *slog.Logger) *RabbitMQClient {
	if dial == nil {
		dial = DialAMQP
	}
	return &RabbitMQClient{
		url:            url,
		dial:           dial,
		confirmTimeout: confirmTimeout,
		logger:         l,
	}
}

// Publish declares the topology, publishes msg as a persistent mandatory
// message and blocks until the broker confirms it or the confirm timeout fires
func (r *RabbitMQClient) Publish(ctx context.Context, t topology.Topology, msg models.OutboxMessage) error {
	session, err := r.dial(r.url)
	if err != nil {
		return err
	}
	defer session.Close()

	ch, err := session.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := DeclareTopology(ch, t); err != nil {
		return err
	}

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to activate Publisher Confirms: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	returns := ch.NotifyReturn(make(chan amqp.Return, 1))

	l := r.logger.With(
		"message_id", msg.ID,
		"event_type", msg.EventType,
		"routing_key", t.RoutingKey,
	)

	err = ch.PublishWithContext(
		ctx,
		t.Exchange,
		t.RoutingKey,
		true,
		false,
		amqp.Publishing{
			Headers: amqp.Table{
				"message_id": msg.ID,
			},
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Type:         string(msg.EventType),
			Timestamp:    msg.CreatedTime,
			Body:         msg.Payload,
		},
	)
	if err != nil {
		l.Error("failed to publish message to exchange", "error", err)
		return fmt.Errorf("publish call failed: %w", err)
	}

	timer := time.NewTimer(r.confirmTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case ret, ok := <-returns:
		if !ok {
			return ErrChannelClosed
		}
		return fmt.Errorf("%w: %d %s", ErrUnroutable, ret.ReplyCode, ret.ReplyText)
	case confirmed, ok := <-confirms:
		if !ok {
			return ErrChannelClosed
		}
		if !confirmed.Ack {
			return ErrPublishNacked
		}
		// basic.return always precedes the ack for the same publish
		select {
		case ret, ok := <-returns:
			if ok {
				return fmt.Errorf("%w: %d %s", ErrUnroutable, ret.ReplyCode, ret.ReplyText)
			}
		default:
		}
		l.Debug("message confirmed by broker")
		return nil
	case <-timer.C:
		return ErrConfirmTimeout
	}
}
