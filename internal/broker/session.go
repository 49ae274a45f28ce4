package broker

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Guizzs26/outbox-relay/internal/topology"
)

// Channel is the subset of *amqp.Channel used by the relay
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	NotifyReturn(c chan amqp.Return) chan amqp.Return
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Session is a broker connection able to open channels
type Session interface {
	Channel() (Channel, error)
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Dialer opens a new Session against url
type Dialer func(url string) (Session, error)

const (
	DefaultDialTimeout = 5 * time.Second
	heartbeat          = 10 * time.Second
)

// DialAMQP is the production Dialer with the default dial timeout
func DialAMQP(url string) (Session, error) {
	return NewAMQPDialer(DefaultDialTimeout)(url)
}

// NewAMQPDialer returns a Dialer whose TCP connect and AMQP handshake each give
// up after timeout
func NewAMQPDialer(timeout time.Duration) Dialer {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	return func(url string) (Session, error) {
		conn, err := amqp.DialConfig(url, amqp.Config{
			Dial:      amqp.DefaultDial(timeout),
			Heartbeat: heartbeat,
			Locale:    "en_US",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		return &amqpSession{conn: conn}, nil
	}
}

type amqpSession struct {
	conn *amqp.Connection
}

func (s *amqpSession) Channel() (Channel, error) {
	ch, err := s.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}
	return ch, nil
}

func (s *amqpSession) NotifyClose(c chan *amqp.Error) chan *amqp.Error {
	return s.conn.NotifyClose(c)
}

func (s *amqpSession) Close() error {
	return s.conn.Close()
}

// DeclareTopology declares the live exchange and queue for t together with its
// dead-letter pair, then binds both queues. All declarations are idempotent.
func DeclareTopology(ch Channel, t topology.Topology) error {
	if err := ch.ExchangeDeclare(t.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", t.Exchange, err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    t.DeadLetterExchange,
		"x-dead-letter-routing-key": t.DeadLetterRoutingKey,
	}
	if _, err := ch.QueueDeclare(t.QueueName, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", t.QueueName, err)
	}

	if err := DeclareDeadLetter(ch, t); err != nil {
		return err
	}

	if err := ch.QueueBind(t.QueueName, t.RoutingKey, t.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", t.QueueName, err)
	}
	return nil
}

// DeclareDeadLetter declares the dead-letter exchange and queue for t and binds them
func DeclareDeadLetter(ch Channel, t topology.Topology) error {
	if err := ch.ExchangeDeclare(t.DeadLetterExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange %s: %w", t.DeadLetterExchange, err)
	}

	if _, err := ch.QueueDeclare(t.DeadLetterQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter queue %s: %w", t.DeadLetterQueueName, err)
	}

	if err := ch.QueueBind(t.DeadLetterQueueName, t.DeadLetterRoutingKey, t.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead-letter queue %s: %w", t.DeadLetterQueueName, err)
	}
	return nil
}
