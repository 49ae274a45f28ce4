// Package brokertest provides in-memory fakes of the broker Session and Channel.
package brokertest

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Guizzs26/outbox-relay/internal/broker"
)

// ConfirmMode selects how a Channel answers a publish
type ConfirmMode int

const (
	ConfirmAck ConfirmMode = iota
	ConfirmNack
	ConfirmNone
	ConfirmReturn
)

// Declared records a declare or bind call
type Declared struct {
	Kind     string
	Name     string
	Key      string
	Exchange string
	Args     amqp.Table
}

// Published records a publish call
type Published struct {
	Exchange  string
	Key       string
	Mandatory bool
	Msg       amqp.Publishing
}

// Broker hands out sessions and keeps a log of everything done through them
type Broker struct {
	mu sync.Mutex

	Mode       ConfirmMode
	DialErr    error
	DeclareErr error
	PublishErr error
	ConsumeErr error

	// Deliveries feeds every Consume call
	Deliveries chan amqp.Delivery

	Dials     int
	Declared  []Declared
	Published []Published
	Qos       []int
	Closed    int
	Confirmed bool
}

func New() *Broker {
	return &Broker{Deliveries: make(chan amqp.Delivery, 16)}
}

// Dial implements broker.Dialer
func (b *Broker) Dial(string) (broker.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.Dials++
	if b.DialErr != nil {
		return nil, b.DialErr
	}
	return &session{b: b}, nil
}

func (b *Broker) Snapshot() (dials int, published []Published, declared []Declared) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Dials, append([]Published(nil), b.Published...), append([]Declared(nil), b.Declared...)
}

type session struct {
	b *Broker
}

func (s *session) Channel() (broker.Channel, error) {
	return &Channel{b: s.b}, nil
}

func (s *session) NotifyClose(c chan *amqp.Error) chan *amqp.Error { return c }

func (s *session) Close() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.Closed++
	return nil
}

// Channel is a fake broker.Channel
type Channel struct {
	b        *Broker
	confirms chan amqp.Confirmation
	returns  chan amqp.Return
	seq      uint64
}

func (c *Channel) record(d Declared) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.b.DeclareErr != nil {
		return c.b.DeclareErr
	}
	c.b.Declared = append(c.b.Declared, d)
	return nil
}

func (c *Channel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return c.record(Declared{Kind: "exchange:" + kind, Name: name, Args: args})
}

func (c *Channel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if !durable {
		return amqp.Queue{}, errors.New("queue must be durable")
	}
	return amqp.Queue{Name: name}, c.record(Declared{Kind: "queue", Name: name, Args: args})
}

func (c *Channel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	return c.record(Declared{Kind: "bind", Name: name, Key: key, Exchange: exchange})
}

func (c *Channel) Confirm(bool) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.b.Confirmed = true
	return nil
}

func (c *Channel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	c.confirms = confirm
	return confirm
}

func (c *Channel) NotifyReturn(r chan amqp.Return) chan amqp.Return {
	c.returns = r
	return r
}

func (c *Channel) NotifyClose(ch chan *amqp.Error) chan *amqp.Error { return ch }

func (c *Channel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.b.mu.Lock()
	if c.b.PublishErr != nil {
		c.b.mu.Unlock()
		return c.b.PublishErr
	}
	c.b.Published = append(c.b.Published, Published{Exchange: exchange, Key: key, Mandatory: mandatory, Msg: msg})
	mode := c.b.Mode
	c.b.mu.Unlock()

	c.seq++
	switch mode {
	case ConfirmAck:
		c.confirms <- amqp.Confirmation{DeliveryTag: c.seq, Ack: true}
	case ConfirmNack:
		c.confirms <- amqp.Confirmation{DeliveryTag: c.seq, Ack: false}
	case ConfirmReturn:
		c.returns <- amqp.Return{ReplyCode: 312, ReplyText: "NO_ROUTE", Exchange: exchange, RoutingKey: key}
		c.confirms <- amqp.Confirmation{DeliveryTag: c.seq, Ack: true}
	case ConfirmNone:
	}
	return nil
}

func (c *Channel) Qos(prefetchCount, prefetchSize int, global bool) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.b.Qos = append(c.b.Qos, prefetchCount)
	return nil
}

func (c *Channel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if autoAck {
		return nil, errors.New("dead letters must be consumed with manual ack")
	}
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.b.ConsumeErr != nil {
		return nil, c.b.ConsumeErr
	}
	return c.b.Deliveries, nil
}

func (c *Channel) Close() error { return nil }

// Acker records acknowledgements made on deliveries it is attached to
type Acker struct {
	mu       sync.Mutex
	Acked    []uint64
	Nacked   []uint64
	Requeued []uint64
	done     chan struct{}
}

func NewAcker() *Acker {
	return &Acker{done: make(chan struct{}, 64)}
}

func (a *Acker) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	a.Acked = append(a.Acked, tag)
	a.mu.Unlock()
	a.done <- struct{}{}
	return nil
}

func (a *Acker) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	a.Nacked = append(a.Nacked, tag)
	if requeue {
		a.Requeued = append(a.Requeued, tag)
	}
	a.mu.Unlock()
	a.done <- struct{}{}
	return nil
}

func (a *Acker) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

// Wait blocks until n acknowledgements have been recorded
func (a *Acker) Wait(n int) {
	for range n {
		<-a.done
	}
}

// Results returns copies of the recorded acks, nacks and requeues
func (a *Acker) Results() (acked, nacked, requeued []uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint64(nil), a.Acked...), append([]uint64(nil), a.Nacked...), append([]uint64(nil), a.Requeued...)
}
