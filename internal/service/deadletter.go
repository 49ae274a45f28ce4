package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/Guizzs26/outbox-relay/internal/broker"
	"github.com/Guizzs26/outbox-relay/internal/models"
	"github.com/Guizzs26/outbox-relay/internal/topology"
	"github.com/Guizzs26/outbox-relay/pkg/infra"
	"github.com/Guizzs26/outbox-relay/pkg/metrics"
)

var (
	ErrMissingMessageID = errors.New("dead letter has no message id")
	ErrMalformedPayload = errors.New("dead letter payload is not valid JSON")
)

type DeadLetterConfig struct {
	URL      string
	Dial     broker.Dialer
	Prefetch int

	// EventTypes limits the listeners; empty means every registered type
	EventTypes []models.EventType

	// ReconnectBase is the first reconnect delay, doubling up to a minute
	ReconnectBase time.Duration
}

// DeadLetterService keeps one dead-letter listener alive per event type
type DeadLetterService struct {
	cfg     DeadLetterConfig
	handler broker.DeliveryHandler
	logger  *slog.Logger
}

func NewDeadLetterService(cfg DeadLetterConfig, h broker.DeliveryHandler, l *slog.Logger) *DeadLetterService {
	if len(cfg.EventTypes) == 0 {
		cfg.EventTypes = topology.EventTypes()
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = time.Second
	}
	return &DeadLetterService{cfg: cfg, handler: h, logger: l}
}

// Run blocks until ctx is cancelled. Listener failures are retried, never returned.
func (s *DeadLetterService) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, et := range s.cfg.EventTypes {
		g.Go(func() error {
			s.supervise(gctx, et)
			return nil
		})
	}
	return g.Wait()
}

func (s *DeadLetterService) supervise(ctx context.Context, et models.EventType) {
	l := s.logger.With("event_type", et)
	healthy := metrics.DeadLetterHealthy.WithLabelValues(string(et))
	backoff := infra.NewBackoff(s.cfg.ReconnectBase, time.Minute, 2.0)

	for ctx.Err() == nil {
		consumer, err := broker.NewDeadLetterConsumer(s.cfg.URL, s.cfg.Dial, et, s.cfg.Prefetch, s.handler, s.logger)
		if err != nil {
			healthy.Set(0)
			metrics.RabbitMQReconnections.Inc()
			wait := backoff.Next()
			l.Error("Dead-letter listener failed to connect", "attempt", backoff.Attempts(), "retry_in", wait, "error", err)
			if infra.Sleep(ctx, wait) != nil {
				break
			}
			continue
		}

		backoff.Reset()
		healthy.Set(1)
		err = consumer.Listen(ctx)
		consumer.Close()
		healthy.Set(0)

		if ctx.Err() != nil {
			break
		}

		metrics.RabbitMQReconnections.Inc()
		wait := backoff.Next()
		l.Warn("Dead-letter listener lost its channel, reconnecting", "retry_in", wait, "error", err)
		if infra.Sleep(ctx, wait) != nil {
			break
		}
	}

	l.Info("Dead-letter listener stopped")
}

// DeadLetterInspector records dead letters in the log and metrics and lets
// the consumer acknowledge them. Payloads are not republished.
type DeadLetterInspector struct {
	logger *slog.Logger
}

func NewDeadLetterInspector(l *slog.Logger) *DeadLetterInspector {
	return &DeadLetterInspector{logger: l}
}

func (h *DeadLetterInspector) Handle(_ context.Context, et models.EventType, d amqp.Delivery) error {
	id := d.MessageId
	if id == "" {
		id, _ = d.Headers["message_id"].(string)
	}
	if id == "" {
		metrics.DeadLetters.WithLabelValues(string(et), "discarded").Inc()
		return ErrMissingMessageID
	}
	if !json.Valid(d.Body) {
		metrics.DeadLetters.WithLabelValues(string(et), "discarded").Inc()
		return ErrMalformedPayload
	}

	death := readDeath(d.Headers)
	h.logger.Warn("Dead letter received",
		"message_id", id,
		"event_type", et,
		"reason", death.Reason,
		"queue", death.Queue,
		"death_count", death.Count,
		"bytes", len(d.Body),
	)
	metrics.DeadLetters.WithLabelValues(string(et), "inspected").Inc()
	return nil
}

type deathInfo struct {
	Reason string
	Queue  string
	Count  int64
}

// readDeath extracts the most recent entry of the broker's x-death header
func readDeath(h amqp.Table) deathInfo {
	var info deathInfo
	deaths, ok := h["x-death"].([]any)
	if !ok || len(deaths) == 0 {
		return info
	}
	entry, ok := deaths[0].(amqp.Table)
	if !ok {
		return info
	}
	info.Reason, _ = entry["reason"].(string)
	info.Queue, _ = entry["queue"].(string)
	info.Count, _ = entry["count"].(int64)
	return info
}
