package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/outbox-relay/internal/models"
	"github.com/Guizzs26/outbox-relay/internal/topology"
	"github.com/Guizzs26/outbox-relay/pkg/infra"
	"github.com/Guizzs26/outbox-relay/pkg/metrics"
)

const defaultPollInterval = 5 * time.Second

// finalizeTimeout bounds the row update that follows a publish attempt. It runs
// detached from shutdown so a confirmed message is never left unmarked.
const finalizeTimeout = 5 * time.Second

// Repository defines the contract for outbox data persistence used by the publisher
type Repository interface {
	PollPending(ctx context.Context, batchSize, maxRetry int) ([]models.OutboxMessage, error)
	MarkPublished(ctx context.Context, id string) error
	IncrementRetry(ctx context.Context, id string) (int, error)
	RecordStranded(ctx context.Context, msg models.OutboxMessage, reason string) error
}

// BrokerClient defines the contract for confirmed message publishing
type BrokerClient interface {
	Publish(ctx context.Context, t topology.Topology, msg models.OutboxMessage) error
}

type PublisherConfig struct {
	BatchSize    int
	MaxRetry     int
	PollInterval time.Duration
}

// OutboxPublisher moves committed outbox rows to the broker. Messages in a batch
// are handled strictly one after another and each row is finalized on its own,
// so a crash leaves a clean prefix of the batch done and the rest untouched.
//
// Running more than one publisher against the same table can deliver a row
// twice: nothing claims rows between poll and update. Consumers dedupe on the
// message id.
type OutboxPublisher struct {
	repo   Repository
	broker BrokerClient
	cfg    PublisherConfig
	logger *slog.Logger
}

func NewOutboxPublisher(r Repository, b BrokerClient, cfg PublisherConfig, l *slog.Logger) *OutboxPublisher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &OutboxPublisher{
		repo:   r,
		broker: b,
		cfg:    cfg,
		logger: l,
	}
}

// Run polls and publishes until ctx is cancelled
func (p *OutboxPublisher) Run(ctx context.Context) error {
	p.logger.Info("Outbox publisher started",
		"batch_size", p.cfg.BatchSize,
		"max_retry", p.cfg.MaxRetry,
		"poll_interval", p.cfg.PollInterval,
	)

	backoff := infra.NewBackoff(p.cfg.PollInterval, time.Minute, 2.0)

	for {
		wait := p.cfg.PollInterval

		if err := p.ProcessNextBatch(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			wait = backoff.Next()
			p.logger.Error("Batch processing error", "retry_in", wait, "error", err)
		} else {
			backoff.Reset()
		}

		if err := infra.Sleep(ctx, wait); err != nil {
			break
		}
	}

	p.logger.Info("Outbox publisher stopped")
	return nil
}

// ProcessNextBatch runs a single polling cycle
func (p *OutboxPublisher) ProcessNextBatch(ctx context.Context) error {
	start := time.Now()

	messages, err := p.repo.PollPending(ctx, p.cfg.BatchSize, p.cfg.MaxRetry)
	if err != nil {
		return fmt.Errorf("fetch failure: %w", err)
	}
	if len(messages) == 0 {
		return nil
	}

	metrics.BatchSize.Observe(float64(len(messages)))
	defer func() {
		metrics.BatchDuration.Observe(time.Since(start).Seconds())
		p.logger.Info("Batch cycle telemetry",
			"count", len(messages),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	for i, msg := range messages {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("Shutdown signal received, leaving the rest of the batch pending",
				"remaining", len(messages)-i)
			return err
		}
		p.publishOne(ctx, msg)
	}
	return nil
}

func (p *OutboxPublisher) publishOne(ctx context.Context, msg models.OutboxMessage) {
	l := p.logger.With("message_id", msg.ID, "event_type", msg.EventType)

	t, err := topology.Resolve(msg.EventType)
	if err != nil {
		l.Error("No topology for event type", "error", err)
		p.recordFailure(ctx, l, msg, "unsupported", err)
		return
	}

	start := time.Now()
	err = p.broker.Publish(ctx, t, msg)
	metrics.PublishDuration.WithLabelValues(string(msg.EventType)).Observe(time.Since(start).Seconds())

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			l.Warn("Publish interrupted by shutdown, message stays pending")
			return
		}
		l.Error("Broker publish failed", "retry_count", msg.RetryCount, "error", err)
		p.recordFailure(ctx, l, msg, "retry", err)
		return
	}

	finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err := p.repo.MarkPublished(finalizeCtx, msg.ID); err != nil {
		// The next poll will publish it again
		l.Error("Message sent but failed to update status in DB", "error", err)
		metrics.MessagesProcessed.WithLabelValues("error", string(msg.EventType)).Inc()
		return
	}

	l.Info("Message published")
	metrics.MessagesProcessed.WithLabelValues("sent", string(msg.EventType)).Inc()
}

func (p *OutboxPublisher) recordFailure(ctx context.Context, l *slog.Logger, msg models.OutboxMessage, status string, cause error) {
	finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	retries, err := p.repo.IncrementRetry(finalizeCtx, msg.ID)
	if err != nil {
		l.Error("Failed to record publish failure", "error", err)
		return
	}
	metrics.MessagesProcessed.WithLabelValues(status, string(msg.EventType)).Inc()

	if retries < p.cfg.MaxRetry {
		return
	}

	msg.RetryCount = retries
	l.Error("Message exhausted its publish attempts and will no longer be polled",
		"retry_count", retries,
		"last_error", cause,
	)
	metrics.MessagesStranded.WithLabelValues(string(msg.EventType)).Inc()

	if err := p.repo.RecordStranded(finalizeCtx, msg, cause.Error()); err != nil {
		l.Error("Failed to park stranded message", "error", err)
	}
}
