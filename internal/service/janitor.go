package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/outbox-relay/pkg/metrics"
)

type BacklogCounter interface {
	CountPending(ctx context.Context, maxRetry int) (int, error)
	CountStranded(ctx context.Context, maxRetry int) (int, error)
}

// Janitor periodically reports the outbox backlog and the messages the
// publisher has given up on
type Janitor struct {
	repo     BacklogCounter
	maxRetry int
	interval time.Duration
	logger   *slog.Logger
}

// defaultMaintenanceInterval replaces a non-positive interval
const defaultMaintenanceInterval = 5 * time.Minute

func NewJanitor(r BacklogCounter, maxRetry int, interval time.Duration, l *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = defaultMaintenanceInterval
	}
	return &Janitor{repo: r, maxRetry: maxRetry, interval: interval, logger: l}
}

func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		if _, _, err := j.Check(ctx); err != nil && ctx.Err() == nil {
			j.logger.Error("Janitor: health check failed", "error", err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			j.logger.Info("Janitor: stopping maintenance goroutine")
			return nil
		}
	}
}

// Check refreshes the backlog gauges once
func (j *Janitor) Check(ctx context.Context) (pending, stranded int, err error) {
	pending, err = j.repo.CountPending(ctx, j.maxRetry)
	if err != nil {
		return 0, 0, fmt.Errorf("count pending: %w", err)
	}
	stranded, err = j.repo.CountStranded(ctx, j.maxRetry)
	if err != nil {
		return pending, 0, fmt.Errorf("count stranded: %w", err)
	}

	metrics.OutboxBacklog.Set(float64(pending))
	metrics.OutboxStranded.Set(float64(stranded))

	if stranded > 0 {
		j.logger.Warn("Janitor: messages stranded past the retry limit, manual requeue required",
			"stranded", stranded,
			"max_retry", j.maxRetry,
		)
	}
	return pending, stranded, nil
}
