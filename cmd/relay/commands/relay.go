package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Guizzs26/outbox-relay/internal/broker"
	"github.com/Guizzs26/outbox-relay/internal/config"
	"github.com/Guizzs26/outbox-relay/internal/db"
	"github.com/Guizzs26/outbox-relay/internal/service"
)

// RunRelay starts the outbox publisher, the dead-letter listeners, the janitor
// and the observability server, and blocks until SIGINT or SIGTERM.
func RunRelay(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := db.Connect(ctx, dbOptions(cfg), logger)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	repo, err := db.NewOutboxRepository(cfg.DBDriver, sqlDB)
	if err != nil {
		return err
	}

	dial := broker.NewAMQPDialer(cfg.DialTimeout)
	rabbitmq := broker.NewRabbitMQClient(cfg.RabbitMQURL, dial, cfg.ConfirmTimeout, logger)

	publisher := service.NewOutboxPublisher(repo, rabbitmq, service.PublisherConfig{
		BatchSize:    cfg.BatchSize,
		MaxRetry:     cfg.MaxRetry,
		PollInterval: cfg.PollInterval,
	}, logger)

	deadLetters := service.NewDeadLetterService(service.DeadLetterConfig{
		URL:      cfg.RabbitMQURL,
		Dial:     dial,
		Prefetch: cfg.DeadLetterPrefetch,
	}, service.NewDeadLetterInspector(logger), logger)

	janitor := service.NewJanitor(repo, cfg.MaxRetry, cfg.MaintenanceInterval, logger)
	server := newObservabilityServer(cfg.MetricsPort)

	logger.Info("Outbox relay started", "pid", os.Getpid(), "driver", cfg.DBDriver)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return publisher.Run(gctx) })
	g.Go(func() error { return deadLetters.Run(gctx) })
	g.Go(func() error { return janitor.Run(gctx) })
	g.Go(func() error {
		logger.Info("Observability server online", "url", "http://localhost"+server.Addr+"/metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("observability server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("Shutdown complete")
	return err
}

func newObservabilityServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("RELAY ALIVE"))
	})

	return &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

func dbOptions(cfg *config.Config) db.Options {
	return db.Options{
		Driver:             cfg.DBDriver,
		ConnectionString:   cfg.DatabaseURL,
		MaxOpenConnections: cfg.DBMaxOpenConnections,
		MaxIdleConnections: cfg.DBMaxIdleConnections,
		ConnMaxLifetime:    cfg.DBConnMaxLifetime,
	}
}
