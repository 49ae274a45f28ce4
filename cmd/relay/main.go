package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/Guizzs26/outbox-relay/cmd/relay/commands"
	"github.com/Guizzs26/outbox-relay/internal/config"
	"github.com/Guizzs26/outbox-relay/internal/db"
	"github.com/Guizzs26/outbox-relay/pkg/infra"
)

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	cmd := &cli.Command{
		Name:    "relay",
		Usage:   "Transactional outbox relay for article and chat events",
		Version: "1.0.0",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Publish pending outbox messages and drain dead-letter queues",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunRelay(ctx, cfg, logger)
				},
			},
			{
				Name:  "migrate",
				Usage: "Run database migrations",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunMigrations(logger, cfg.DBDriver, cfg.DatabaseURL)
				},
			},
			{
				Name:  "stranded",
				Usage: "List messages that exhausted their publish attempts",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"l"},
						Value:   50,
						Usage:   "Maximum number of messages to show",
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Value:   "text",
						Usage:   "Output format: 'text' or 'json'",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					repo, closeDB, err := openRepository(ctx, cfg, logger)
					if err != nil {
						return err
					}
					defer closeDB()
					return commands.RunListStranded(ctx, repo, os.Stdout, cfg.MaxRetry, cmd.Int("limit"), cmd.String("format"))
				},
			},
			{
				Name:  "requeue",
				Usage: "Reset the retry counter of a stranded message",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "id",
						Aliases:  []string{"i"},
						Required: true,
						Usage:    "Outbox message ID",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					repo, closeDB, err := openRepository(ctx, cfg, logger)
					if err != nil {
						return err
					}
					defer closeDB()
					return commands.RunRequeue(ctx, repo, logger, os.Stdout, cmd.String("id"), cfg.MaxRetry)
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Error("Application error", "error", err)
		infra.CloseLogger()
		os.Exit(1)
	}
}

func openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (db.OutboxRepository, func(), error) {
	sqlDB, err := db.Connect(ctx, db.Options{
		Driver:             cfg.DBDriver,
		ConnectionString:   cfg.DatabaseURL,
		MaxOpenConnections: 2,
		MaxIdleConnections: 1,
		ConnMaxLifetime:    cfg.DBConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo, err := db.NewOutboxRepository(cfg.DBDriver, sqlDB)
	if err != nil {
		sqlDB.Close()
		return nil, nil, err
	}
	return repo, func() { sqlDB.Close() }, nil
}
