package commands

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/Guizzs26/outbox-relay/internal/db"
)

// RunMigrations applies every pending migration for the configured driver
func RunMigrations(logger *slog.Logger, driver, connString string) error {
	logger.Info("Running database migrations", "driver", driver)

	migrationsPath := "file://migrations/postgresql"
	if driver == db.DriverMySQL {
		migrationsPath = "file://migrations/mysql"
	}

	dbURL, err := db.MigrationURL(driver, connString)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	m, err := migrate.New(migrationsPath, dbURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer closeMigrate(m, logger)

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Migrations completed successfully")
	return nil
}

func closeMigrate(m *migrate.Migrate, logger *slog.Logger) {
	sourceErr, databaseErr := m.Close()
	if sourceErr != nil || databaseErr != nil {
		logger.Error("Failed to close the migrate instance",
			"source_error", sourceErr,
			"database_error", databaseErr,
		)
	}
}
