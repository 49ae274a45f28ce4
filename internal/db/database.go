package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Guizzs26/outbox-relay/internal/models"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

var (
	// ErrNoTransaction is returned when an outbox append is attempted outside of
	// the caller's unit of work
	ErrNoTransaction = errors.New("outbox append requires an active transaction")
	// ErrMessageNotFound is returned when no unpublished row matches the given id
	ErrMessageNotFound = errors.New("outbox message not found")
	// ErrNotStranded is returned by Requeue when the id is not an unpublished
	// message at or past the retry limit
	ErrNotStranded = errors.New("outbox message is not stranded")
)

// OutboxRepository is implemented by every supported SQL dialect
type OutboxRepository interface {
	Append(ctx context.Context, msg models.OutboxMessage) error
	PollPending(ctx context.Context, batchSize, maxRetry int) ([]models.OutboxMessage, error)
	MarkPublished(ctx context.Context, id string) error
	IncrementRetry(ctx context.Context, id string) (int, error)
	RecordStranded(ctx context.Context, msg models.OutboxMessage, reason string) error
	ListStranded(ctx context.Context, maxRetry, limit int) ([]models.StrandedMessage, error)
	CountPending(ctx context.Context, maxRetry int) (int, error)
	CountStranded(ctx context.Context, maxRetry int) (int, error)
	Requeue(ctx context.Context, id string, maxRetry int) error
}

var (
	_ OutboxRepository = (*PostgresRepository)(nil)
	_ OutboxRepository = (*MySQLRepository)(nil)
)

// NewOutboxRepository picks the store matching driver
func NewOutboxRepository(driver string, db *sql.DB) (OutboxRepository, error) {
	switch driver {
	case DriverPostgres:
		return NewPostgresRepository(db), nil
	case DriverMySQL:
		return NewMySQLRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", driver)
	}
}

// Options holds the connection pool settings
type Options struct {
	Driver             string
	ConnectionString   string
	MaxOpenConnections int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// Connect opens a pool for the configured driver and pings it
func Connect(ctx context.Context, opts Options, logger *slog.Logger) (*sql.DB, error) {
	driverName, err := sqlDriverName(opts.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, opts.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", opts.Driver, err)
	}

	db.SetMaxOpenConns(opts.MaxOpenConnections)
	db.SetMaxIdleConns(opts.MaxIdleConnections)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s ping failed: %w", opts.Driver, err)
	}

	logger.Info("Connected to database successfully", "driver", opts.Driver)
	return db, nil
}

// MigrationURL converts the connection string into the form golang-migrate expects
func MigrationURL(driver, connString string) (string, error) {
	switch driver {
	case DriverPostgres:
		return connString, nil
	case DriverMySQL:
		return "mysql://" + connString, nil
	default:
		return "", fmt.Errorf("unsupported database driver: %q", driver)
	}
}

func sqlDriverName(driver string) (string, error) {
	switch driver {
	case DriverPostgres:
		return "pgx", nil
	case DriverMySQL:
		return "mysql", nil
	default:
		return "", fmt.Errorf("unsupported database driver: %q", driver)
	}
}

// Rebind rewrites ? placeholders into $n for PostgreSQL and leaves other
// dialects untouched. Queries must not contain literal question marks.
func Rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
