package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Guizzs26/outbox-relay/internal/models"
)

// PostgresRepository persists outbox rows in PostgreSQL
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Append inserts msg on the transaction carried by ctx. It never commits on its own.
func (r *PostgresRepository) Append(ctx context.Context, msg models.OutboxMessage) error {
	tx, ok := TxFromContext(ctx)
	if !ok {
		return ErrNoTransaction
	}

	query := `
		INSERT INTO outbox_messages (id, event_type, payload, created_time, is_published, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := tx.ExecContext(ctx, query,
		msg.ID, string(msg.EventType), string(msg.Payload), msg.CreatedTime, msg.IsPublished, msg.RetryCount,
	)
	if err != nil {
		return fmt.Errorf("failed to append outbox message: %w", err)
	}
	return nil
}

func (r *PostgresRepository) PollPending(ctx context.Context, batchSize, maxRetry int) ([]models.OutboxMessage, error) {
	query := `
		SELECT id, event_type, payload, created_time, is_published, retry_count
		FROM outbox_messages
		WHERE is_published = FALSE AND retry_count < $1
		ORDER BY created_time ASC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, maxRetry, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to poll outbox: %w", err)
	}
	return scanMessages(rows)
}

// MarkPublished is committed immediately, outside any batch transaction
func (r *PostgresRepository) MarkPublished(ctx context.Context, id string) error {
	query := `UPDATE outbox_messages SET is_published = TRUE WHERE id = $1 AND is_published = FALSE`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark message %s as published: %w", id, err)
	}
	return nil
}

// IncrementRetry bumps the retry counter and returns its new value
func (r *PostgresRepository) IncrementRetry(ctx context.Context, id string) (int, error) {
	query := `
		UPDATE outbox_messages
		SET retry_count = retry_count + 1
		WHERE id = $1 AND is_published = FALSE
		RETURNING retry_count
	`
	var count int
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrMessageNotFound
		}
		return 0, fmt.Errorf("failed to increment retry for %s: %w", id, err)
	}
	return count, nil
}

func (r *PostgresRepository) RecordStranded(ctx context.Context, msg models.OutboxMessage, reason string) error {
	query := `
		INSERT INTO outbox_stranded_messages (message_id, event_type, retry_count, reason, stranded_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
		ON CONFLICT (message_id) DO UPDATE
		SET retry_count = EXCLUDED.retry_count, reason = EXCLUDED.reason, stranded_at = EXCLUDED.stranded_at
	`
	if _, err := r.db.ExecContext(ctx, query, msg.ID, string(msg.EventType), msg.RetryCount, reason); err != nil {
		return fmt.Errorf("failed to record stranded message %s: %w", msg.ID, err)
	}
	return nil
}

// ListStranded returns the unpublished messages at or past the retry limit,
// oldest first. Rows parked before a reason could be recorded show an empty
// reason and their creation time.
func (r *PostgresRepository) ListStranded(ctx context.Context, maxRetry, limit int) ([]models.StrandedMessage, error) {
	query := `
		SELECT m.id, m.event_type, m.retry_count, COALESCE(s.reason, ''), COALESCE(s.stranded_at, m.created_time)
		FROM outbox_messages m
		LEFT JOIN outbox_stranded_messages s ON s.message_id = m.id
		WHERE m.is_published = FALSE AND m.retry_count >= $1
		ORDER BY m.created_time ASC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, maxRetry, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stranded messages: %w", err)
	}
	return scanStranded(rows)
}

func (r *PostgresRepository) CountPending(ctx context.Context, maxRetry int) (int, error) {
	return count(ctx, r.db,
		`SELECT COUNT(*) FROM outbox_messages WHERE is_published = FALSE AND retry_count < $1`, maxRetry)
}

func (r *PostgresRepository) CountStranded(ctx context.Context, maxRetry int) (int, error) {
	return count(ctx, r.db,
		`SELECT COUNT(*) FROM outbox_messages WHERE is_published = FALSE AND retry_count >= $1`, maxRetry)
}

// Requeue makes an exhausted message eligible for polling again. Published
// messages and ones still under the retry limit are left untouched.
func (r *PostgresRepository) Requeue(ctx context.Context, id string, maxRetry int) error {
	return NewTxManager(r.db).WithTx(ctx, func(ctx context.Context) error {
		q := GetTx(ctx, r.db)

		res, err := q.ExecContext(ctx,
			`UPDATE outbox_messages SET retry_count = 0 WHERE id = $1 AND is_published = FALSE AND retry_count >= $2`,
			id, maxRetry)
		if err != nil {
			return fmt.Errorf("failed to reset retry count: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotStranded
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM outbox_stranded_messages WHERE message_id = $1`, id); err != nil {
			return fmt.Errorf("failed to clear stranded record: %w", err)
		}
		return nil
	})
}
