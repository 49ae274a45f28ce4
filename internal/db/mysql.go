package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Guizzs26/outbox-relay/internal/models"
)

// MySQLRepository persists outbox rows in MySQL. The DSN must set parseTime=true.
type MySQLRepository struct {
	db *sql.DB
}

func NewMySQLRepository(db *sql.DB) *MySQLRepository {
	return &MySQLRepository{db: db}
}

func (r *MySQLRepository) Append(ctx context.Context, msg models.OutboxMessage) error {
	tx, ok := TxFromContext(ctx)
	if !ok {
		return ErrNoTransaction
	}

	query := `
		INSERT INTO outbox_messages (id, event_type, payload, created_time, is_published, retry_count)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, query,
		msg.ID, string(msg.EventType), string(msg.Payload), msg.CreatedTime, msg.IsPublished, msg.RetryCount,
	)
	if err != nil {
		return fmt.Errorf("failed to append outbox message: %w", err)
	}
	return nil
}

func (r *MySQLRepository) PollPending(ctx context.Context, batchSize, maxRetry int) ([]models.OutboxMessage, error) {
	query := `
		SELECT id, event_type, payload, created_time, is_published, retry_count
		FROM outbox_messages
		WHERE is_published = FALSE AND retry_count < ?
		ORDER BY created_time ASC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, maxRetry, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to poll outbox: %w", err)
	}
	return scanMessages(rows)
}

func (r *MySQLRepository) MarkPublished(ctx context.Context, id string) error {
	query := `UPDATE outbox_messages SET is_published = TRUE WHERE id = ? AND is_published = FALSE`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark message %s as published: %w", id, err)
	}
	return nil
}

// IncrementRetry has no RETURNING in MySQL, so the update and the read share a
// short transaction of their own.
func (r *MySQLRepository) IncrementRetry(ctx context.Context, id string) (int, error) {
	var retries int
	err := NewTxManager(r.db).WithTx(ctx, func(ctx context.Context) error {
		q := GetTx(ctx, r.db)

		res, err := q.ExecContext(ctx,
			`UPDATE outbox_messages SET retry_count = retry_count + 1 WHERE id = ? AND is_published = FALSE`, id)
		if err != nil {
			return fmt.Errorf("failed to increment retry for %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrMessageNotFound
		}

		if err := q.QueryRowContext(ctx, `SELECT retry_count FROM outbox_messages WHERE id = ?`, id).Scan(&retries); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrMessageNotFound
			}
			return fmt.Errorf("failed to read retry count for %s: %w", id, err)
		}
		return nil
	})
	return retries, err
}

func (r *MySQLRepository) RecordStranded(ctx context.Context, msg models.OutboxMessage, reason string) error {
	query := `
		INSERT INTO outbox_stranded_messages (message_id, event_type, retry_count, reason, stranded_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP(6))
		ON DUPLICATE KEY UPDATE retry_count = VALUES(retry_count), reason = VALUES(reason), stranded_at = VALUES(stranded_at)
	`
	if _, err := r.db.ExecContext(ctx, query, msg.ID, string(msg.EventType), msg.RetryCount, reason); err != nil {
		return fmt.Errorf("failed to record stranded message %s: %w", msg.ID, err)
	}
	return nil
}

// ListStranded returns the unpublished messages at or past the retry limit,
// oldest first. Rows parked before a reason could be recorded show an empty
// reason and their creation time.
func (r *MySQLRepository) ListStranded(ctx context.Context, maxRetry, limit int) ([]models.StrandedMessage, error) {
	query := `
		SELECT m.id, m.event_type, m.retry_count, COALESCE(s.reason, ''), COALESCE(s.stranded_at, m.created_time)
		FROM outbox_messages m
		LEFT JOIN outbox_stranded_messages s ON s.message_id = m.id
		WHERE m.is_published = FALSE AND m.retry_count >= ?
		ORDER BY m.created_time ASC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, maxRetry, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stranded messages: %w", err)
	}
	return scanStranded(rows)
}

func (r *MySQLRepository) CountPending(ctx context.Context, maxRetry int) (int, error) {
	return count(ctx, r.db,
		`SELECT COUNT(*) FROM outbox_messages WHERE is_published = FALSE AND retry_count < ?`, maxRetry)
}

func (r *MySQLRepository) CountStranded(ctx context.Context, maxRetry int) (int, error) {
	return count(ctx, r.db,
		`SELECT COUNT(*) FROM outbox_messages WHERE is_published = FALSE AND retry_count >= ?`, maxRetry)
}

func (r *MySQLRepository) Requeue(ctx context.Context, id string, maxRetry int) error {
	return NewTxManager(r.db).WithTx(ctx, func(ctx context.Context) error {
		q := GetTx(ctx, r.db)

		res, err := q.ExecContext(ctx,
			`UPDATE outbox_messages SET retry_count = 0 WHERE id = ? AND is_published = FALSE AND retry_count >= ?`,
			id, maxRetry)
		if err != nil {
			return fmt.Errorf("failed to reset retry count: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotStranded
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM outbox_stranded_messages WHERE message_id = ?`, id); err != nil {
			return fmt.Errorf("failed to clear stranded record: %w", err)
		}
		return nil
	})
}
