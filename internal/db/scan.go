package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Guizzs26/outbox-relay/internal/models"
)

func scanMessages(rows *sql.Rows) ([]models.OutboxMessage, error) {
	defer rows.Close()

	var messages []models.OutboxMessage
	for rows.Next() {
		var (
			msg       models.OutboxMessage
			eventType string
			payload   []byte
		)
		err := rows.Scan(
			&msg.ID,
			&eventType,
			&payload,
			&msg.CreatedTime,
			&msg.IsPublished,
			&msg.RetryCount,
		)
		if err != nil {
			return nil, fmt.Errorf("outbox scan failed: %w", err)
		}
		msg.EventType = models.EventType(eventType)
		msg.Payload = json.RawMessage(payload)
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox iteration failed: %w", err)
	}
	return messages, nil
}

func scanStranded(rows *sql.Rows) ([]models.StrandedMessage, error) {
	defer rows.Close()

	var out []models.StrandedMessage
	for rows.Next() {
		var (
			s         models.StrandedMessage
			eventType string
		)
		if err := rows.Scan(&s.MessageID, &eventType, &s.RetryCount, &s.Reason, &s.StrandedAt); err != nil {
			return nil, fmt.Errorf("stranded scan failed: %w", err)
		}
		s.EventType = models.EventType(eventType)
		out = append(out, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stranded iteration failed: %w", err)
	}
	return out, nil
}

func count(ctx context.Context, q Querier, query string, args ...any) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count query failed: %w", err)
	}
	return n, nil
}
