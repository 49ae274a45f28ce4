package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/outbox-relay/internal/db"
	"github.com/Guizzs26/outbox-relay/internal/models"
)

var ErrChatSessionNotFound = errors.New("chat session not found")

type OutboxAppender interface {
	Append(ctx context.Context, msg models.OutboxMessage) error
}

type Service struct {
	db        *sql.DB
	driver    string
	txManager db.TxManager
	outbox    OutboxAppender
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(sqlDB *sql.DB, driver string, tm db.TxManager, outbox OutboxAppender, l *slog.Logger) *Service {
	return &Service{
		db:        sqlDB,
		driver:    driver,
		txManager: tm,
		outbox:    outbox,
		logger:    l,
		now:       time.Now,
	}
}

// DeleteChatSession drops the session and its article links, then records a
// ChatSessionDeleted event. Nothing is written when the session does not exist.
func (s *Service) DeleteChatSession(ctx context.Context, sessionID int) error {
	deletedAt := s.now().UTC()

	err := s.txManager.WithTx(ctx, func(ctx context.Context) error {
		q := db.GetTx(ctx, s.db)

		if _, err := q.ExecContext(ctx,
			db.Rebind(s.driver, `DELETE FROM article_chat_sessions WHERE session_id = ?`), sessionID); err != nil {
			return fmt.Errorf("failed to unlink chat session: %w", err)
		}

		res, err := q.ExecContext(ctx, db.Rebind(s.driver, `DELETE FROM chat_sessions WHERE session_id = ?`), sessionID)
		if err != nil {
			return fmt.Errorf("failed to delete chat session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrChatSessionNotFound
		}

		msg, err := models.NewOutboxMessage(models.EventChatSessionDeleted, models.ChatSessionDeletedPayload{
			SessionID: sessionID,
			DeletedAt: deletedAt,
		}, deletedAt)
		if err != nil {
			return fmt.Errorf("failed to build outbox message: %w", err)
		}
		return s.outbox.Append(ctx, msg)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Chat session deleted", "session_id", sessionID)
	return nil
}
