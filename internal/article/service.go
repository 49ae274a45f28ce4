package article

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

// CollectionName identifies the document collection that mirrors articles downstream
const CollectionName = "articles"

var ErrArticleNotFound = errors.New("article not found")

// OutboxAppender writes an outbox row on the transaction carried by ctx
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

// DeleteArticle removes the article with its user links and records an
// ArticleDeleted event in the same transaction. It returns the ids of the chat
// sessions that referenced the article.
func (s *Service) DeleteArticle(ctx context.Context, articleID int) ([]int, error) {
	var sessionIDs []int

	err := s.txManager.WithTx(ctx, func(ctx context.Context) error {
		q := db.GetTx(ctx, s.db)

		ids, err := s.linkedSessions(ctx, q, articleID)
		if err != nil {
			return err
		}

		if _, err := q.ExecContext(ctx, s.rebind(`DELETE FROM article_users WHERE article_id = ?`), articleID); err != nil {
			return fmt.Errorf("failed to delete article users: %w", err)
		}

		res, err := q.ExecContext(ctx, s.rebind(`DELETE FROM articles WHERE article_id = ?`), articleID)
		if err != nil {
			return fmt.Errorf("failed to delete article: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrArticleNotFound
		}

		msg, err := models.NewOutboxMessage(models.EventArticleDeleted, models.ArticleDeletedPayload{
			ArticleID:      articleID,
			SessionIDs:     ids,
			CollectionName: CollectionName,
		}, s.now())
		if err != nil {
			return fmt.Errorf("failed to build outbox message: %w", err)
		}
		if err := s.outbox.Append(ctx, msg); err != nil {
			return err
		}

		sessionIDs = ids
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Article deleted", "article_id", articleID, "sessions", len(sessionIDs))
	return sessionIDs, nil
}

func (s *Service) linkedSessions(ctx context.Context, q db.Querier, articleID int) ([]int, error) {
	rows, err := q.QueryContext(ctx,
		s.rebind(`SELECT session_id FROM article_chat_sessions WHERE article_id = ? ORDER BY session_id`), articleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load article sessions: %w", err)
	}
	defer rows.Close()

	ids := make([]int, 0)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Service) rebind(query string) string {
	return db.Rebind(s.driver, query)
}
