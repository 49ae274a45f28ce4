package db

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/outbox-relay/internal/models"
)

var outboxColumns = []string{"id", "event_type", "payload", "created_time", "is_published", "retry_count"}

func newMockDB(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		sqlDB.Close()
	})

	return NewPostgresRepository(sqlDB), mock
}

func sampleMessage() models.OutboxMessage {
	return models.OutboxMessage{
		ID:          "m1",
		EventType:   models.EventArticleDeleted,
		Payload:     json.RawMessage(`{"articleId":42}`),
		CreatedTime: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestPostgresRepository_Append_RequiresTransaction(t *testing.T) {
	repo, _ := newMockDB(t)

	err := repo.Append(context.Background(), sampleMessage())
	assert.ErrorIs(t, err, ErrNoTransaction)
}

func TestPostgresRepository_Append_CommitsWithCaller(t *testing.T) {
	repo, mock := newMockDB(t)
	msg := sampleMessage()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_messages")).
		WithArgs("m1", "ArticleDeleted", `{"articleId":42}`, msg.CreatedTime, false, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := NewTxManager(repo.db).WithTx(context.Background(), func(ctx context.Context) error {
		return repo.Append(ctx, msg)
	})
	assert.NoError(t, err)
}

func TestPostgresRepository_Append_RollsBackWithCaller(t *testing.T) {
	repo, mock := newMockDB(t)
	businessErr := errors.New("article delete failed")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_messages")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := NewTxManager(repo.db).WithTx(context.Background(), func(ctx context.Context) error {
		if err := repo.Append(ctx, sampleMessage()); err != nil {
			return err
		}
		return businessErr
	})
	assert.ErrorIs(t, err, businessErr)
}

func TestPostgresRepository_PollPending(t *testing.T) {
	repo, mock := newMockDB(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE is_published = FALSE AND retry_count < $1 ORDER BY created_time ASC LIMIT $2")).
		WithArgs(3, 100).
		WillReturnRows(sqlmock.NewRows(outboxColumns).
			AddRow("m1", "ArticleDeleted", []byte(`{"articleId":42}`), created, false, 0).
			AddRow("m2", "ChatSessionDeleted", []byte(`{"sessionId":7}`), created.Add(time.Second), false, 2))

	messages, err := repo.PollPending(context.Background(), 100, 3)
	require.NoError(t, err)
	require.Len(t, messages, 2)

	assert.Equal(t, "m1", messages[0].ID)
	assert.Equal(t, models.EventArticleDeleted, messages[0].EventType)
	assert.JSONEq(t, `{"articleId":42}`, string(messages[0].Payload))
	assert.Equal(t, created, messages[0].CreatedTime)
	assert.Equal(t, models.EventChatSessionDeleted, messages[1].EventType)
	assert.Equal(t, 2, messages[1].RetryCount)
}

func TestPostgresRepository_PollPending_QueryError(t *testing.T) {
	repo, mock := newMockDB(t)
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset"))

	_, err := repo.PollPending(context.Background(), 100, 3)
	assert.ErrorContains(t, err, "failed to poll outbox")
}

func TestPostgresRepository_MarkPublished(t *testing.T) {
	repo, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox_messages SET is_published = TRUE WHERE id = $1 AND is_published = FALSE")).
		WithArgs("m1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.MarkPublished(context.Background(), "m1"))
}

func TestPostgresRepository_IncrementRetry(t *testing.T) {
	repo, mock := newMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta("SET retry_count = retry_count + 1")).
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows([]string{"retry_count"}).AddRow(2))

	n, err := repo.IncrementRetry(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPostgresRepository_IncrementRetry_NotFound(t *testing.T) {
	repo, mock := newMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta("SET retry_count = retry_count + 1")).
		WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"retry_count"}))

	_, err := repo.IncrementRetry(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestPostgresRepository_RecordStranded(t *testing.T) {
	repo, mock := newMockDB(t)
	msg := sampleMessage()
	msg.RetryCount = 3

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_stranded_messages")).
		WithArgs("m1", "ArticleDeleted", 3, "confirm timeout").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.RecordStranded(context.Background(), msg, "confirm timeout"))
}

func TestPostgresRepository_ListStranded(t *testing.T) {
	repo, mock := newMockDB(t)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("LEFT JOIN outbox_stranded_messages s ON s.message_id = m.id")).
		WithArgs(3, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_type", "retry_count", "reason", "stranded_at"}).
			AddRow("m1", "ArticleDeleted", 3, "confirm timeout", at))

	out, err := repo.ListStranded(context.Background(), 3, 50)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, models.StrandedMessage{
		MessageID:  "m1",
		EventType:  models.EventArticleDeleted,
		RetryCount: 3,
		Reason:     "confirm timeout",
		StrandedAt: at,
	}, out[0])
}

func TestPostgresRepository_Counts(t *testing.T) {
	repo, mock := newMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta("retry_count < $1")).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery(regexp.QuoteMeta("retry_count >= $1")).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	pending, err := repo.CountPending(context.Background(), 3)
	require.NoError(t, err)
	stranded, err := repo.CountStranded(context.Background(), 3)
	require.NoError(t, err)

	assert.Equal(t, 12, pending)
	assert.Equal(t, 4, stranded)
}

func TestPostgresRepository_Requeue(t *testing.T) {
	repo, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox_messages SET retry_count = 0 WHERE id = $1 AND is_published = FALSE AND retry_count >= $2")).
		WithArgs("m1", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM outbox_stranded_messages")).
		WithArgs("m1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assert.NoError(t, repo.Requeue(context.Background(), "m1", 3))
}

// A message still under the limit, already published or unknown matches no row
func TestPostgresRepository_Requeue_NotStranded(t *testing.T) {
	repo, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("retry_count >= $2")).
		WithArgs("m1", 3).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	assert.ErrorIs(t, repo.Requeue(context.Background(), "m1", 3), ErrNotStranded)
}
