package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOutboxMessage(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("UTC+8", 8*3600))

	msg, err := NewOutboxMessage(EventArticleDeleted, ArticleDeletedPayload{
		ArticleID:      42,
		SessionIDs:     []int{7, 8},
		CollectionName: "articles",
	}, now)
	require.NoError(t, err)

	_, err = uuid.Parse(msg.ID)
	assert.NoError(t, err)
	assert.Equal(t, EventArticleDeleted, msg.EventType)
	assert.False(t, msg.IsPublished)
	assert.Equal(t, 0, msg.RetryCount)
	assert.Equal(t, time.UTC, msg.CreatedTime.Location())
	assert.True(t, now.Equal(msg.CreatedTime))
	assert.JSONEq(t, `{"articleId":42,"sessionIds":[7,8],"collectionName":"articles"}`, string(msg.Payload))
}

func TestNewOutboxMessage_FreshIDs(t *testing.T) {
	a, err := NewOutboxMessage(EventChatSessionDeleted, ChatSessionDeletedPayload{SessionID: 1}, time.Now())
	require.NoError(t, err)
	b, err := NewOutboxMessage(EventChatSessionDeleted, ChatSessionDeletedPayload{SessionID: 1}, time.Now())
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
}

func TestNewOutboxMessage_UnserializablePayload(t *testing.T) {
	_, err := NewOutboxMessage(EventArticleDeleted, map[string]any{"bad": make(chan int)}, time.Now())

	var unsupported *json.UnsupportedTypeError
	assert.ErrorAs(t, err, &unsupported)
}
