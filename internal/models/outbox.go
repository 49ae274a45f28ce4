package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType tags an outbox row and selects its broker topology and payload schema
type EventType string

const (
	EventArticleDeleted     EventType = "ArticleDeleted"
	EventChatSessionDeleted EventType = "ChatSessionDeleted"
)

// OutboxMessage represents a row in the outbox_messages table
type OutboxMessage struct {
	ID          string          `db:"id"`
	EventType   EventType       `db:"event_type"`
	Payload     json.RawMessage `db:"payload"`
	CreatedTime time.Time       `db:"created_time"`
	IsPublished bool            `db:"is_published"`
	RetryCount  int             `db:"retry_count"`
}

// NewOutboxMessage builds an unpublished message with a fresh ID.
// The payload is serialized once here and never touched again.
func NewOutboxMessage(eventType EventType, payload any, now time.Time) (OutboxMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return OutboxMessage{}, err
	}

	return OutboxMessage{
		ID:          uuid.NewString(),
		EventType:   eventType,
		Payload:     body,
		CreatedTime: now.UTC(),
		IsPublished: false,
		RetryCount:  0,
	}, nil
}

// StrandedMessage is a message that exhausted its publish attempts and needs manual intervention
type StrandedMessage struct {
	MessageID  string    `db:"message_id"`
	EventType  EventType `db:"event_type"`
	RetryCount int       `db:"retry_count"`
	Reason     string    `db:"reason"`
	StrandedAt time.Time `db:"stranded_at"`
}

// ArticleDeletedPayload is the body of an ArticleDeleted event
type ArticleDeletedPayload struct {
	ArticleID      int    `json:"articleId"`
	SessionIDs     []int  `json:"sessionIds"`
	CollectionName string `json:"collectionName"`
}

// ChatSessionDeletedPayload is the body of a ChatSessionDeleted event
type ChatSessionDeletedPayload struct {
	SessionID int       `json:"sessionId"`
	DeletedAt time.Time `json:"deletedAt"`
}
