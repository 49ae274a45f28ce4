// Package topology maps outbox event types to their RabbitMQ exchanges and queues.
package topology

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Guizzs26/outbox-relay/internal/models"
)

// ErrUnsupportedEventType is a configuration error and is never transient
var ErrUnsupportedEventType = errors.New("unsupported event type")

// Topology is the broker layout for a single event type. Every event type owns
// its exchange, queue and dead-letter pair so a poison message cannot stall
// another type's delivery.
type Topology struct {
	Exchange             string
	RoutingKey           string
	QueueName            string
	DeadLetterExchange   string
	DeadLetterRoutingKey string
	DeadLetterQueueName  string
}

var registry = map[models.EventType]Topology{
	models.EventChatSessionDeleted: {
		Exchange:             "chat_events",
		RoutingKey:           "chat.deleted",
		QueueName:            "chat_deleted_queue",
		DeadLetterExchange:   "chat_dlx",
		DeadLetterRoutingKey: "chat.dead",
		DeadLetterQueueName:  "chat_dead_queue",
	},
	models.EventArticleDeleted: {
		Exchange:             "article_events",
		RoutingKey:           "article.deleted",
		QueueName:            "article_deleted_queue",
		DeadLetterExchange:   "article_dlx",
		DeadLetterRoutingKey: "article.dead",
		DeadLetterQueueName:  "article_dead_queue",
	},
}

// Resolve returns the topology for eventType
func Resolve(eventType models.EventType) (Topology, error) {
	t, ok := registry[eventType]
	if !ok {
		return Topology{}, fmt.Errorf("%w: %q", ErrUnsupportedEventType, eventType)
	}
	return t, nil
}

// EventTypes lists every registered event type in a stable order
func EventTypes() []models.EventType {
	types := make([]models.EventType, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
