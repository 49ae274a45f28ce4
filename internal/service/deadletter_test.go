package service

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Guizzs26/outbox-relay/internal/broker/brokertest"
	"github.com/Guizzs26/outbox-relay/internal/models"
)

func TestDeadLetterService_DrainsQueue(t *testing.T) {
	defer goleak.VerifyNone(t)

	fake := brokertest.New()
	acker := brokertest.NewAcker()

	svc := NewDeadLetterService(DeadLetterConfig{
		URL:        "amqp://test",
		Dial:       fake.Dial,
		Prefetch:   10,
		EventTypes: []models.EventType{models.EventArticleDeleted},
	}, NewDeadLetterInspector(discardLogger()), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	fake.Deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 1, MessageId: "m1", Body: []byte(`{"articleId":42}`)}
	fake.Deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 2, Body: []byte(`{}`)}
	acker.Wait(2)

	cancel()
	require.NoError(t, <-done)

	acked, nacked, requeued := acker.Results()
	assert.Equal(t, []uint64{1}, acked)
	assert.Equal(t, []uint64{2}, nacked)
	assert.Empty(t, requeued)

	_, _, declared := fake.Snapshot()
	assert.Contains(t, declared, brokertest.Declared{Kind: "queue", Name: "article_dead_queue"})
}

func TestDeadLetterService_ReconnectsAfterDialFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	fake := brokertest.New()
	fake.DialErr = errors.New("connection refused")

	svc := NewDeadLetterService(DeadLetterConfig{
		URL:           "amqp://test",
		Dial:          fake.Dial,
		Prefetch:      1,
		EventTypes:    []models.EventType{models.EventChatSessionDeleted},
		ReconnectBase: 2 * time.Millisecond,
	}, NewDeadLetterInspector(discardLogger()), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		dials, _, _ := fake.Snapshot()
		return dials >= 3
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dead-letter service did not stop")
	}
}

func TestNewDeadLetterService_DefaultsToAllEventTypes(t *testing.T) {
	svc := NewDeadLetterService(DeadLetterConfig{}, nil, discardLogger())
	assert.ElementsMatch(t,
		[]models.EventType{models.EventArticleDeleted, models.EventChatSessionDeleted},
		svc.cfg.EventTypes)
	assert.Equal(t, time.Second, svc.cfg.ReconnectBase)
}

func TestDeadLetterInspector_Handle(t *testing.T) {
	h := NewDeadLetterInspector(discardLogger())

	tests := []struct {
		name    string
		d       amqp.Delivery
		wantErr error
	}{
		{
			name: "message id property",
			d:    amqp.Delivery{MessageId: "m1", Body: []byte(`{"sessionId":7}`)},
		},
		{
			name: "message id header fallback",
			d:    amqp.Delivery{Headers: amqp.Table{"message_id": "m2"}, Body: []byte(`{}`)},
		},
		{
			name:    "missing id",
			d:       amqp.Delivery{Body: []byte(`{}`)},
			wantErr: ErrMissingMessageID,
		},
		{
			name:    "malformed body",
			d:       amqp.Delivery{MessageId: "m3", Body: []byte(`not json`)},
			wantErr: ErrMalformedPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.Handle(context.Background(), models.EventChatSessionDeleted, tt.d)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestReadDeath(t *testing.T) {
	headers := amqp.Table{
		"x-death": []any{
			amqp.Table{"reason": "rejected", "queue": "chat_deleted_queue", "count": int64(2)},
			amqp.Table{"reason": "expired", "queue": "other", "count": int64(1)},
		},
	}

	info := readDeath(headers)
	assert.Equal(t, deathInfo{Reason: "rejected", Queue: "chat_deleted_queue", Count: 2}, info)

	assert.Equal(t, deathInfo{}, readDeath(nil))
	assert.Equal(t, deathInfo{}, readDeath(amqp.Table{"x-death": "garbage"}))
}
