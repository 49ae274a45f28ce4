package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesProcessed tracks every publish attempt outcome
	// status: sent, retry, unsupported, error
	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_processed_total",
		Help: "Total number of outbox messages processed by the relay",
	}, []string{"status", "event_type"})

	// PublishDuration covers connect, declare, publish and confirm for one message
	PublishDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_publish_duration_seconds",
		Help:    "Time spent publishing a single message including the broker confirm",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"event_type"})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_batch_duration_seconds",
		Help:    "Duration of batch processing in seconds",
		Buckets: prometheus.DefBuckets,
	})

	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_batch_size",
		Help:    "Number of messages processed per batch",
		Buckets: []float64{1, 10, 50, 100, 500, 1000},
	})

	// MessagesStranded counts messages that hit the retry cap during this process lifetime
	MessagesStranded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_stranded_total",
		Help: "Messages that exhausted their publish attempts",
	}, []string{"event_type"})

	// OutboxBacklog is the number of unpublished messages still eligible for polling
	OutboxBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_outbox_backlog",
		Help: "Current number of pending messages in the outbox table",
	})

	// OutboxStranded is the number of unpublished messages past the retry cap.
	// Anything above zero needs manual intervention.
	OutboxStranded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_outbox_stranded",
		Help: "Current number of unpublished messages that exhausted their retries",
	})
)
