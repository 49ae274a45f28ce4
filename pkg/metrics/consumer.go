package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeadLetters tracks dead-letter consumption
	// status: inspected, discarded
	DeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_dead_letters_total",
		Help: "Dead-lettered messages drained by the relay",
	}, []string{"event_type", "status"})

	// DeadLetterHealthy is 1 while the listener for an event type holds an open channel
	DeadLetterHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_deadletter_healthy",
		Help: "Dead-letter listener health per event type (1 healthy, 0 reconnecting)",
	}, []string{"event_type"})

	// RabbitMQReconnections counts how many times a listener had to restore its link
	RabbitMQReconnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_rabbitmq_reconnections_total",
		Help: "Total number of RabbitMQ reconnection attempts",
	})
)
