package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catchmate_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// ActiveConnections tracks live websocket chat connections.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catchmate_chat_connections",
			Help: "Number of active chat connections",
		},
	)

	// MessagesAppended counts chat messages accepted into the log.
	MessagesAppended = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catchmate_chat_messages_total",
			Help: "Total number of chat messages appended",
		},
	)

	// PushAttempts counts push gateway deliveries by result (success|failure).
	PushAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catchmate_push_attempts_total",
			Help: "Total number of push delivery attempts",
		},
		[]string{"result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catchmate_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
