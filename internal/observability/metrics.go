package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framez_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "framez_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// LiveQuerySubscriptions is the gauge of open live-query subscriptions per collection.
	LiveQuerySubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "framez_livequery_subscriptions",
		Help: "Number of open live-query subscriptions",
	}, []string{"collection"})

	// LiveQuerySnapshots counts snapshots pushed to subscribers.
	LiveQuerySnapshots = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framez_livequery_snapshots_total",
		Help: "Total live-query snapshots delivered",
	}, []string{"collection"})

	// ChangeEventsTotal counts document change events by broker and kind.
	ChangeEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framez_change_events_total",
		Help: "Total document change events observed on the bus",
	}, []string{"broker", "kind"})

	// WebSocketConnectionsTotal is the gauge of total WebSocket connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "framez_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framez_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})

	// MediaUploadBytes records stored upload sizes by backend.
	MediaUploadBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "framez_media_upload_bytes",
		Help:    "Size of stored media objects in bytes",
		Buckets: prometheus.ExponentialBuckets(16*1024, 4, 8),
	}, []string{"backend"})

	// PostMutations counts post mutations by operation and outcome.
	PostMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framez_post_mutations_total",
		Help: "Total post mutations by operation and outcome",
	}, []string{"operation", "outcome"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}

// RecordMutation increments the mutation counter with an ok/error outcome.
func RecordMutation(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	PostMutations.WithLabelValues(operation, outcome).Inc()
}
