// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "interview_relay"

// Relay directions used as label values.
const (
	DirectionClientToBackend = "client_to_backend"
	DirectionBackendToClient = "backend_to_client"
)

// Metrics holds all Prometheus metrics for the relay.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionsClosed  *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Backend metrics
	BackendConnectLatency prometheus.Histogram
	BackendConnectErrors  prometheus.Counter

	// Relay metrics
	MessagesRelayed *prometheus.CounterVec
	MessagesDropped *prometheus.CounterVec
	BytesRelayed    *prometheus.CounterVec

	ScoresObserved prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal  *prometheus.CounterVec
	KafkaPublishErrors *prometheus.CounterVec
}

// DefaultMetrics is the process-wide instance registered with the default registry.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates and registers all relay metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of relay sessions accepted",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently open relay sessions",
		}),
		SessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Total number of relay sessions closed, by reason",
		}, []string{"reason"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Lifetime of relay sessions in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		}),

		BackendConnectLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_connect_latency_seconds",
			Help:      "Time to open the realtime backend connection",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		BackendConnectErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_connect_errors_total",
			Help:      "Total number of failed realtime backend connection attempts",
		}),

		MessagesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_relayed_total",
			Help:      "Total number of messages forwarded, by direction",
		}, []string{"direction"}),
		MessagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Total number of messages dropped instead of forwarded",
		}, []string{"direction", "reason"}),
		BytesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_relayed_total",
			Help:      "Total payload bytes forwarded, by direction",
		}, []string{"direction"}),

		ScoresObserved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scores_observed_total",
			Help:      "Total number of scoring function calls relayed to clients",
		}),

		KafkaPublishTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka publish attempts",
		}, []string{"event_type"}),
		KafkaPublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of failed Kafka publishes",
		}, []string{"event_type"}),
	}
}

// RecordSessionStart records a new session being accepted.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session closing.
func (m *Metrics) RecordSessionEnd(reason string, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionsClosed.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordBackendConnect records a backend dial attempt.
func (m *Metrics) RecordBackendConnect(err error, latencySeconds float64) {
	m.BackendConnectLatency.Observe(latencySeconds)
	if err != nil {
		m.BackendConnectErrors.Inc()
	}
}

// RecordRelayed records one forwarded message.
func (m *Metrics) RecordRelayed(direction string, bytes int) {
	m.MessagesRelayed.WithLabelValues(direction).Inc()
	m.BytesRelayed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordDropped records one message that was not forwarded.
func (m *Metrics) RecordDropped(direction, reason string) {
	m.MessagesDropped.WithLabelValues(direction, reason).Inc()
}

// RecordScore records a scoring function call passing through the relay.
func (m *Metrics) RecordScore() {
	m.ScoresObserved.Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(eventType string, err error) {
	m.KafkaPublishTotal.WithLabelValues(eventType).Inc()
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(eventType).Inc()
	}
}
