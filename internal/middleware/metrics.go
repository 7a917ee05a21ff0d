package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Message metrics
	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_bot_messages_received_total",
		Help: "Total number of messages received",
	}, []string{"chat_type"})

	messagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_bot_messages_processed_total",
		Help: "Total number of messages processed",
	}, []string{"status"})

	commandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_bot_commands_executed_total",
		Help: "Total number of commands executed",
	}, []string{"command"})

	// Request lifecycle metrics
	requestOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_bot_request_outcomes_total",
		Help: "Admitted requests by terminal outcome",
	}, []string{"outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_bot_request_duration_seconds",
		Help:    "Duration of admitted requests from admission to delivery",
		Buckets: []float64{.25, .5, 1, 2, 3, 5, 7, 9, 12, 15},
	}, []string{"outcome"})

	requestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_bot_requests_in_flight",
		Help: "Number of requests currently waiting for the generation backend",
	})

	admissionRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_bot_admission_rejected_total",
		Help: "Messages rejected because the user already had a request in flight",
	})

	// Cache metrics
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_bot_cache_hits_total",
		Help: "Total number of cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_bot_cache_misses_total",
		Help: "Total number of cache misses",
	})

	rateLimitExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_bot_rate_limit_exceeded_total",
		Help: "Total number of rate limit exceeded events",
	})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordMessageReceived records a received message
func (m *Metrics) RecordMessageReceived(chatType string) {
	messagesReceived.WithLabelValues(chatType).Inc()
}

// RecordMessageProcessed records a processed message
func (m *Metrics) RecordMessageProcessed(status string) {
	messagesProcessed.WithLabelValues(status).Inc()
}

// RecordCommandExecuted records an executed command
func (m *Metrics) RecordCommandExecuted(command string) {
	commandsExecuted.WithLabelValues(command).Inc()
}

// RecordOutcome records the terminal outcome of an admitted request.
func (m *Metrics) RecordOutcome(kind string, duration time.Duration) {
	requestOutcomes.WithLabelValues(kind).Inc()
	requestDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *Metrics) RecordAdmissionRejected() {
	admissionRejected.Inc()
}

func (m *Metrics) IncInFlight() {
	requestsInFlight.Inc()
}

func (m *Metrics) DecInFlight() {
	requestsInFlight.Dec()
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit() {
	cacheHits.Inc()
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss() {
	cacheMisses.Inc()
}

// RecordRateLimitExceeded records a rate limit exceeded event
func (m *Metrics) RecordRateLimitExceeded() {
	rateLimitExceeded.Inc()
}
