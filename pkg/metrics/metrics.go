// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WebhookEventsTotal tracks carrier webhook events by processing outcome.
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Carrier webhook events by type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	// MessageTransitionsTotal tracks message status transitions.
	MessageTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "message_transitions_total",
			Help: "Message status transitions by target status and result",
		},
		[]string{"to", "result"},
	)

	// MessagesTotal tracks messages created.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages created",
		},
		[]string{"direction", "type"},
	)

	// CarrierSendDuration tracks outbound carrier calls.
	CarrierSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carrier_send_duration_seconds",
			Help:    "Carrier send call duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"result"},
	)

	// ChangesPublishedTotal tracks change records pushed to the feed.
	ChangesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_changes_published_total",
			Help: "Change records published by table, operation and result",
		},
		[]string{"table", "operation", "result"},
	)

	// RealtimeSubscribersActive tracks connected realtime clients.
	RealtimeSubscribersActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "realtime_subscribers_active",
			Help: "Number of connected realtime subscribers",
		},
		[]string{"transport"},
	)

	// NATSStreamMessages tracks messages in NATS stream.
	NATSStreamMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_stream_messages",
			Help: "Number of messages in NATS stream",
		},
		[]string{"stream"},
	)

	// NATSStreamBytes tracks bytes in NATS stream.
	NATSStreamBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_stream_bytes",
			Help: "Bytes in NATS stream",
		},
		[]string{"stream"},
	)

	// LLMRequestDuration tracks drafting calls.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM completion duration",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"provider", "direction"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordWebhook counts one processed webhook event.
func RecordWebhook(eventType, outcome string) {
	WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// RecordTransition counts one attempted status transition.
func RecordTransition(to, result string) {
	MessageTransitionsTotal.WithLabelValues(to, result).Inc()
}

// RecordCarrierSend records one carrier call.
func RecordCarrierSend(result string, duration float64) {
	CarrierSendDuration.WithLabelValues(result).Observe(duration)
}

// RecordChange counts one change record publish attempt.
func RecordChange(table, operation, result string) {
	ChangesPublishedTotal.WithLabelValues(table, operation, result).Inc()
}

// RecordLLM records metrics for one completion.
func RecordLLM(provider, status string, duration float64, tokensIn, tokensOut int) {
	LLMRequestDuration.WithLabelValues(provider, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(provider, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(provider, "out").Add(float64(tokensOut))
}

// IncrementSubscribers increments the active subscriber count.
func IncrementSubscribers(transport string) {
	RealtimeSubscribersActive.WithLabelValues(transport).Inc()
}

// DecrementSubscribers decrements the active subscriber count.
func DecrementSubscribers(transport string) {
	RealtimeSubscribersActive.WithLabelValues(transport).Dec()
}
