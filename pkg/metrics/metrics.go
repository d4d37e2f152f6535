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

	// LLMStreamDuration tracks LLM streaming response duration.
	LLMStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_stream_duration_seconds",
			Help:    "LLM streaming response duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// SocketConnectionsActive tracks open chat WebSocket connections.
	SocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_socket_connections_active",
			Help: "Number of active chat WebSocket connections",
		},
	)

	// StreamFramesTotal tracks frames written to chat sockets.
	StreamFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_stream_frames_total",
			Help: "Stream frames written to chat sockets",
		},
		[]string{"status"},
	)

	// ConversationsTotal tracks total conversations created.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
	)

	// MessagesTotal tracks total messages persisted.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages persisted",
		},
		[]string{"role"},
	)

	// HistoryCacheTotal tracks history cache lookups.
	HistoryCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_cache_lookups_total",
			Help: "Conversation history cache lookups",
		},
		[]string{"result"},
	)

	// ClientReconnectsTotal tracks reconnect attempts scheduled by the chat client.
	ClientReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_client_reconnects_total",
			Help: "Reconnect attempts scheduled by the chat client transport",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMStream records metrics for an LLM streaming response.
func RecordLLMStream(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMStreamDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// IncrementSocketConnections increments the active socket connection count.
func IncrementSocketConnections() {
	SocketConnectionsActive.Inc()
}

// DecrementSocketConnections decrements the active socket connection count.
func DecrementSocketConnections() {
	SocketConnectionsActive.Dec()
}

// RecordFrame counts a frame written to a chat socket.
func RecordFrame(status string) {
	StreamFramesTotal.WithLabelValues(status).Inc()
}

// RecordCacheLookup counts a history cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		HistoryCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	HistoryCacheTotal.WithLabelValues("miss").Inc()
}
