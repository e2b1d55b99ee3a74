package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus series for the RAG pipeline.
//
// A nil *Metrics is valid: every recording method is a no-op on nil, so
// components can take an optional metrics handle without branching.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(reg)
//	metrics.RecordBackendRequest("chat", "llama3.1", "success", time.Since(start).Seconds())
type Metrics struct {
	// BackendRequestCounter counts inference backend calls.
	// Labels: operation (chat|generate|embed|list|pull|...), model, status
	BackendRequestCounter *prometheus.CounterVec

	// BackendRequestDuration measures backend latency in seconds.
	// Labels: operation, model
	BackendRequestDuration *prometheus.HistogramVec

	// TokensUsed tracks token consumption reported by the backend.
	// Labels: model, type (prompt|completion)
	TokensUsed *prometheus.CounterVec

	// StoreOperationCounter counts embedding store operations.
	// Labels: backend (memory|pgvector|sqlite), operation, status
	StoreOperationCounter *prometheus.CounterVec

	// StoreOperationDuration measures store latency in seconds.
	// Labels: backend, operation
	StoreOperationDuration *prometheus.HistogramVec

	// RetrievedSegments observes how many segments a retrieval returned.
	RetrievedSegments prometheus.Histogram

	// IngestedSegments counts segments written by the ingestion pipeline.
	IngestedSegments prometheus.Counter

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ToolRounds observes the number of dispatch rounds per tool loop.
	ToolRounds prometheus.Histogram

	// ChatCounter counts assistant chat calls.
	// Labels: mode (chat|extract), status
	ChatCounter *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg. A nil reg
// registers with the Prometheus default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		BackendRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragline_backend_requests_total",
				Help: "Total number of inference backend requests by operation, model, and status",
			},
			[]string{"operation", "model", "status"},
		),

		BackendRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ragline_backend_request_duration_seconds",
				Help:    "Duration of inference backend requests in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
			},
			[]string{"operation", "model"},
		),

		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragline_tokens_total",
				Help: "Total number of tokens reported by the backend by model and type",
			},
			[]string{"model", "type"},
		),

		StoreOperationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragline_store_operations_total",
				Help: "Total number of embedding store operations by backend, operation, and status",
			},
			[]string{"backend", "operation", "status"},
		),

		StoreOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ragline_store_operation_duration_seconds",
				Help:    "Duration of embedding store operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"backend", "operation"},
		),

		RetrievedSegments: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ragline_retrieved_segments",
				Help:    "Number of segments returned per retrieval",
				Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
			},
		),

		IngestedSegments: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ragline_ingested_segments_total",
				Help: "Total number of segments embedded and stored",
			},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragline_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ragline_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"tool_name"},
		),

		ToolRounds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ragline_tool_rounds",
				Help:    "Number of backend dispatch rounds per tool loop",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 12},
			},
		),

		ChatCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragline_chats_total",
				Help: "Total number of assistant calls by mode and status",
			},
			[]string{"mode", "status"},
		),
	}
}

// RecordBackendRequest records one inference backend call.
func (m *Metrics) RecordBackendRequest(operation, model, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.BackendRequestCounter.WithLabelValues(operation, model, status).Inc()
	m.BackendRequestDuration.WithLabelValues(operation, model).Observe(durationSeconds)
}

// RecordTokens adds backend-reported token counts.
func (m *Metrics) RecordTokens(model string, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	if promptTokens > 0 {
		m.TokensUsed.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.TokensUsed.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}

// RecordStoreOperation records one embedding store operation.
func (m *Metrics) RecordStoreOperation(backend, operation, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.StoreOperationCounter.WithLabelValues(backend, operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(backend, operation).Observe(durationSeconds)
}

// RecordRetrieval observes the size of a retrieval result.
func (m *Metrics) RecordRetrieval(segments int) {
	if m == nil {
		return
	}
	m.RetrievedSegments.Observe(float64(segments))
}

// RecordIngest counts stored segments.
func (m *Metrics) RecordIngest(segments int) {
	if m == nil || segments <= 0 {
		return
	}
	m.IngestedSegments.Add(float64(segments))
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordToolRounds observes the rounds a tool loop used.
func (m *Metrics) RecordToolRounds(rounds int) {
	if m == nil {
		return
	}
	m.ToolRounds.Observe(float64(rounds))
}

// RecordChat counts one assistant call.
func (m *Metrics) RecordChat(mode, status string) {
	if m == nil {
		return
	}
	m.ChatCounter.WithLabelValues(mode, status).Inc()
}

// Status maps an error to a metric status label.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
