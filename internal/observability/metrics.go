package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors C8 exposes, keyed by
// (method, client_id) for RPC calls and (tool_name, client_id) for tool
// executions, per spec §4.8. Constructed with an injectable Registerer so
// tests can use a private prometheus.NewRegistry() instead of the global
// default, matching the teacher's NewXWithRegisterer idiom.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	toolExecutions  *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	workersReady    prometheus.Gauge
	workersBusy     prometheus.Gauge
}

// NewMetrics registers collectors against the global default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer registers collectors against reg.
func NewMetricsWithRegisterer(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ratchet",
			Subsystem: "mcp",
			Name:      "requests_total",
			Help:      "Total MCP requests by method, client, and outcome.",
		}, []string{"method", "client_id", "success"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ratchet",
			Subsystem: "mcp",
			Name:      "request_duration_seconds",
			Help:      "MCP request duration by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		toolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ratchet",
			Subsystem: "mcp",
			Name:      "tool_executions_total",
			Help:      "Total tool executions by tool name, client, and outcome.",
		}, []string{"tool_name", "client_id", "success"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ratchet",
			Subsystem: "mcp",
			Name:      "tool_duration_seconds",
			Help:      "Tool execution duration by tool name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool_name"}),
		workersReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ratchet",
			Subsystem: "worker_pool",
			Name:      "ready_workers",
			Help:      "Number of workers currently in the Ready state.",
		}),
		workersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ratchet",
			Subsystem: "worker_pool",
			Name:      "busy_workers",
			Help:      "Number of workers currently in the Busy state.",
		}),
	}

	reg.MustRegister(m.requestsTotal, m.requestDuration, m.toolExecutions, m.toolDuration, m.workersReady, m.workersBusy)
	return m
}

func successLabel(success bool) string {
	if success {
		return "true"
	}
	return "false"
}

// RecordRequest records one completed RPC call.
func (m *Metrics) RecordRequest(method, clientID string, duration time.Duration, success bool) {
	m.requestsTotal.WithLabelValues(method, clientID, successLabel(success)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordToolExecution records one completed tools/call invocation.
func (m *Metrics) RecordToolExecution(toolName, clientID string, duration time.Duration, success bool) {
	m.toolExecutions.WithLabelValues(toolName, clientID, successLabel(success)).Inc()
	m.toolDuration.WithLabelValues(toolName).Observe(duration.Seconds())
}

// SetWorkerCounts publishes the worker pool's current Ready/Busy counts.
func (m *Metrics) SetWorkerCounts(ready, busy int) {
	m.workersReady.Set(float64(ready))
	m.workersBusy.Set(float64(busy))
}
