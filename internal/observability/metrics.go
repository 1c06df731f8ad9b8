// Package observability provides the runtime's Prometheus metrics and
// structured logging setup. A nil *Metrics is a valid no-op receiver,
// so instrumentation sites never need a guard.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the actor runtime's Prometheus collectors.
type Metrics struct {
	runsTotal         *prometheus.CounterVec
	toolCallsTotal    *prometheus.CounterVec
	summarizeTotal    prometheus.Counter
	bufferWritesTotal *prometheus.CounterVec
	queueDepth        prometheus.Gauge
	runDuration       prometheus.Histogram
}

// NewMetrics builds and registers the collectors on the given
// registerer. Pass prometheus.DefaultRegisterer for the global
// registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ema",
			Subsystem: "actor",
			Name:      "runs_total",
			Help:      "Completed agent runs by outcome.",
		}, []string{"outcome"}),
		toolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ema",
			Subsystem: "agent",
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool name and status.",
		}, []string{"tool", "status"}),
		summarizeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ema",
			Subsystem: "agent",
			Name:      "summarize_total",
			Help:      "History summarisation passes.",
		}),
		bufferWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ema",
			Subsystem: "actor",
			Name:      "buffer_writes_total",
			Help:      "Buffer persistence attempts by status.",
		}, []string{"status"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ema",
			Subsystem: "actor",
			Name:      "queue_depth",
			Help:      "Pending input batches across actors.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ema",
			Subsystem: "actor",
			Name:      "run_duration_seconds",
			Help:      "Wall time of agent runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	reg.MustRegister(
		m.runsTotal,
		m.toolCallsTotal,
		m.summarizeTotal,
		m.bufferWritesTotal,
		m.queueDepth,
		m.runDuration,
	)
	return m
}

// RunFinished records a completed run and its wall time.
func (m *Metrics) RunFinished(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(seconds)
}

// ToolCall records one tool invocation.
func (m *Metrics) ToolCall(tool string, success bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !success {
		status = "error"
	}
	m.toolCallsTotal.WithLabelValues(tool, status).Inc()
}

// Summarize records a summarisation pass.
func (m *Metrics) Summarize() {
	if m == nil {
		return
	}
	m.summarizeTotal.Inc()
}

// BufferWrite records one buffer persistence attempt.
func (m *Metrics) BufferWrite(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.bufferWritesTotal.WithLabelValues(status).Inc()
}

// QueueDepthAdd adjusts the pending batch gauge.
func (m *Metrics) QueueDepthAdd(delta float64) {
	if m == nil {
		return
	}
	m.queueDepth.Add(delta)
}
