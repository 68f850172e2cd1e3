// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/codexec/types"
)

// Collector aggregates the subsystem's Prometheus metrics.
type Collector struct {
	executionsTotal    *prometheus.CounterVec
	executionDuration  prometheus.Histogram
	violationsTotal    *prometheus.CounterVec
	toolCallsTotal     prometheus.Counter
	tokensBeforeTotal  prometheus.Counter
	tokensAfterTotal   prometheus.Counter
	activeSessions     prometheus.Gauge
	memoryPeakBytes    prometheus.Histogram

	logger *zap.Logger
}

// NewCollector creates a collector registered against reg. Passing a
// fresh registry per instance keeps tests independent; production code
// passes prometheus.DefaultRegisterer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.executionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total number of code executions by terminal state",
		},
		[]string{"state"},
	)

	c.executionDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Code execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
	)

	c.violationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "security_violations_total",
			Help:      "Total number of security violations by kind",
		},
		[]string{"kind"},
	)

	c.toolCallsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of mediated tool invocations",
		},
	)

	c.tokensBeforeTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_tokens_before_total",
			Help:      "Estimated output tokens before optimization",
		},
	)

	c.tokensAfterTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_tokens_after_total",
			Help:      "Estimated output tokens after optimization",
		},
	)

	c.activeSessions = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live sessions",
		},
	)

	c.memoryPeakBytes = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_memory_peak_bytes",
			Help:      "Observed memory high-water mark per execution",
			Buckets:   prometheus.ExponentialBuckets(1024*1024, 4, 8),
		},
	)

	return c
}

// RecordExecution accounts one finished execution.
func (c *Collector) RecordExecution(state types.ExecutionState, duration time.Duration, metrics types.ExecutionMetrics) {
	c.executionsTotal.WithLabelValues(string(state)).Inc()
	c.executionDuration.Observe(duration.Seconds())
	c.toolCallsTotal.Add(float64(metrics.ToolCalls))
	c.tokensBeforeTotal.Add(float64(metrics.TokensBefore))
	c.tokensAfterTotal.Add(float64(metrics.TokensAfter))
	if metrics.MemoryPeakBytes > 0 {
		c.memoryPeakBytes.Observe(float64(metrics.MemoryPeakBytes))
	}
}

// RecordViolation accounts one security violation.
func (c *Collector) RecordViolation(kind types.ViolationKind) {
	c.violationsTotal.WithLabelValues(string(kind)).Inc()
}

// SetActiveSessions updates the live-session gauge.
func (c *Collector) SetActiveSessions(n int) {
	c.activeSessions.Set(float64(n))
}
