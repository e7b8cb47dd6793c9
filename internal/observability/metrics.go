package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec
	toolRetriesTotal      *prometheus.CounterVec
	toolsInflight         prometheus.Gauge

	circuitOpen         *prometheus.GaugeVec
	circuitShortCircuit *prometheus.CounterVec

	evictionChecksTotal  *prometheus.CounterVec
	evictionsTotal       *prometheus.CounterVec
	evictedBytesTotal    *prometheus.CounterVec
	evictionWriteFailure *prometheus.CounterVec
	evictionCleanupTotal prometheus.Counter

	storageOperations *prometheus.CounterVec

	phaseTransitions *prometheus.CounterVec
	phaseDuration    *prometheus.HistogramVec
	trackedSessions  prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool, retries included.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_errors_total",
					Help: "Total failed tool executions by tool and error kind.",
				},
				[]string{"tool", "kind"},
			),
			toolRetriesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_retries_total",
					Help: "Total tool retry attempts by tool.",
				},
				[]string{"tool"},
			),
			toolsInflight: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "tool_executions_inflight",
					Help: "Tool executions currently holding a concurrency slot.",
				},
			),
			circuitOpen: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "circuit_open",
					Help: "Circuit state by tool (1 open, 0 closed).",
				},
				[]string{"tool"},
			),
			circuitShortCircuit: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "circuit_short_circuit_total",
					Help: "Calls rejected by an open circuit, by tool.",
				},
				[]string{"tool"},
			),
			evictionChecksTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "eviction_checks_total",
					Help: "Tool results inspected by the eviction policy, by tool.",
				},
				[]string{"tool"},
			),
			evictionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "evictions_total",
					Help: "Tool results replaced by a storage pointer, by tool.",
				},
				[]string{"tool"},
			),
			evictedBytesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "evicted_bytes_total",
					Help: "Characters moved out of the working context, by tool.",
				},
				[]string{"tool"},
			),
			evictionWriteFailure: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "eviction_write_failures_total",
					Help: "Evictions abandoned because the storage write failed, by tool.",
				},
				[]string{"tool"},
			),
			evictionCleanupTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "eviction_cleanup_deleted_total",
					Help: "Evicted artifacts removed by cleanup.",
				},
			),
			storageOperations: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "storage_operations_total",
					Help: "Storage backend operations by backend, operation and status.",
				},
				[]string{"backend", "op", "status"},
			),
			phaseTransitions: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "phase_transitions_total",
					Help: "Execution phase transitions by source, target and outcome.",
				},
				[]string{"from", "to", "status"},
			),
			phaseDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "phase_duration_seconds",
					Help:    "Time spent in an execution phase before leaving it.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"phase"},
			),
			trackedSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "tracked_sessions",
					Help: "Session trackers currently held in the cache.",
				},
			),
		}

		prometheus.MustRegister(
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.toolRetriesTotal,
			m.toolsInflight,
			m.circuitOpen,
			m.circuitShortCircuit,
			m.evictionChecksTotal,
			m.evictionsTotal,
			m.evictedBytesTotal,
			m.evictionWriteFailure,
			m.evictionCleanupTotal,
			m.storageOperations,
			m.phaseTransitions,
			m.phaseDuration,
			m.trackedSessions,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, status(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordToolError(tool, kind string) {
	m := getMetrics()
	m.toolErrorsTotal.WithLabelValues(tool, kind).Inc()
}

func RecordToolRetry(tool string) {
	m := getMetrics()
	m.toolRetriesTotal.WithLabelValues(tool).Inc()
}

func AddInflightTools(delta int) {
	m := getMetrics()
	m.toolsInflight.Add(float64(delta))
}

func SetCircuitOpen(tool string, open bool) {
	m := getMetrics()
	value := 0.0
	if open {
		value = 1.0
	}
	m.circuitOpen.WithLabelValues(tool).Set(value)
}

func RecordCircuitShortCircuit(tool string) {
	m := getMetrics()
	m.circuitShortCircuit.WithLabelValues(tool).Inc()
}

func RecordEvictionCheck(tool string) {
	m := getMetrics()
	m.evictionChecksTotal.WithLabelValues(tool).Inc()
}

func RecordEviction(tool string, size int) {
	m := getMetrics()
	m.evictionsTotal.WithLabelValues(tool).Inc()
	m.evictedBytesTotal.WithLabelValues(tool).Add(float64(size))
}

func RecordEvictionWriteFailure(tool string) {
	m := getMetrics()
	m.evictionWriteFailure.WithLabelValues(tool).Inc()
}

func RecordEvictionCleanup(deleted int) {
	m := getMetrics()
	m.evictionCleanupTotal.Add(float64(deleted))
}

func RecordStorageOperation(backend, op string, success bool) {
	m := getMetrics()
	m.storageOperations.WithLabelValues(backend, op, status(success)).Inc()
}

func RecordPhaseTransition(from, to string, accepted bool) {
	m := getMetrics()
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	m.phaseTransitions.WithLabelValues(from, to, outcome).Inc()
}

func ObservePhaseDuration(phase string, duration time.Duration) {
	m := getMetrics()
	m.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

func SetTrackedSessions(count int) {
	m := getMetrics()
	m.trackedSessions.Set(float64(count))
}
