package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics provides Prometheus-compatible metrics for plan
// execution, adapted from the teacher's graph-level metrics to the
// run/node/plan vocabulary this engine runs against (all namespaced
// "plango"):
//
//  1. inflight_nodes (gauge): nodes currently dispatched and not yet
//     resolved. Labels: run_id.
//  2. dispatch_queue_depth (gauge): work items queued on the worker pool
//     but not yet started. Labels: run_id.
//  3. step_latency_ms (histogram): node dispatch-to-completion duration.
//     Labels: run_id, node_name, status.
//  4. plan_errors_total (counter): Plan.Next/Get failures. Labels:
//     run_id, node_name, kind.
//  5. backpressure_events_total (counter): worker pool Push rejections.
//     Labels: run_id, reason.
//  6. conflict_total (counter): vars[name] double-write attempts.
//     Labels: run_id, node_name.
type PrometheusMetrics struct {
	inflightNodes      prometheus.Gauge
	dispatchQueueDepth prometheus.Gauge
	stepLatency        *prometheus.HistogramVec
	planErrors         *prometheus.CounterVec
	backpressure       *prometheus.CounterVec
	conflicts          *prometheus.CounterVec

	registry prometheus.Registerer
	mu       sync.RWMutex
	enabled  bool
}

// NewPrometheusMetrics registers all plango metrics with registry (use
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() for isolation).
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	pm := &PrometheusMetrics{registry: registry, enabled: true}

	pm.inflightNodes = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "plango",
		Name:      "inflight_nodes",
		Help:      "Current number of nodes dispatched and not yet resolved",
	})
	pm.dispatchQueueDepth = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "plango",
		Name:      "dispatch_queue_depth",
		Help:      "Work items queued on the worker pool but not yet started",
	})
	pm.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "plango",
		Name:      "step_latency_ms",
		Help:      "Node dispatch-to-completion duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"run_id", "node_name", "status"})
	pm.planErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plango",
		Name:      "plan_errors_total",
		Help:      "Plan.Next/Get failures",
	}, []string{"run_id", "node_name", "kind"})
	pm.backpressure = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plango",
		Name:      "backpressure_events_total",
		Help:      "Worker pool Push rejections",
	}, []string{"run_id", "reason"})
	pm.conflicts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plango",
		Name:      "conflict_total",
		Help:      "vars[name] double-write attempts",
	}, []string{"run_id", "node_name"})

	return pm
}

// RecordStepLatency records a node's dispatch-to-completion duration.
func (pm *PrometheusMetrics) RecordStepLatency(runID, nodeName string, latency time.Duration, status string) {
	if !pm.isEnabled() {
		return
	}
	pm.stepLatency.WithLabelValues(runID, nodeName, status).Observe(float64(latency.Milliseconds()))
}

// UpdateDispatchQueueDepth sets the dispatch_queue_depth gauge.
func (pm *PrometheusMetrics) UpdateDispatchQueueDepth(depth int) {
	if !pm.isEnabled() {
		return
	}
	pm.dispatchQueueDepth.Set(float64(depth))
}

// UpdateInflightNodes sets the inflight_nodes gauge.
func (pm *PrometheusMetrics) UpdateInflightNodes(count int) {
	if !pm.isEnabled() {
		return
	}
	pm.inflightNodes.Set(float64(count))
}

// IncrementPlanErrors increments plan_errors_total.
func (pm *PrometheusMetrics) IncrementPlanErrors(runID, nodeName, kind string) {
	if !pm.isEnabled() {
		return
	}
	pm.planErrors.WithLabelValues(runID, nodeName, kind).Inc()
}

// IncrementBackpressure increments backpressure_events_total.
func (pm *PrometheusMetrics) IncrementBackpressure(runID, reason string) {
	if !pm.isEnabled() {
		return
	}
	pm.backpressure.WithLabelValues(runID, reason).Inc()
}

// IncrementConflicts increments conflict_total.
func (pm *PrometheusMetrics) IncrementConflicts(runID, nodeName string) {
	if !pm.isEnabled() {
		return
	}
	pm.conflicts.WithLabelValues(runID, nodeName).Inc()
}

func (pm *PrometheusMetrics) isEnabled() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// Disable stops metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable resumes metric recording after Disable.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}
