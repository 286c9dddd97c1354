package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for orchestrator monitoring.
//
// Metrics exposed (namespace "specflow"):
//   - active_sessions (gauge): sessions with a live runner goroutine.
//   - node_latency_ms (histogram): node execution duration, labeled by
//     stage and status (success, error, timeout).
//   - node_retries_total (counter): retry attempts, labeled by stage and
//     reason.
//   - event_drops_total (counter): events dropped from full session
//     backlogs.
//   - sessions_completed_total / sessions_failed_total (counters):
//     terminal outcomes.
//
// Expose via promhttp on the registry passed to NewMetrics. All methods
// are safe for concurrent use and tolerate a nil receiver, so metrics
// stay optional.
type Metrics struct {
	activeSessions prometheus.Gauge
	nodeLatency    *prometheus.HistogramVec
	nodeRetries    *prometheus.CounterVec
	eventDrops     prometheus.Counter
	completed      prometheus.Counter
	failed         prometheus.Counter
}

// NewMetrics registers all orchestrator metrics with the registry. A nil
// registry uses the default registerer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "specflow",
			Name:      "active_sessions",
			Help:      "Number of sessions with a live runner goroutine",
		}),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "specflow",
			Name:      "node_latency_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
		}, []string{"stage", "status"}),
		nodeRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "specflow",
			Name:      "node_retries_total",
			Help:      "Cumulative node retry attempts",
		}, []string{"stage", "reason"}),
		eventDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "specflow",
			Name:      "event_drops_total",
			Help:      "Events dropped from full session backlogs",
		}),
		completed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "specflow",
			Name:      "sessions_completed_total",
			Help:      "Sessions that reached the completed stage",
		}),
		failed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "specflow",
			Name:      "sessions_failed_total",
			Help:      "Sessions that reached the failed stage",
		}),
	}
}

// SessionStarted increments the active-session gauge.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionStopped decrements the active-session gauge.
func (m *Metrics) SessionStopped() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// ObserveNode records one node execution.
func (m *Metrics) ObserveNode(stage Stage, latency time.Duration, status string) {
	if m == nil {
		return
	}
	m.nodeLatency.WithLabelValues(string(stage), status).Observe(float64(latency.Milliseconds()))
}

// NodeRetried counts one retry attempt.
func (m *Metrics) NodeRetried(stage Stage, reason string) {
	if m == nil {
		return
	}
	m.nodeRetries.WithLabelValues(string(stage), reason).Inc()
}

// EventDropped counts one dropped event.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventDrops.Inc()
}

// SessionTerminal counts a terminal outcome.
func (m *Metrics) SessionTerminal(stage Stage) {
	if m == nil {
		return
	}
	switch stage {
	case StageCompleted:
		m.completed.Inc()
	case StageFailed:
		m.failed.Inc()
	}
}
