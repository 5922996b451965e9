package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus collectors for run execution monitoring.
//
// Exposed metrics (namespace "flowgraph"):
//   - runs_total (counter, label status): runs by terminal status
//   - inflight_runs (gauge): runs currently walking their graph
//   - step_latency_ms (histogram, labels node_type/status): step duration
//     from dispatch to final post-retry outcome
//   - retries_total (counter, label node_id): retry attempts beyond the
//     initial one
//   - pauses_total (counter, label reason): breakpoint and manual pauses
//
// Register with a custom registry for isolation and expose via promhttp:
//
//	registry := prometheus.NewRegistry()
//	metrics := flow.NewMetrics(registry)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// All methods are safe for concurrent use and are no-ops on a nil receiver,
// so runs without metrics carry no conditional plumbing.
type Metrics struct {
	runsTotal   *prometheus.CounterVec
	inflight    prometheus.Gauge
	stepLatency *prometheus.HistogramVec
	retries     *prometheus.CounterVec
	pauses      *prometheus.CounterVec
}

// NewMetrics creates and registers the run execution collectors with the
// provided registry (prometheus.DefaultRegisterer when nil).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowgraph",
			Name:      "runs_total",
			Help:      "Completed runs by terminal status",
		}, []string{"status"}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowgraph",
			Name:      "inflight_runs",
			Help:      "Runs currently walking their graph",
		}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowgraph",
			Name:      "step_latency_ms",
			Help:      "Step duration in milliseconds from dispatch to final outcome",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"node_type", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowgraph",
			Name:      "retries_total",
			Help:      "Retry attempts beyond the initial executor attempt",
		}, []string{"node_id"}),
		pauses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowgraph",
			Name:      "pauses_total",
			Help:      "Run suspensions by pause reason",
		}, []string{"reason"}),
	}
}

// RunStarted marks a run as in flight.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

// RunFinished records the run's terminal status and removes it from the
// in-flight gauge.
func (m *Metrics) RunFinished(status Status) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	m.runsTotal.WithLabelValues(string(status)).Inc()
}

// RecordStep records a step's duration and outcome.
func (m *Metrics) RecordStep(nodeType NodeType, status StepStatus, latency time.Duration) {
	if m == nil {
		return
	}
	m.stepLatency.WithLabelValues(string(nodeType), string(status)).Observe(float64(latency.Milliseconds()))
}

// RecordRetries adds the retry attempts a step consumed beyond its initial
// attempt.
func (m *Metrics) RecordRetries(nodeID string, retries int) {
	if m == nil || retries <= 0 {
		return
	}
	m.retries.WithLabelValues(nodeID).Add(float64(retries))
}

// RecordPause counts a run suspension.
func (m *Metrics) RecordPause(reason PauseReason) {
	if m == nil {
		return
	}
	m.pauses.WithLabelValues(string(reason)).Inc()
}
