// Package metrics exposes Prometheus collectors for analysis runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics groups the collectors of the analysis pipeline. A nil
// *PipelineMetrics records nothing.
type PipelineMetrics struct {
	runs        *prometheus.CounterVec
	activeRuns  prometheus.Gauge
	stageTime   *prometheus.HistogramVec
	pairs       *prometheus.CounterVec
	estimations prometheus.Counter
	edges       *prometheus.GaugeVec
	excluded    *prometheus.CounterVec
}

// NewPipelineMetrics creates the collectors and registers them with reg.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netinfer",
			Name:      "runs_total",
			Help:      "Analysis runs by final status.",
		}, []string{"status"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "netinfer",
			Name:      "active_runs",
			Help:      "Analysis runs currently in progress.",
		}),
		stageTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "netinfer",
			Name:      "stage_duration_seconds",
			Help:      "Wall time per pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
		pairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netinfer",
			Name:      "pairs_total",
			Help:      "Ordered pairs by terminal state.",
		}, []string{"state"}),
		estimations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netinfer",
			Name:      "lag_estimations_total",
			Help:      "Raw (pair, lag) transfer entropy estimations.",
		}),
		edges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "netinfer",
			Name:      "edges",
			Help:      "Transfer entropy edges of the last run.",
		}, []string{"kind"}),
		excluded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netinfer",
			Name:      "excluded_total",
			Help:      "Series and pairs left out of runs by reason.",
		}, []string{"kind", "reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.activeRuns, m.stageTime, m.pairs, m.estimations, m.edges, m.excluded)
	}
	return m
}

// RunStarted marks a run as in progress.
func (m *PipelineMetrics) RunStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

// RunFinished records the final status of a run.
func (m *PipelineMetrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
	m.runs.WithLabelValues(status).Inc()
}

// ObserveStage records how long a stage took.
func (m *PipelineMetrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageTime.WithLabelValues(stage).Observe(d.Seconds())
}

// AddEstimations counts raw lag estimations.
func (m *PipelineMetrics) AddEstimations(n int) {
	if m == nil {
		return
	}
	m.estimations.Add(float64(n))
}

// PairFinished counts one pair by terminal state.
func (m *PipelineMetrics) PairFinished(state string) {
	if m == nil {
		return
	}
	m.pairs.WithLabelValues(state).Inc()
}

// SetEdges publishes the raw and corrected edge counts of the last run.
func (m *PipelineMetrics) SetEdges(raw, significant int) {
	if m == nil {
		return
	}
	m.edges.WithLabelValues("raw_significant").Set(float64(raw))
	m.edges.WithLabelValues("significant").Set(float64(significant))
}

// Excluded counts one excluded series or pair.
func (m *PipelineMetrics) Excluded(kind, reason string) {
	if m == nil {
		return
	}
	m.excluded.WithLabelValues(kind, reason).Inc()
}
