// Package metrics exposes Prometheus instruments for merge operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pdfmerge"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	pages      prometheus.Counter
	workspaces prometheus.Gauge
	cleanups   *prometheus.CounterVec
}

// New registers the instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Merge service operations by outcome.",
		}, []string{"operation", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time spent per operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		pages: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_merged_total",
			Help:      "Pages written to merged outputs.",
		}),
		workspaces: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workspaces_active",
			Help:      "Workspaces currently on disk.",
		}),
		cleanups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanups_total",
			Help:      "Workspace cleanups by mode.",
		}, []string{"mode"}),
	}
}

// Observe records one finished operation.
func (m *Metrics) Observe(operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (m *Metrics) PagesMerged(n int) {
	if m == nil {
		return
	}
	m.pages.Add(float64(n))
}

func (m *Metrics) WorkspaceOpened() {
	if m == nil {
		return
	}
	m.workspaces.Inc()
}

// WorkspaceClosed records a destroyed workspace; mode is "immediate" or
// "scheduled".
func (m *Metrics) WorkspaceClosed(mode string) {
	if m == nil {
		return
	}
	m.workspaces.Dec()
	m.cleanups.WithLabelValues(mode).Inc()
}
