// Package metrics records per-variant coverage results as Prometheus
// metrics and exports them in the node-exporter textfile format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dkoosis/covgate/internal/taskgraph"
	"github.com/dkoosis/covgate/pkg/coverage"
)

// Metrics owns a private registry so concurrent runs and tests never share
// collectors.
type Metrics struct {
	registry *prometheus.Registry

	// Lines covered and missed per variant, from the latest report.
	LinesCovered *prometheus.GaugeVec
	LinesMissed  *prometheus.GaugeVec

	// Measured and required covered ratio per variant. Watch for: ratio
	// trending toward the minimum.
	CoveredRatio *prometheus.GaugeVec
	MinimumRatio *prometheus.GaugeVec

	// Verification verdicts by result (pass, fail).
	VerificationsTotal *prometheus.CounterVec

	// Report generation failures, e.g. a missing execution trace.
	ReportFailuresTotal *prometheus.CounterVec

	// Report generation latency per variant.
	ReportDuration *prometheus.HistogramVec

	// Task graph outcomes by terminal state.
	TasksTotal *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		LinesCovered: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "covgate_lines_covered",
			Help: "Executable lines covered by unit tests",
		}, []string{"variant"}),
		LinesMissed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "covgate_lines_missed",
			Help: "Executable lines not covered by unit tests",
		}, []string{"variant"}),
		CoveredRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "covgate_line_covered_ratio",
			Help: "Measured line covered ratio",
		}, []string{"variant"}),
		MinimumRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "covgate_line_covered_ratio_minimum",
			Help: "Required line covered ratio",
		}, []string{"variant"}),
		VerificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "covgate_verifications_total",
			Help: "Coverage verifications by result",
		}, []string{"variant", "result"}),
		ReportFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "covgate_report_failures_total",
			Help: "Coverage reports that could not be generated",
		}, []string{"variant"}),
		ReportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "covgate_report_duration_seconds",
			Help:    "Coverage report generation latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"variant"}),
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "covgate_tasks_total",
			Help: "Tasks by terminal state",
		}, []string{"group", "state"}),
	}
	m.registry.MustRegister(
		m.LinesCovered, m.LinesMissed,
		m.CoveredRatio, m.MinimumRatio,
		m.VerificationsTotal, m.ReportFailuresTotal,
		m.ReportDuration, m.TasksTotal,
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ReportGenerated records line counts of a successful report.
func (m *Metrics) ReportGenerated(variant string, c coverage.Counter, d time.Duration) {
	m.LinesCovered.WithLabelValues(variant).Set(float64(c.Covered))
	m.LinesMissed.WithLabelValues(variant).Set(float64(c.Missed))
	m.ReportDuration.WithLabelValues(variant).Observe(d.Seconds())
}

// ReportFailed counts a report that could not be generated.
func (m *Metrics) ReportFailed(variant string) {
	m.ReportFailuresTotal.WithLabelValues(variant).Inc()
}

// Verified records a verification verdict.
func (m *Metrics) Verified(variant string, passed bool, ratio, minimum float64) {
	result := "pass"
	if !passed {
		result = "fail"
	}
	m.VerificationsTotal.WithLabelValues(variant, result).Inc()
	m.CoveredRatio.WithLabelValues(variant).Set(ratio)
	m.MinimumRatio.WithLabelValues(variant).Set(minimum)
}

// ObserveEvent counts terminal task events. It is a taskgraph event callback.
func (m *Metrics) ObserveEvent(e taskgraph.Event) {
	var state taskgraph.TaskState
	switch e.Type {
	case taskgraph.EventTaskCompleted:
		state = taskgraph.TaskCompleted
	case taskgraph.EventTaskFailed:
		state = taskgraph.TaskFailed
	case taskgraph.EventTaskSkipped:
		state = taskgraph.TaskSkipped
	default:
		return
	}
	m.TasksTotal.WithLabelValues(e.Group, string(state)).Inc()
}

// WriteTextfile atomically writes every metric to path in the text
// exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
