package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "afl_sancov"

// Metrics collects per-run counters. They are written once, as a node
// exporter textfile, when the run finishes.
type Metrics struct {
	registry     *prometheus.Registry
	executions   *prometheus.CounterVec
	execDuration *prometheus.HistogramVec
	reports      prometheus.Counter
	shrink       prometheus.Histogram
	inputs       *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Executions of the instrumented target by input kind and outcome.",
		}, []string{"kind", "outcome"}),
		execDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall time of a single target execution.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"kind"}),
		reports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_written_total",
			Help:      "Delta-diff reports persisted.",
		}),
		shrink: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "shrink_percent",
			Help:      "Reduction from crash slice to dice.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		inputs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inputs_total",
			Help:      "Inputs handled by the run by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(m.executions, m.execDuration, m.reports, m.shrink, m.inputs)
	return m
}

func (m *Metrics) ObserveExecution(kind, outcome string, took time.Duration) {
	m.executions.WithLabelValues(kind, outcome).Inc()
	if took > 0 {
		m.execDuration.WithLabelValues(kind).Observe(took.Seconds())
	}
}

func (m *Metrics) ObserveReport(shrinkPercent float64) {
	m.reports.Inc()
	m.shrink.Observe(shrinkPercent)
}

// ObserveInput counts an input as "processed", "skipped" or "failed".
func (m *Metrics) ObserveInput(result string) {
	m.inputs.WithLabelValues(result).Inc()
}

func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
