// Package metrics holds the Prometheus collectors exported by the cog.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "geminicog"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	stepsTotal     *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	inFlight       prometheus.Gauge
	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter
	auditTotal     *prometheus.CounterVec
}

// New registers the collectors on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		stepsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "steps",
			Name:      "dispatched_total",
			Help:      "Step requests dispatched, by step id and outcome.",
		}, []string{"step", "outcome"}),
		stepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "steps",
			Name:      "duration_seconds",
			Help:      "Time spent dispatching a step request.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"step"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "steps",
			Name:      "in_flight",
			Help:      "Step requests currently executing.",
		}),
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Open RunSteps streams.",
		}),
		sessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "total",
			Help:      "RunSteps streams accepted.",
		}),
		auditTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "records_total",
			Help:      "Audit records by result (written, failed, dropped).",
		}, []string{"result"}),
	}
}

// StepStarted marks one dispatch as in flight and returns the func that
// records its completion.
func (m *Metrics) StepStarted(stepID string) func(outcome string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.inFlight.Inc()
	return func(outcome string) {
		m.inFlight.Dec()
		m.stepsTotal.WithLabelValues(stepID, outcome).Inc()
		m.stepDuration.WithLabelValues(stepID).Observe(time.Since(start).Seconds())
	}
}

// SessionOpened records a new RunSteps stream and returns the func that
// records its end.
func (m *Metrics) SessionOpened() func() {
	if m == nil {
		return func() {}
	}
	m.sessionsTotal.Inc()
	m.sessionsActive.Inc()
	return m.sessionsActive.Dec
}

// Audit counts one audit record with the given result.
func (m *Metrics) Audit(result string) {
	if m == nil {
		return
	}
	m.auditTotal.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
