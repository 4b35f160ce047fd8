package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "semloop"

// Metrics holds the Prometheus collectors of one orchestrator. A nil *Metrics records nothing.
type Metrics struct {
	// IterationsTotal counts finished iterations by result (success, failure).
	IterationsTotal *prometheus.CounterVec

	// PhaseDurationSeconds measures time spent per phase.
	PhaseDurationSeconds *prometheus.HistogramVec

	// CollaboratorFailuresTotal counts recovered collaborator errors and panics by phase.
	CollaboratorFailuresTotal *prometheus.CounterVec

	// RetryBudget observes the budget computed for each failed attempt.
	RetryBudget prometheus.Histogram

	// RetriesTotal counts retries taken.
	RetriesTotal prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IterationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "iterations_total",
				Help:      "Finished iterations by result",
			},
			[]string{"result"},
		),
		PhaseDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "phase_duration_seconds",
				Help:      "Time spent in each iteration phase",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"phase"},
		),
		CollaboratorFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "collaborator_failures_total",
				Help:      "Recovered collaborator failures by phase",
			},
			[]string{"phase"},
		),
		RetryBudget: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "retry_budget",
				Help:      "Adaptive retry budget computed after a failed compilation",
				Buckets:   []float64{1, 2, 3, 4, 5, 6, 7, 8},
			},
		),
		RetriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "retries_total",
				Help:      "Retries taken across all iterations",
			},
		),
	}
}

func (m *Metrics) iteration(success bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.IterationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) phase(state State, seconds float64) {
	if m == nil {
		return
	}
	m.PhaseDurationSeconds.WithLabelValues(string(state)).Observe(seconds)
}

func (m *Metrics) collaboratorFailure(state State) {
	if m == nil {
		return
	}
	m.CollaboratorFailuresTotal.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) budget(n int) {
	if m == nil {
		return
	}
	m.RetryBudget.Observe(float64(n))
}

func (m *Metrics) retry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}
