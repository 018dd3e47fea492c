// Package metrics exports application container measurements to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the container's Prometheus metrics. It satisfies
// blueberry.Metrics.
type Metrics struct {
	LaunchesTotal    *prometheus.CounterVec
	AdmissionDenied  *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec
	HandlesActive    prometheus.Gauge
	Descriptors      prometheus.Gauge

	registry *prometheus.Registry
}

// New creates the metrics and registers them on a fresh registry, which
// Registry returns for serving.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := NewWith(reg)
	m.registry = reg
	return m
}

// NewWith registers the metrics on reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LaunchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blueberry_launches_total",
				Help: "Application launch attempts by outcome",
			},
			[]string{"application", "outcome"},
		),
		AdmissionDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blueberry_admission_denied_total",
				Help: "Launches refused by cardinality or thread admission",
			},
			[]string{"reason"},
		),
		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blueberry_handle_transitions_total",
				Help: "Application instance state transitions",
			},
			[]string{"state"},
		),
		HandlesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "blueberry_handles_active",
				Help: "Number of admitted application instances",
			},
		),
		Descriptors: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "blueberry_descriptors",
				Help: "Number of published application descriptors",
			},
		),
	}
}

// Registry returns the registry created by New, or nil for NewWith.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveLaunch(application, outcome string) {
	m.LaunchesTotal.WithLabelValues(application, outcome).Inc()
}

func (m *Metrics) ObserveAdmissionDenied(_ string, reason string) {
	m.AdmissionDenied.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveTransition(_ string, state string) {
	m.TransitionsTotal.WithLabelValues(state).Inc()
}

func (m *Metrics) SetActiveHandles(n int) { m.HandlesActive.Set(float64(n)) }

func (m *Metrics) SetDescriptors(n int) { m.Descriptors.Set(float64(n)) }
