// Package metrics exposes sorter counters in Prometheus format.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/waste-sorter/internal/logic"
)

// Metrics holds all sorter metrics on a private registry.
type Metrics struct {
	// Detection source
	Frames             atomic.Uint64
	DetectionsIngested atomic.Uint64
	DetectionsFiltered atomic.Uint64

	// Actuator
	ActuatorApplied atomic.Uint64
	ActuatorErrors  atomic.Uint64
	ActuatorDropped atomic.Uint64
	ActuatorMode    atomic.Int64

	// Usage flushes
	FlushSuccesses atomic.Uint64
	FlushFailures  atomic.Uint64

	// MQTT publishing
	PublishErrors atomic.Uint64

	transitions *prometheus.CounterVec
	window      *prometheus.GaugeVec
	pending     *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with its collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sorter_transitions_total",
			Help: "Confirmed category transitions by target category",
		}, []string{"category"}),
		window: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sorter_window_detections",
			Help: "Detections currently in the sliding window by category",
		}, []string{"category"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sorter_usage_pending",
			Help: "Usage counts not yet flushed to the counting service",
		}, []string{"category"}),
	}
	m.register()
	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) register() {
	m.counter("sorter_frames_total", "Detection batches processed", &m.Frames)
	m.counter("sorter_detections_ingested_total", "Detections added to the window", &m.DetectionsIngested)
	m.counter("sorter_detections_filtered_total", "Detections dropped below the confidence threshold", &m.DetectionsFiltered)

	m.counter("sorter_actuator_commands_total", "Mode changes applied to the actuator", &m.ActuatorApplied)
	m.counter("sorter_actuator_errors_total", "Mode changes the actuator rejected", &m.ActuatorErrors)
	m.counter("sorter_actuator_dropped_total", "Pending mode changes replaced by newer ones", &m.ActuatorDropped)
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sorter_actuator_mode",
			Help: "Last mode code applied to the actuator",
		},
		func() float64 { return float64(m.ActuatorMode.Load()) },
	))

	m.counter("sorter_flush_success_total", "Successful usage flushes", &m.FlushSuccesses)
	m.counter("sorter_flush_failures_total", "Failed usage flushes", &m.FlushFailures)
	m.counter("sorter_publish_errors_total", "MQTT publish failures", &m.PublishErrors)

	m.registry.MustRegister(m.transitions, m.window, m.pending)
}

// ObserveTransition counts a transition into t.To.
func (m *Metrics) ObserveTransition(t logic.Transition) {
	m.transitions.WithLabelValues(t.To.String()).Inc()
}

// SetWindow replaces the window gauges. Labels missing from counts are set to zero.
func (m *Metrics) SetWindow(labels []logic.Category, counts logic.Counts) {
	for _, l := range labels {
		m.window.WithLabelValues(l.String()).Set(float64(counts[l]))
	}
}

// SetPending replaces the pending usage gauges.
func (m *Metrics) SetPending(labels []logic.Category, counts logic.Counts) {
	for _, l := range labels {
		m.pending.WithLabelValues(l.String()).Set(float64(counts[l]))
	}
}

// Registry returns the private registry, for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
