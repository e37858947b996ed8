package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the intake collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	activeSessions    prometheus.Gauge
	messagesTotal     *prometheus.CounterVec
	phaseTransitions  *prometheus.CounterVec
	completionsTotal  *prometheus.CounterVec
	dispatchFailures  *prometheus.CounterVec
	delegateFallbacks *prometheus.CounterVec
}

// New registers the intake collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cardiogenie_active_sessions",
			Help: "Number of live intake sessions",
		}),
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cardiogenie_messages_total",
			Help: "Patient messages processed, by phase at receipt",
		}, []string{"phase"}),
		phaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cardiogenie_phase_transitions_total",
			Help: "Phase transitions",
		}, []string{"from", "to"}),
		completionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cardiogenie_completions_total",
			Help: "Completed consultations, by completion route",
		}, []string{"route"}),
		dispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cardiogenie_dispatch_failures_total",
			Help: "Failed notification dispatches, by channel",
		}, []string{"channel"}),
		delegateFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cardiogenie_delegate_fallbacks_total",
			Help: "Delegate calls replaced by a local fallback",
		}, []string{"delegate"}),
	}
	m.registry.MustRegister(
		m.activeSessions,
		m.messagesTotal,
		m.phaseTransitions,
		m.completionsTotal,
		m.dispatchFailures,
		m.delegateFallbacks,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.activeSessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.activeSessions.Dec()
	}
}

func (m *Metrics) Message(phase string) {
	if m != nil {
		m.messagesTotal.WithLabelValues(phase).Inc()
	}
}

func (m *Metrics) Transition(from, to string) {
	if m != nil {
		m.phaseTransitions.WithLabelValues(from, to).Inc()
	}
}

func (m *Metrics) Completion(route string) {
	if m != nil {
		m.completionsTotal.WithLabelValues(route).Inc()
	}
}

func (m *Metrics) DispatchFailure(channel string) {
	if m != nil {
		m.dispatchFailures.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) DelegateFallback(delegate string) {
	if m != nil {
		m.delegateFallbacks.WithLabelValues(delegate).Inc()
	}
}
