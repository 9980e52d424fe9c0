// Package metrics provides Prometheus instrumentation for the semlog
// listen daemon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects counters for the receive/relay pipeline.
type Metrics struct {
	registry *prometheus.Registry

	received     *prometheus.CounterVec
	decodeErrors prometheus.Counter
	relayed      prometheus.Counter
}

// New creates a Metrics instance with its own Prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "semlog",
		Name:      "events_received_total",
		Help:      "Total events received, by severity code.",
	}, []string{"severity"})

	decodeErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "semlog",
		Name:      "decode_errors_total",
		Help:      "Total messages dropped because they could not be decoded.",
	})

	relayed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "semlog",
		Name:      "events_relayed_total",
		Help:      "Total events relayed to local sinks.",
	})

	reg.MustRegister(received, decodeErrors, relayed)

	return &Metrics{
		registry:     reg,
		received:     received,
		decodeErrors: decodeErrors,
		relayed:      relayed,
	}
}

// IncReceived counts one received event by severity code.
func (m *Metrics) IncReceived(severity string) {
	m.received.WithLabelValues(severity).Inc()
}

// IncDecodeError counts one undecodable message.
func (m *Metrics) IncDecodeError() {
	m.decodeErrors.Inc()
}

// IncRelayed counts one event relayed to local sinks.
func (m *Metrics) IncRelayed() {
	m.relayed.Inc()
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
