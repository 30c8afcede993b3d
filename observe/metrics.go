/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package observe exports Prometheus metrics for the intercom client.
// A nil *Metrics is valid and records nothing.
package observe

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "intercom"

// Metrics holds every collector of the client
type Metrics struct {
	registry *prometheus.Registry

	callsActive      prometheus.Gauge
	transitions      *prometheus.CounterVec
	signalingLatency *prometheus.HistogramVec
	apiErrors        *prometheus.CounterVec
	devices          *prometheus.GaugeVec
}

// New registers the collectors on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		callsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of joined calls",
		}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "state_transitions_total",
			Help:      "Session state transitions",
		}, []string{"from", "to"}),
		signalingLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "signaling",
			Name:      "duration_seconds",
			Help:      "Duration of signaling operations",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		apiErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Failed backend requests",
		}, []string{"operation"}),
		devices: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices",
			Help:      "Audio devices currently available",
		}, []string{"kind"}),
	}
}

// SetCallsActive records the number of joined calls
func (m *Metrics) SetCallsActive(n int) {
	if m == nil {
		return
	}
	m.callsActive.Set(float64(n))
}

// SessionTransition counts one state change of a session
func (m *Metrics) SessionTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// ObserveSignaling records how long operation took
func (m *Metrics) ObserveSignaling(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.signalingLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// APIError counts a failed backend request
func (m *Metrics) APIError(operation string) {
	if m == nil {
		return
	}
	m.apiErrors.WithLabelValues(operation).Inc()
}

// SetDevices records the number of devices of kind
func (m *Metrics) SetDevices(kind string, n int) {
	if m == nil {
		return
	}
	m.devices.WithLabelValues(kind).Set(float64(n))
}

// WatchStatusChannel exports the reconnect and dropped message counters of
// the status channel. Both funcs are read on every scrape.
func (m *Metrics) WatchStatusChannel(reconnects, dropped func() uint64) {
	if m == nil {
		return
	}
	factory := promauto.With(m.registry)
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "status",
		Name:      "reconnects_total",
		Help:      "Status channel reconnect attempts",
	}, func() float64 { return float64(reconnects()) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "status",
		Name:      "dropped_messages_total",
		Help:      "Malformed status messages dropped",
	}, func() float64 { return float64(dropped()) })
}

// Handler serves the metrics in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
