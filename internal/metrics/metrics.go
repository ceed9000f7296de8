// Package metrics holds the gate's Prometheus collectors. A nil *Metrics is
// valid and records nothing, so components can take one optionally.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gate"

type Metrics struct {
	registry *prometheus.Registry

	scans             *prometheus.CounterVec
	actuations        prometheus.Counter
	actuationFailures prometheus.Counter
	storeErrors       prometheus.Counter
	linkState         *prometheus.GaugeVec
	reconnects        prometheus.Counter
	decodeDrops       prometheus.Counter
	archives          *prometheus.CounterVec
}

// New registers all collectors on a private registry plus the standard Go
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Scans persisted, by access status and direction.",
		}, []string{"status", "direction"}),
		actuations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actuations_total",
			Help:      "Relay pulses completed.",
		}),
		actuationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actuation_failures_total",
			Help:      "Relay pulses that returned an error.",
		}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Scans rejected because the access store was unavailable.",
		}),
		linkState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reader_link_state",
			Help:      "1 for the serial reader's current state, 0 for the others.",
		}, []string{"state"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reader_connect_attempts_total",
			Help:      "Attempts to open the serial reader.",
		}),
		decodeDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reader_lines_dropped_total",
			Help:      "Reader lines that decoded to nothing.",
		}),
		archives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_archives_total",
			Help:      "Snapshot archive attempts, by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.scans,
		m.actuations,
		m.actuationFailures,
		m.storeErrors,
		m.linkState,
		m.reconnects,
		m.decodeDrops,
		m.archives,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ScanRecorded(status, direction string) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(status, direction).Inc()
}

func (m *Metrics) ActuationSucceeded() {
	if m == nil {
		return
	}
	m.actuations.Inc()
}

func (m *Metrics) ActuationFailed() {
	if m == nil {
		return
	}
	m.actuationFailures.Inc()
}

func (m *Metrics) StoreError() {
	if m == nil {
		return
	}
	m.storeErrors.Inc()
}

// LinkState sets the gauge for current to 1 and every other known state to 0.
func (m *Metrics) LinkState(current string, all ...string) {
	if m == nil {
		return
	}
	for _, s := range all {
		m.linkState.WithLabelValues(s).Set(0)
	}
	m.linkState.WithLabelValues(current).Set(1)
}

func (m *Metrics) ConnectAttempt() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) LineDropped() {
	if m == nil {
		return
	}
	m.decodeDrops.Inc()
}

func (m *Metrics) Archived(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.archives.WithLabelValues(result).Inc()
}
