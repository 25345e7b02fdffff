package sitekeeper

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks lifecycle activity on a private registry so the
// process does not leak collectors into the global default registry.
type Metrics struct {
	registry *prometheus.Registry

	operations       *prometheus.CounterVec
	rollbacks        prometheus.Counter
	issuanceAttempts prometheus.Counter
	issuanceFailures prometheus.Counter
	reloads          prometheus.Counter

	sitesConfigured prometheus.Gauge
	sitesEnabled    prometheus.Gauge
	sitesTLS        prometheus.Gauge
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitekeeper_operations_total",
			Help: "Lifecycle operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitekeeper_rollbacks_total",
			Help: "Configuration changes reverted after failed validation or reload.",
		}),
		issuanceAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitekeeper_issuance_attempts_total",
			Help: "ACME issuance flows started.",
		}),
		issuanceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitekeeper_issuance_failures_total",
			Help: "ACME issuance flows that exhausted their retry budget.",
		}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitekeeper_reloads_total",
			Help: "Successful graceful nginx reloads.",
		}),
		sitesConfigured: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sitekeeper_sites_configured",
			Help: "Sites with a configuration file present.",
		}),
		sitesEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sitekeeper_sites_enabled",
			Help: "Sites with an active symlink.",
		}),
		sitesTLS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sitekeeper_sites_tls",
			Help: "Sites with certificate material installed.",
		}),
	}

	m.registry.MustRegister(
		m.operations,
		m.rollbacks,
		m.issuanceAttempts,
		m.issuanceFailures,
		m.reloads,
		m.sitesConfigured,
		m.sitesEnabled,
		m.sitesTLS,
	)
	return m
}

// Handler serves the metrics in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOperation records a completed lifecycle operation.
func (m *Metrics) ObserveOperation(operation, outcome string) {
	m.operations.WithLabelValues(operation, outcome).Inc()
	if outcome == OutcomeRollback {
		m.rollbacks.Inc()
	}
}

// ObserveIssuance records one issuance flow and whether it failed.
func (m *Metrics) ObserveIssuance(failed bool) {
	m.issuanceAttempts.Inc()
	if failed {
		m.issuanceFailures.Inc()
	}
}

// ObserveReload records a successful graceful reload.
func (m *Metrics) ObserveReload() {
	m.reloads.Inc()
}

// SetSiteCounts updates the derived-state gauges after a resync.
func (m *Metrics) SetSiteCounts(configured, enabled, tls int) {
	m.sitesConfigured.Set(float64(configured))
	m.sitesEnabled.Set(float64(enabled))
	m.sitesTLS.Set(float64(tls))
}
