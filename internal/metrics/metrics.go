// Package metrics exposes the process-wide counters and gauges
// incremented by the reconciliation engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ManagedConnectors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "xtm_managed_connectors",
			Help: "Number of connectors in the current desired set",
		},
	)

	ConnectorsInitializedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xtm_connectors_initialized_total",
			Help: "Total number of connectors deployed for the first time",
		},
	)

	ConnectorsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xtm_connectors_started_total",
			Help: "Total number of start operations issued",
		},
	)

	ConnectorsStoppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xtm_connectors_stopped_total",
			Help: "Total number of stop operations issued",
		},
	)

	ConnectorsUpdatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xtm_connectors_updated_total",
			Help: "Total number of refresh operations issued due to contract hash drift",
		},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xtm_reconciliation_duration_seconds",
			Help:    "Time taken for one reconciliation tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xtm_reconciliation_errors_total",
			Help: "Total number of reconciliation-tick errors by stage",
		},
		[]string{"stage"},
	)
)

func init() {
	prometheus.MustRegister(ManagedConnectors)
	prometheus.MustRegister(ConnectorsInitializedTotal)
	prometheus.MustRegister(ConnectorsStartedTotal)
	prometheus.MustRegister(ConnectorsStoppedTotal)
	prometheus.MustRegister(ConnectorsUpdatedTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationErrorsTotal)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing a tick and recording it to a
// histogram.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
