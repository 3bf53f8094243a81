package syncop

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records sync outcomes per operation.
type Metrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec
}

// NewMetrics creates the sync collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_sync_total",
			Help: "Sync triggers by operation and outcome",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dashboard_sync_duration_seconds",
			Help:    "Proxy call duration for sync operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dashboard_sync_in_flight",
			Help: "Sync operations currently waiting on the proxy",
		}, []string{"operation"}),
	}

	reg.MustRegister(m.total, m.duration, m.inFlight)
	return m
}

func (m *Metrics) started(operation string) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(operation).Inc()
}

func (m *Metrics) finished(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(operation).Dec()
	m.duration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) outcome(operation, kind string) {
	if m == nil {
		return
	}
	m.total.WithLabelValues(operation, kind).Inc()
}
