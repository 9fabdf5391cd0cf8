package audit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments the audit pipeline updates on
// every backend write attempt.
type Metrics struct {
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the audit pipeline's collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_audit_backend_failures_total",
			Help: "Count of failed audit backend writes, by backend.",
		}, []string{"backend"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_audit_log_duration_seconds",
			Help:    "Duration of audit backend write calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"backend"}),
	}
	reg.MustRegister(m.failures, m.duration)
	return m
}

// ObserveWrite records the outcome of one backend write attempt.
func (m *Metrics) ObserveWrite(backend string, elapsedSeconds interface{ Seconds() float64 }, err error) {
	m.duration.WithLabelValues(backend).Observe(elapsedSeconds.Seconds())
	if err != nil {
		m.failures.WithLabelValues(backend).Inc()
	}
}
