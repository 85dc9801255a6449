/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpthrottle

import "github.com/prometheus/client_golang/prometheus"

const metricsLabelDryRun = "dry_run"

const (
	metricsValYes = "yes"
	metricsValNo  = "no"
)

// MetricsCollector represents a collector of metrics for rejected requests.
type MetricsCollector interface {
	// IncRejects increments the number of requests rejected because the rate limit is exceeded.
	IncRejects(dryRun bool)
}

// PrometheusMetrics represents a Prometheus collector of metrics for rejected requests.
type PrometheusMetrics struct {
	Rejects *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	return &PrometheusMetrics{
		Rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rate_limit_rejects_total",
			Help:      "Number of HTTP requests rejected due to rate limit exceeded.",
		}, []string{metricsLabelDryRun}),
	}
}

// MustCurryWith curries the metrics collector with the provided labels.
func (pm *PrometheusMetrics) MustCurryWith(labels prometheus.Labels) *PrometheusMetrics {
	return &PrometheusMetrics{Rejects: pm.Rejects.MustCurryWith(labels)}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.Rejects)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.Rejects)
}

// IncRejects increments the rejects counter.
func (pm *PrometheusMetrics) IncRejects(dryRun bool) {
	dryRunVal := metricsValNo
	if dryRun {
		dryRunVal = metricsValYes
	}
	pm.Rejects.With(prometheus.Labels{metricsLabelDryRun: dryRunVal}).Inc()
}

type disabledMetrics struct{}

func (disabledMetrics) IncRejects(bool) {}
