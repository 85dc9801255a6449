/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import "github.com/prometheus/client_golang/prometheus"

const (
	metricsLabelResult = "result"
	metricsLabelOp     = "op"
)

// Decision is a kind of throttling decision that is reported to metrics.
type Decision string

// Throttling decisions.
const (
	DecisionAllowed  Decision = "allowed"
	DecisionLimited  Decision = "limited"
	DecisionBypassed Decision = "bypassed"
)

// StoreOp is a token store operation that is reported to metrics when it fails.
type StoreOp string

// Token store operations.
const (
	StoreOpGet StoreOp = "get"
	StoreOpPut StoreOp = "put"
)

// MetricsCollector represents a collector of metrics for throttling decisions.
type MetricsCollector interface {
	IncDecisions(decision Decision)
	IncStoreErrors(op StoreOp)
}

// PrometheusMetrics is a MetricsCollector that exposes Prometheus metrics.
type PrometheusMetrics struct {
	Decisions   *prometheus.CounterVec
	StoreErrors *prometheus.CounterVec
}

var _ MetricsCollector = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates a new instance of PrometheusMetrics.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	return &PrometheusMetrics{
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttle_decisions_total",
			Help:      "Number of throttling decisions.",
		}, []string{metricsLabelResult}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttle_store_errors_total",
			Help:      "Number of failed token store operations.",
		}, []string{metricsLabelOp}),
	}
}

// MustCurryWith curries the metrics collector with the provided labels.
func (pm *PrometheusMetrics) MustCurryWith(labels prometheus.Labels) *PrometheusMetrics {
	return &PrometheusMetrics{
		Decisions:   pm.Decisions.MustCurryWith(labels),
		StoreErrors: pm.StoreErrors.MustCurryWith(labels),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.Decisions, pm.StoreErrors)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.Decisions)
	prometheus.Unregister(pm.StoreErrors)
}

// IncDecisions increments the counter of decisions of the given kind.
func (pm *PrometheusMetrics) IncDecisions(decision Decision) {
	pm.Decisions.With(prometheus.Labels{metricsLabelResult: string(decision)}).Inc()
}

// IncStoreErrors increments the counter of failed store operations.
func (pm *PrometheusMetrics) IncStoreErrors(op StoreOp) {
	pm.StoreErrors.With(prometheus.Labels{metricsLabelOp: string(op)}).Inc()
}

type disabledMetrics struct{}

func (disabledMetrics) IncDecisions(Decision) {}
func (disabledMetrics) IncStoreErrors(StoreOp) {}
