/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package store

import "github.com/prometheus/client_golang/prometheus"

// MetricsCollector collects statistics about the LRU store usage.
type MetricsCollector interface {
	// SetAmount sets the total number of keys in the store.
	SetAmount(int)

	// IncHits increments the number of keys that were found.
	IncHits()

	// IncMisses increments the number of keys that were not found.
	IncMisses()

	// AddEvictions increments the number of evicted keys.
	AddEvictions(int)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics is a MetricsCollector that exposes Prometheus metrics.
type PrometheusMetrics struct {
	KeysAmount     prometheus.Gauge
	HitsTotal      prometheus.Counter
	MissesTotal    prometheus.Counter
	EvictionsTotal prometheus.Counter
}

var _ MetricsCollector = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates a new instance of PrometheusMetrics.
func NewPrometheusMetrics(opts PrometheusMetricsOpts) *PrometheusMetrics {
	return &PrometheusMetrics{
		KeysAmount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "throttle_store_keys_amount",
			Help:        "Total number of keys in the token store.",
			ConstLabels: opts.ConstLabels,
		}),
		HitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "throttle_store_hits_total",
			Help:        "Number of keys found in the token store.",
			ConstLabels: opts.ConstLabels,
		}),
		MissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "throttle_store_misses_total",
			Help:        "Number of keys not found in the token store.",
			ConstLabels: opts.ConstLabels,
		}),
		EvictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "throttle_store_evictions_total",
			Help:        "Number of keys evicted from the token store.",
			ConstLabels: opts.ConstLabels,
		}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.KeysAmount, pm.HitsTotal, pm.MissesTotal, pm.EvictionsTotal)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.KeysAmount)
	prometheus.Unregister(pm.HitsTotal)
	prometheus.Unregister(pm.MissesTotal)
	prometheus.Unregister(pm.EvictionsTotal)
}

// SetAmount sets the total number of keys in the store.
func (pm *PrometheusMetrics) SetAmount(amount int) {
	pm.KeysAmount.Set(float64(amount))
}

// IncHits increments the number of keys that were found.
func (pm *PrometheusMetrics) IncHits() {
	pm.HitsTotal.Inc()
}

// IncMisses increments the number of keys that were not found.
func (pm *PrometheusMetrics) IncMisses() {
	pm.MissesTotal.Inc()
}

// AddEvictions increments the number of evicted keys.
func (pm *PrometheusMetrics) AddEvictions(n int) {
	pm.EvictionsTotal.Add(float64(n))
}

type disabledMetrics struct{}

func (disabledMetrics) SetAmount(int)    {}
func (disabledMetrics) IncHits()         {}
func (disabledMetrics) IncMisses()       {}
func (disabledMetrics) AddEvictions(int) {}
