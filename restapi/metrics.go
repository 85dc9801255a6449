/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsSubsystem = "restapi"

	metricsLabelDomain = "domain"
	metricsLabelCode   = "code"
	metricsLabelStatus = "status"
)

// responseErrors counts error responses by domain, error code and HTTP status,
// so 429 responses of the throttling middleware are distinguishable from the server errors.
type responseErrors struct {
	mu      sync.RWMutex
	counter *prometheus.CounterVec
}

var metricsResponseErrors responseErrors

func (re *responseErrors) inc(err *Error, httpStatusCode int) {
	re.mu.RLock()
	defer re.mu.RUnlock()
	if re.counter == nil {
		return
	}
	re.counter.With(prometheus.Labels{
		metricsLabelDomain: err.Domain,
		metricsLabelCode:   err.Code,
		metricsLabelStatus: strconv.Itoa(httpStatusCode),
	}).Inc()
}

// MustInitAndRegisterMetrics initializes and registers the counter of error responses.
// It panics if the counter cannot be registered (e.g. it's already registered).
func MustInitAndRegisterMetrics(namespace string) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: metricsSubsystem,
		Name:      "response_errors_total",
		Help:      "Number of error responses by domain, error code and HTTP status.",
	}, []string{metricsLabelDomain, metricsLabelCode, metricsLabelStatus})
	prometheus.MustRegister(counter)

	metricsResponseErrors.mu.Lock()
	metricsResponseErrors.counter = counter
	metricsResponseErrors.mu.Unlock()
}

// UnregisterMetrics unregisters the counter of error responses. Errors are not counted after that.
func UnregisterMetrics() {
	metricsResponseErrors.mu.Lock()
	defer metricsResponseErrors.mu.Unlock()
	if metricsResponseErrors.counter != nil {
		prometheus.Unregister(metricsResponseErrors.counter)
		metricsResponseErrors.counter = nil
	}
}
