/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package service runs the long-living parts of a throttling service (HTTP server, store cleanup)
// as units and stops them gracefully on OS signals.
package service

// Unit is a part of the service with its own lifecycle.
type Unit interface {
	// Start runs the unit. It may block for the whole unit's lifetime.
	// An error that makes further work impossible is sent to fatalErr, nothing is sent on success.
	Start(fatalErr chan<- error)

	// Stop halts the unit. It may be called even if Start has failed or was never called.
	Stop(gracefully bool) error
}

// MetricsRegisterer is implemented by units that have their own metrics.
type MetricsRegisterer interface {
	MustRegisterMetrics()
	UnregisterMetrics()
}
