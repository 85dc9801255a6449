/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acronis/go-throttle/httpserver/middleware"
	"github.com/acronis/go-throttle/log"
	"github.com/acronis/go-throttle/restapi"
)

// Error codes and messages for unmatched routes.
var (
	ErrCodeNotFound            = "notFound"
	ErrMessageNotFound         = "Not found."
	ErrCodeMethodNotAllowed    = "methodNotAllowed"
	ErrMessageMethodNotAllowed = "Method not allowed."
)

// RouterOpts represents options for creating chi.Router.
type RouterOpts struct {
	// ErrorDomain is used for error response formatting.
	ErrorDomain string
	// Routes configures application routes. Middlewares that are applied only to these routes
	// (e.g. throttling) should be added here with router.Use or router.With.
	Routes func(router chi.Router)
	// MetricsHandler is a custom handler for the /metrics endpoint. promhttp.Handler() is used by default.
	MetricsHandler http.Handler
}

// NewRouter creates a new chi.Router with request id, logging, and recovery middlewares
// and with /metrics and /healthz endpoints.
func NewRouter(cfg *Config, logger log.FieldLogger, opts RouterOpts) chi.Router {
	router := chi.NewRouter()

	router.Use(middleware.RequestID())
	router.Use(middleware.LoggingWithOpts(logger, middleware.LoggingOpts{
		RequestStart:      cfg.Log.RequestStart,
		ExcludedEndpoints: append([]string{"/metrics", "/healthz"}, cfg.Log.ExcludedEndpoints...),
	}))
	router.Use(middleware.Recovery(opts.ErrorDomain))

	metricsHandler := opts.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	router.Method(http.MethodGet, "/metrics", metricsHandler)
	router.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		restapi.RespondJSON(rw, map[string]string{"status": "ok"}, middleware.GetLoggerFromContext(r.Context()))
	})

	if opts.Routes != nil {
		router.Group(opts.Routes)
	}

	router.NotFound(func(rw http.ResponseWriter, r *http.Request) {
		apiErr := restapi.NewError(opts.ErrorDomain, ErrCodeNotFound, ErrMessageNotFound)
		restapi.RespondError(rw, http.StatusNotFound, apiErr, middleware.GetLoggerFromContext(r.Context()))
	})
	router.MethodNotAllowed(func(rw http.ResponseWriter, r *http.Request) {
		apiErr := restapi.NewError(opts.ErrorDomain, ErrCodeMethodNotAllowed, ErrMessageMethodNotAllowed)
		restapi.RespondError(rw, http.StatusMethodNotAllowed, apiErr, middleware.GetLoggerFromContext(r.Context()))
	})

	return router
}
