/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// throttle-demo is an HTTP service that serves /hello limited per client with go-throttle.
//
// Usage:
//
//	throttle-demo -config config.yml
//
// Clients are identified by X-Client-ID header or by the remote host if the header is empty.
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/acronis/go-throttle/config"
	"github.com/acronis/go-throttle/httpserver"
	"github.com/acronis/go-throttle/httpserver/middleware"
	"github.com/acronis/go-throttle/httpthrottle"
	"github.com/acronis/go-throttle/log"
	"github.com/acronis/go-throttle/restapi"
	"github.com/acronis/go-throttle/service"
	"github.com/acronis/go-throttle/store"
	"github.com/acronis/go-throttle/throttle"
)

const (
	serviceName     = "ThrottleDemo"
	metricsNS       = "throttle_demo"
	envVarsPrefix   = "THROTTLE_DEMO"
	headerClientID  = "X-Client-ID"
	cleanupInterval = time.Minute
)

type appConfig struct {
	Log      *log.Config
	Throttle *throttle.Config
	Server   *httpserver.Config
}

func main() {
	if err := run(); err != nil {
		stdlog.Fatal(err)
	}
}

func run() error {
	cfgPath := flag.String("config", "config.yml",
		"path to the YAML configuration file, empty to configure with THROTTLE_DEMO_* environment variables only")
	flag.Parse()

	cfg := appConfig{Log: log.NewConfig(), Throttle: throttle.NewConfig(), Server: httpserver.NewConfig()}
	loader := config.NewDefaultLoader(envVarsPrefix)
	var err error
	if *cfgPath == "" {
		err = loader.Load(cfg.Log, cfg.Throttle, cfg.Server)
	} else {
		err = loader.LoadFromFile(*cfgPath, config.DataTypeYAML, cfg.Log, cfg.Throttle, cfg.Server)
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLogger := log.NewLogger(cfg.Log)
	defer closeLogger()

	storeMetrics := store.NewPrometheusMetrics(store.PrometheusMetricsOpts{Namespace: metricsNS})
	storeMetrics.MustRegister()
	defer storeMetrics.Unregister()

	tokenStore, err := cfg.Throttle.Store.NewTokenStore(storeMetrics)
	if err != nil {
		return fmt.Errorf("create token store: %w", err)
	}

	throttleMetrics := throttle.NewPrometheusMetrics(metricsNS)
	throttleMetrics.MustRegister()
	defer throttleMetrics.Unregister()

	thr, err := throttle.NewFromConfig(cfg.Throttle,
		throttle.WithTokenStore(tokenStore),
		throttle.WithLogger(logger),
		throttle.WithMetricsCollector(throttleMetrics),
		throttle.WithContextLogFields(middleware.RequestIDLogFields),
	)
	if err != nil {
		return fmt.Errorf("create throttle: %w", err)
	}

	rejectsMetrics := httpthrottle.NewPrometheusMetrics(metricsNS)
	rejectsMetrics.MustRegister()
	defer rejectsMetrics.Unregister()

	throttleMw, err := httpthrottle.Middleware(thr, serviceName, httpthrottle.Opts{
		GetKey:           getClientKey,
		MetricsCollector: rejectsMetrics,
	})
	if err != nil {
		return fmt.Errorf("create throttling middleware: %w", err)
	}

	restapi.MustInitAndRegisterMetrics(metricsNS)
	defer restapi.UnregisterMetrics()

	srv := httpserver.New(cfg.Server, logger, httpserver.RouterOpts{
		ErrorDomain: serviceName,
		Routes: func(r chi.Router) {
			r.With(throttleMw).Get("/hello", handleHello)
		},
	})

	units := []service.Unit{srv}
	if lru, ok := tokenStore.(*store.LRU); ok && cfg.Throttle.Store.TTL > 0 {
		units = append(units, newCleanupUnit(lru, logger))
	}
	return service.New(logger, service.NewCompositeUnit(units...)).Run(context.Background())
}

func newCleanupUnit(lru *store.LRU, logger log.FieldLogger) service.Unit {
	cleanup := service.WorkerFunc(func(context.Context) error {
		if removed := lru.RemoveExpired(); removed > 0 {
			logger.Debug("expired token buckets removed", log.Int("removed", removed))
		}
		return nil
	})
	return service.NewWorkerUnit(service.NewPeriodicWorkerWithOpts(cleanup, cleanupInterval, logger,
		service.PeriodicWorkerOpts{InitialDelay: cleanupInterval, Name: "token_store_cleanup"}))
}

func getClientKey(r *http.Request) (key string, bypass bool, err error) {
	if clientID := r.Header.Get(headerClientID); clientID != "" {
		return clientID, false, nil
	}
	return httpthrottle.GetKeyByRemoteHost(r)
}

func handleHello(rw http.ResponseWriter, r *http.Request) {
	restapi.RespondJSON(rw, map[string]string{"message": "Hello!"}, middleware.GetLoggerFromContext(r.Context()))
}
