/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package httpserver provides an HTTP server with the request id, logging, and recovery middlewares
// already applied, and with Prometheus metrics exposed on /metrics.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/acronis/go-throttle/log"
)

// HTTPServer represents a wrapper around http.Server with chi.Router as a handler.
type HTTPServer struct {
	HTTPServer      *http.Server
	HTTPRouter      chi.Router
	Logger          log.FieldLogger
	ShutdownTimeout time.Duration

	listener       net.Listener
	port           int32
	httpServerDone atomic.Value
}

// New creates a new HTTPServer.
func New(cfg *Config, logger log.FieldLogger, opts RouterOpts) *HTTPServer {
	router := NewRouter(cfg, logger, opts)
	return &HTTPServer{
		HTTPServer: &http.Server{
			Addr:              cfg.Address,
			WriteTimeout:      cfg.Timeouts.Write,
			ReadTimeout:       cfg.Timeouts.Read,
			ReadHeaderTimeout: cfg.Timeouts.ReadHeader,
			IdleTimeout:       cfg.Timeouts.Idle,
			Handler:           router,
		},
		HTTPRouter:      router,
		Logger:          logger,
		ShutdownTimeout: cfg.Timeouts.Shutdown,
	}
}

// Start starts application HTTP server in a blocking way.
// It's supposed that this method will be called in a separate goroutine.
// If a fatal error occurs, it will be sent to the fatalError channel.
func (s *HTTPServer) Start(fatalError chan<- error) {
	done := make(chan struct{})
	defer close(done)
	s.httpServerDone.Store(done)

	logger := s.Logger.With(
		log.String("address", s.HTTPServer.Addr),
		log.Duration("shutdown_timeout", s.ShutdownTimeout),
	)
	logger.Info("starting application HTTP server...")

	var err error
	if s.listener, err = net.Listen("tcp", s.HTTPServer.Addr); err != nil {
		logger.Error("application HTTP server error", log.Error(err))
		fatalError <- err
		return
	}
	if _, portStr, splitErr := net.SplitHostPort(s.listener.Addr().String()); splitErr == nil {
		if port, parseErr := strconv.ParseInt(portStr, 10, 32); parseErr == nil {
			atomic.StoreInt32(&s.port, int32(port))
		}
	}

	if err = s.HTTPServer.Serve(s.listener); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("application HTTP server closed")
			return
		}
		logger.Error("application HTTP server error", log.Error(err))
		fatalError <- err
	}
}

// Stop stops application HTTP server (gracefully or not).
func (s *HTTPServer) Stop(gracefully bool) error {
	if !gracefully {
		s.Logger.Info("closing application HTTP server...")
		if err := s.HTTPServer.Close(); err != nil {
			s.Logger.Error("application HTTP server closing error", log.Error(err))
			return err
		}
		s.waitDone()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()

	s.Logger.Info("shutting down application HTTP server...", log.Duration("timeout", s.ShutdownTimeout))
	if err := s.HTTPServer.Shutdown(ctx); err != nil {
		s.Logger.Error("application HTTP server shutting down error", log.Error(err))
		return err
	}
	s.Logger.Info("application HTTP server shut down")
	s.waitDone()
	return nil
}

func (s *HTTPServer) waitDone() {
	if done, ok := s.httpServerDone.Load().(chan struct{}); ok && done != nil {
		<-done
	}
}

// GetPort returns the port the server listens on. It's useful when the port is chosen dynamically (":0").
func (s *HTTPServer) GetPort() int {
	return int(atomic.LoadInt32(&s.port))
}
