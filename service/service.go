/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/acronis/go-throttle/log"
)

// Opts represents an options for Service.
type Opts struct {
	// ShutdownSignals stop the service gracefully. SIGINT and SIGTERM are used by default.
	ShutdownSignals []os.Signal
}

// Service starts the unit and stops it when the context is done or a shutdown signal is received.
type Service struct {
	unit   Unit
	logger log.FieldLogger
	opts   Opts
}

// New creates a new Service.
func New(logger log.FieldLogger, unit Unit) *Service {
	return NewWithOpts(logger, unit, Opts{})
}

// NewWithOpts is a more configurable version of New.
func NewWithOpts(logger log.FieldLogger, unit Unit, opts Opts) *Service {
	if len(opts.ShutdownSignals) == 0 {
		opts.ShutdownSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	return &Service{unit: unit, logger: logger, opts: opts}
}

// Run starts the unit in a separate goroutine and blocks until a fatal error occurs,
// ctx is done, or a shutdown signal is received.
// Metrics of the unit are registered for the run time if it implements MetricsRegisterer.
func (s *Service) Run(ctx context.Context) error {
	if mr, ok := s.unit.(MetricsRegisterer); ok {
		mr.MustRegisterMetrics()
		defer mr.UnregisterMetrics()
	}

	sigCtx, stopNotify := signal.NotifyContext(ctx, s.opts.ShutdownSignals...)
	defer stopNotify()

	fatalErr := make(chan error, 1)
	go s.unit.Start(fatalErr)

	select {
	case err := <-fatalErr:
		s.logger.Error("service fatal error", log.Error(err))
		return fmt.Errorf("fatal error: %w", err)
	case <-sigCtx.Done():
		if ctx.Err() != nil {
			s.logger.Info("context is canceled, service will be stopped")
		} else {
			s.logger.Info("service got shutdown signal")
		}
	}

	if err := s.unit.Stop(true); err != nil {
		return fmt.Errorf("stop service gracefully: %w", err)
	}
	return nil
}
