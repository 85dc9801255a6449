/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"errors"
	"sync"
)

// CompositeUnit runs several units as one.
type CompositeUnit struct {
	Units []Unit
}

var _ MetricsRegisterer = (*CompositeUnit)(nil)

// NewCompositeUnit creates a new composite unit.
func NewCompositeUnit(units ...Unit) *CompositeUnit {
	return &CompositeUnit{Units: units}
}

// Start starts all units concurrently and blocks until all of them return from Start.
// If some unit fails, all units are stopped non-gracefully and the joined error is sent to fatalErr.
func (cu *CompositeUnit) Start(fatalErr chan<- error) {
	errs := make(chan error, len(cu.Units)+1)
	failed := make(chan struct{})
	var failOnce sync.Once
	var wg sync.WaitGroup
	wg.Add(len(cu.Units))
	for _, u := range cu.Units {
		go func(u Unit) {
			defer wg.Done()
			unitErr := make(chan error, 1)
			u.Start(unitErr)
			select {
			case err := <-unitErr:
				errs <- err
				failOnce.Do(func() { close(failed) })
			default:
			}
		}(u)
	}

	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()

	select {
	case <-allDone:
		select {
		case <-failed:
		default:
			return
		}
	case <-failed:
		if stopErr := cu.Stop(false); stopErr != nil {
			errs <- stopErr
		}
		<-allDone
	}

	close(errs)
	var collected []error
	for err := range errs {
		collected = append(collected, err)
	}
	fatalErr <- errors.Join(collected...)
}

// Stop stops all units concurrently and joins their errors.
func (cu *CompositeUnit) Stop(gracefully bool) error {
	results := make([]error, len(cu.Units))
	var wg sync.WaitGroup
	wg.Add(len(cu.Units))
	for i, u := range cu.Units {
		go func(i int, u Unit) {
			defer wg.Done()
			results[i] = u.Stop(gracefully)
		}(i, u)
	}
	wg.Wait()
	return errors.Join(results...)
}

// MustRegisterMetrics registers metrics of all units that have them.
func (cu *CompositeUnit) MustRegisterMetrics() {
	for _, u := range cu.Units {
		if mr, ok := u.(MetricsRegisterer); ok {
			mr.MustRegisterMetrics()
		}
	}
}

// UnregisterMetrics unregisters metrics of all units that have them.
func (cu *CompositeUnit) UnregisterMetrics() {
	for _, u := range cu.Units {
		if mr, ok := u.(MetricsRegisterer); ok {
			mr.UnregisterMetrics()
		}
	}
}
