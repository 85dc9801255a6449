/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"errors"
	"fmt"
	"io"
)

// Loader sets configuration objects from DataProvider.
// Defaults of all objects are registered before any of them is set,
// and errors of all objects are reported at once.
type Loader struct {
	DataProvider DataProvider
}

// NewDefaultLoader creates a Loader over viper that also reads environment variables with the prefix
// (e.g. THROTTLE_DEMO_THROTTLE_RATE for throttle.rate).
func NewDefaultLoader(envVarsPrefix string) *Loader {
	va := NewViperAdapter()
	va.UseEnvVars(envVarsPrefix)
	return NewLoader(va)
}

// NewLoader creates a Loader.
func NewLoader(dp DataProvider) *Loader {
	return &Loader{dp}
}

// Load sets configuration objects from defaults and data that is already in the provider (e.g. environment variables).
func (l *Loader) Load(cfg Config, cfgs ...Config) error {
	return l.load(append([]Config{cfg}, cfgs...))
}

// LoadFromFile reads the file and sets configuration objects.
func (l *Loader) LoadFromFile(path string, dataType DataType, cfg Config, cfgs ...Config) error {
	if err := l.DataProvider.SetFromFile(path, dataType); err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	return l.load(append([]Config{cfg}, cfgs...))
}

// LoadFromReader reads data from the reader and sets configuration objects.
func (l *Loader) LoadFromReader(reader io.Reader, dataType DataType, cfg Config, cfgs ...Config) error {
	if err := l.DataProvider.SetFromReader(reader, dataType); err != nil {
		return fmt.Errorf("read config data: %w", err)
	}
	return l.load(append([]Config{cfg}, cfgs...))
}

func (l *Loader) load(cfgs []Config) error {
	dps := make([]DataProvider, len(cfgs))
	for i, cfg := range cfgs {
		dps[i] = dataProviderForConfig(l.DataProvider, cfg)
		cfg.SetProviderDefaults(dps[i])
	}
	var errs []error
	for i, cfg := range cfgs {
		if err := cfg.Set(dps[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
