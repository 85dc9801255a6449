/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"fmt"
	"time"

	"github.com/acronis/go-throttle/config"
)

const cfgDefaultKeyPrefix = "server"

const (
	cfgKeyServerAddress            = "address"
	cfgKeyServerTimeoutsWrite      = "timeouts.write"
	cfgKeyServerTimeoutsRead       = "timeouts.read"
	cfgKeyServerTimeoutsReadHeader = "timeouts.readHeader"
	cfgKeyServerTimeoutsIdle       = "timeouts.idle"
	cfgKeyServerTimeoutsShutdown   = "timeouts.shutdown"
	cfgKeyServerLogRequestStart    = "log.requestStart"
	cfgKeyServerLogExcluded        = "log.excludedEndpoints"
)

const (
	defaultServerAddress            = ":8080"
	defaultServerTimeoutsWrite      = time.Minute
	defaultServerTimeoutsRead       = time.Second * 15
	defaultServerTimeoutsReadHeader = time.Second * 10
	defaultServerTimeoutsIdle       = time.Minute
	defaultServerTimeoutsShutdown   = time.Second * 5
)

// Config represents a set of configuration parameters for HTTPServer.
type Config struct {
	Address  string         `mapstructure:"address" yaml:"address" json:"address"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts" json:"timeouts"`
	Log      LogConfig      `mapstructure:"log" yaml:"log" json:"log"`

	keyPrefix string
}

// TimeoutsConfig represents a set of configuration parameters for HTTPServer relating to timeouts.
type TimeoutsConfig struct {
	Write      time.Duration `mapstructure:"write" yaml:"write" json:"write"`
	Read       time.Duration `mapstructure:"read" yaml:"read" json:"read"`
	ReadHeader time.Duration `mapstructure:"readHeader" yaml:"readHeader" json:"readHeader"`
	Idle       time.Duration `mapstructure:"idle" yaml:"idle" json:"idle"`
	Shutdown   time.Duration `mapstructure:"shutdown" yaml:"shutdown" json:"shutdown"`
}

// LogConfig represents a set of configuration parameters for HTTPServer relating to logging.
type LogConfig struct {
	RequestStart      bool     `mapstructure:"requestStart" yaml:"requestStart" json:"requestStart"`
	ExcludedEndpoints []string `mapstructure:"excludedEndpoints" yaml:"excludedEndpoints" json:"excludedEndpoints"`
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig(options ...ConfigOption) *Config {
	cfg := NewConfig(options...)
	cfg.Address = defaultServerAddress
	cfg.Timeouts = TimeoutsConfig{
		Write:      defaultServerTimeoutsWrite,
		Read:       defaultServerTimeoutsRead,
		ReadHeader: defaultServerTimeoutsReadHeader,
		Idle:       defaultServerTimeoutsIdle,
		Shutdown:   defaultServerTimeoutsShutdown,
	}
	return cfg
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for HTTPServer in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyServerAddress, defaultServerAddress)
	dp.SetDefault(cfgKeyServerTimeoutsWrite, defaultServerTimeoutsWrite)
	dp.SetDefault(cfgKeyServerTimeoutsRead, defaultServerTimeoutsRead)
	dp.SetDefault(cfgKeyServerTimeoutsReadHeader, defaultServerTimeoutsReadHeader)
	dp.SetDefault(cfgKeyServerTimeoutsIdle, defaultServerTimeoutsIdle)
	dp.SetDefault(cfgKeyServerTimeoutsShutdown, defaultServerTimeoutsShutdown)
	dp.SetDefault(cfgKeyServerLogRequestStart, false)
}

// Set sets HTTPServer configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.Address, err = dp.GetString(cfgKeyServerAddress); err != nil {
		return err
	}

	for key, dst := range map[string]*time.Duration{
		cfgKeyServerTimeoutsWrite:      &c.Timeouts.Write,
		cfgKeyServerTimeoutsRead:       &c.Timeouts.Read,
		cfgKeyServerTimeoutsReadHeader: &c.Timeouts.ReadHeader,
		cfgKeyServerTimeoutsIdle:       &c.Timeouts.Idle,
		cfgKeyServerTimeoutsShutdown:   &c.Timeouts.Shutdown,
	} {
		if *dst, err = dp.GetDuration(key); err != nil {
			return err
		}
		if *dst < 0 {
			return dp.WrapKeyErr(key, fmt.Errorf("should be >= 0"))
		}
	}

	if c.Log.RequestStart, err = dp.GetBool(cfgKeyServerLogRequestStart); err != nil {
		return err
	}
	if err = dp.UnmarshalKey(cfgKeyServerLogExcluded, &c.Log.ExcludedEndpoints); err != nil {
		return err
	}
	return nil
}
