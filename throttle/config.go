/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/acronis/go-throttle/config"
	"github.com/acronis/go-throttle/store"
	"github.com/acronis/go-throttle/tokenbucket"
)

const cfgDefaultKeyPrefix = "throttle"

const (
	cfgKeyRate             = "rate"
	cfgKeyBurst            = "burst"
	cfgKeyWindow           = "window"
	cfgKeyOverrides        = "overrides"
	cfgKeyStoreType        = "store.type"
	cfgKeyStoreMaxKeys     = "store.maxKeys"
	cfgKeyStoreTTL         = "store.ttl"
	cfgKeyKeySerialization = "keySerialization"
)

// DefaultStoreMaxKeys is a default maximum number of keys for the LRU store.
const DefaultStoreMaxKeys = 10000

// StoreType defines possible types of the token store.
type StoreType string

// Token store types.
const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeLRU    StoreType = "lru"
)

var availableStoreTypes = []string{string(StoreTypeMemory), string(StoreTypeLRU)}

// Config represents a set of configuration parameters for the Throttle.
//
// Example of YAML configuration:
//
//	throttle:
//	  rate: 10
//	  burst: 20
//	  window: 1s # or a number of milliseconds
//	  overrides:
//	    - key: "partner-*"
//	      rate: 100
//	    - key: "internal-job"
//	      rate: 0 # never limited
//	  store:
//	    type: lru
//	    maxKeys: 50000
//	    ttl: 10m
//	  keySerialization: 64
type Config struct {
	Rate             float64          `mapstructure:"rate" yaml:"rate" json:"rate"`
	Burst            float64          `mapstructure:"burst" yaml:"burst" json:"burst"`
	Window           time.Duration    `mapstructure:"window" yaml:"window" json:"window"`
	Overrides        []OverrideConfig `mapstructure:"overrides" yaml:"overrides" json:"overrides"`
	Store            StoreConfig      `mapstructure:"store" yaml:"store" json:"store"`
	KeySerialization int              `mapstructure:"keySerialization" yaml:"keySerialization" json:"keySerialization"`

	keyPrefix string
}

// OverrideConfig represents limits for a key or a glob pattern of keys.
// Overrides are configured as a list and not as a map because map keys lose their case.
type OverrideConfig struct {
	Key    string        `mapstructure:"key" yaml:"key" json:"key"`
	Rate   *float64      `mapstructure:"rate" yaml:"rate,omitempty" json:"rate,omitempty"`
	Burst  *float64      `mapstructure:"burst" yaml:"burst,omitempty" json:"burst,omitempty"`
	Window time.Duration `mapstructure:"window" yaml:"window,omitempty" json:"window,omitempty"`
}

// StoreConfig represents a configuration of the token store.
type StoreConfig struct {
	Type    StoreType     `mapstructure:"type" yaml:"type" json:"type"`
	MaxKeys int           `mapstructure:"maxKeys" yaml:"maxKeys" json:"maxKeys"`
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
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

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for the Throttle in config.DataProvider.
// There is no default for rate and burst: rate is required and burst falls back to rate.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyWindow, DefaultWindow.String())
	dp.SetDefault(cfgKeyStoreType, string(StoreTypeMemory))
	dp.SetDefault(cfgKeyStoreMaxKeys, DefaultStoreMaxKeys)
	dp.SetDefault(cfgKeyStoreTTL, "0s")
	dp.SetDefault(cfgKeyKeySerialization, 0)
}

// Set sets the Throttle configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if !dp.IsSet(cfgKeyRate) || dp.Get(cfgKeyRate) == nil {
		return dp.WrapKeyErr(cfgKeyRate, ErrRateNotSet)
	}
	if c.Rate, err = parseRate(dp.Get(cfgKeyRate)); err != nil {
		return dp.WrapKeyErr(cfgKeyRate, err)
	}

	c.Burst = c.Rate
	if dp.IsSet(cfgKeyBurst) {
		if c.Burst, err = cast.ToFloat64E(dp.Get(cfgKeyBurst)); err != nil {
			return dp.WrapKeyErr(cfgKeyBurst, err)
		}
		if err = validateBurst(c.Burst); err != nil {
			return dp.WrapKeyErr(cfgKeyBurst, err)
		}
	}

	if c.Window, err = dp.GetMillisDuration(cfgKeyWindow); err != nil {
		return err
	}
	if c.Window <= 0 {
		return dp.WrapKeyErr(cfgKeyWindow, fmt.Errorf("should be positive"))
	}

	if err = c.setOverrides(dp); err != nil {
		return err
	}
	if err = c.setStoreConfig(dp); err != nil {
		return err
	}

	if c.KeySerialization, err = dp.GetInt(cfgKeyKeySerialization); err != nil {
		return err
	}
	if c.KeySerialization < 0 {
		return dp.WrapKeyErr(cfgKeyKeySerialization, fmt.Errorf("should be >= 0"))
	}
	return nil
}

func parseRate(v interface{}) (float64, error) {
	rate, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidRate, err)
	}
	if err = validateRate(rate); err != nil {
		return 0, err
	}
	return rate, nil
}

type rawOverrideConfig struct {
	Key    string      `mapstructure:"key"`
	Rate   interface{} `mapstructure:"rate"`
	Burst  interface{} `mapstructure:"burst"`
	Window interface{} `mapstructure:"window"`
}

func (c *Config) setOverrides(dp config.DataProvider) error {
	var rawOverrides []rawOverrideConfig
	if err := dp.UnmarshalKey(cfgKeyOverrides, &rawOverrides); err != nil {
		return err
	}
	c.Overrides = make([]OverrideConfig, 0, len(rawOverrides))
	seen := make(map[string]bool, len(rawOverrides))
	for i, raw := range rawOverrides {
		key := fmt.Sprintf("%s.%d", cfgKeyOverrides, i)
		if raw.Key == "" {
			return dp.WrapKeyErr(key+".key", fmt.Errorf("cannot be empty"))
		}
		if seen[raw.Key] {
			return dp.WrapKeyErr(key+".key", fmt.Errorf("duplicated key %q", raw.Key))
		}
		seen[raw.Key] = true

		oc := OverrideConfig{Key: raw.Key}
		if raw.Rate != nil {
			rate, err := parseRate(raw.Rate)
			if err != nil {
				return dp.WrapKeyErr(key+".rate", err)
			}
			oc.Rate = &rate
		}
		if raw.Burst != nil {
			burst, err := cast.ToFloat64E(raw.Burst)
			if err == nil {
				err = validateBurst(burst)
			}
			if err != nil {
				return dp.WrapKeyErr(key+".burst", err)
			}
			oc.Burst = &burst
		}
		if raw.Window != nil {
			window, err := tokenbucket.ParseWindow(raw.Window)
			if err == nil && window <= 0 {
				err = fmt.Errorf("should be positive")
			}
			if err != nil {
				return dp.WrapKeyErr(key+".window", err)
			}
			oc.Window = window
		}
		c.Overrides = append(c.Overrides, oc)
	}
	return nil
}

func (c *Config) setStoreConfig(dp config.DataProvider) error {
	storeType, err := dp.GetStringFromSet(cfgKeyStoreType, availableStoreTypes, true)
	if err != nil {
		return err
	}
	c.Store.Type = StoreType(strings.ToLower(storeType))

	if c.Store.MaxKeys, err = dp.GetInt(cfgKeyStoreMaxKeys); err != nil {
		return err
	}
	if c.Store.Type == StoreTypeLRU && c.Store.MaxKeys <= 0 {
		return dp.WrapKeyErr(cfgKeyStoreMaxKeys, fmt.Errorf("should be positive for %q store", StoreTypeLRU))
	}

	if c.Store.TTL, err = dp.GetDuration(cfgKeyStoreTTL); err != nil {
		return err
	}
	if c.Store.TTL < 0 {
		return dp.WrapKeyErr(cfgKeyStoreTTL, fmt.Errorf("should be >= 0"))
	}
	return nil
}

// OverridesMap converts the list of overrides to the form accepted by WithOverrides.
func (c *Config) OverridesMap() map[string]Override {
	res := make(map[string]Override, len(c.Overrides))
	for _, oc := range c.Overrides {
		res[oc.Key] = Override{Rate: oc.Rate, Burst: oc.Burst, Window: oc.Window}
	}
	return res
}

// NewTokenStore creates a token store described by the configuration.
// Metrics collector is used only by the LRU store and may be nil.
func (sc StoreConfig) NewTokenStore(mc store.MetricsCollector) (store.TokenStore, error) {
	switch sc.Type {
	case "", StoreTypeMemory:
		return store.NewMemory(), nil
	case StoreTypeLRU:
		return store.NewLRU(sc.MaxKeys, mc, store.LRUOpts{TTL: sc.TTL})
	}
	return nil, fmt.Errorf("unknown token store type %q", sc.Type)
}

// NewFromConfig creates a new Throttle from the loaded configuration.
// The token store is made from cfg.Store unless WithTokenStore is passed in opts.
func NewFromConfig(cfg *Config, opts ...Option) (*Throttle, error) {
	tokenStore, err := cfg.Store.NewTokenStore(nil)
	if err != nil {
		return nil, err
	}
	cfgOpts := []Option{
		WithBurst(cfg.Burst),
		WithOverrides(cfg.OverridesMap()),
		WithTokenStore(tokenStore),
		WithKeySerialization(cfg.KeySerialization),
	}
	if cfg.Window != 0 {
		cfgOpts = append(cfgOpts, WithWindow(cfg.Window))
	}
	return New(cfg.Rate, append(cfgOpts, opts...)...)
}
