/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package config loads configuration of the throttle and its companions (logger, store)
// from YAML/JSON files, readers, and environment variables.
//
// Every configuration object implements the Config interface: SetProviderDefaults
// registers default values and Set reads (and validates) values from DataProvider.
// Loader calls both methods for all passed objects. An object that implements
// KeyPrefixProvider gets its values from the corresponding section of the data.
package config

// Config is a common interface for configuration objects that may be used by Loader.
type Config interface {
	SetProviderDefaults(dp DataProvider)
	Set(dp DataProvider) error
}

// KeyPrefixProvider is an interface for providing key prefix that will be used for configuration parameters.
type KeyPrefixProvider interface {
	KeyPrefix() string
}

func dataProviderForConfig(dp DataProvider, cfg Config) DataProvider {
	if kp, ok := cfg.(KeyPrefixProvider); ok && kp.KeyPrefix() != "" {
		return NewKeyPrefixedDataProvider(dp, kp.KeyPrefix())
	}
	return dp
}
