/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-throttle/config"
)

func TestConfig(t *testing.T) {
	load := func(t *testing.T, data string) (*Config, error) {
		t.Helper()
		cfg := NewConfig()
		err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(
			bytes.NewBufferString(data), config.DataTypeYAML, cfg)
		return cfg, err
	}

	t.Run("defaults", func(t *testing.T) {
		cfg, err := load(t, "")
		require.NoError(t, err)
		require.Equal(t, NewDefaultConfig(), cfg)
	})

	t.Run("full", func(t *testing.T) {
		cfg, err := load(t, `
server:
  address: "127.0.0.1:9090"
  timeouts:
    write: 2m
    read: 3s
    readHeader: 1s
    idle: 30s
    shutdown: 10s
  log:
    requestStart: true
    excludedEndpoints:
      - /status
`)
		require.NoError(t, err)
		require.Equal(t, "127.0.0.1:9090", cfg.Address)
		require.Equal(t, TimeoutsConfig{
			Write:      2 * time.Minute,
			Read:       3 * time.Second,
			ReadHeader: time.Second,
			Idle:       30 * time.Second,
			Shutdown:   10 * time.Second,
		}, cfg.Timeouts)
		require.Equal(t, LogConfig{RequestStart: true, ExcludedEndpoints: []string{"/status"}}, cfg.Log)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := load(t, "server:\n  timeouts:\n    write: never\n")
		require.ErrorContains(t, err, "server.timeouts.write")
		_, err = load(t, "server:\n  timeouts:\n    idle: -1s\n")
		require.ErrorContains(t, err, "server.timeouts.idle")
	})
}
