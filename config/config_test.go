/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type testServerConfig struct {
	Address string
	Timeout time.Duration
}

func (c *testServerConfig) SetProviderDefaults(dp DataProvider) {
	dp.SetDefault("address", ":8080")
	dp.SetDefault("timeout", "5s")
}

func (c *testServerConfig) Set(dp DataProvider) error {
	var err error
	if c.Address, err = dp.GetString("address"); err != nil {
		return err
	}
	if c.Timeout, err = dp.GetDuration("timeout"); err != nil {
		return err
	}
	return nil
}

func (c *testServerConfig) KeyPrefix() string {
	return "server"
}

type testFailingConfig struct{}

func (c *testFailingConfig) SetProviderDefaults(DataProvider) {}

func (c *testFailingConfig) Set(dp DataProvider) error {
	return dp.WrapKeyErr("value", errors.New("always fails"))
}

func TestLoader_LoadFromReader(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := &testServerConfig{}
		err := NewLoader(NewViperAdapter()).LoadFromReader(bytes.NewBufferString(`{}`), DataTypeJSON, cfg)
		require.NoError(t, err)
		require.Equal(t, ":8080", cfg.Address)
		require.Equal(t, 5*time.Second, cfg.Timeout)
	})

	t.Run("key prefix", func(t *testing.T) {
		cfg := &testServerConfig{}
		data := `
server:
  address: ":9090"
  timeout: 1m
`
		err := NewLoader(NewViperAdapter()).LoadFromReader(bytes.NewBufferString(data), DataTypeYAML, cfg)
		require.NoError(t, err)
		require.Equal(t, ":9090", cfg.Address)
		require.Equal(t, time.Minute, cfg.Timeout)
	})

	t.Run("error", func(t *testing.T) {
		err := NewLoader(NewViperAdapter()).LoadFromReader(
			bytes.NewBufferString(`{}`), DataTypeJSON, &testServerConfig{}, &testFailingConfig{})
		require.EqualError(t, err, "value: always fails")
	})

	t.Run("errors of all configs", func(t *testing.T) {
		err := NewLoader(NewViperAdapter()).LoadFromReader(bytes.NewBufferString(`{"server":{"timeout":"soon"}}`),
			DataTypeJSON, &testServerConfig{}, &testFailingConfig{})
		require.ErrorContains(t, err, "server.timeout")
		require.ErrorContains(t, err, "value: always fails")
	})

	t.Run("malformed data", func(t *testing.T) {
		err := NewLoader(NewViperAdapter()).LoadFromReader(bytes.NewBufferString(`{`), DataTypeJSON, &testServerConfig{})
		require.ErrorContains(t, err, "read config data")
	})
}

func TestLoader_Load(t *testing.T) {
	t.Setenv("THROTTLE_TEST_SERVER_ADDRESS", ":7070")
	cfg := &testServerConfig{}
	require.NoError(t, NewDefaultLoader("THROTTLE_TEST").Load(cfg))
	require.Equal(t, ":7070", cfg.Address)
	require.Equal(t, 5*time.Second, cfg.Timeout)

	err := NewDefaultLoader("THROTTLE_TEST").LoadFromFile("not-existing.yml", DataTypeYAML, cfg)
	require.ErrorContains(t, err, `read config file "not-existing.yml"`)
}

func TestViperAdapter_Getters(t *testing.T) {
	va := NewViperAdapter()
	data := `
rate: "3.5"
burst: 10
badNumber: blue
level: INFO
size: 10M
`
	require.NoError(t, va.SetFromReader(bytes.NewBufferString(data), DataTypeYAML))

	rate, err := va.GetFloat64("rate")
	require.NoError(t, err)
	require.Equal(t, 3.5, rate)

	burst, err := va.GetInt("burst")
	require.NoError(t, err)
	require.Equal(t, 10, burst)

	_, err = va.GetFloat64("badNumber")
	require.ErrorContains(t, err, "badNumber")

	level, err := va.GetStringFromSet("level", []string{"info", "debug"}, true)
	require.NoError(t, err)
	require.Equal(t, "INFO", level)
	_, err = va.GetStringFromSet("level", []string{"info", "debug"}, false)
	require.Error(t, err)

	size, err := va.GetByteSize("size")
	require.NoError(t, err)
	require.Equal(t, ByteSize(10*1024*1024), size)

	require.True(t, va.IsSet("rate"))
	require.False(t, va.IsSet("missing"))

	dur, err := va.GetDuration("missing")
	require.NoError(t, err)
	require.Zero(t, dur)
}

func TestViperAdapter_GetMillisDuration(t *testing.T) {
	va := NewViperAdapter()
	data := `
intWindow: 1000
floatWindow: 2.5
strWindow: "250"
durWindow: 1m
badWindow: soon
`
	require.NoError(t, va.SetFromReader(bytes.NewBufferString(data), DataTypeYAML))

	tests := []struct {
		key  string
		want time.Duration
	}{
		{key: "intWindow", want: time.Second},
		{key: "floatWindow", want: 2500 * time.Microsecond},
		{key: "strWindow", want: 250 * time.Millisecond},
		{key: "durWindow", want: time.Minute},
		{key: "missing", want: 0},
	}
	for _, tt := range tests {
		got, err := va.GetMillisDuration(tt.key)
		require.NoError(t, err, tt.key)
		require.Equal(t, tt.want, got, tt.key)
	}

	_, err := va.GetMillisDuration("badWindow")
	require.ErrorContains(t, err, "badWindow")

	window, err := NewKeyPrefixedDataProvider(va, "").GetMillisDuration("intWindow")
	require.NoError(t, err)
	require.Equal(t, time.Second, window)
}

func TestKeyPrefixedDataProvider(t *testing.T) {
	va := NewViperAdapter()
	require.NoError(t, va.SetFromReader(bytes.NewBufferString(`{"throttle":{"rate":5}}`), DataTypeJSON))
	dp := NewKeyPrefixedDataProvider(va, "throttle")

	rate, err := dp.GetFloat64("rate")
	require.NoError(t, err)
	require.Equal(t, float64(5), rate)
	require.True(t, dp.IsSet("rate"))

	dp.SetDefault("window", "1s")
	window, err := va.GetDuration("throttle.window")
	require.NoError(t, err)
	require.Equal(t, time.Second, window)

	require.EqualError(t, dp.WrapKeyErr("rate", errors.New("bad")), "throttle.rate: bad")
}

func TestByteSize(t *testing.T) {
	var b ByteSize
	require.NoError(t, json.Unmarshal([]byte(`1024`), &b))
	require.Equal(t, ByteSize(1024), b)
	require.NoError(t, json.Unmarshal([]byte(`"2Mi"`), &b))
	require.Equal(t, ByteSize(2*1024*1024), b)
	require.Error(t, json.Unmarshal([]byte(`"-5"`), &b))

	var cfg struct {
		Size ByteSize `yaml:"size"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("size: 1K"), &cfg))
	require.Equal(t, ByteSize(1024), cfg.Size)

	out, err := json.Marshal(ByteSize(1024))
	require.NoError(t, err)
	require.Equal(t, `"1K"`, string(out))
}
