/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package tokenbucket

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cast"
)

// State is a serializable representation of the bucket.
// In JSON, Window is encoded as a number of milliseconds and Time as RFC 3339 string.
// When decoding, a duration string (e.g. "1s") is accepted for Window as well.
type State struct {
	FillRate float64       `mapstructure:"fillRate" yaml:"fillRate" json:"fillRate"`
	Capacity float64       `mapstructure:"capacity" yaml:"capacity" json:"capacity"`
	Window   time.Duration `mapstructure:"window" yaml:"window" json:"window"`
	Tokens   float64       `mapstructure:"tokens" yaml:"tokens" json:"tokens"`
	Time     time.Time     `mapstructure:"time" yaml:"time" json:"time"`
}

// MarshalJSON encodes the state with the window in milliseconds.
func (s State) MarshalJSON() ([]byte, error) {
	type plainState State
	return json.Marshal(struct {
		plainState
		Window float64 `json:"window"`
	}{plainState(s), float64(s.Window) / float64(time.Millisecond)})
}

// UnmarshalJSON decodes the state loosely, the same way as DecodeState does.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded, err := DecodeState(raw)
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}

// ParseParams makes Params from loosely typed values.
// Numbers and numeric strings are accepted for all values.
// A number for the window means milliseconds, a duration string (e.g. "1s") is accepted as well.
func ParseParams(fillRate, capacity, window interface{}) (Params, error) {
	fr, err := cast.ToFloat64E(fillRate)
	if err != nil {
		return Params{}, fmt.Errorf("fill rate: %w", err)
	}
	c, err := cast.ToFloat64E(capacity)
	if err != nil {
		return Params{}, fmt.Errorf("capacity: %w", err)
	}
	w, err := ParseWindow(window)
	if err != nil {
		return Params{}, fmt.Errorf("window: %w", err)
	}
	p := Params{FillRate: fr, Capacity: c, Window: w}
	if err = p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// ParseWindow converts the passed value to the window duration.
// Plain numbers (and numeric strings) are treated as milliseconds.
func ParseWindow(v interface{}) (time.Duration, error) {
	switch val := v.(type) {
	case time.Duration:
		return val, nil
	case string:
		if ms, err := cast.ToFloat64E(val); err == nil {
			return msToDuration(ms), nil
		}
		return time.ParseDuration(val)
	}
	ms, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, err
	}
	return msToDuration(ms), nil
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

// DecodeState rehydrates the bucket state from a loosely typed value.
// It accepts State, *State, *Bucket, and maps (e.g. the result of decoding JSON into interface{}).
// Numeric strings are coerced to numbers, the window is parsed by ParseWindow.
func DecodeState(raw interface{}) (State, error) {
	switch v := raw.(type) {
	case State:
		return v, nil
	case *State:
		if v == nil {
			return State{}, fmt.Errorf("nil state")
		}
		return *v, nil
	case *Bucket:
		if v == nil {
			return State{}, fmt.Errorf("nil bucket")
		}
		return v.State(), nil
	}

	var s State
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       stateDecodeHook(),
		WeaklyTypedInput: true,
		Result:           &s,
	})
	if err != nil {
		return State{}, err
	}
	if err = decoder.Decode(raw); err != nil {
		return State{}, fmt.Errorf("decode token bucket state: %w", err)
	}
	return s, nil
}

func stateDecodeHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	timeType := reflect.TypeOf(time.Time{})
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		switch to {
		case durationType:
			return ParseWindow(data)
		case timeType:
			if from.Kind() == reflect.String {
				return time.Parse(time.RFC3339Nano, data.(string))
			}
		}
		return data, nil
	}
}
