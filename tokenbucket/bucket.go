/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package tokenbucket

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrInvalidParams is returned when bucket parameters are out of range.
var ErrInvalidParams = errors.New("invalid token bucket parameters")

// Params contains parameters for a fresh bucket.
type Params struct {
	// FillRate is the number of tokens added every Window.
	FillRate float64
	// Capacity is the maximum number of tokens the bucket may hold (i.e. burst).
	Capacity float64
	// Window is the period during which FillRate tokens are added.
	Window time.Duration
}

// Validate checks that parameters are in the allowed range.
func (p Params) Validate() error {
	return validate(p.FillRate, p.Capacity, p.Window)
}

func validate(fillRate, capacity float64, window time.Duration) error {
	if math.IsNaN(fillRate) || math.IsInf(fillRate, 0) || fillRate < 0 {
		return fmt.Errorf("%w: fill rate should be a finite number >= 0, got %v", ErrInvalidParams, fillRate)
	}
	if math.IsNaN(capacity) || math.IsInf(capacity, 0) || capacity < 0 {
		return fmt.Errorf("%w: capacity should be a finite number >= 0, got %v", ErrInvalidParams, capacity)
	}
	if window <= 0 {
		return fmt.Errorf("%w: window should be positive, got %s", ErrInvalidParams, window)
	}
	return nil
}

// Option is a functional option for the bucket.
type Option func(*bucketOptions)

type bucketOptions struct {
	clock clockwork.Clock
}

// WithClock sets the time source of the bucket. Real clock is used by default.
func WithClock(clock clockwork.Clock) Option {
	return func(o *bucketOptions) {
		o.clock = clock
	}
}

func makeOptions(opts []Option) bucketOptions {
	o := bucketOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	return o
}

// Bucket is a token bucket.
type Bucket struct {
	state State
	clock clockwork.Clock
}

// New creates a new full bucket.
func New(p Params, opts ...Option) (*Bucket, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	o := makeOptions(opts)
	return &Bucket{
		state: State{
			FillRate: p.FillRate,
			Capacity: p.Capacity,
			Window:   p.Window,
			Tokens:   p.Capacity,
			Time:     o.clock.Now(),
		},
		clock: o.clock,
	}, nil
}

// FromState creates a bucket from the previously saved state.
// Tokens and time are taken as is, tokens are only clamped to the [0, capacity] range.
func FromState(s State, opts ...Option) (*Bucket, error) {
	if err := validate(s.FillRate, s.Capacity, s.Window); err != nil {
		return nil, err
	}
	if math.IsNaN(s.Tokens) {
		return nil, fmt.Errorf("%w: tokens should be a number", ErrInvalidParams)
	}
	o := makeOptions(opts)
	s.Tokens = math.Max(0, math.Min(s.Capacity, s.Tokens))
	return &Bucket{state: s, clock: o.clock}, nil
}

// Consume refills the bucket and then takes n tokens from it.
// It returns false and leaves the bucket untouched if there are not enough tokens.
func (b *Bucket) Consume(n float64) bool {
	b.refill()
	if b.state.Tokens < n {
		return false
	}
	b.state.Tokens -= n
	return true
}

func (b *Bucket) refill() {
	now := b.clock.Now()
	elapsed := now.Sub(b.state.Time)
	if elapsed <= 0 {
		return // Time never goes backwards for the bucket.
	}
	if b.state.Tokens < b.state.Capacity {
		delta := float64(elapsed) * b.state.FillRate / float64(b.state.Window)
		b.state.Tokens = math.Min(b.state.Capacity, b.state.Tokens+delta)
	}
	b.state.Time = now
}

// TimeToFull returns how long it takes to replenish the bucket completely.
// The value is rounded up to milliseconds and never exceeds the window.
func (b *Bucket) TimeToFull() time.Duration {
	missing := b.state.Capacity - b.state.Tokens
	if missing <= 0 {
		return 0
	}
	if b.state.FillRate == 0 {
		return b.state.Window
	}
	windowMs := float64(b.state.Window) / float64(time.Millisecond)
	d := time.Duration(math.Ceil(missing/b.state.FillRate*windowMs)) * time.Millisecond
	if d > b.state.Window {
		return b.state.Window
	}
	return d
}

// State returns a copy of the current bucket state.
func (b *Bucket) State() State {
	return b.state
}

// Tokens returns the current number of tokens (without refilling).
func (b *Bucket) Tokens() float64 {
	return b.state.Tokens
}

// Capacity returns the maximum number of tokens.
func (b *Bucket) Capacity() float64 {
	return b.state.Capacity
}

// FillRate returns the number of tokens added every window.
func (b *Bucket) FillRate() float64 {
	return b.state.FillRate
}

// Window returns the refill window.
func (b *Bucket) Window() time.Duration {
	return b.state.Window
}

// Time returns the moment of the last refill.
func (b *Bucket) Time() time.Time {
	return b.state.Time
}
