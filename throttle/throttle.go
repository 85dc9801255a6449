/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/acronis/go-throttle/log"
	"github.com/acronis/go-throttle/store"
	"github.com/acronis/go-throttle/tokenbucket"
)

// DefaultWindow is a period during which rate tokens are added to the bucket if another one is not specified.
const DefaultWindow = time.Second

// KeyLogFieldName is a logged field that contains the throttling key.
const KeyLogFieldName = log.ThrottleKeyFieldName

// Construction errors.
var (
	ErrInvalidRate = errors.New("rate should be a finite number >= 0")
	ErrRateNotSet  = errors.New("rate is required")
)

// Metadata describes the state of the key's bucket after the decision.
// Limit and Rate are the limits currently resolved for the key, while Remaining and Reset are computed
// by the stored bucket with its own parameters, so they may disagree until a bucket created
// before the limits were changed is evicted from the store.
type Metadata struct {
	// Limit is the bucket capacity (burst).
	Limit float64
	// Rate is the number of tokens added every window.
	Rate float64
	// Remaining is the whole number of tokens left in the bucket.
	Remaining int
	// Reset is the time until the bucket is full again. It never exceeds the window.
	Reset time.Duration
}

// Result is a throttling decision.
// If Err is not nil, Limited is false and Metadata is empty.
type Result struct {
	Limited  bool
	Metadata Metadata
	Err      error
}

// CompletionFunc receives a throttling decision.
type CompletionFunc func(err error, limited bool, md Metadata)

// Option is a functional option for the Throttle.
type Option func(*options)

type options struct {
	burst            *float64
	window           time.Duration
	overrides        map[string]Override
	tokenStore       store.TokenStore
	tokenStoreSet    bool
	logger           log.FieldLogger
	metrics          MetricsCollector
	clock            clockwork.Clock
	keySerialization int
	ctxLogFields     LogFieldsFunc
}

// WithBurst sets the bucket capacity. By default, it's equal to the rate.
func WithBurst(burst float64) Option {
	return func(o *options) {
		o.burst = &burst
	}
}

// WithWindow sets the period during which rate tokens are added to the bucket. DefaultWindow is used by default.
func WithWindow(window time.Duration) Option {
	return func(o *options) {
		o.window = window
	}
}

// WithOverrides sets per-key limits. Keys containing '*' are treated as glob patterns.
func WithOverrides(overrides map[string]Override) Option {
	return func(o *options) {
		o.overrides = overrides
	}
}

// WithTokenStore sets the store for bucket states. Each Throttle uses its own in-memory store by default.
func WithTokenStore(s store.TokenStore) Option {
	return func(o *options) {
		o.tokenStore = s
		o.tokenStoreSet = true
	}
}

// WithLogger sets the logger. Nothing is logged by default.
func WithLogger(logger log.FieldLogger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// LogFieldsFunc extracts fields from the context of the call (e.g. request id) to be added to throttle logs.
type LogFieldsFunc func(ctx context.Context) []log.Field

// WithContextLogFields makes every log entry written for a call carry the fields extracted from its context.
func WithContextLogFields(fn LogFieldsFunc) Option {
	return func(o *options) {
		o.ctxLogFields = fn
	}
}

// WithMetricsCollector sets the collector of metrics. Metrics are disabled by default.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metrics = mc
	}
}

// WithClock sets the time source for the buckets.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithKeySerialization makes calls for the same key run one after another.
// Keys are spread over the given number of mutexes. Zero disables serialization.
func WithKeySerialization(stripes int) Option {
	return func(o *options) {
		o.keySerialization = stripes
	}
}

// Throttle limits the rate of calls per key.
type Throttle struct {
	defaults  Limits
	overrides *overrides
	store     store.TokenStore
	logger    log.FieldLogger
	logFields LogFieldsFunc
	metrics   MetricsCollector
	clock     clockwork.Clock
	keyLocks  *keyLocks
}

// New creates a new Throttle that allows rate calls per window for every key.
func New(rate float64, opts ...Option) (*Throttle, error) {
	o := options{window: DefaultWindow}
	for _, opt := range opts {
		opt(&o)
	}

	if err := validateRate(rate); err != nil {
		return nil, err
	}
	burst := rate
	if o.burst != nil {
		burst = *o.burst
		if err := validateBurst(burst); err != nil {
			return nil, err
		}
	}
	if o.window <= 0 {
		return nil, fmt.Errorf("window should be positive, got %s", o.window)
	}

	ovs, err := newOverrides(o.overrides)
	if err != nil {
		return nil, err
	}

	if !o.tokenStoreSet {
		o.tokenStore = store.NewMemory()
	}
	if err = store.Validate(o.tokenStore); err != nil {
		return nil, err
	}

	if o.keySerialization < 0 {
		return nil, fmt.Errorf("key serialization stripes should be >= 0, got %d", o.keySerialization)
	}
	var kl *keyLocks
	if o.keySerialization > 0 {
		kl = newKeyLocks(o.keySerialization)
	}

	if o.logger == nil {
		o.logger = log.NewDisabledLogger()
	}
	if o.metrics == nil {
		o.metrics = disabledMetrics{}
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}

	return &Throttle{
		defaults:  Limits{Rate: rate, Burst: burst, Window: o.window},
		overrides: ovs,
		store:     o.tokenStore,
		logger:    o.logger,
		logFields: o.ctxLogFields,
		metrics:   o.metrics,
		clock:     o.clock,
		keyLocks:  kl,
	}, nil
}

func validateRate(rate float64) error {
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate < 0 {
		return fmt.Errorf("%w, got %v", ErrInvalidRate, rate)
	}
	return nil
}

func validateBurst(burst float64) error {
	if math.IsNaN(burst) || math.IsInf(burst, 0) || burst < 0 {
		return fmt.Errorf("burst should be a finite number >= 0, got %v", burst)
	}
	return nil
}

// Limits returns limits that are applied to the key.
func (t *Throttle) Limits(key string) Limits {
	return t.overrides.resolve(t.defaults, key)
}

// RateLimit makes a throttling decision for the key.
// The decision is made in a separate goroutine and is sent to the returned buffered channel,
// so the caller may read it at any time or never.
func (t *Throttle) RateLimit(ctx context.Context, key string) <-chan Result {
	resultCh := make(chan Result, 1)
	go func() {
		resultCh <- t.decide(ctx, key)
	}()
	return resultCh
}

// RateLimitFunc makes a throttling decision for the key and passes it to fn.
// fn is always called from a separate goroutine.
func (t *Throttle) RateLimitFunc(ctx context.Context, key string, fn CompletionFunc) {
	go func() {
		res := t.decide(ctx, key)
		fn(res.Err, res.Limited, res.Metadata)
	}()
}

// Allow waits for the throttling decision for the key.
// The decision is still made even if ctx is done before, but Allow returns ctx.Err() immediately in that case.
func (t *Throttle) Allow(ctx context.Context, key string) (allow bool, md Metadata, err error) {
	select {
	case res := <-t.RateLimit(ctx, key):
		return !res.Limited, res.Metadata, res.Err
	case <-ctx.Done():
		return false, Metadata{}, ctx.Err()
	}
}

func (t *Throttle) decide(ctx context.Context, key string) Result {
	limits := t.Limits(key)

	if limits.Rate == 0 {
		t.metrics.IncDecisions(DecisionBypassed)
		return Result{Metadata: Metadata{
			Limit:     limits.Burst,
			Remaining: int(math.Floor(limits.Burst)),
			Reset:     limits.Window,
		}}
	}

	if t.keyLocks != nil {
		unlock := t.keyLocks.lock(key)
		defer unlock()
	}

	logger := t.loggerFor(ctx)
	bucket, err := t.loadBucket(ctx, key, limits)
	if err != nil {
		t.metrics.IncStoreErrors(StoreOpGet)
		logger.Error("failed to get token bucket state", log.ThrottleKey(key), log.Error(err))
		return Result{Err: err}
	}

	allowed := bucket.Consume(1)

	if err = t.store.Put(ctx, key, bucket.State()); err != nil {
		t.metrics.IncStoreErrors(StoreOpPut)
		logger.Error("failed to put token bucket state", log.ThrottleKey(key), log.Error(err))
		return Result{Err: fmt.Errorf("put token bucket state: %w", err)}
	}

	md := Metadata{
		Limit:     limits.Burst,
		Rate:      limits.Rate,
		Remaining: int(math.Floor(bucket.Tokens())),
		Reset:     bucket.TimeToFull(),
	}
	if !allowed {
		t.metrics.IncDecisions(DecisionLimited)
		logger.Debug("rate limit exceeded", log.ThrottleKey(key), log.Duration("reset", md.Reset))
		return Result{Limited: true, Metadata: md}
	}
	t.metrics.IncDecisions(DecisionAllowed)
	return Result{Metadata: md}
}

func (t *Throttle) loggerFor(ctx context.Context) log.FieldLogger {
	if t.logFields == nil {
		return t.logger
	}
	if fields := t.logFields(ctx); len(fields) != 0 {
		return t.logger.With(fields...)
	}
	return t.logger
}

func (t *Throttle) loadBucket(ctx context.Context, key string, limits Limits) (*tokenbucket.Bucket, error) {
	state, found, err := t.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get token bucket state: %w", err)
	}
	if !found {
		return tokenbucket.New(tokenbucket.Params{
			FillRate: limits.Rate,
			Capacity: limits.Burst,
			Window:   limits.Window,
		}, tokenbucket.WithClock(t.clock))
	}
	bucket, err := tokenbucket.FromState(state, tokenbucket.WithClock(t.clock))
	if err != nil {
		return nil, fmt.Errorf("restore token bucket from state: %w", err)
	}
	return bucket, nil
}
