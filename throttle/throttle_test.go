/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"context"
	"errors"
	"math"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/acronis/go-throttle/log"
	"github.com/acronis/go-throttle/log/logtest"
	"github.com/acronis/go-throttle/store"
	"github.com/acronis/go-throttle/tokenbucket"
)

func requireResult(t *testing.T, res Result, wantLimited bool, wantLimit, wantRate float64, wantRemaining int) {
	t.Helper()
	require.NoError(t, res.Err)
	require.Equal(t, wantLimited, res.Limited)
	require.Equal(t, wantLimit, res.Metadata.Limit)
	require.Equal(t, wantRate, res.Metadata.Rate)
	require.Equal(t, wantRemaining, res.Metadata.Remaining)
}

func TestThrottle_RateLimit(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	thr, err := New(3, WithClock(clock))
	require.NoError(t, err)

	wantResets := []time.Duration{334 * time.Millisecond, 667 * time.Millisecond, time.Second}
	for i := 0; i < 3; i++ {
		res := <-thr.RateLimit(ctx, "test")
		requireResult(t, res, false, 3, 3, 2-i)
		require.Equal(t, wantResets[i], res.Metadata.Reset)
	}

	for i := 0; i < 2; i++ {
		res := <-thr.RateLimit(ctx, "test")
		requireResult(t, res, true, 3, 3, 0)
		require.LessOrEqual(t, res.Metadata.Reset, time.Second)
	}

	clock.Advance(time.Second)
	res := <-thr.RateLimit(ctx, "test")
	requireResult(t, res, false, 3, 3, 2)
	require.LessOrEqual(t, res.Metadata.Reset, time.Second)

	// Other keys have their own buckets.
	requireResult(t, <-thr.RateLimit(ctx, "other"), false, 3, 3, 2)
}

func TestThrottle_BurstAndWindow(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	thr, err := New(1, WithBurst(3), WithWindow(100*time.Millisecond), WithClock(clock))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res := <-thr.RateLimit(ctx, "test")
		requireResult(t, res, false, 3, 1, 2-i)
		require.LessOrEqual(t, res.Metadata.Reset, 100*time.Millisecond)
	}
	res := <-thr.RateLimit(ctx, "test")
	requireResult(t, res, true, 3, 1, 0)
	require.Equal(t, 100*time.Millisecond, res.Metadata.Reset)

	// One token is added in a window, it's consumed immediately.
	clock.Advance(100 * time.Millisecond)
	res = <-thr.RateLimit(ctx, "test")
	requireResult(t, res, false, 3, 1, 0)
	require.Equal(t, 100*time.Millisecond, res.Metadata.Reset)
}

func TestThrottle_Overrides(t *testing.T) {
	ctx := context.Background()

	t.Run("zero rate and burst", func(t *testing.T) {
		thr, err := New(3, WithBurst(3), WithOverrides(map[string]Override{
			"test": {Rate: Float(0), Burst: Float(0)},
		}))
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			res := <-thr.RateLimit(ctx, "test")
			requireResult(t, res, false, 0, 0, 0)
			require.Equal(t, time.Second, res.Metadata.Reset)
		}
	})

	t.Run("rate only", func(t *testing.T) {
		thr, err := New(3, WithBurst(3), WithOverrides(map[string]Override{
			"test": {Rate: Float(0)},
		}))
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			res := <-thr.RateLimit(ctx, "test")
			requireResult(t, res, false, 3, 0, 3)
			require.LessOrEqual(t, res.Metadata.Reset, time.Second)
		}
		// Defaults are still applied to other keys.
		requireResult(t, <-thr.RateLimit(ctx, "another"), false, 3, 3, 2)
	})

	t.Run("bypass does not touch the store", func(t *testing.T) {
		var calls atomic.Int32
		s := store.Funcs{
			GetFunc: func(context.Context, string) (tokenbucket.State, bool, error) {
				calls.Inc()
				return tokenbucket.State{}, false, nil
			},
			PutFunc: func(context.Context, string, tokenbucket.State) error {
				calls.Inc()
				return nil
			},
		}
		thr, err := New(0, WithBurst(7), WithTokenStore(s))
		require.NoError(t, err)
		requireResult(t, <-thr.RateLimit(ctx, "test"), false, 7, 0, 7)
		require.Equal(t, int32(0), calls.Load())
	})

	t.Run("window", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		thr, err := New(1, WithBurst(3), WithClock(clock), WithOverrides(map[string]Override{
			"test": {Rate: Float(1), Burst: Float(3), Window: 100 * time.Millisecond},
		}))
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			res := <-thr.RateLimit(ctx, "test")
			requireResult(t, res, false, 3, 1, 2-i)
			require.LessOrEqual(t, res.Metadata.Reset, 100*time.Millisecond)
		}
		requireResult(t, <-thr.RateLimit(ctx, "test"), true, 3, 1, 0)

		clock.Advance(200 * time.Millisecond)
		res := <-thr.RateLimit(ctx, "test")
		requireResult(t, res, false, 3, 1, 1)
		require.LessOrEqual(t, res.Metadata.Reset, 100*time.Millisecond)
	})

	t.Run("glob patterns", func(t *testing.T) {
		thr, err := New(1, WithOverrides(map[string]Override{
			"partner-*":    {Rate: Float(10)},
			"partner-acme": {Rate: Float(20)},
			"a*":           {Burst: Float(5)},
			"ab*":          {Burst: Float(6)},
		}))
		require.NoError(t, err)
		require.Equal(t, Limits{Rate: 20, Burst: 1, Window: time.Second}, thr.Limits("partner-acme"))
		require.Equal(t, Limits{Rate: 10, Burst: 1, Window: time.Second}, thr.Limits("partner-foo"))
		require.Equal(t, Limits{Rate: 1, Burst: 5, Window: time.Second}, thr.Limits("abc"))
		require.Equal(t, Limits{Rate: 1, Burst: 1, Window: time.Second}, thr.Limits("client"))
	})
}

func TestThrottle_CustomStore(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()

	var gets, puts atomic.Int32
	mem := store.NewMemory()
	s := store.Funcs{
		GetFunc: func(ctx context.Context, key string) (tokenbucket.State, bool, error) {
			gets.Inc()
			return mem.Get(ctx, key)
		},
		PutFunc: func(ctx context.Context, key string, state tokenbucket.State) error {
			puts.Inc()
			return mem.Put(ctx, key, state)
		},
	}
	thr, err := New(1, WithBurst(3), WithWindow(100*time.Millisecond), WithTokenStore(s), WithClock(clock))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		requireResult(t, <-thr.RateLimit(ctx, "test"), false, 3, 1, 2-i)
	}
	requireResult(t, <-thr.RateLimit(ctx, "test"), true, 3, 1, 0)
	clock.Advance(100 * time.Millisecond)
	requireResult(t, <-thr.RateLimit(ctx, "test"), false, 3, 1, 0)

	require.Equal(t, int32(5), gets.Load())
	require.Equal(t, int32(5), puts.Load())

	state, found, err := mem.Get(ctx, "test")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, float64(0), state.Tokens)
	require.Equal(t, clock.Now(), state.Time)
}

func TestThrottle_JSONStore(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	thr, err := New(2, WithTokenStore(store.NewJSON(newBytesMap(), "throttle:")), WithClock(clock))
	require.NoError(t, err)

	requireResult(t, <-thr.RateLimit(ctx, "test"), false, 2, 2, 1)
	requireResult(t, <-thr.RateLimit(ctx, "test"), false, 2, 2, 0)
	requireResult(t, <-thr.RateLimit(ctx, "test"), true, 2, 2, 0)
	clock.Advance(500 * time.Millisecond)
	requireResult(t, <-thr.RateLimit(ctx, "test"), false, 2, 2, 0)
}

func TestThrottle_StoredBucketOutlivesLimits(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	mem := store.NewMemory()
	require.NoError(t, mem.Put(ctx, "test", tokenbucket.State{
		FillRate: 5, Capacity: 5, Window: time.Second, Tokens: 5, Time: clock.Now(),
	}))

	thr, err := New(1, WithTokenStore(mem), WithClock(clock))
	require.NoError(t, err)

	// Limit and Rate are resolved for the key, the rest is computed by the stored bucket.
	res := <-thr.RateLimit(ctx, "test")
	requireResult(t, res, false, 1, 1, 4)
	require.Equal(t, 200*time.Millisecond, res.Metadata.Reset)
}

type requestIDCtxKey struct{}

func TestThrottle_ContextLogFields(t *testing.T) {
	logger := logtest.NewRecorder()
	thr, err := New(1, WithLogger(logger), WithClock(clockwork.NewFakeClock()),
		WithContextLogFields(func(ctx context.Context) []log.Field {
			if id, ok := ctx.Value(requestIDCtxKey{}).(string); ok {
				return []log.Field{log.String("request_id", id)}
			}
			return nil
		}))
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), requestIDCtxKey{}, "req-1")
	requireResult(t, <-thr.RateLimit(ctx, "test"), false, 1, 1, 0)
	requireResult(t, <-thr.RateLimit(ctx, "test"), true, 1, 1, 0)
	requireResult(t, <-thr.RateLimit(context.Background(), "test"), true, 1, 1, 0)

	entries := logger.FindEntriesByThrottleKey("test")
	require.Len(t, entries, 2)
	for _, entry := range entries {
		require.Equal(t, "rate limit exceeded", entry.Text)
	}
	reqID, ok := entries[0].StringField("request_id")
	require.True(t, ok)
	require.Equal(t, "req-1", reqID)
	_, ok = entries[1].StringField("request_id")
	require.False(t, ok)
}

func TestThrottle_TwoInstances(t *testing.T) {
	ctx := context.Background()
	thr1, err := New(3)
	require.NoError(t, err)
	thr2, err := New(1)
	require.NoError(t, err)

	requireResult(t, <-thr2.RateLimit(ctx, "test"), false, 1, 1, 0)
	requireResult(t, <-thr2.RateLimit(ctx, "test"), true, 1, 1, 0)

	for i := 0; i < 3; i++ {
		requireResult(t, <-thr1.RateLimit(ctx, "test"), false, 3, 3, 2-i)
	}
	requireResult(t, <-thr1.RateLimit(ctx, "test"), true, 3, 3, 0)
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name    string
		rate    float64
		opts    []Option
		wantErr error
	}{
		{name: "negative rate", rate: -1, wantErr: ErrInvalidRate},
		{name: "NaN rate", rate: math.NaN(), wantErr: ErrInvalidRate},
		{name: "infinite rate", rate: math.Inf(1), wantErr: ErrInvalidRate},
		{name: "nil store", rate: 1, opts: []Option{WithTokenStore(nil)}, wantErr: store.ErrInvalidStore},
		{name: "incomplete store", rate: 1, opts: []Option{WithTokenStore(store.Funcs{
			PutFunc: func(context.Context, string, tokenbucket.State) error { return nil },
		})}, wantErr: store.ErrInvalidStore},
		{name: "negative burst", rate: 1, opts: []Option{WithBurst(-1)}},
		{name: "zero window", rate: 1, opts: []Option{WithWindow(0)}},
		{name: "invalid override", rate: 1, opts: []Option{WithOverrides(map[string]Override{"k": {Rate: Float(-2)}})},
			wantErr: ErrInvalidRate},
		{name: "negative key serialization", rate: 1, opts: []Option{WithKeySerialization(-1)}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			thr, err := New(tt.rate, tt.opts...)
			require.Error(t, err)
			require.Nil(t, thr)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestThrottle_StoreErrors(t *testing.T) {
	ctx := context.Background()
	errStore := errors.New("store is unavailable")

	t.Run("get", func(t *testing.T) {
		logger := logtest.NewRecorder()
		metrics := NewPrometheusMetrics("")
		thr, err := New(1, WithLogger(logger), WithMetricsCollector(metrics), WithTokenStore(store.Funcs{
			GetFunc: func(context.Context, string) (tokenbucket.State, bool, error) {
				return tokenbucket.State{}, false, errStore
			},
			PutFunc: func(context.Context, string, tokenbucket.State) error { return nil },
		}))
		require.NoError(t, err)

		res := <-thr.RateLimit(ctx, "test")
		require.ErrorIs(t, res.Err, errStore)
		require.False(t, res.Limited)
		require.Equal(t, Metadata{}, res.Metadata)
		require.Equal(t, float64(1), testutil.ToFloat64(metrics.StoreErrors.WithLabelValues(string(StoreOpGet))))

		entries := logger.FindEntriesByThrottleKey("test")
		require.Len(t, entries, 1)
		require.Equal(t, "failed to get token bucket state", entries[0].Text)
		require.Equal(t, log.LevelError, entries[0].Level)
	})

	t.Run("put", func(t *testing.T) {
		metrics := NewPrometheusMetrics("")
		thr, err := New(1, WithMetricsCollector(metrics), WithTokenStore(store.Funcs{
			GetFunc: func(context.Context, string) (tokenbucket.State, bool, error) {
				return tokenbucket.State{}, false, nil
			},
			PutFunc: func(context.Context, string, tokenbucket.State) error { return errStore },
		}))
		require.NoError(t, err)

		allow, md, err := thr.Allow(ctx, "test")
		require.ErrorIs(t, err, errStore)
		require.True(t, allow)
		require.Equal(t, Metadata{}, md)
		require.Equal(t, float64(1), testutil.ToFloat64(metrics.StoreErrors.WithLabelValues(string(StoreOpPut))))
	})

	t.Run("corrupted state", func(t *testing.T) {
		thr, err := New(1, WithTokenStore(store.Funcs{
			GetFunc: func(context.Context, string) (tokenbucket.State, bool, error) {
				return tokenbucket.State{FillRate: 1, Capacity: 1}, true, nil // zero window
			},
			PutFunc: func(context.Context, string, tokenbucket.State) error { return nil },
		}))
		require.NoError(t, err)
		res := <-thr.RateLimit(ctx, "test")
		require.ErrorIs(t, res.Err, tokenbucket.ErrInvalidParams)
		require.False(t, res.Limited)
	})
}

func TestThrottle_RateLimitFunc(t *testing.T) {
	thr, err := New(1)
	require.NoError(t, err)

	release := make(chan struct{})
	type completion struct {
		err     error
		limited bool
		md      Metadata
	}
	done := make(chan completion, 1)
	thr.RateLimitFunc(context.Background(), "test", func(err error, limited bool, md Metadata) {
		<-release // Would deadlock if the callback was called synchronously.
		done <- completion{err, limited, md}
	})
	close(release)

	select {
	case c := <-done:
		require.NoError(t, c.err)
		require.False(t, c.limited)
		require.Equal(t, Metadata{Limit: 1, Rate: 1, Remaining: 0, Reset: time.Second}, c.md)
	case <-time.After(5 * time.Second):
		t.Fatal("completion was not called")
	}
}

func TestThrottle_Allow(t *testing.T) {
	thr, err := New(1)
	require.NoError(t, err)

	allow, md, err := thr.Allow(context.Background(), "test")
	require.NoError(t, err)
	require.True(t, allow)
	require.Equal(t, 0, md.Remaining)

	allow, _, err = thr.Allow(context.Background(), "test")
	require.NoError(t, err)
	require.False(t, allow)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	blocked := make(chan struct{})
	defer close(blocked)
	slowThr, err := New(1, WithTokenStore(store.Funcs{
		GetFunc: func(context.Context, string) (tokenbucket.State, bool, error) {
			<-blocked
			return tokenbucket.State{}, false, nil
		},
		PutFunc: func(context.Context, string, tokenbucket.State) error { return nil },
	}))
	require.NoError(t, err)
	allow, _, err = slowThr.Allow(ctx, "test")
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, allow)
}

func TestThrottle_Metrics(t *testing.T) {
	ctx := context.Background()
	metrics := NewPrometheusMetrics("")
	thr, err := New(1, WithMetricsCollector(metrics), WithOverrides(map[string]Override{"vip": {Rate: Float(0)}}))
	require.NoError(t, err)

	<-thr.RateLimit(ctx, "test")
	<-thr.RateLimit(ctx, "test")
	<-thr.RateLimit(ctx, "vip")
	<-thr.RateLimit(ctx, "vip")

	require.Equal(t, float64(1), testutil.ToFloat64(metrics.Decisions.WithLabelValues(string(DecisionAllowed))))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.Decisions.WithLabelValues(string(DecisionLimited))))
	require.Equal(t, float64(2), testutil.ToFloat64(metrics.Decisions.WithLabelValues(string(DecisionBypassed))))
}

func TestThrottle_KeySerialization(t *testing.T) {
	const burst = 50
	clock := clockwork.NewFakeClock()
	mem := store.NewMemory()
	racyStore := store.Funcs{
		GetFunc: func(ctx context.Context, key string) (tokenbucket.State, bool, error) {
			state, found, err := mem.Get(ctx, key)
			runtime.Gosched()
			return state, found, err
		},
		PutFunc: mem.Put,
	}
	thr, err := New(burst, WithTokenStore(racyStore), WithClock(clock), WithKeySerialization(8))
	require.NoError(t, err)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < burst*2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res := <-thr.RateLimit(context.Background(), "test"); !res.Limited {
				allowed.Inc()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(burst), allowed.Load())
}

type bytesMap struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newBytesMap() *bytesMap {
	return &bytesMap{data: make(map[string][]byte)}
}

func (m *bytesMap) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	return b, ok, nil
}

func (m *bytesMap) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}
