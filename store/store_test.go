/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/acronis/go-throttle/tokenbucket"
)

func makeTestState(tokens float64) tokenbucket.State {
	return tokenbucket.State{
		FillRate: 1,
		Capacity: 10,
		Window:   time.Second,
		Tokens:   tokens,
		Time:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(NewMemory()))
	require.ErrorIs(t, Validate(nil), ErrInvalidStore)
	require.ErrorIs(t, Validate(Funcs{GetFunc: NewMemory().Get}), ErrInvalidStore)

	m := NewMemory()
	require.NoError(t, Validate(Funcs{GetFunc: m.Get, PutFunc: m.Put}))
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, found, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, m.Put(ctx, "k", makeTestState(5)))
	s, found, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, makeTestState(5), s)

	require.NoError(t, m.Put(ctx, "k", makeTestState(4)))
	require.NoError(t, m.Put(ctx, "k2", makeTestState(3)))
	s, _, _ = m.Get(ctx, "k")
	require.Equal(t, float64(4), s.Tokens)
	require.Equal(t, 2, m.Len())
}

func TestMemory_Concurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = m.Put(ctx, "k", makeTestState(float64(j)))
				_, _, _ = m.Get(ctx, "k")
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, m.Len())
}

func TestLRU(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid params", func(t *testing.T) {
		_, err := NewLRU(0, nil, LRUOpts{})
		require.Error(t, err)
		_, err = NewLRU(1, nil, LRUOpts{TTL: -time.Second})
		require.Error(t, err)
	})

	t.Run("eviction", func(t *testing.T) {
		metrics := NewPrometheusMetrics(PrometheusMetricsOpts{})
		l, err := NewLRU(2, metrics, LRUOpts{})
		require.NoError(t, err)

		require.NoError(t, l.Put(ctx, "a", makeTestState(1)))
		require.NoError(t, l.Put(ctx, "b", makeTestState(2)))
		_, found, _ := l.Get(ctx, "a") // "a" becomes the most recently used key.
		require.True(t, found)
		require.NoError(t, l.Put(ctx, "c", makeTestState(3)))

		_, found, _ = l.Get(ctx, "b")
		require.False(t, found)
		s, found, _ := l.Get(ctx, "a")
		require.True(t, found)
		require.Equal(t, float64(1), s.Tokens)
		require.Equal(t, 2, l.Len())

		require.Equal(t, float64(2), testutil.ToFloat64(metrics.KeysAmount))
		require.Equal(t, float64(2), testutil.ToFloat64(metrics.HitsTotal))
		require.Equal(t, float64(1), testutil.ToFloat64(metrics.MissesTotal))
		require.Equal(t, float64(1), testutil.ToFloat64(metrics.EvictionsTotal))
	})

	t.Run("update existing key", func(t *testing.T) {
		l, err := NewLRU(1, nil, LRUOpts{})
		require.NoError(t, err)
		require.NoError(t, l.Put(ctx, "a", makeTestState(1)))
		require.NoError(t, l.Put(ctx, "a", makeTestState(7)))
		s, found, _ := l.Get(ctx, "a")
		require.True(t, found)
		require.Equal(t, float64(7), s.Tokens)
		require.Equal(t, 1, l.Len())
	})

	t.Run("ttl", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		l, err := NewLRU(10, nil, LRUOpts{TTL: time.Minute, Clock: clock})
		require.NoError(t, err)

		require.NoError(t, l.Put(ctx, "a", makeTestState(1)))
		require.NoError(t, l.Put(ctx, "b", makeTestState(1)))
		clock.Advance(30 * time.Second)
		_, found, _ := l.Get(ctx, "a")
		require.True(t, found)
		require.NoError(t, l.Put(ctx, "b", makeTestState(2))) // Prolongs "b".

		clock.Advance(40 * time.Second)
		_, found, _ = l.Get(ctx, "a")
		require.False(t, found)
		require.Equal(t, 1, l.Len())

		clock.Advance(time.Minute)
		require.Equal(t, 1, l.RemoveExpired())
		require.Equal(t, 0, l.Len())
	})
}

type mapBytesStore struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func (s *mapBytesStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.docs[key]
	return data, ok, nil
}

func (s *mapBytesStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[key] = data
	return nil
}

func TestJSON(t *testing.T) {
	ctx := context.Background()
	bs := &mapBytesStore{docs: map[string][]byte{}}
	j := NewJSON(bs, "throttle:")

	_, found, err := j.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, found)

	want := makeTestState(3.25)
	require.NoError(t, j.Put(ctx, "k", want))
	require.Contains(t, bs.docs, "throttle:k")

	got, found, err := j.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, want.Tokens, got.Tokens)
	require.Equal(t, want.Window, got.Window)
	require.True(t, want.Time.Equal(got.Time))

	bs.docs["throttle:foreign"] = []byte(
		`{"fillRate":"3","capacity":"3","window":"1s","tokens":"2","time":"2025-01-01T00:00:00Z"}`)
	got, found, err = j.Get(ctx, "foreign")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, float64(2), got.Tokens)
	require.Equal(t, time.Second, got.Window)

	bs.docs["throttle:ms"] = []byte(
		`{"fillRate":10,"capacity":10,"window":"250","tokens":0,"time":"2025-01-01T00:00:00Z"}`)
	got, _, err = j.Get(ctx, "ms")
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, got.Window)

	bs.docs["throttle:broken"] = []byte(`{`)
	_, _, err = j.Get(ctx, "broken")
	require.Error(t, err)
}

func TestRetrying(t *testing.T) {
	ctx := context.Background()
	errTransient := errors.New("transient")
	errPermanent := errors.New("permanent")

	t.Run("retries transient errors", func(t *testing.T) {
		m := NewMemory()
		getCalls := atomic.NewInt32(0)
		putCalls := atomic.NewInt32(0)
		flaky := Funcs{
			GetFunc: func(ctx context.Context, key string) (tokenbucket.State, bool, error) {
				if getCalls.Inc() < 3 {
					return tokenbucket.State{}, false, errTransient
				}
				return m.Get(ctx, key)
			},
			PutFunc: func(ctx context.Context, key string, state tokenbucket.State) error {
				if putCalls.Inc() < 2 {
					return errTransient
				}
				return m.Put(ctx, key, state)
			},
		}
		r := WithRetry(flaky, NewConstantRetryPolicy(time.Millisecond, 5), nil)

		require.NoError(t, r.Put(ctx, "k", makeTestState(1)))
		s, found, err := r.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, float64(1), s.Tokens)
		require.Equal(t, int32(3), getCalls.Load())
		require.Equal(t, int32(2), putCalls.Load())
	})

	t.Run("gives up", func(t *testing.T) {
		calls := atomic.NewInt32(0)
		failing := Funcs{
			GetFunc: func(context.Context, string) (tokenbucket.State, bool, error) {
				calls.Inc()
				return tokenbucket.State{}, false, errTransient
			},
			PutFunc: func(context.Context, string, tokenbucket.State) error {
				calls.Inc()
				return errPermanent
			},
		}
		isRetryable := func(err error) bool { return !errors.Is(err, errPermanent) }
		r := WithRetry(failing, NewExponentialRetryPolicy(time.Millisecond, 2), isRetryable)

		_, _, err := r.Get(ctx, "k")
		require.ErrorIs(t, err, errTransient)
		require.Equal(t, int32(3), calls.Load())

		calls.Store(0)
		require.ErrorIs(t, r.Put(ctx, "k", makeTestState(1)), errPermanent)
		require.Equal(t, int32(1), calls.Load())
	})
}
