/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package store

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/acronis/go-throttle/tokenbucket"
)

type lruEntry struct {
	key       string
	state     tokenbucket.State
	expiresAt time.Time
}

// LRUOpts represents options for the LRU store.
type LRUOpts struct {
	// TTL is the time after that an untouched entry is considered expired (0 means no expiration).
	// Expired entries are not removed immediately,
	// but only when they are accessed or by LRU.RemoveExpired (e.g. from service.PeriodicWorker).
	// Since a bucket that was not touched for a window is full again,
	// it's safe to use TTL that is not less than the longest throttling window.
	TTL time.Duration

	// Clock is used for computing expiration. Real clock is used by default.
	Clock clockwork.Clock
}

// LRU is a bounded in-memory TokenStore.
// When the number of keys exceeds the limit, the least recently used key is evicted.
// An evicted key starts again with a full bucket.
type LRU struct {
	maxKeys int
	ttl     time.Duration
	clock   clockwork.Clock

	mu      sync.Mutex
	lruList *list.List
	entries map[string]*list.Element

	metrics MetricsCollector
}

var _ TokenStore = (*LRU)(nil)

// NewLRU creates a new LRU store with the provided maximum number of keys.
// Metrics collector may be nil, in this case metrics are disabled.
func NewLRU(maxKeys int, metrics MetricsCollector, opts LRUOpts) (*LRU, error) {
	if maxKeys <= 0 {
		return nil, fmt.Errorf("max keys should be positive, got %d", maxKeys)
	}
	if opts.TTL < 0 {
		return nil, fmt.Errorf("ttl should be >= 0 (no expiration), got %s", opts.TTL)
	}
	if metrics == nil {
		metrics = disabledMetrics{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &LRU{
		maxKeys: maxKeys,
		ttl:     opts.TTL,
		clock:   opts.Clock,
		lruList: list.New(),
		entries: make(map[string]*list.Element),
		metrics: metrics,
	}, nil
}

// Get returns the bucket state for the key.
func (l *LRU) Get(_ context.Context, key string) (tokenbucket.State, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	elem, hit := l.entries[key]
	if !hit {
		l.metrics.IncMisses()
		return tokenbucket.State{}, false, nil
	}
	entry := elem.Value.(*lruEntry)
	if l.expired(entry, l.clock.Now()) {
		l.lruList.Remove(elem)
		delete(l.entries, key)
		l.metrics.SetAmount(len(l.entries))
		l.metrics.IncMisses()
		return tokenbucket.State{}, false, nil
	}
	l.lruList.MoveToFront(elem)
	l.metrics.IncHits()
	return entry.state, true, nil
}

// Put saves the bucket state for the key. It may evict the least recently used key.
func (l *LRU) Put(_ context.Context, key string, state tokenbucket.State) error {
	var expiresAt time.Time
	if l.ttl > 0 {
		expiresAt = l.clock.Now().Add(l.ttl)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if elem, ok := l.entries[key]; ok {
		l.lruList.MoveToFront(elem)
		elem.Value = &lruEntry{key: key, state: state, expiresAt: expiresAt}
		return nil
	}

	l.entries[key] = l.lruList.PushFront(&lruEntry{key: key, state: state, expiresAt: expiresAt})
	if len(l.entries) > l.maxKeys {
		if oldest := l.lruList.Back(); oldest != nil {
			l.lruList.Remove(oldest)
			delete(l.entries, oldest.Value.(*lruEntry).key)
			l.metrics.AddEvictions(1)
		}
	}
	l.metrics.SetAmount(len(l.entries))
	return nil
}

// Len returns the number of stored keys (including expired but not yet removed ones).
func (l *LRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// RemoveExpired removes all expired entries and returns how many were removed.
func (l *LRU) RemoveExpired() int {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, elem := range l.entries {
		if l.expired(elem.Value.(*lruEntry), now) {
			l.lruList.Remove(elem)
			delete(l.entries, key)
			removed++
		}
	}
	l.metrics.SetAmount(len(l.entries))
	return removed
}

func (l *LRU) expired(entry *lruEntry, now time.Time) bool {
	return !entry.expiresAt.IsZero() && entry.expiresAt.Before(now)
}
