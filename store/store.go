/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package store provides storages for token bucket states used by the throttle package.
//
// Any type that implements TokenStore may be used as a storage. The package contains
// an unbounded in-memory store (Memory, it's used by default), a bounded store with LRU eviction
// and Prometheus metrics (LRU), an adapter that persists states as JSON documents
// in an arbitrary key-value storage (JSON), and an opt-in decorator that retries failed operations (Retrying).
//
// Please note that the get-modify-put sequence performed by the throttle is not transactional.
// Concurrent calls for the same key against a store that is shared between processes may race,
// and the last Put wins.
package store

import (
	"context"
	"errors"

	"github.com/acronis/go-throttle/tokenbucket"
)

// ErrInvalidStore is returned when the store passed to the throttle cannot be used.
var ErrInvalidStore = errors.New("store does not satisfy the key-value capability contract")

// TokenStore is a storage of token bucket states keyed by an arbitrary identifier.
type TokenStore interface {
	// Get returns the bucket state for the key. found is false if there is no state for the key yet.
	Get(ctx context.Context, key string) (state tokenbucket.State, found bool, err error)

	// Put saves the bucket state for the key.
	Put(ctx context.Context, key string, state tokenbucket.State) error
}

// Funcs is an adapter to allow the use of ordinary functions as TokenStore.
// Both functions must be set.
type Funcs struct {
	GetFunc func(ctx context.Context, key string) (tokenbucket.State, bool, error)
	PutFunc func(ctx context.Context, key string, state tokenbucket.State) error
}

var _ TokenStore = Funcs{}

// Get calls GetFunc.
func (f Funcs) Get(ctx context.Context, key string) (tokenbucket.State, bool, error) {
	return f.GetFunc(ctx, key)
}

// Put calls PutFunc.
func (f Funcs) Put(ctx context.Context, key string, state tokenbucket.State) error {
	return f.PutFunc(ctx, key, state)
}

// Validate checks that the store may be used.
func Validate(s TokenStore) error {
	if s == nil {
		return ErrInvalidStore
	}
	if f, ok := s.(Funcs); ok && (f.GetFunc == nil || f.PutFunc == nil) {
		return ErrInvalidStore
	}
	return nil
}
