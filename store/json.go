/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/acronis/go-throttle/tokenbucket"
)

// BytesStore is a generic key-value storage of raw documents (e.g. a remote cache client).
type BytesStore interface {
	Get(ctx context.Context, key string) (data []byte, found bool, err error)
	Put(ctx context.Context, key string, data []byte) error
}

// JSON is a TokenStore that persists bucket states as JSON documents in BytesStore.
// Documents are decoded loosely, so numeric strings written by other producers are accepted.
type JSON struct {
	bytes     BytesStore
	keyPrefix string
}

var _ TokenStore = (*JSON)(nil)

// NewJSON creates a new JSON store. keyPrefix is prepended to every key (may be empty).
func NewJSON(bytesStore BytesStore, keyPrefix string) *JSON {
	return &JSON{bytes: bytesStore, keyPrefix: keyPrefix}
}

// Get loads and decodes the bucket state for the key.
func (j *JSON) Get(ctx context.Context, key string) (tokenbucket.State, bool, error) {
	data, found, err := j.bytes.Get(ctx, j.keyPrefix+key)
	if err != nil || !found {
		return tokenbucket.State{}, false, err
	}
	var raw interface{}
	if err = json.Unmarshal(data, &raw); err != nil {
		return tokenbucket.State{}, false, fmt.Errorf("unmarshal token bucket state for key %q: %w", key, err)
	}
	state, err := tokenbucket.DecodeState(raw)
	if err != nil {
		return tokenbucket.State{}, false, fmt.Errorf("key %q: %w", key, err)
	}
	return state, true, nil
}

// Put encodes and saves the bucket state for the key.
func (j *JSON) Put(ctx context.Context, key string, state tokenbucket.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal token bucket state for key %q: %w", key, err)
	}
	return j.bytes.Put(ctx, j.keyPrefix+key, data)
}
