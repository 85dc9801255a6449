/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package store

import (
	"context"
	"sync"

	"github.com/acronis/go-throttle/tokenbucket"
)

// Memory is an in-memory TokenStore without any eviction.
// It keeps one entry for every key it has ever seen.
type Memory struct {
	mu     sync.RWMutex
	states map[string]tokenbucket.State
}

var _ TokenStore = (*Memory)(nil)

// NewMemory creates a new empty Memory store.
func NewMemory() *Memory {
	return &Memory{states: make(map[string]tokenbucket.State)}
}

// Get returns the bucket state for the key.
func (m *Memory) Get(_ context.Context, key string) (tokenbucket.State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[key]
	return s, ok, nil
}

// Put saves the bucket state for the key.
func (m *Memory) Put(_ context.Context, key string, state tokenbucket.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[key] = state
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}
