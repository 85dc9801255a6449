/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// keyLocks serializes get-consume-put sequences for the same key.
// Different keys may share a stripe, so unrelated keys can occasionally wait for each other.
type keyLocks struct {
	stripes []sync.Mutex
}

func newKeyLocks(stripes int) *keyLocks {
	return &keyLocks{stripes: make([]sync.Mutex, stripes)}
}

func (kl *keyLocks) lock(key string) (unlock func()) {
	mu := &kl.stripes[xxhash.Sum64String(key)%uint64(len(kl.stripes))]
	mu.Lock()
	return mu.Unlock
}
