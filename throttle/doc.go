/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package throttle provides keyed request-rate limiting based on the token bucket algorithm.
//
// Every key (client id, IP address, API key, etc.) gets its own bucket that is created lazily
// on the first call and kept in a pluggable store.TokenStore. Limits may be overridden per key,
// either by the exact key or by a glob pattern. A key with zero rate is never limited.
//
// Decisions are always delivered asynchronously:
//
//	thr, err := throttle.New(3, throttle.WithBurst(5))
//	if err != nil {
//		return err
//	}
//	res := <-thr.RateLimit(ctx, clientID)
//	if res.Err != nil {
//		return res.Err
//	}
//	if res.Limited {
//		// reject, retry after res.Metadata.Reset
//	}
package throttle
