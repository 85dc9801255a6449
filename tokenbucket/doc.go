/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package tokenbucket implements the token bucket algorithm used by the throttle package.
//
// A bucket holds up to Capacity tokens and regains FillRate tokens every Window.
// Refilling happens lazily, right before each consumption attempt, so a bucket
// does not need any background goroutine. A bucket with zero FillRate never regains
// tokens once they are spent, which makes it suitable for permanent blocking.
//
// The bucket state (State) is a plain serializable value. It may be stored
// anywhere (in memory, as JSON, etc.) and a bucket may be rehydrated from it
// with FromState without re-deriving the token count from the capacity.
//
// Bucket is not safe for concurrent use. Callers that share a bucket between
// goroutines must synchronize access themselves.
package tokenbucket
