/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package testutil contains assertion helpers for testing HTTP handlers protected by the throttle.
package testutil

type tHelper interface {
	Helper()
}
