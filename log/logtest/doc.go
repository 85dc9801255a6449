/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package logtest provides a recording log.FieldLogger for tests.
// Entries can be looked up by message, level, or the throttling key they were logged for.
package logtest
