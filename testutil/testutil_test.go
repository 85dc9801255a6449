/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import "fmt"

// fakeT implements require.TestingT and collects failure messages instead of stopping the test.
type fakeT struct {
	helperCalls int
	messages    []string
	failed      bool
}

func (t *fakeT) Helper() {
	t.helperCalls++
}

func (t *fakeT) FailNow() {
	t.failed = true
}

func (t *fakeT) Errorf(format string, args ...interface{}) {
	t.messages = append(t.messages, fmt.Sprintf(format, args...))
}
