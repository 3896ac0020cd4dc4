// Package testutil provides shared test helpers.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Common test timeouts.
const (
	DefaultTestTimeout = 5 * time.Second
	ShortTestTimeout   = 1 * time.Second
)

// WaitForChannel waits for a signal on ch or fails after timeout.
func WaitForChannel[T any](t *testing.T, ch <-chan T, timeout time.Duration, msg string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		require.FailNow(t, msg)
	}
	var zero T
	return zero
}

// RequireNoSignal fails if ch delivers anything within wait.
func RequireNoSignal[T any](t *testing.T, ch <-chan T, wait time.Duration, msg string) {
	t.Helper()
	select {
	case <-ch:
		require.FailNow(t, msg)
	case <-time.After(wait):
	}
}
