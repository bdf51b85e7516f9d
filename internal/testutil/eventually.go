package testutil

import (
	"testing"
	"time"
)

// Eventually polls fn every interval until it returns true, failing the test
// with msg once timeout elapses.
func Eventually(t *testing.T, timeout, interval time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if fn() {
			return
		}
		if time.Now().After(deadline) {
			if msg == "" {
				msg = "condition not met before timeout"
			}
			t.Fatal(msg)
		}
		time.Sleep(interval)
	}
}
