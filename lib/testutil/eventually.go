// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import "time"

// pollInterval is short enough that loopback socket tests settle in a
// few iterations.
const pollInterval = 5 * time.Millisecond

// Eventually polls condition until it returns true or timeout elapses,
// in which case the test fails with the formatted message.
//
//	testutil.Eventually(t, 5*time.Second, func() bool {
//	    return server.Stats().Streaming == 0
//	}, "encoder still referenced after disconnect")
func Eventually(t TB, timeout time.Duration, condition func() bool, msgAndArgs ...any) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if condition() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v: %s", timeout, formatMessage(msgAndArgs))
		}
		time.Sleep(pollInterval)
	}
}
