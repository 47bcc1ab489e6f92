// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock injects time into the stream server.
//
// Presentation timestamps, replay pacing, key-frame request retries and
// device-name polling all read time through a [Clock]. Production wires
// [Real]; tests wire [Fake] and move time with [FakeClock.Advance]:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	encoder := camera.NewReplayEncoder(units, camera.ReplayOptions{Clock: fake})
//	// ... start the encoder ...
//	fake.WaitForTimers(1)
//	fake.Advance(time.Second / 30)
//
// WaitForTimers closes the race between a goroutine registering a
// ticker and the test advancing past it.
package clock
