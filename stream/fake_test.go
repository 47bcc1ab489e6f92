// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/visionkit/streamd/camera"
	"github.com/visionkit/streamd/h264"
	"github.com/visionkit/streamd/lib/testutil"
)

const testTimeout = 5 * time.Second

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fakeEncoder records lifecycle calls and lets tests push units as if
// the camera produced them.
type fakeEncoder struct {
	mu          sync.Mutex
	out         chan<- h264.Unit
	running     bool
	starts      int
	stops       int
	keyRequests int
	startErr    error

	started      chan struct{}
	stopped      chan struct{}
	keyRequested chan struct{}
}

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{
		started:      make(chan struct{}, 64),
		stopped:      make(chan struct{}, 64),
		keyRequested: make(chan struct{}, 64),
	}
}

func (e *fakeEncoder) Start(_ camera.Params, out chan<- h264.Unit) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return camera.ErrRunning
	}
	if e.startErr != nil {
		return e.startErr
	}
	e.running = true
	e.out = out
	e.starts++
	e.started <- struct{}{}
	return nil
}

func (e *fakeEncoder) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return camera.ErrNotRunning
	}
	e.running = false
	e.stops++
	e.stopped <- struct{}{}
	return nil
}

func (e *fakeEncoder) RequestKeyFrame() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.keyRequests++
	select {
	case e.keyRequested <- struct{}{}:
	default:
	}
}

func (e *fakeEncoder) counts() (starts, stops, keyRequests int, running bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts, e.stops, e.keyRequests, e.running
}

// emit delivers unit to the dispatcher as the running encoder would.
func (e *fakeEncoder) emit(t *testing.T, unit h264.Unit) {
	t.Helper()
	e.mu.Lock()
	out, running := e.out, e.running
	e.mu.Unlock()
	if !running {
		t.Fatalf("emit while encoder is stopped")
	}
	testutil.RequireSend(t, out, unit, testTimeout, "encoder output blocked")
}

var (
	testParameterSets = []byte{0, 0, 0, 1, 0x67, 0x42, 0, 0, 0, 1, 0x68, 0xce}
	testKeyFrame      = []byte{0, 0, 0, 1, 0x65, 0x88, 0x84}
	testDeltaFrame    = []byte{0, 0, 0, 1, 0x41, 0x9a, 0x02}
)

func parameterSets() h264.Unit { return h264.Unit{Kind: h264.UnitParameterSets, Data: testParameterSets} }
func keyFrame() h264.Unit { return h264.Unit{Kind: h264.UnitKeyFrame, Data: testKeyFrame} }
func deltaFrame() h264.Unit { return h264.Unit{Kind: h264.UnitDeltaFrame, Data: testDeltaFrame} }
