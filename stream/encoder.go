// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/visionkit/streamd/camera"
	"github.com/visionkit/streamd/h264"
)

// encoderController runs the encoder while at least one viewer is
// streaming. mu is taken before any client lock: viewers change their
// streaming flag inside update so the reference count cannot drift
// from the set of streaming viewers.
type encoderController struct {
	encoder camera.Encoder
	params  camera.Params
	frames  chan<- h264.Unit
	logger  *slog.Logger

	// onStart runs with mu held before the encoder starts.
	onStart func()

	mu      sync.Mutex
	refs    int
	running bool
	starts  int
}

// update runs change under the controller lock. change returns the
// reference delta (-1, 0 or +1). The encoder is started on 0→1 and
// stopped on 1→0.
func (e *encoderController) update(change func() int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	delta := change()
	if delta == 0 {
		return nil
	}
	e.refs += delta
	if e.refs < 0 {
		panic(fmt.Sprintf("stream: encoder reference count went negative (%d)", e.refs))
	}

	switch {
	case e.refs > 0 && !e.running:
		if e.onStart != nil {
			e.onStart()
		}
		if err := e.encoder.Start(e.params, e.frames); err != nil {
			return fmt.Errorf("starting encoder: %w", err)
		}
		e.running = true
		e.starts++
		e.logger.Info("encoder started",
			"width", e.params.Width,
			"height", e.params.Height,
			"framerate", e.params.Framerate,
			"bitrate", e.params.Bitrate,
		)
	case e.refs == 0 && e.running:
		e.running = false
		if err := e.encoder.Stop(); err != nil {
			return fmt.Errorf("stopping encoder: %w", err)
		}
		e.logger.Info("encoder stopped")
	}
	return nil
}

// requestKeyFrame forwards a key-frame request if the encoder is
// running. Reports whether the request was made.
func (e *encoderController) requestKeyFrame() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return false
	}
	e.encoder.RequestKeyFrame()
	return true
}

// shutdown stops the encoder regardless of the reference count. Used
// after every viewer has been closed.
func (e *encoderController) shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.refs != 0 {
		e.logger.Warn("encoder references outstanding at shutdown", "refs", e.refs)
		e.refs = 0
	}
	if !e.running {
		return nil
	}
	e.running = false
	if err := e.encoder.Stop(); err != nil {
		return fmt.Errorf("stopping encoder: %w", err)
	}
	return nil
}

func (e *encoderController) snapshot() (refs int, running bool, starts int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refs, e.running, e.starts
}
