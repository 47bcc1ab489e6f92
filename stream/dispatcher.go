// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/visionkit/streamd/h264"
	"github.com/visionkit/streamd/lib/clock"
	"github.com/visionkit/streamd/wire"
)

// dispatcher fans encoder output and inference overlays out to every
// viewer. It runs on one goroutine, so sequence numbers and key-frame
// bookkeeping need no locking.
type dispatcher struct {
	viewers       func() []Viewer
	encoder       *encoderController
	clock         clock.Clock
	start         time.Time
	resolution    Resolution
	keyFrameRetry time.Duration
	logger        *slog.Logger

	frames    chan h264.Unit
	inference chan wire.InferenceData

	// restarted is set when the encoder starts; any request made to the
	// previous session is void.
	restarted atomic.Bool

	seq           uint32
	waitingForKey bool
	requestedAt   time.Time

	framesDispatched atomic.Uint64
	keyFrameRequests atomic.Uint64
	inferenceDropped atomic.Uint64
}

func (d *dispatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case unit := <-d.frames:
			d.dispatchUnit(unit)
		case data := <-d.inference:
			d.dispatchInference(data)
		}
	}
}

func (d *dispatcher) dispatchUnit(unit h264.Unit) {
	if d.restarted.Swap(false) {
		d.waitingForKey = false
	}

	needKey := false
	switch unit.Kind {
	case h264.UnitParameterSets:
		for _, viewer := range d.viewers() {
			if viewer.QueueCodecData(d.resolution, unit.Data) {
				needKey = true
			}
		}

	case h264.UnitKeyFrame, h264.UnitDeltaFrame:
		key := unit.Kind == h264.UnitKeyFrame
		if key {
			d.waitingForKey = false
		}
		d.seq++
		pts := d.clock.Now().Sub(d.start).Microseconds()
		d.framesDispatched.Add(1)
		for _, viewer := range d.viewers() {
			if viewer.QueueFrameData(key, d.seq, pts, unit.Data) {
				needKey = true
			}
		}

	default:
		d.logger.Warn("dropping unknown encoder unit", "kind", unit.Kind.String())
		return
	}

	if needKey {
		d.requestKeyFrame()
	}
}

func (d *dispatcher) dispatchInference(data wire.InferenceData) {
	needKey := false
	for _, viewer := range d.viewers() {
		if viewer.QueueInferenceData(data) {
			needKey = true
		}
	}
	if needKey {
		d.requestKeyFrame()
	}
}

// requestKeyFrame asks the encoder for a key frame unless one is
// already on its way. An unanswered request is repeated after
// keyFrameRetry.
func (d *dispatcher) requestKeyFrame() {
	now := d.clock.Now()
	if d.waitingForKey {
		if d.keyFrameRetry <= 0 || now.Sub(d.requestedAt) < d.keyFrameRetry {
			return
		}
		d.logger.Debug("key frame request unanswered, retrying", "waited", now.Sub(d.requestedAt))
	}
	if !d.encoder.requestKeyFrame() {
		return
	}
	d.waitingForKey = true
	d.requestedAt = now
	d.keyFrameRequests.Add(1)
}

// publish hands an overlay to the dispatcher without blocking. Returns
// false if the dispatcher is behind and the overlay was dropped.
func (d *dispatcher) publish(data wire.InferenceData) bool {
	select {
	case d.inference <- data:
		return true
	default:
		d.inferenceDropped.Add(1)
		return false
	}
}
