// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

// Package camera provides the H.264 sources the stream server drives.
//
// An [Encoder] is started when the first viewer enables streaming and
// stopped when the last one leaves. While running it pushes
// [h264.Unit] values onto the channel it was started with: parameter
// sets before every key frame (inline headers), then key and delta
// frames. Two implementations exist: [ReplayEncoder] loops a recorded
// Annex-B file and [CommandEncoder] runs a camera command such as
// rpicam-vid and reads its stdout.
package camera

import (
	"errors"

	"github.com/visionkit/streamd/h264"
)

// Params are the encoder settings for a streaming session.
type Params struct {
	Width     int
	Height    int
	Framerate int
	// Bitrate in bits per second.
	Bitrate int
	// Profile is the H.264 profile name.
	Profile string
	// InlineHeaders repeats SPS/PPS before every key frame so viewers
	// can join mid-stream.
	InlineHeaders bool
	// IntraPeriod is the number of frames between key frames. Zero
	// means key frames only at start and on request.
	IntraPeriod int
}

// StreamingParams returns the fixed settings used for live viewers:
// baseline profile, inline headers, key frames on request only.
func StreamingParams(width, height, framerate, bitrate int) Params {
	return Params{
		Width:         width,
		Height:        height,
		Framerate:     framerate,
		Bitrate:       bitrate,
		Profile:       "baseline",
		InlineHeaders: true,
		IntraPeriod:   0,
	}
}

// Encoder is a camera producing an H.264 stream.
//
// Start begins pushing units onto out and returns once the encoder is
// running. Sends on out must be abandoned when Stop is called, so Stop
// never waits on a consumer. After Stop returns no further sends
// happen. RequestKeyFrame asks for an IDR picture (preceded by
// parameter sets) as soon as possible; it never blocks.
type Encoder interface {
	Start(params Params, out chan<- h264.Unit) error
	Stop() error
	RequestKeyFrame()
}

var (
	// ErrRunning is returned by Start on a running encoder.
	ErrRunning = errors.New("encoder already running")
	// ErrNotRunning is returned by Stop on a stopped encoder.
	ErrNotRunning = errors.New("encoder not running")
)
