// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"errors"
	"fmt"
)

// FrameType distinguishes independently decodable frames from frames
// that reference earlier ones.
type FrameType uint8

const (
	// FrameKey is an IDR access unit. A decoder can start here.
	FrameKey FrameType = 1
	// FrameDelta depends on the frames since the last key frame.
	FrameDelta FrameType = 2
)

func (t FrameType) String() string {
	switch t {
	case FrameKey:
		return "key"
	case FrameDelta:
		return "delta"
	default:
		return fmt.Sprintf("FrameType(%d)", uint8(t))
	}
}

// ServerBound is a message from a viewer to the server.
type ServerBound struct {
	StreamControl *StreamControl `cbor:"stream_control,omitempty"`
}

// StreamControl starts or stops delivery of stream data to the viewer
// that sends it.
type StreamControl struct {
	Enabled bool `cbor:"enabled"`
}

// ClientBound is a message from the server to a viewer. Exactly one
// field is set.
type ClientBound struct {
	Stream *StreamData `cbor:"stream,omitempty"`
	Stop   *StreamStop `cbor:"stop,omitempty"`
}

// StreamStop acknowledges a StreamControl that disabled delivery. No
// stream data follows it until delivery is enabled again.
type StreamStop struct{}

// StreamData carries exactly one of codec parameters, an encoded frame
// or an inference overlay.
type StreamData struct {
	Codec     *CodecData     `cbor:"codec,omitempty"`
	Frame     *FrameData     `cbor:"frame,omitempty"`
	Inference *InferenceData `cbor:"inference,omitempty"`
}

// CodecData carries the H.264 parameter sets (SPS and PPS, Annex-B with
// start codes) a decoder needs before the first key frame.
type CodecData struct {
	Width  int    `cbor:"width"`
	Height int    `cbor:"height"`
	Data   []byte `cbor:"data"`
}

// FrameData carries one encoded access unit in Annex-B form.
type FrameData struct {
	Type FrameType `cbor:"type"`
	// Seq increases by one per frame produced by the encoder, shared
	// across all viewers. Gaps mean frames this viewer did not get.
	Seq uint32 `cbor:"seq"`
	// PTS is microseconds since the server started.
	PTS  int64  `cbor:"pts"`
	Data []byte `cbor:"data"`
}

// InferenceData is one overlay produced by the vision model, drawn in
// element order over the frame it was computed on.
type InferenceData struct {
	Elements []Element `cbor:"elements"`
}

// Element is a rectangle or a label.
type Element struct {
	Rectangle *Rectangle `cbor:"rectangle,omitempty"`
	Label     *Label     `cbor:"label,omitempty"`
}

// Rectangle outlines a detection. Coordinates are in frame pixels;
// Color is packed 0xAARRGGBB.
type Rectangle struct {
	X      int    `cbor:"x"`
	Y      int    `cbor:"y"`
	W      int    `cbor:"w"`
	H      int    `cbor:"h"`
	Color  uint32 `cbor:"color"`
	Weight int    `cbor:"weight"`
}

// Label is text anchored at its top-left corner. Size is in pixels.
type Label struct {
	Text  string `cbor:"text"`
	X     int    `cbor:"x"`
	Y     int    `cbor:"y"`
	Color uint32 `cbor:"color"`
	Size  int    `cbor:"size"`
}

// NewCodecMessage wraps codec parameters for a viewer.
func NewCodecMessage(width, height int, data []byte) *ClientBound {
	return &ClientBound{Stream: &StreamData{Codec: &CodecData{Width: width, Height: height, Data: data}}}
}

// NewFrameMessage wraps one access unit for a viewer.
func NewFrameMessage(frameType FrameType, seq uint32, pts int64, data []byte) *ClientBound {
	return &ClientBound{Stream: &StreamData{Frame: &FrameData{Type: frameType, Seq: seq, PTS: pts, Data: data}}}
}

// NewInferenceMessage wraps an overlay for a viewer.
func NewInferenceMessage(data InferenceData) *ClientBound {
	return &ClientBound{Stream: &StreamData{Inference: &data}}
}

// NewStopMessage acknowledges a disable request.
func NewStopMessage() *ClientBound {
	return &ClientBound{Stop: &StreamStop{}}
}

// ErrMalformedMessage is returned when a decoded message does not hold
// exactly one variant.
var ErrMalformedMessage = errors.New("malformed message")

// Kind names the variant a ClientBound holds: "codec", "frame",
// "inference" or "stop". It returns ErrMalformedMessage unless exactly
// one variant is set.
func (m *ClientBound) Kind() (string, error) {
	var kinds []string
	if m.Stop != nil {
		kinds = append(kinds, "stop")
	}
	if m.Stream != nil {
		if m.Stream.Codec != nil {
			kinds = append(kinds, "codec")
		}
		if m.Stream.Frame != nil {
			kinds = append(kinds, "frame")
		}
		if m.Stream.Inference != nil {
			kinds = append(kinds, "inference")
		}
	}
	if len(kinds) != 1 {
		return "", fmt.Errorf("%w: client-bound message holds %d variants %v", ErrMalformedMessage, len(kinds), kinds)
	}
	return kinds[0], nil
}

// Validate checks that a viewer message holds a known variant.
func (m *ServerBound) Validate() error {
	if m.StreamControl == nil {
		return fmt.Errorf("%w: server-bound message holds no variant", ErrMalformedMessage)
	}
	return nil
}

// Validate checks element shapes. Viewers skip elements they cannot
// draw, so this is only used where overlays enter the server.
func (d InferenceData) Validate() error {
	for index, element := range d.Elements {
		if (element.Rectangle == nil) == (element.Label == nil) {
			return fmt.Errorf("%w: element %d must be exactly one of rectangle or label", ErrMalformedMessage, index)
		}
		if rectangle := element.Rectangle; rectangle != nil && (rectangle.W < 0 || rectangle.H < 0) {
			return fmt.Errorf("%w: element %d has negative size %dx%d", ErrMalformedMessage, index, rectangle.W, rectangle.H)
		}
	}
	return nil
}
