// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"bufio"
	"fmt"

	"github.com/visionkit/streamd/wire"
)

// framedClient speaks length-prefixed CBOR in both directions.
type framedClient struct {
	*client
	reader *bufio.Reader
}

func newFramedClient(c *client) *framedClient {
	return &framedClient{client: c, reader: bufio.NewReader(c.conn)}
}

func (f *framedClient) QueueCodecData(resolution Resolution, data []byte) bool {
	return f.offerCodecData(outbound{message: wire.NewCodecMessage(resolution.Width, resolution.Height, data)})
}

func (f *framedClient) QueueFrameData(key bool, seq uint32, pts int64, data []byte) bool {
	return f.offerFrameData(key, outbound{message: wire.NewFrameMessage(frameType(key), seq, pts, data)})
}

func (f *framedClient) QueueInferenceData(data wire.InferenceData) bool {
	return f.offerInferenceData(outbound{message: wire.NewInferenceMessage(data)})
}

func (f *framedClient) SendMessage(entry outbound) error {
	if entry.message == nil {
		return f.write(entry.raw)
	}
	frame, err := wire.EncodeFrame(entry.message)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	return f.write(frame)
}

func (f *framedClient) ReceiveMessage() (*wire.ServerBound, error) {
	return wire.ReadServerBound(f.reader, f.server.config.MaxMessageBytes)
}

func (f *framedClient) HandleMessage(message *wire.ServerBound) {
	f.handleStreamControl(message)
}

func frameType(key bool) wire.FrameType {
	if key {
		return wire.FrameKey
	}
	return wire.FrameDelta
}
