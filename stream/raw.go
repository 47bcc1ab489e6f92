// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"io"

	"github.com/visionkit/streamd/wire"
)

// rawClient writes the Annex-B elementary stream with no framing. It
// streams from connect, drops overlays and discards anything the peer
// sends.
type rawClient struct {
	*client
}

func newRawClient(c *client) *rawClient {
	return &rawClient{client: c}
}

func (r *rawClient) QueueCodecData(_ Resolution, data []byte) bool {
	return r.offerCodecData(outbound{raw: data})
}

func (r *rawClient) QueueFrameData(key bool, _ uint32, _ int64, data []byte) bool {
	return r.offerFrameData(key, outbound{raw: data})
}

func (r *rawClient) QueueInferenceData(wire.InferenceData) bool {
	return false
}

func (r *rawClient) SendMessage(entry outbound) error {
	return r.write(entry.raw)
}

// ReceiveMessage drains inbound bytes until the peer goes away. It
// never returns a message.
func (r *rawClient) ReceiveMessage() (*wire.ServerBound, error) {
	if _, err := io.Copy(io.Discard, r.conn); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (r *rawClient) HandleMessage(*wire.ServerBound) {}
