// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/visionkit/streamd/lib/netutil"
	"github.com/visionkit/streamd/wire"
)

// Protocol identifies the listener a viewer connected through.
type Protocol uint8

const (
	ProtocolFramed Protocol = iota
	ProtocolWebSocket
	ProtocolRaw
)

// Protocols lists every protocol in listener order.
var Protocols = []Protocol{ProtocolFramed, ProtocolWebSocket, ProtocolRaw}

func (p Protocol) String() string {
	switch p {
	case ProtocolFramed:
		return "framed"
	case ProtocolWebSocket:
		return "websocket"
	case ProtocolRaw:
		return "raw"
	default:
		return fmt.Sprintf("Protocol(%d)", uint8(p))
	}
}

// Resolution is the frame size announced with codec data.
type Resolution struct {
	Width  int
	Height int
}

// Viewer is one connected client. The Queue methods are called by the
// dispatcher and never block on the network; each reports whether the
// dispatcher must ask the encoder for a fresh key frame on the
// viewer's behalf. SendMessage, ReceiveMessage and HandleMessage run
// on the viewer's own transmit and receive goroutines.
type Viewer interface {
	QueueCodecData(resolution Resolution, data []byte) bool
	QueueFrameData(key bool, seq uint32, pts int64, data []byte) bool
	QueueInferenceData(data wire.InferenceData) bool

	SendMessage(entry outbound) error
	ReceiveMessage() (*wire.ServerBound, error)
	HandleMessage(message *wire.ServerBound)

	// Close disconnects the viewer. Safe to call more than once and
	// from any goroutine.
	Close()

	base() *client
}

// errPeerClosed ends the receive loop when the peer sends a
// WebSocket close frame.
var errPeerClosed = errors.New("peer closed the connection")

// client is the state shared by every viewer variant. The variants
// embed it and supply the wire encoding.
//
// mu guards the streaming flags. The transmit queue has its own lock
// and is only pushed to while mu is held, so flag changes and the
// entries they gate stay consistent.
type client struct {
	id       string
	protocol Protocol
	conn     net.Conn
	server   *Server
	logger   *slog.Logger

	// structured viewers get wire messages and a stop acknowledgement;
	// the raw viewer gets bare bytes.
	structured bool

	mu             sync.Mutex
	streaming      bool
	needsCodecData bool
	needsKey       bool
	closed         bool

	queue     *txQueue
	closeOnce sync.Once
}

func newClient(server *Server, conn net.Conn, protocol Protocol) *client {
	id := uuid.NewString()
	return &client{
		id:             id,
		protocol:       protocol,
		conn:           conn,
		server:         server,
		logger:         server.logger.With("client", id, "protocol", protocol.String(), "remote", conn.RemoteAddr().String()),
		structured:     protocol != ProtocolRaw,
		needsCodecData: true,
		needsKey:       true,
		queue:          newTxQueue(server.config.QueueSize),
	}
}

func (c *client) base() *client { return c }

// enqueueLocked pushes entry and applies the overflow policy. Caller
// holds c.mu. Returns true when entries were evicted, in which case
// the viewer now needs codec data and a key frame before anything
// else.
func (c *client) enqueueLocked(entry outbound) bool {
	evicted := c.queue.push(entry)
	if evicted == 0 {
		return false
	}
	c.needsCodecData = true
	c.needsKey = true
	c.server.droppedMessages.Add(uint64(evicted))
	c.logger.Warn("transmit queue overflow, resynchronizing", "dropped", evicted)
	return true
}

// offerCodecData queues codec parameters for a streaming viewer. The
// encoder always follows codec data with a key frame, so a viewer
// still needing one reports it from offerFrameData instead.
func (c *client) offerCodecData(entry outbound) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.streaming {
		return false
	}
	c.enqueueLocked(entry)
	c.needsCodecData = false
	return false
}

// offerFrameData queues a frame unless the viewer cannot decode it yet.
func (c *client) offerFrameData(key bool, entry outbound) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.streaming {
		return false
	}
	if c.needsCodecData || (c.needsKey && !key) {
		return true
	}
	if c.enqueueLocked(entry) {
		return true
	}
	if key {
		c.needsKey = false
	}
	return false
}

// offerInferenceData queues an overlay for a streaming viewer.
// Overlays do not depend on decoder state.
func (c *client) offerInferenceData(entry outbound) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.streaming {
		return false
	}
	return c.enqueueLocked(entry)
}

// sendControl queues bytes outside the streaming gate (HTTP
// responses, the upgrade and pongs) and waits until the transmit loop
// has written them or the viewer closed. Control entries are never
// evicted; waiting here keeps at most one in flight per viewer.
func (c *client) sendControl(data []byte, closeAfter bool) {
	written := make(chan struct{})
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.queue.push(outbound{raw: data, closeAfter: closeAfter, control: true, written: written})
	c.mu.Unlock()
	<-written
}

// setStreaming switches delivery on or off. Transitions are serialized
// with the encoder reference count so the count always equals the
// number of streaming viewers. A request matching the current state is
// a no-op.
func (c *client) setStreaming(enabled bool) error {
	changed := false
	err := c.server.encoder.update(func() int {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed || c.streaming == enabled {
			return 0
		}
		changed = true
		c.streaming = enabled
		if enabled {
			c.needsCodecData = true
			c.needsKey = true
			return 1
		}
		if c.structured {
			c.enqueueLocked(outbound{message: wire.NewStopMessage()})
		}
		return -1
	})
	if !changed {
		c.logger.Debug("stream control matches current state", "enabled", enabled)
		return err
	}
	if enabled {
		c.logger.Info("streaming enabled")
	} else {
		c.logger.Info("streaming disabled")
	}
	return err
}

func (c *client) isStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming
}

// handleStreamControl applies a viewer's StreamControl message.
// Encoder failures are fatal to the server.
func (c *client) handleStreamControl(message *wire.ServerBound) {
	if err := message.Validate(); err != nil {
		c.logger.Warn("ignoring malformed message", "error", err)
		return
	}
	if err := c.setStreaming(message.StreamControl.Enabled); err != nil {
		c.server.fail(err)
	}
}

// Close disconnects the viewer, releasing its encoder reference and
// removing it from the server.
func (c *client) Close() {
	c.closeOnce.Do(func() {
		err := c.server.encoder.update(func() int {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.closed = true
			if c.streaming {
				c.streaming = false
				return -1
			}
			return 0
		})
		if err != nil {
			c.server.fail(err)
		}
		c.queue.close()
		if err := c.conn.Close(); err != nil && !netutil.IsExpectedCloseError(err) {
			c.logger.Debug("closing connection", "error", err)
		}
		c.server.unregister(c)
		c.logger.Info("viewer disconnected")
	})
}

// start launches the receive and transmit goroutines for v.
func (c *client) start(v Viewer) {
	c.server.clientGroup.Go(func() { c.receiveLoop(v) })
	c.server.clientGroup.Go(func() { c.transmitLoop(v) })
}

func (c *client) receiveLoop(v Viewer) {
	defer v.Close()
	for {
		message, err := v.ReceiveMessage()
		if err != nil {
			c.logReceiveError(err)
			return
		}
		v.HandleMessage(message)
	}
}

func (c *client) logReceiveError(err error) {
	switch {
	case errors.Is(err, errPeerClosed), netutil.IsExpectedCloseError(err):
		c.logger.Debug("receive loop ended", "error", err)
	default:
		c.logger.Warn("closing viewer after receive error", "error", err)
	}
}

func (c *client) transmitLoop(v Viewer) {
	defer v.Close()
	for {
		entry, ok := c.queue.next()
		if !ok {
			return
		}
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout)); err != nil {
			entry.finish()
			c.logger.Debug("setting write deadline", "error", err)
			return
		}
		err := v.SendMessage(entry)
		entry.finish()
		if err != nil {
			if netutil.IsExpectedCloseError(err) {
				c.logger.Debug("transmit loop ended", "error", err)
			} else {
				c.logger.Warn("closing viewer after send error", "error", err)
			}
			return
		}
		if entry.closeAfter {
			return
		}
	}
}

// write sends data in full on the connection.
func (c *client) write(data []byte) error {
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("writing to %s viewer: %w", c.protocol, err)
	}
	return nil
}
