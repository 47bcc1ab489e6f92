// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"net"
	"time"

	"github.com/visionkit/streamd/lib/netutil"
)

// acceptedConn is a connection tagged with the listener it came from.
type acceptedConn struct {
	conn     net.Conn
	protocol Protocol
}

// Accept errors are retried. After this many in a row the loop backs
// off between attempts.
const (
	acceptErrorThreshold = 10
	acceptBackoff        = 500 * time.Millisecond
)

// acceptLoop accepts on one listener and hands connections to Serve.
// It returns when the listener is closed or ctx is cancelled.
func (s *Server) acceptLoop(ctx context.Context, protocol Protocol, listener net.Listener, accepted chan<- acceptedConn) {
	logger := s.logger.With("protocol", protocol.String())
	consecutiveErrors := 0
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || netutil.IsExpectedCloseError(err) {
				return
			}
			consecutiveErrors++
			if consecutiveErrors > acceptErrorThreshold {
				logger.Warn("repeated accept failures", "error", err, "count", consecutiveErrors)
				select {
				case <-ctx.Done():
					return
				case <-time.After(acceptBackoff):
				}
			} else {
				logger.Debug("accept error", "error", err)
			}
			continue
		}
		consecutiveErrors = 0

		select {
		case accepted <- acceptedConn{conn: conn, protocol: protocol}:
		case <-ctx.Done():
			conn.Close()
			return
		}
	}
}
