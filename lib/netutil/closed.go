// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil classifies network errors for connection loops.
package netutil

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// IsExpectedCloseError reports whether err is a normal end of a viewer
// connection: EOF, a locally closed socket, broken pipe or connection
// reset. Viewers vanish without a close handshake all the time (a
// browser tab closes, a phone leaves Wi-Fi), so these are logged at
// debug level rather than as failures.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

// IsTimeout reports whether err is a deadline expiry, such as a write
// to a viewer that stopped reading.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
