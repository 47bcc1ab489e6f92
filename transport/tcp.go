// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/net/netutil"
)

// ListenOptions tunes a TCPListener.
type ListenOptions struct {
	// MaxConnections caps concurrently open accepted connections.
	// Further connections wait in the kernel backlog until one closes.
	// Zero means unlimited.
	MaxConnections int

	// NotSentLowWater sets TCP_NOTSENT_LOWAT on accepted connections
	// where the platform supports it. Zero leaves the system default.
	NotSentLowWater int

	// Logger receives socket tuning failures, which never fail the
	// accept.
	Logger *slog.Logger
}

// DefaultNotSentLowWater is roughly one key frame at the default
// bitrate.
const DefaultNotSentLowWater = 128 * 1024

// TCPListener accepts viewer connections.
type TCPListener struct {
	net.Listener
}

// NewTCPListener listens on address ("host:port"; port 0 picks a free
// port).
func NewTCPListener(ctx context.Context, address string, options ListenOptions) (*TCPListener, error) {
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	var config net.ListenConfig
	listener, err := config.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	// Tuning wraps the raw listener so it sees *net.TCPConn; the limit
	// wrapper goes outside it.
	listener = &tuningListener{Listener: listener, options: options}
	if options.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, options.MaxConnections)
	}
	return &TCPListener{Listener: listener}, nil
}

// Address returns the bound "host:port".
func (l *TCPListener) Address() string {
	return l.Addr().String()
}

type tuningListener struct {
	net.Listener
	options ListenOptions
}

func (l *tuningListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := Tune(tcp, l.options.NotSentLowWater); err != nil {
			l.options.Logger.Warn("tuning viewer socket failed",
				"remote", conn.RemoteAddr().String(),
				"error", err,
			)
		}
	}
	return conn, nil
}

// Tune disables Nagle and applies the not-sent low water mark when
// lowWater is positive.
func Tune(conn *net.TCPConn, lowWater int) error {
	if err := conn.SetNoDelay(true); err != nil {
		return fmt.Errorf("disabling nagle: %w", err)
	}
	if lowWater > 0 {
		if err := setNotSentLowWater(conn, lowWater); err != nil {
			return fmt.Errorf("setting TCP_NOTSENT_LOWAT: %w", err)
		}
	}
	return nil
}

// TCPDialer opens viewer connections for the streamprobe client.
type TCPDialer struct {
	// Timeout bounds connection establishment. Zero leaves only the
	// context deadline.
	Timeout time.Duration
}

// DialContext connects to address ("host:port").
func (d *TCPDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	return (&net.Dialer{Timeout: d.Timeout}).DialContext(ctx, "tcp", address)
}
