// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides the TCP listeners viewers connect to and
// the dialer the streamprobe client uses.
//
// [TCPListener] caps concurrent connections with
// golang.org/x/net/netutil and tunes each accepted socket for live
// video: Nagle is disabled so small control replies are not delayed,
// and on Linux TCP_NOTSENT_LOWAT keeps unsent data in the kernel small.
// Backpressure from a slow viewer then shows up in the server's
// per-viewer queue, where the drop policy can act on it, instead of
// hiding megabytes of stale video in a socket buffer.
package transport
