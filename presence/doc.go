// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

// Package presence advertises the stream server on the local network.
//
// The [Announcer] reads the device's human-readable name from a file
// and publishes the framed-protocol port under that name through a
// [Publisher]. When the file changes the advertisement is replaced;
// while the name is empty nothing is advertised. [AvahiPublisher]
// talks to the Avahi daemon over the D-Bus system bus.
package presence
