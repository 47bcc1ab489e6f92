// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package transport

import "net"

func setNotSentLowWater(*net.TCPConn, int) error { return nil }
