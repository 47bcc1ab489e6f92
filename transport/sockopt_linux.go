// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package transport

import (
	"net"

	"golang.org/x/sys/unix"
)

func setNotSentLowWater(conn *net.TCPConn, bytes int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var optionErr error
	err = raw.Control(func(fd uintptr) {
		optionErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NOTSENT_LOWAT, bytes)
	})
	if err != nil {
		return err
	}
	return optionErr
}
