// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package presence

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
)

// Avahi D-Bus names and constants from avahi-common/defs.h.
const (
	avahiService             = "org.freedesktop.Avahi"
	avahiServerInterface     = avahiService + ".Server"
	avahiEntryGroupInterface = avahiService + ".EntryGroup"

	avahiInterfaceUnspecified int32 = -1
	avahiProtocolInet         int32 = 0
)

// DefaultServiceType is the DNS-SD type viewers browse for.
const DefaultServiceType = "_aiy_vision_video._tcp"

// Publisher advertises one service instance.
type Publisher interface {
	// Publish replaces the current advertisement with name on port.
	// An empty name withdraws the advertisement.
	Publish(name string, port int) error
	Close() error
}

// AvahiPublisher publishes through an Avahi entry group on the system
// bus.
type AvahiPublisher struct {
	serviceType string
	logger      *slog.Logger

	mu    sync.Mutex
	conn  *dbus.Conn
	group dbus.BusObject
}

// NewAvahiPublisher connects to the system bus and creates an entry
// group. It fails if the Avahi daemon is not reachable.
func NewAvahiPublisher(serviceType string, logger *slog.Logger) (*AvahiPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connecting to system bus: %w", err)
	}
	var groupPath dbus.ObjectPath
	server := conn.Object(avahiService, dbus.ObjectPath("/"))
	if err := server.Call(avahiServerInterface+".EntryGroupNew", 0).Store(&groupPath); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating avahi entry group: %w", err)
	}
	return &AvahiPublisher{
		serviceType: serviceType,
		logger:      logger,
		conn:        conn,
		group:       conn.Object(avahiService, groupPath),
	}, nil
}

func (p *AvahiPublisher) Publish(name string, port int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return fmt.Errorf("avahi publisher closed")
	}
	if err := p.call("Reset"); err != nil {
		return err
	}
	if name == "" {
		return nil
	}
	txt := [][]byte{[]byte("name=" + name)}
	err := p.call("AddService",
		avahiInterfaceUnspecified,
		avahiProtocolInet,
		uint32(0),
		name,
		p.serviceType,
		"", // domain
		"", // host
		uint16(port),
		txt,
	)
	if err != nil {
		return err
	}
	return p.call("Commit")
}

func (p *AvahiPublisher) call(method string, args ...any) error {
	if call := p.group.Call(avahiEntryGroupInterface+"."+method, 0, args...); call.Err != nil {
		return fmt.Errorf("avahi %s: %w", method, call.Err)
	}
	return nil
}

// Close withdraws the advertisement and disconnects from the bus.
func (p *AvahiPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	if err := p.call("Reset"); err != nil {
		p.logger.Warn("withdrawing advertisement", "error", err)
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}
