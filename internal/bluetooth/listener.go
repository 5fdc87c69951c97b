// Package bluetooth provides the RFCOMM (wireless serial) listener the
// sentence feed is served on.
package bluetooth

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrTransportUnavailable means the host has no usable Bluetooth stack or
	// adapter.
	ErrTransportUnavailable = errors.New("bluetooth transport unavailable")

	// ErrListenFailure means the service could not be bound.
	ErrListenFailure = errors.New("bluetooth listen failed")
)

// SerialPortProfile is the well-known SPP service class UUID.
var SerialPortProfile = uuid.MustParse("00001101-0000-1000-8000-00805f9b34fb")

// Conn is one accepted stream.
type Conn interface {
	io.ReadWriteCloser
}

// Listener accepts inbound connections. Close unblocks a pending Accept.
type Listener interface {
	Accept() (Conn, error)
	Close() error
}

// ListenFunc opens a listener for a service identifier.
type ListenFunc func(id uuid.UUID) (Listener, error)

// ParseServiceID parses a service UUID, defaulting to SerialPortProfile when s
// is empty.
func ParseServiceID(s string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return SerialPortProfile, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid service uuid %q: %v", s, err)
	}
	return id, nil
}

// RemoteName returns the peer address of c when the transport knows it.
func RemoteName(c Conn) string {
	if r, ok := c.(interface{ RemoteName() string }); ok {
		return r.RemoteName()
	}
	return "unknown"
}

// formatAddr renders a BD_ADDR held in kernel (little-endian) byte order.
func formatAddr(a [6]uint8) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[5], a[4], a[3], a[2], a[1], a[0])
}
