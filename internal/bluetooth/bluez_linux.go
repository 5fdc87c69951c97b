//go:build linux

package bluetooth

import (
	"fmt"
	"os"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const (
	bluezService   = "org.bluez"
	profileManager = "org.bluez.ProfileManager1"
	profileIface   = "org.bluez.Profile1"
)

// RFCOMM returns a ListenFunc that registers a BlueZ serial profile for the
// requested service identifier on the given RFCOMM channel. BlueZ publishes
// the SDP record and passes each accepted socket to the profile.
func RFCOMM(channel uint8) ListenFunc {
	return func(id uuid.UUID) (Listener, error) {
		conn, err := dbus.SystemBus()
		if err != nil {
			return nil, fmt.Errorf("%w: system bus: %v", ErrTransportUnavailable, err)
		}
		return ProfileListen(&bluezRegistrar{bus: conn}, ProfileOptions{Channel: channel})(id)
	}
}

type bluezRegistrar struct {
	bus *dbus.Conn
}

func (r *bluezRegistrar) RegisterProfile(id uuid.UUID, opts ProfileOptions, deliver func(Conn) error) error {
	path := dbus.ObjectPath(profilePath(id))
	p := &bluezProfile{deliver: deliver, byDevice: make(map[dbus.ObjectPath][]*os.File)}
	if err := r.bus.Export(p, path, profileIface); err != nil {
		return fmt.Errorf("export profile: %w", err)
	}
	options := map[string]dbus.Variant{
		"Name":                  dbus.MakeVariant(opts.Name),
		"Role":                  dbus.MakeVariant("server"),
		"Channel":               dbus.MakeVariant(uint16(opts.Channel)),
		"RequireAuthentication": dbus.MakeVariant(false),
		"RequireAuthorization":  dbus.MakeVariant(false),
	}
	call := r.bus.Object(bluezService, "/org/bluez").Call(profileManager+".RegisterProfile", 0, path, id.String(), options)
	if call.Err != nil {
		_ = r.bus.Export(nil, path, profileIface)
		return call.Err
	}
	return nil
}

func (r *bluezRegistrar) UnregisterProfile(id uuid.UUID) error {
	path := dbus.ObjectPath(profilePath(id))
	call := r.bus.Object(bluezService, "/org/bluez").Call(profileManager+".UnregisterProfile", 0, path)
	_ = r.bus.Export(nil, path, profileIface)
	return call.Err
}

// bluezProfile is the exported org.bluez.Profile1 object.
type bluezProfile struct {
	deliver func(Conn) error

	mu       sync.Mutex
	byDevice map[dbus.ObjectPath][]*os.File
}

func (p *bluezProfile) NewConnection(device dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	nfd := int(fd)
	if err := unix.SetNonblock(nfd, true); err != nil {
		_ = unix.Close(nfd)
		return dbus.MakeFailedError(err)
	}
	remote := deviceAddr(string(device))
	if sa, err := unix.Getpeername(nfd); err == nil {
		if ra, ok := sa.(*unix.SockaddrRFCOMM); ok {
			remote = formatAddr(ra.Addr)
		}
	}
	f := os.NewFile(uintptr(nfd), "rfcomm:"+remote)
	if err := p.deliver(&rfcommConn{File: f, remote: remote}); err != nil {
		_ = f.Close()
		return dbus.NewError("org.bluez.Error.Rejected", []interface{}{err.Error()})
	}
	p.mu.Lock()
	p.byDevice[device] = append(p.byDevice[device], f)
	p.mu.Unlock()
	return nil
}

// RequestDisconnection closes the device's streams; their handlers then see
// the read fail and unregister.
func (p *bluezProfile) RequestDisconnection(device dbus.ObjectPath) *dbus.Error {
	p.mu.Lock()
	files := p.byDevice[device]
	delete(p.byDevice, device)
	p.mu.Unlock()
	for _, f := range files {
		_ = f.Close()
	}
	return nil
}

func (p *bluezProfile) Release() *dbus.Error {
	return nil
}

// rfcommConn is an accepted stream. *os.File supplies pollable Read/Write and
// SetReadDeadline.
type rfcommConn struct {
	*os.File
	remote string
}

func (c *rfcommConn) RemoteName() string { return c.remote }
