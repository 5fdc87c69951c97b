package bluetooth

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeRegistrar struct {
	mu           sync.Mutex
	registered   []uuid.UUID
	opts         []ProfileOptions
	unregistered []uuid.UUID
	deliver      map[uuid.UUID]func(Conn) error
	err          error
}

func (r *fakeRegistrar) RegisterProfile(id uuid.UUID, opts ProfileOptions, deliver func(Conn) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.registered = append(r.registered, id)
	r.opts = append(r.opts, opts)
	if r.deliver == nil {
		r.deliver = make(map[uuid.UUID]func(Conn) error)
	}
	r.deliver[id] = deliver
	return nil
}

func (r *fakeRegistrar) UnregisterProfile(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregistered = append(r.unregistered, id)
	return nil
}

func TestProfileListen_RegistersRequestedID(t *testing.T) {
	reg := &fakeRegistrar{}
	listen := ProfileListen(reg, ProfileOptions{Channel: 3})
	a := uuid.MustParse("a7b2c3d4-1111-2222-3333-444455556666")

	ln, err := listen(SerialPortProfile)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if err := ln.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if _, err := listen(a); err != nil {
		t.Fatalf("listen: %v", err)
	}

	if len(reg.registered) != 2 || reg.registered[0] != SerialPortProfile || reg.registered[1] != a {
		t.Fatalf("registered=%v", reg.registered)
	}
	if reg.opts[1].Channel != 3 || reg.opts[1].Name != ServiceName {
		t.Fatalf("opts=%+v", reg.opts[1])
	}
	if len(reg.unregistered) != 1 || reg.unregistered[0] != SerialPortProfile {
		t.Fatalf("unregistered=%v", reg.unregistered)
	}
}

func TestProfileListen_RegisterFailureIsListenFailure(t *testing.T) {
	reg := &fakeRegistrar{err: errors.New("org.bluez.Error.AlreadyExists")}
	_, err := ProfileListen(reg, ProfileOptions{Channel: 1})(SerialPortProfile)
	if !errors.Is(err, ErrListenFailure) {
		t.Fatalf("err=%v want ErrListenFailure", err)
	}
}

func TestProfileListener_AcceptAndClose(t *testing.T) {
	reg := &fakeRegistrar{}
	ln, err := ProfileListen(reg, ProfileOptions{Channel: 1})(SerialPortProfile)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	deliver := reg.deliver[SerialPortProfile]

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	if err := deliver(a); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	got, err := ln.Accept()
	if err != nil || got != Conn(a) {
		t.Fatalf("Accept()=%v,%v", got, err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := ln.Accept()
		done <- err
	}()
	_ = ln.Close()
	_ = ln.Close()
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("Accept() after Close returned nil error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not wake Accept")
	}

	c, d := net.Pipe()
	defer c.Close()
	defer d.Close()
	if err := deliver(c); err == nil {
		t.Fatalf("deliver after Close should be refused")
	}
	if len(reg.unregistered) != 1 {
		t.Fatalf("unregistered=%v", reg.unregistered)
	}
}

func TestProfileListener_CloseClosesQueued(t *testing.T) {
	reg := &fakeRegistrar{}
	ln, err := ProfileListen(reg, ProfileOptions{})(SerialPortProfile)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	a, b := net.Pipe()
	if err := reg.deliver[SerialPortProfile](a); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	_ = ln.Close()

	_ = b.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := b.Read(make([]byte, 1)); err == nil {
		t.Fatalf("peer still open after listener Close")
	}
}

func TestProfilePathAndDeviceAddr(t *testing.T) {
	if got := profilePath(SerialPortProfile); got != "/gpsblue_ng/profile/p0000110100001000800000805f9b34fb" {
		t.Fatalf("path=%s", got)
	}
	if got := deviceAddr("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"); got != "AA:BB:CC:DD:EE:FF" {
		t.Fatalf("addr=%s", got)
	}
	if got := deviceAddr("/org/bluez/hci0"); got != "unknown" {
		t.Fatalf("addr=%s", got)
	}
}
