package bluetooth

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ServiceName is the SDP service name advertised for the feed.
const ServiceName = "gpsblue-ng"

const acceptBacklog = 4

// ProfileOptions describe the server-side profile registered for a service
// identifier.
type ProfileOptions struct {
	Name    string
	Channel uint8
}

// Registrar publishes a server profile under a service identifier and hands
// every inbound connection for it to deliver. deliver returns an error when
// the connection is refused; the registrar then closes it.
type Registrar interface {
	RegisterProfile(id uuid.UUID, opts ProfileOptions, deliver func(Conn) error) error
	UnregisterProfile(id uuid.UUID) error
}

// ProfileListen returns a ListenFunc that registers one profile per listen
// call and unregisters it when the listener is closed.
func ProfileListen(reg Registrar, opts ProfileOptions) ListenFunc {
	if opts.Name == "" {
		opts.Name = ServiceName
	}
	return func(id uuid.UUID) (Listener, error) {
		l := &profileListener{
			reg:    reg,
			id:     id,
			conns:  make(chan Conn, acceptBacklog),
			closed: make(chan struct{}),
		}
		if err := reg.RegisterProfile(id, opts, l.deliver); err != nil {
			return nil, fmt.Errorf("%w: register profile %s channel %d: %v", ErrListenFailure, id, opts.Channel, err)
		}
		return l, nil
	}
}

type profileListener struct {
	reg Registrar
	id  uuid.UUID

	conns  chan Conn
	once   sync.Once
	closed chan struct{}
}

var errListenerClosed = errors.New("listener closed")

func (l *profileListener) deliver(c Conn) error {
	select {
	case <-l.closed:
		return errListenerClosed
	default:
	}
	select {
	case l.conns <- c:
		return nil
	case <-l.closed:
		return errListenerClosed
	}
}

func (l *profileListener) Accept() (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, errListenerClosed
	}
}

// Close unregisters the profile and closes connections nobody accepted.
func (l *profileListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closed)
		err = l.reg.UnregisterProfile(l.id)
		for {
			select {
			case c := <-l.conns:
				_ = c.Close()
			default:
				return
			}
		}
	})
	return err
}

// profilePath is the object path a profile for id is exported at.
func profilePath(id uuid.UUID) string {
	return "/gpsblue_ng/profile/p" + strings.ReplaceAll(id.String(), "-", "")
}

// deviceAddr extracts the address from a device object path such as
// /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF.
func deviceAddr(path string) string {
	i := strings.LastIndex(path, "/dev_")
	if i < 0 {
		return "unknown"
	}
	return strings.ReplaceAll(path[i+len("/dev_"):], "_", ":")
}
