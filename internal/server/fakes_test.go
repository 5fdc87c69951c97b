package server

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"gpsblue-ng/internal/bluetooth"
)

type fakeConn struct {
	mu        sync.Mutex
	writes    [][]byte
	failWrite bool

	closeOnce sync.Once
	closed    chan struct{}
	eofOnce   sync.Once
	eof       chan struct{}
	wakeOnce  sync.Once
	wake      chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		closed: make(chan struct{}),
		eof:    make(chan struct{}),
		wake:   make(chan struct{}),
	}
}

func (c *fakeConn) Read(p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	case <-c.eof:
		return 0, io.EOF
	case <-c.wake:
		return 0, os.ErrDeadlineExceeded
	}
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrite {
		return 0, errors.New("broken pipe")
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error {
	c.wakeOnce.Do(func() { close(c.wake) })
	return nil
}

// hangUp simulates the peer closing its end.
func (c *fakeConn) hangUp() {
	c.eofOnce.Do(func() { close(c.eof) })
}

func (c *fakeConn) setFailWrite() {
	c.mu.Lock()
	c.failWrite = true
	c.mu.Unlock()
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeSensor records the call sequence and flags any start while active or
// stop while inactive.
type fakeSensor struct {
	mu         sync.Mutex
	active     bool
	starts     int
	stops      int
	violations int
	startErr   error
}

func (s *fakeSensor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.violations++
	}
	s.active = true
	s.starts++
	return s.startErr
}

func (s *fakeSensor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		s.violations++
	}
	s.active = false
	s.stops++
}

func (s *fakeSensor) counts() (starts, stops, violations int, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.stops, s.violations, s.active
}

type fakeListener struct {
	conns  chan bluetooth.Conn
	errs   chan error
	once   sync.Once
	closed chan struct{}
}

func newFakeListener() *fakeListener {
	return &fakeListener{
		conns:  make(chan bluetooth.Conn),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (l *fakeListener) Accept() (bluetooth.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case err := <-l.errs:
		return nil, err
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *fakeListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *fakeListener) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// listenRecorder hands out a new fakeListener per call.
type listenRecorder struct {
	mu        sync.Mutex
	ids       []uuid.UUID
	listeners []*fakeListener
	err       error
}

func (r *listenRecorder) listen(id uuid.UUID) (bluetooth.Listener, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	if r.err != nil {
		return nil, r.err
	}
	l := newFakeListener()
	r.listeners = append(r.listeners, l)
	return l, nil
}

func (r *listenRecorder) last() *fakeListener {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listeners[len(r.listeners)-1]
}

func (r *listenRecorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}
