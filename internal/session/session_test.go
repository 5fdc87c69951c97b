package session

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"gpsblue-ng/internal/bluetooth"
	"gpsblue-ng/internal/gps"
)

type pipeListener struct {
	conns  chan bluetooth.Conn
	once   sync.Once
	closed chan struct{}
}

func newPipeListener() *pipeListener {
	return &pipeListener{conns: make(chan bluetooth.Conn), closed: make(chan struct{})}
}

func (l *pipeListener) Accept() (bluetooth.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *pipeListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

// dial hands the server one end of a pipe and returns the client end.
func (l *pipeListener) dial() net.Conn {
	server, client := net.Pipe()
	l.conns <- server
	return client
}

type recordingObserver struct {
	mu        sync.Mutex
	counts    []int
	fatals    []string
	fixes     int
	satSets   int
	satsNil   int
	lastCount int
}

func (o *recordingObserver) ConnectionCountChanged(_ uuid.UUID, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counts = append(o.counts, n)
	o.lastCount = n
}

func (o *recordingObserver) FatalError(title, message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fatals = append(o.fatals, title)
}

func (o *recordingObserver) PositionUpdated(gps.Fix) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fixes++
}

func (o *recordingObserver) SatellitesUpdated(sats []gps.Satellite) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if sats == nil {
		o.satsNil++
		return
	}
	o.satSets++
}

func (o *recordingObserver) get(fn func(o *recordingObserver) bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return fn(o)
}

func simConfig() Config {
	return Config{GPS: gps.Config{
		Enable: true,
		Source: "sim",
		Sim: gps.SimConfig{
			CenterLatDeg: 42.1,
			CenterLonDeg: -71.2,
			AltM:         100,
			Interval:     5 * time.Millisecond,
			Satellites:   8,
		},
	}}
}

func checksumOK(line string) bool {
	star := strings.LastIndexByte(line, '*')
	if !strings.HasPrefix(line, "$") || star == -1 {
		return false
	}
	var ck byte
	for i := 1; i < star; i++ {
		ck ^= line[i]
	}
	return line[star+1:] == fmt.Sprintf("%02X", ck)
}

func TestSession_StreamsSentencesWhileConnected(t *testing.T) {
	ln := newPipeListener()
	s := New(simConfig(), func(uuid.UUID) (bluetooth.Listener, error) { return ln, nil })
	defer s.Close()

	obs := &recordingObserver{}
	detach := s.Attach(obs)
	defer detach()

	id := bluetooth.SerialPortProfile
	require.NoError(t, s.Start(id))
	require.NoError(t, s.Start(id))

	client := ln.dial()
	r := bufio.NewReader(client)
	seen := map[string]bool{}
	for len(seen) < 4 {
		_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		require.True(t, strings.HasSuffix(line, "\r\n"), "line %q", line)
		line = strings.TrimSuffix(line, "\r\n")
		require.True(t, checksumOK(line), "bad checksum %q", line)
		seen[line[1:6]] = true
	}
	require.True(t, seen["GPGGA"] && seen["GPRMC"] && seen["GPGSV"] && seen["GPGSA"], "kinds %v", seen)

	// Keep draining so broadcasts never block on the pipe.
	_ = client.SetReadDeadline(time.Time{})
	go func() {
		for {
			if _, err := r.ReadString('\n'); err != nil {
				return
			}
		}
	}()

	snap := s.Snapshot()
	require.True(t, snap.Listening)
	require.Equal(t, 1, snap.Connections)
	require.Equal(t, "uuid: 00001101-0000-1000-8000-00805F9B34FB\nconnections: 1", snap.Status)
	require.True(t, snap.GPS.Running)

	// Hang up; the sensor goes off with the last connection.
	require.NoError(t, client.Close())
	require.Eventually(t, func() bool { return !s.Snapshot().GPS.Running }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return obs.get(func(o *recordingObserver) bool { return o.lastCount == 0 && o.satsNil == 1 })
	}, 2*time.Second, 5*time.Millisecond)

	require.True(t, obs.get(func(o *recordingObserver) bool {
		return o.fixes > 0 && o.satSets > 0 && len(o.fatals) == 0
	}))
	require.Equal(t, []int{0, 0, 1, 0}, obs.counts)

	s.Stop()
	s.Stop()
	require.False(t, s.Snapshot().Listening)
	require.Equal(t, "not listening", s.Snapshot().Status)
}

func TestSession_ListenFailureIsReplayedToLateObserver(t *testing.T) {
	s := New(simConfig(), func(uuid.UUID) (bluetooth.Listener, error) {
		return nil, fmt.Errorf("%w: no adapter", bluetooth.ErrTransportUnavailable)
	})
	defer s.Close()

	err := s.Start(uuid.New())
	require.True(t, errors.Is(err, bluetooth.ErrTransportUnavailable))

	obs := &recordingObserver{}
	s.Attach(obs)
	require.Equal(t, []string{"Bluetooth Error"}, obs.fatals)

	// Pending fatal is delivered once.
	other := &recordingObserver{}
	s.Attach(other)
	require.Empty(t, other.fatals)
	require.NotNil(t, s.Snapshot().LastFatal)
}

func TestSession_DisabledSensorReportsFatalButKeepsConnection(t *testing.T) {
	cfg := simConfig()
	cfg.GPS.Enable = false
	ln := newPipeListener()
	s := New(cfg, func(uuid.UUID) (bluetooth.Listener, error) { return ln, nil })
	defer s.Close()

	obs := &recordingObserver{}
	s.Attach(obs)
	require.NoError(t, s.Start(uuid.New()))

	client := ln.dial()
	require.Eventually(t, func() bool {
		return obs.get(func(o *recordingObserver) bool { return len(o.fatals) == 1 && o.lastCount == 1 })
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, "GPS Access Error", obs.fatals[0])

	require.NoError(t, client.Close())
	require.Eventually(t, func() bool { return s.Snapshot().Connections == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestSession_DetachStopsNotifications(t *testing.T) {
	ln := newPipeListener()
	s := New(simConfig(), func(uuid.UUID) (bluetooth.Listener, error) { return ln, nil })
	defer s.Close()

	obs := &recordingObserver{}
	detach := s.Attach(obs)
	detach()
	detach()

	require.NoError(t, s.Start(uuid.New()))
	s.Stop()
	require.Equal(t, []int{0}, obs.counts)
}

func TestConnectionsText(t *testing.T) {
	require.Equal(t, "listening for connections", ConnectionsText(0))
	require.Equal(t, "1 connection active", ConnectionsText(1))
	require.Equal(t, "3 connections active", ConnectionsText(3))
}
