// Package session runs the wireless GPS feed: it listens for connections,
// powers the sensor while anyone is connected, encodes every fix and
// satellite set as NMEA sentences and broadcasts them.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gpsblue-ng/internal/bluetooth"
	"gpsblue-ng/internal/gps"
	"gpsblue-ng/internal/nmea"
	"gpsblue-ng/internal/server"
)

type Config struct {
	GPS gps.Config
}

type Session struct {
	log zerolog.Logger

	enc *nmea.Encoder
	gps *gps.Service
	reg *server.Registry
	acc *server.Acceptor

	// startMu serializes Start/Stop.
	startMu sync.Mutex

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObs   int
	pending   *Fatal

	mu        sync.Mutex
	id        uuid.UUID
	count     int
	fixes     uint64
	statuses  uint64
	bytesSent uint64
	lastFix   *gps.Fix
	sats      []gps.Satellite
	lastFatal *Fatal
}

func New(cfg Config, listen bluetooth.ListenFunc) *Session {
	s := &Session{
		log:       log.With().Str("module", "session").Logger(),
		enc:       nmea.NewEncoder(),
		observers: make(map[int]Observer),
	}
	s.gps = gps.New(cfg.GPS, s.handleEvent, s.fatal)
	s.reg = server.NewRegistry(s.gps, s.countChanged)
	s.acc = server.NewAcceptor(listen, s.reg, s.fatal)
	return s
}

// Start listens on id. Repeating Start with the listening id is a no-op; a
// different id restarts the listener and drops every connection. A listen
// failure is reported to observers as fatal and returned.
func (s *Session) Start(id uuid.UUID) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if err := s.acc.Startup(id); err != nil {
		s.fatal("Bluetooth Error", "try starting bluetooth\nor try different UUID\n\n"+err.Error())
		return err
	}
	return nil
}

// Stop closes the listener and every connection, which also stops the
// sensor. Idempotent.
func (s *Session) Stop() {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	s.acc.Shutdown()
}

// Close stops the session and releases the sensor's power line.
func (s *Session) Close() {
	s.Stop()
	s.gps.Close()
}

func (s *Session) countChanged(id uuid.UUID, n int) {
	s.mu.Lock()
	s.id = id
	s.count = n
	s.mu.Unlock()
	s.log.Debug().Str("uuid", id.String()).Int("connections", n).Msg(ConnectionsText(n))
	s.notify(func(o Observer) { o.ConnectionCountChanged(id, n) })
}

// handleEvent is the sensor loop's handler: encode, broadcast, notify.
func (s *Session) handleEvent(ctx context.Context, ev gps.Event) {
	switch ev.Kind {
	case gps.EventFix:
		fix := ev.Fix
		s.mu.Lock()
		s.fixes++
		s.lastFix = &fix
		s.mu.Unlock()
		s.broadcast(ctx, s.enc.Fix(fix))
		s.notify(func(o Observer) { o.PositionUpdated(fix) })

	case gps.EventSatellites:
		sats := ev.Satellites
		s.mu.Lock()
		if sats != nil {
			s.statuses++
		}
		s.sats = sats
		s.mu.Unlock()
		if b := s.enc.Satellites(sats); len(b) > 0 {
			s.broadcast(ctx, b)
		}
		s.notify(func(o Observer) { o.SatellitesUpdated(sats) })
	}
}

func (s *Session) broadcast(ctx context.Context, p []byte) {
	n, err := s.reg.Broadcast(ctx, p)
	if err != nil {
		// Stop is in progress.
		return
	}
	s.mu.Lock()
	s.bytesSent += uint64(n * len(p))
	s.mu.Unlock()
}

// fatal reports a failure once to every observer. With no observer attached
// it is kept and replayed to the next one.
func (s *Session) fatal(title, message string) {
	f := &Fatal{Title: title, Message: message, AtUTC: time.Now().UTC().Format(time.RFC3339)}
	s.log.Error().Str("title", title).Str("message", message).Msg("fatal error")

	s.mu.Lock()
	s.lastFatal = f
	s.mu.Unlock()

	s.obsMu.Lock()
	if len(s.observers) == 0 {
		s.pending = f
	}
	s.obsMu.Unlock()
	s.notify(func(o Observer) { o.FatalError(title, message) })
}

type sessionState struct {
	id      uuid.UUID
	count   int
	lastFix *gps.Fix
	sats    []gps.Satellite
}

func (s *Session) state() sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sessionState{id: s.id, count: s.count, lastFix: s.lastFix, sats: s.sats}
}

type Snapshot struct {
	Listening   bool              `json:"listening"`
	ServiceUUID string            `json:"service_uuid,omitempty"`
	Status      string            `json:"status"`
	Connections int               `json:"connections"`
	Conns       []server.ConnInfo `json:"conns"`

	FixesReceived    uint64 `json:"fixes_received"`
	StatusesReceived uint64 `json:"statuses_received"`
	BytesSent        uint64 `json:"bytes_sent"`

	LastFix    *gps.Fix        `json:"last_fix,omitempty"`
	Satellites []gps.Satellite `json:"satellites,omitempty"`
	InUse      int             `json:"satellites_in_use"`

	LastFatal *Fatal       `json:"last_fatal,omitempty"`
	GPS       gps.Snapshot `json:"gps"`
}

func (s *Session) Snapshot() Snapshot {
	id, listening := s.acc.Listening()
	conns := s.reg.Conns()

	s.mu.Lock()
	snap := Snapshot{
		Listening:        listening,
		Connections:      len(conns),
		Conns:            conns,
		FixesReceived:    s.fixes,
		StatusesReceived: s.statuses,
		BytesSent:        s.bytesSent,
		LastFix:          s.lastFix,
		Satellites:       s.sats,
		LastFatal:        s.lastFatal,
	}
	s.mu.Unlock()

	for _, sat := range snap.Satellites {
		if sat.Used {
			snap.InUse++
		}
	}
	if listening {
		snap.ServiceUUID = id.String()
		snap.Status = StatusText(id, snap.Connections)
	} else {
		snap.Status = "not listening"
	}
	snap.GPS = s.gps.Snapshot()
	return snap
}

// StatusText is the two-line summary shown by status displays.
func StatusText(id uuid.UUID, connections int) string {
	return fmt.Sprintf("uuid: %s\nconnections: %d", strings.ToUpper(id.String()), connections)
}

// ConnectionsText describes the connection count in words.
func ConnectionsText(n int) string {
	switch n {
	case 0:
		return "listening for connections"
	case 1:
		return "1 connection active"
	default:
		return fmt.Sprintf("%d connections active", n)
	}
}
