package gps

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrSensorUnavailable is returned by Start when the configured source is
// missing, disabled or cannot be opened.
var ErrSensorUnavailable = errors.New("gps sensor unavailable")

// Config controls the sensor.
//
// Source selects how positions are ingested: "nmea" (direct serial receiver),
// "gpsd" or "sim". When empty, defaults to "nmea". Device may be empty to
// auto-detect a /dev/ttyACM* or /dev/ttyUSB* receiver.
//
// PowerGPIO, when > 0, is a BCM GPIO line driven high while the sensor is
// started and low while it is stopped.
type Config struct {
	Enable bool

	Source string

	GPSDAddr string

	Device string
	Baud   int

	PowerGPIO int

	Sim SimConfig
}

// Handler receives every event of a running source, in arrival order, from a
// single goroutine. ctx is cancelled once Stop has been requested.
type Handler func(ctx context.Context, ev Event)

// FatalFunc reports a non-retryable failure as a (title, message) pair.
type FatalFunc func(title, message string)

// Source is a running producer of fix and satellite events.
//
// Run blocks until ctx is cancelled or the source fails. Close unblocks a Run
// stuck in a read.
type Source interface {
	Run(ctx context.Context, out chan<- Event) error
	Close() error
}

var openSourceFn = openSource

func openSource(cfg Config) (Source, error) {
	switch sourceName(cfg) {
	case "gpsd":
		return openGPSD(cfg.GPSDAddr)
	case "sim":
		return newSimSource(cfg.Sim), nil
	default:
		return openNMEA(cfg.Device, cfg.Baud)
	}
}

func sourceName(cfg Config) string {
	src := strings.ToLower(strings.TrimSpace(cfg.Source))
	if src == "" {
		src = "nmea"
	}
	return src
}

type Snapshot struct {
	Enabled bool   `json:"enabled"`
	Running bool   `json:"running"`
	Source  string `json:"source"`

	Device   string `json:"device,omitempty"`
	Baud     int    `json:"baud,omitempty"`
	GPSDAddr string `json:"gpsd_addr,omitempty"`

	Starts        uint64 `json:"starts"`
	Fixes         uint64 `json:"fixes"`
	SatelliteSets uint64 `json:"satellite_sets"`

	LastEventUTC string `json:"last_event_utc,omitempty"`
	LastError    string `json:"last_error,omitempty"`
}

// Service starts and stops the configured source on demand and pumps its
// events into a Handler.
type Service struct {
	cfg     Config
	onEvent Handler
	onFatal FatalFunc
	log     zerolog.Logger

	// runMu serializes Start/Stop/Close. mu guards the snapshot only, so a
	// source goroutine can record errors while Stop waits for it.
	runMu  sync.Mutex
	cancel context.CancelFunc
	src    Source
	power  powerLine
	wg     sync.WaitGroup

	mu   sync.Mutex
	last atomic.Value // Snapshot

	starts atomic.Uint64
	fixes  atomic.Uint64
	sets   atomic.Uint64
}

func New(cfg Config, onEvent Handler, onFatal FatalFunc) *Service {
	s := &Service{
		cfg:     cfg,
		onEvent: onEvent,
		onFatal: onFatal,
		log:     log.With().Str("module", "gps").Logger(),
	}
	s.last.Store(Snapshot{
		Enabled:  cfg.Enable,
		Source:   sourceName(cfg),
		Device:   cfg.Device,
		Baud:     cfg.Baud,
		GPSDAddr: strings.TrimSpace(cfg.GPSDAddr),
	})
	return s
}

// Start opens the source and spins the delivery loop. It is a no-op while
// already started. Failures are reported once through the fatal hook and
// returned wrapping ErrSensorUnavailable.
func (s *Service) Start() error {
	if s == nil {
		return fmt.Errorf("gps service is nil")
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return nil
	}

	if !s.cfg.Enable {
		s.setError("gps disabled")
		s.fatal("GPS Access Error", "GPS location receiver disabled\nenable it in the configuration and restart")
		return fmt.Errorf("%w: receiver disabled", ErrSensorUnavailable)
	}

	src, err := openSourceFn(s.cfg)
	if err != nil {
		s.setError(err.Error())
		s.fatal("GPS Access Error", err.Error())
		return fmt.Errorf("%w: %v", ErrSensorUnavailable, err)
	}
	s.src = src
	s.setPowerLocked(true)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.starts.Add(1)
	s.update(func(snap *Snapshot) {
		snap.Running = true
		snap.Starts = s.starts.Load()
	})
	s.log.Info().Str("source", sourceName(s.cfg)).Msg("gps started")

	events := make(chan Event, 16)
	srcDone := make(chan struct{})

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		defer close(srcDone)
		err := src.Run(ctx, events)
		if err != nil && ctx.Err() == nil {
			s.log.Error().Err(err).Msg("gps source stopped")
			s.setError(err.Error())
			s.fatal("GPS Read Error", err.Error())
		}
	}()
	go func() {
		defer s.wg.Done()
		s.loop(ctx, events, srcDone)
	}()
	return nil
}

// Stop requests the loop to exit and blocks until it has. Safe before Start
// and when already stopped.
func (s *Service) Stop() {
	if s == nil {
		return
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.stopLocked()
}

// Close stops the sensor and releases the power line.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.stopLocked()
	if s.power != nil {
		_ = s.power.Close()
		s.power = nil
	}
}

func (s *Service) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	if s.src != nil {
		_ = s.src.Close()
	}
	s.wg.Wait()
	s.cancel = nil
	s.src = nil
	s.setPowerLocked(false)
	s.log.Info().Msg("gps stopped")
}

func (s *Service) loop(ctx context.Context, events <-chan Event, srcDone <-chan struct{}) {
	defer func() {
		s.update(func(snap *Snapshot) { snap.Running = false })
		// Observers drop any satellite view once the sensor is gone.
		if s.onEvent != nil {
			s.onEvent(ctx, SatellitesEvent(nil))
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if ctx.Err() != nil {
				return
			}
			s.deliver(ctx, ev)
		case <-srcDone:
			for {
				select {
				case ev := <-events:
					if ctx.Err() != nil {
						return
					}
					s.deliver(ctx, ev)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) deliver(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventFix:
		s.fixes.Add(1)
	case EventSatellites:
		s.sets.Add(1)
	}
	s.update(func(snap *Snapshot) {
		snap.Fixes = s.fixes.Load()
		snap.SatelliteSets = s.sets.Load()
		snap.LastEventUTC = time.Now().UTC().Format(time.RFC3339Nano)
	})
	if s.onEvent != nil {
		s.onEvent(ctx, ev)
	}
}

func (s *Service) setPowerLocked(on bool) {
	if s.cfg.PowerGPIO <= 0 {
		return
	}
	if s.power == nil {
		if !on {
			return
		}
		p, err := openPowerLineFn(s.cfg.PowerGPIO)
		if err != nil {
			s.log.Warn().Err(err).Int("gpio", s.cfg.PowerGPIO).Msg("gps power line unavailable")
			return
		}
		s.power = p
	}
	if err := s.power.Set(on); err != nil {
		s.log.Warn().Err(err).Bool("on", on).Msg("gps power switch failed")
	}
}

func (s *Service) fatal(title, message string) {
	if s.onFatal != nil {
		s.onFatal(title, message)
	}
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	v := s.last.Load()
	if v == nil {
		return Snapshot{}
	}
	return v.(Snapshot)
}

func (s *Service) update(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.Snapshot()
	fn(&cur)
	s.last.Store(cur)
}

func (s *Service) setError(msg string) {
	s.update(func(snap *Snapshot) { snap.LastError = msg })
}
