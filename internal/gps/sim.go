package gps

import (
	"context"
	"sync"
	"time"

	"gpsblue-ng/internal/sim"
)

// SimConfig drives the built-in simulated receiver.
type SimConfig struct {
	CenterLatDeg float64
	CenterLonDeg float64
	AltM         float64
	RadiusNm     float64
	Period       time.Duration
	Interval     time.Duration
	Satellites   int
}

type simSource struct {
	cfg  SimConfig
	path sim.Path
	now  func() time.Time

	once sync.Once
	done chan struct{}
}

func newSimSource(cfg SimConfig) *simSource {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &simSource{
		cfg: cfg,
		path: sim.Path{
			CenterLatDeg: cfg.CenterLatDeg,
			CenterLonDeg: cfg.CenterLonDeg,
			AltM:         cfg.AltM,
			RadiusNm:     cfg.RadiusNm,
			Period:       cfg.Period,
		},
		now:  func() time.Time { return time.Now().UTC() },
		done: make(chan struct{}),
	}
}

// Run emits a satellite set followed by a fix on every tick, like a receiver
// reporting once per epoch.
func (s *simSource) Run(ctx context.Context, out chan<- Event) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		now := s.now()
		for _, ev := range []Event{SatellitesEvent(s.satellites(now)), FixEvent(s.fix(now))} {
			select {
			case out <- ev:
			case <-ctx.Done():
				return nil
			case <-s.done:
				return nil
			}
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		}
	}
}

func (s *simSource) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *simSource) fix(now time.Time) Fix {
	lat, lon, brg := s.path.Position(now)
	return Fix{
		Time:       now,
		LatDeg:     lat,
		LonDeg:     lon,
		AltM:       s.path.Altitude(now),
		SpeedMS:    s.path.SpeedMS(now),
		BearingDeg: brg,
	}
}

func (s *simSource) satellites(now time.Time) []Satellite {
	views := sim.Constellation(now, s.cfg.Satellites)
	out := make([]Satellite, 0, len(views))
	for _, v := range views {
		out = append(out, Satellite{
			PRN:          v.PRN,
			ElevationDeg: v.ElevationDeg,
			AzimuthDeg:   v.AzimuthDeg,
			SNR:          v.SNR,
			Used:         v.Used,
		})
	}
	return out
}
