package gps

import "time"

// Fix is a single position report.
type Fix struct {
	Time       time.Time `json:"time"`
	LatDeg     float64   `json:"lat_deg"`
	LonDeg     float64   `json:"lon_deg"`
	AltM       float64   `json:"alt_m"`
	SpeedMS    float64   `json:"speed_ms"`
	BearingDeg float64   `json:"bearing_deg"`
}

// Satellite is one entry of a satellites-in-view report.
type Satellite struct {
	PRN          int     `json:"prn"`
	ElevationDeg float64 `json:"elevation_deg"`
	AzimuthDeg   float64 `json:"azimuth_deg"`
	SNR          float64 `json:"snr"`
	Used         bool    `json:"used"`
}

type EventKind int

const (
	EventFix EventKind = iota + 1
	EventSatellites
)

func (k EventKind) String() string {
	switch k {
	case EventFix:
		return "fix"
	case EventSatellites:
		return "satellites"
	default:
		return "unknown"
	}
}

// Event is the tagged message a source emits. Satellites may be nil on an
// EventSatellites event, meaning no satellite information is available.
type Event struct {
	Kind       EventKind
	Fix        Fix
	Satellites []Satellite
}

func FixEvent(f Fix) Event { return Event{Kind: EventFix, Fix: f} }

func SatellitesEvent(sats []Satellite) Event {
	return Event{Kind: EventSatellites, Satellites: sats}
}
