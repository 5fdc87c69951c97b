// Package sim produces deterministic receiver output for bench testing
// without a GNSS antenna: a figure-eight track and a slowly rotating
// constellation.
package sim

import (
	"math"
	"time"
)

// Path is a figure-eight (Lissajous) track around a center point.
type Path struct {
	CenterLatDeg float64
	CenterLonDeg float64
	AltM         float64
	RadiusNm     float64
	Period       time.Duration
}

func (p Path) period() time.Duration {
	if p.Period <= 0 {
		return 120 * time.Second
	}
	return p.Period
}

func (p Path) radiusNm() float64 {
	if p.RadiusNm <= 0 {
		return 0.5
	}
	return p.RadiusNm
}

// Position returns the track position and bearing at now.
//
//	x = cos(2πt)       east-west, scaled by cos(lat) for lon degrees
//	y = 0.5*sin(4πt)   north-south
func (p Path) Position(now time.Time) (latDeg, lonDeg, bearingDeg float64) {
	period := p.period()
	// Convert NM to degrees latitude (~60 NM per degree).
	radiusDeg := p.radiusNm() / 60.0

	phase := float64(now.UnixNano()%period.Nanoseconds()) / float64(period.Nanoseconds())
	w := 2 * math.Pi * phase
	x := math.Cos(w)
	y := 0.5 * math.Sin(2*w)

	latDeg = p.CenterLatDeg + radiusDeg*y
	lonDeg = p.CenterLonDeg + (radiusDeg*x)/math.Cos(p.CenterLatDeg*math.Pi/180.0)

	// Bearing from instantaneous velocity (atan2(east, north)).
	vx := -2 * math.Pi * math.Sin(w)
	vy := 2 * math.Pi * math.Cos(2*w)
	bearingDeg = math.Mod((math.Atan2(vx, vy)*180/math.Pi)+360, 360)
	return latDeg, lonDeg, bearingDeg
}

// SpeedMS is the magnitude of the track velocity at now.
func (p Path) SpeedMS(now time.Time) float64 {
	period := p.period()
	radiusM := p.radiusNm() * 1852.0
	phase := float64(now.UnixNano()%period.Nanoseconds()) / float64(period.Nanoseconds())
	w := 2 * math.Pi * phase
	vx := -2 * math.Pi * math.Sin(w)
	vy := 2 * math.Pi * math.Cos(2*w)
	return radiusM * math.Hypot(vx, 0.5*vy) / period.Seconds()
}

// Altitude oscillates ±15 m around AltM on half the horizontal period.
func (p Path) Altitude(now time.Time) float64 {
	vp := p.period() / 2
	if vp < 30*time.Second {
		vp = 30 * time.Second
	}
	phase := float64(now.UnixNano()%vp.Nanoseconds()) / float64(vp.Nanoseconds())
	return p.AltM + 15*math.Sin(2*math.Pi*phase)
}
