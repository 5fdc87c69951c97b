package sim

import (
	"math"
	"testing"
	"time"
)

func TestPath_Position_Invariants(t *testing.T) {
	p := Path{
		CenterLatDeg: 45.0,
		CenterLonDeg: -122.0,
		RadiusNm:     1.0,
		Period:       60 * time.Second,
	}

	now := time.Date(2025, 12, 20, 19, 0, 0, 0, time.UTC)
	lat, lon, brg := p.Position(now)

	if math.IsNaN(lat) || math.IsInf(lat, 0) {
		t.Fatalf("lat invalid: %v", lat)
	}
	if math.IsNaN(lon) || math.IsInf(lon, 0) {
		t.Fatalf("lon invalid: %v", lon)
	}
	if brg < 0 || brg >= 360 {
		t.Fatalf("bearing out of range: %v", brg)
	}

	radiusDeg := p.RadiusNm / 60.0
	if math.Abs(lat-p.CenterLatDeg) > radiusDeg*1.01 {
		t.Fatalf("lat offset too large: got %f want <= %f", math.Abs(lat-p.CenterLatDeg), radiusDeg)
	}
	maxLonDeg := radiusDeg / math.Cos(p.CenterLatDeg*math.Pi/180.0)
	if math.Abs(lon-p.CenterLonDeg) > maxLonDeg*1.01 {
		t.Fatalf("lon offset too large: got %f want <= %f", math.Abs(lon-p.CenterLonDeg), maxLonDeg)
	}
}

func TestPath_Position_DeterministicForNow(t *testing.T) {
	p := Path{CenterLatDeg: 1, CenterLonDeg: 2, RadiusNm: 0.5, Period: 120 * time.Second}
	now := time.Date(2025, 12, 20, 19, 0, 0, 123, time.UTC)

	lat1, lon1, brg1 := p.Position(now)
	lat2, lon2, brg2 := p.Position(now)
	if lat1 != lat2 || lon1 != lon2 || brg1 != brg2 {
		t.Fatalf("expected deterministic result for same now")
	}
}

func TestPath_SpeedAndAltitude(t *testing.T) {
	p := Path{AltM: 100, RadiusNm: 0.5, Period: 120 * time.Second}
	for i := 0; i < 20; i++ {
		now := time.Date(2025, 1, 1, 0, 0, i*6, 0, time.UTC)
		if v := p.SpeedMS(now); v <= 0 || v > 200 {
			t.Fatalf("speed=%v at %s", v, now)
		}
		if a := p.Altitude(now); a < 85 || a > 115 {
			t.Fatalf("alt=%v at %s", a, now)
		}
	}
}

func TestConstellation(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := Constellation(now, 0); got != nil {
		t.Fatalf("expected nil for count 0, got %v", got)
	}
	sats := Constellation(now, 14)
	if len(sats) != 14 {
		t.Fatalf("len=%d want 14", len(sats))
	}
	seen := map[int]bool{}
	for _, s := range sats {
		if seen[s.PRN] {
			t.Fatalf("duplicate prn %d", s.PRN)
		}
		seen[s.PRN] = true
		if s.ElevationDeg < 0 || s.ElevationDeg > 90 {
			t.Fatalf("prn %d elevation=%v", s.PRN, s.ElevationDeg)
		}
		if s.AzimuthDeg < 0 || s.AzimuthDeg > 360 {
			t.Fatalf("prn %d azimuth=%v", s.PRN, s.AzimuthDeg)
		}
		if s.Used != (s.ElevationDeg > 15) && math.Abs(s.ElevationDeg-15) > 0.5 {
			t.Fatalf("prn %d used=%v elevation=%v", s.PRN, s.Used, s.ElevationDeg)
		}
	}
}
