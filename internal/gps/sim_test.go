package gps

import (
	"context"
	"testing"
	"time"
)

func TestSimSource_EmitsEpochsUntilClosed(t *testing.T) {
	src := newSimSource(SimConfig{CenterLatDeg: 42, CenterLonDeg: -71, AltM: 100, Interval: 5 * time.Millisecond, Satellites: 6})
	out := make(chan Event)
	done := make(chan error, 1)
	go func() { done <- src.Run(context.Background(), out) }()

	for epoch := 0; epoch < 2; epoch++ {
		ev := <-out
		if ev.Kind != EventSatellites || len(ev.Satellites) != 6 {
			t.Fatalf("epoch %d: kind=%s sats=%d want satellites/6", epoch, ev.Kind, len(ev.Satellites))
		}
		ev = <-out
		if ev.Kind != EventFix {
			t.Fatalf("epoch %d: kind=%s want fix", epoch, ev.Kind)
		}
		if ev.Fix.LatDeg < 41.9 || ev.Fix.LatDeg > 42.1 {
			t.Fatalf("lat=%v", ev.Fix.LatDeg)
		}
	}

	_ = src.Close()
	_ = src.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run err=%v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after Close")
	}
}
