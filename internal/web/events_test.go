package web

import (
	"testing"

	"github.com/google/uuid"

	"gpsblue-ng/internal/gps"
)

func TestEventBroadcaster_NewSubscriberGetsLatestPerType(t *testing.T) {
	b := NewEventBroadcaster()
	b.ConnectionCountChanged(uuid.Nil, 1)
	b.ConnectionCountChanged(uuid.Nil, 2)
	b.SatellitesUpdated(nil)
	b.FatalError("GPS Access Error", "disabled")

	id, ch := b.Subscribe(8)
	defer b.Unsubscribe(id)

	var got []Event
	for len(ch) > 0 {
		got = append(got, <-ch)
	}
	if len(got) != 3 {
		t.Fatalf("events=%d want 3", len(got))
	}
	if got[0].Type != EventConnections || *got[0].Count != 2 {
		t.Fatalf("connections event=%+v", got[0])
	}
	if got[1].Type != EventSatellites || !got[1].Cleared {
		t.Fatalf("satellites event=%+v", got[1])
	}
	if got[2].Type != EventFatal || got[2].Title != "GPS Access Error" {
		t.Fatalf("fatal event=%+v", got[2])
	}
}

func TestEventBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewEventBroadcaster()
	id, ch := b.Subscribe(4)
	for i := 0; i < 100; i++ {
		b.PositionUpdated(gps.Fix{LatDeg: float64(i)})
	}
	if len(ch) != 4 {
		t.Fatalf("buffered=%d want 4", len(ch))
	}
	b.Unsubscribe(id)
	b.Unsubscribe(id)
	for range ch {
	}

	var nilB *EventBroadcaster
	nilB.Publish(Event{Type: EventPosition})
	if _, ch := nilB.Subscribe(1); ch != nil {
		t.Fatalf("expected nil channel")
	}
}
