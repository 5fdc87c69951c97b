package web

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"gpsblue-ng/internal/gps"
)

// Event is one observer notification as sent to websocket clients.
type Event struct {
	Type  string `json:"type"`
	AtUTC string `json:"at_utc"`
	UUID  string `json:"uuid,omitempty"`
	Count *int   `json:"count,omitempty"`
	Title string `json:"title,omitempty"`
	Text  string `json:"message,omitempty"`

	Fix        *gps.Fix        `json:"fix,omitempty"`
	Satellites []gps.Satellite `json:"satellites,omitempty"`
	// Cleared marks a satellites event with no view available.
	Cleared bool `json:"cleared,omitempty"`
}

const (
	EventConnections = "connections"
	EventFatal       = "fatal"
	EventPosition    = "position"
	EventSatellites  = "satellites"
)

// EventBroadcaster fans session notifications out to any listeners (e.g.
// websocket clients). It keeps the latest event of each type so a new
// subscriber starts from current state, and never blocks the publisher: a
// subscriber that falls behind misses events.
type EventBroadcaster struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	last   map[string]Event
}

func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{
		subs: make(map[int]chan Event),
		last: make(map[string]Event),
	}
}

func (b *EventBroadcaster) Subscribe(buffer int) (int, <-chan Event) {
	if b == nil {
		return 0, nil
	}
	if buffer < 4 {
		buffer = 4
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	for _, typ := range []string{EventConnections, EventPosition, EventSatellites, EventFatal} {
		if ev, ok := b.last[typ]; ok {
			ch <- ev
		}
	}
	return id, ch
}

func (b *EventBroadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *EventBroadcaster) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.AtUTC == "" {
		ev.AtUTC = time.Now().UTC().Format(time.RFC3339Nano)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last[ev.Type] = ev
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *EventBroadcaster) ConnectionCountChanged(id uuid.UUID, count int) {
	n := count
	b.Publish(Event{Type: EventConnections, UUID: id.String(), Count: &n})
}

func (b *EventBroadcaster) FatalError(title, message string) {
	b.Publish(Event{Type: EventFatal, Title: title, Text: message})
}

func (b *EventBroadcaster) PositionUpdated(fix gps.Fix) {
	b.Publish(Event{Type: EventPosition, Fix: &fix})
}

func (b *EventBroadcaster) SatellitesUpdated(sats []gps.Satellite) {
	b.Publish(Event{Type: EventSatellites, Satellites: sats, Cleared: sats == nil})
}
