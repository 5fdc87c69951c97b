package session

import (
	"github.com/google/uuid"

	"gpsblue-ng/internal/gps"
)

// Observer receives best-effort state notifications. Methods are called from
// the session's internal goroutines, some with locks held, and must not block.
type Observer interface {
	ConnectionCountChanged(id uuid.UUID, count int)
	FatalError(title, message string)
	PositionUpdated(fix gps.Fix)
	// SatellitesUpdated receives nil when no satellite view is available.
	SatellitesUpdated(sats []gps.Satellite)
}

// Fatal is a non-retryable failure reported to observers.
type Fatal struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	AtUTC   string `json:"at_utc"`
}

func (s *Session) notify(fn func(Observer)) {
	s.obsMu.RLock()
	defer s.obsMu.RUnlock()
	for _, o := range s.observers {
		fn(o)
	}
}

// Attach registers o and brings it up to date: current connection count,
// latest fix and satellites, and any fatal error nobody has seen yet. The
// returned func detaches o; it is safe to call more than once.
func (s *Session) Attach(o Observer) (detach func()) {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = o
	pending := s.pending
	s.pending = nil
	s.obsMu.Unlock()

	st := s.state()
	o.ConnectionCountChanged(st.id, st.count)
	if st.lastFix != nil {
		o.PositionUpdated(*st.lastFix)
	}
	if st.sats != nil {
		o.SatellitesUpdated(st.sats)
	}
	if pending != nil {
		o.FatalError(pending.Title, pending.Message)
	}

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}
