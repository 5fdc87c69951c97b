package web

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Status pages are served from the device itself.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 5 * time.Second

// eventsHandler streams session events as JSON text frames until the client
// goes away.
func eventsHandler(b *EventBroadcaster) http.Handler {
	logger := log.With().Str("module", "web").Logger()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		defer conn.Close()

		id, events := b.Subscribe(32)
		defer b.Unsubscribe(id)

		// Clients only talk to close; reading also services ping/close frames.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						logger.Debug().Err(err).Msg("websocket closed")
					}
					return
				}
			}
		}()

		for {
			select {
			case <-gone:
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			}
		}
	})
}
