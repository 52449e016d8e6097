package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MJE43/celo-rps/internal/session"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamReadTimeout  = 60 * time.Second
	streamPingInterval = 30 * time.Second
	streamMaxMessage   = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS layer for the REST routes; the
	// stream is read-only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamMessage is one frame pushed to stream clients.
type StreamMessage struct {
	Type     string           `json:"type"`
	Snapshot session.Snapshot `json:"snapshot"`
}

// handleStream upgrades to a websocket and pushes a snapshot on every
// session change until either side goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Warn().Err(err).Str("session_id", sess.ID()).Msg("websocket upgrade failed")
		return
	}

	updates, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	logger := s.logger.With().Str("session_id", sess.ID()).Logger()
	logger.Debug().Msg("stream opened")

	done := make(chan struct{})
	go s.readPump(conn, done)
	s.writePump(conn, updates, done)

	logger.Debug().Msg("stream closed")
}

// writePump owns all writes on conn.
func (s *Server) writePump(conn *websocket.Conn, updates <-chan session.Snapshot, done <-chan struct{}) {
	ticker := time.NewTicker(streamPingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case snap, ok := <-updates:
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if !ok {
				// Session closed or evicted.
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				return
			}
			if err := conn.WriteJSON(StreamMessage{Type: "snapshot", Snapshot: snap}); err != nil {
				s.logger.Debug().Err(err).Str("session_id", snap.ID).Msg("failed to write snapshot")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}

// readPump drains client frames so pongs and close frames are processed.
func (s *Server) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(streamMaxMessage)
	conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Msg("unexpected websocket close")
			}
			return
		}
	}
}
