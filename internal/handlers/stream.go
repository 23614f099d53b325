package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Stream pushes the session's result to a websocket every time it changes.
// The current result is sent first. Intermediate results may be skipped
// when the client reads slowly.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	t, ok := h.session(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	t.Touch()
	updates, cancel := t.Latest().Subscribe()
	defer cancel()

	gone := make(chan struct{})
	go readPump(conn, gone)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	logger := h.logger.With().Str("session", t.ID()).Str("remote", r.RemoteAddr).Logger()
	logger.Debug().Msg("Result stream opened")

	for {
		select {
		case status, ok := <-updates:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := conn.WriteJSON(status); err != nil {
				logger.Debug().Err(err).Msg("Result stream write failed")
				return
			}
		case <-ticker.C:
			// a connected viewer keeps the session alive
			t.Touch()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			logger.Debug().Msg("Result stream closed by client")
			return
		}
	}
}

// readPump discards client messages and closes gone when the connection
// drops.
func readPump(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
