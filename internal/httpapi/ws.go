package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard may be served from anywhere on the lot network.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents streams every recorded scan to a websocket client as JSON.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the handshake completes so a client that scans right
	// after connecting sees its own event.
	logs, cancel := s.hub.Subscribe(0)
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// The read side only exists to notice the client going away and to
	// consume pongs.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	log := s.logger.WithField("remote", r.RemoteAddr)
	log.Info("event stream opened")
	defer log.Info("event stream closed")

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case entry, ok := <-logs:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(entry); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
