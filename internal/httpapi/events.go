package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const eventWriteWait = 5 * time.Second

// The API only listens on a local address for a single client.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEvents streams the session View: once on connect and again after
// every state change. Bursts of changes collapse into one frame.
func (s *Server) handleEvents(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	changes, cancel := s.sess.Changes()
	defer cancel()

	// Client frames are ignored; reading surfaces the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	if err := s.sendView(ws); err != nil {
		return
	}
	for {
		select {
		case <-gone:
			return
		case <-s.done:
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(eventWriteWait))
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			if err := s.sendView(ws); err != nil {
				s.log.Debug("event stream closed", "error", err)
				return
			}
		}
	}
}

func (s *Server) sendView(ws *websocket.Conn) error {
	_ = ws.SetWriteDeadline(time.Now().Add(eventWriteWait))
	return ws.WriteJSON(s.sess.View())
}

// CloseStreams ends every open event stream. http.Server.Shutdown does not
// track hijacked connections, so register this with RegisterOnShutdown.
func (s *Server) CloseStreams() {
	s.closeOnce.Do(func() { close(s.done) })
}
