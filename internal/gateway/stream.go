package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const wsWriteTimeout = 5 * time.Second

// streamFrame is one bus event as sent to WebSocket clients.
type streamFrame struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

// handleWS streams bus events to the client until it disconnects. With
// ?project_id only that project's events are sent. Delivery is best-effort:
// clients reconcile by polling run and command status.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "event stream not configured", Code: "unavailable"})
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Same-origin requests are always allowed by the websocket library.
		OriginPatterns: s.cfg.AllowOrigins,
	})
	if err != nil {
		return
	}
	projectID := r.URL.Query().Get("project_id")
	s.logger.Info("ws: client connected", "project_id", projectID)

	sub := s.cfg.Bus.SubscribeProject("", projectID)
	defer s.cfg.Bus.Unsubscribe(sub)

	// The client never sends anything meaningful; CloseRead handles pings
	// and cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())
	defer func() {
		s.logger.Info("ws: client disconnecting", "project_id", projectID, "dropped", sub.Dropped())
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(wctx, conn, streamFrame{Topic: ev.Topic, Payload: ev.Payload})
			cancel()
			if err != nil {
				s.logger.Debug("ws: write failed", "topic", ev.Topic, "error", err)
				return
			}
		}
	}
}
