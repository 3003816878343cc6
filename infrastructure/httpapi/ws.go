package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/asynctalk/chatroom/domain"
	"github.com/asynctalk/chatroom/stream"
)

const writeWait = 10 * time.Second

// Frame is one message on the delivery socket: either a batch of
// envelopes or a keepalive while the mailbox is empty.
type Frame struct {
	Type      string            `json:"type"`
	Envelopes []domain.Envelope `json:"envelopes,omitempty"`
}

const (
	FrameBatch     = "batch"
	FrameKeepalive = "keepalive"
)

// handleEvents upgrades the connection and binds a delivery channel to the
// requested username, auto-registering it if needed. The call blocks until
// the channel terminates (client gone, idle timeout, unregistration, or
// hub shutdown). Cleanup is handled by the channel itself, so a dropped
// socket never leaves a ghost participant behind.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "username query parameter required"})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "user", username, "error", err)
		return
	}
	defer conn.Close()

	channel := stream.New(s.hub, username, &wsSink{conn: conn}, s.log).
		WithIntervals(s.drainInterval, s.idleBound)
	if err := channel.Run(r.Context()); err != nil {
		s.log.Info("Delivery channel ended", "user", username, "reason", err)
	}

	deadline := time.Now().Add(writeWait)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}

// wsSink adapts a websocket connection to the delivery sink contract.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) SendBatch(_ context.Context, batch []domain.Envelope) error {
	return s.write(Frame{Type: FrameBatch, Envelopes: batch})
}

func (s *wsSink) SendKeepalive(_ context.Context) error {
	return s.write(Frame{Type: FrameKeepalive})
}

func (s *wsSink) write(frame Frame) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(frame)
}
