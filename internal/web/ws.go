package web

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rafaelmp2/zaprelay/internal/hub"
	"github.com/rafaelmp2/zaprelay/internal/session"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The relay is same-origin in practice but the original client connects
	// from file:// during development.
	CheckOrigin: func(*http.Request) bool { return true },
}

const writeWait = 10 * time.Second

// Frame is one event pushed to an observer.
type Frame struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// wireFrame translates an internal hub event into its public wire shape.
// Unknown kinds are skipped.
func wireFrame(evt hub.Event) *Frame {
	switch evt.Kind {
	case hub.KindStatus:
		change, ok := evt.Payload.(session.StatusChange)
		connected := ok && change.Connected()
		return &Frame{Event: "connection_status", Payload: map[string]bool{"connected": connected}}
	case hub.KindChallenge:
		return &Frame{Event: "auth_challenge", Payload: evt.Payload}
	case hub.KindAuthenticated:
		return &Frame{Event: "authenticated"}
	case hub.KindAuthFailed:
		return &Frame{Event: "auth_failed"}
	case hub.KindClosed:
		return &Frame{Event: "session_closed", Payload: map[string]any{"reason": evt.Payload}}
	case hub.KindMsgReceived:
		return &Frame{Event: "message_received", Payload: evt.Payload}
	case hub.KindMsgSent:
		return &Frame{Event: "message_sent", Payload: evt.Payload}
	case hub.KindMsgSendFailed:
		return &Frame{Event: "message_send_failed", Payload: evt.Payload}
	case hub.KindContacts:
		return &Frame{Event: "directory_contacts_updated", Payload: evt.Payload}
	case hub.KindGroups:
		return &Frame{Event: "directory_groups_updated", Payload: evt.Payload}
	}
	return nil
}

// handleWS upgrades the request and attaches the client as an observer.
// The attach replays current status, pending challenge and directory
// snapshot before live events; a slow or dead client only loses its own
// events.
func (a *API) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	events, detach := a.hub.Attach(256)
	defer detach()
	defer func() { _ = conn.Close() }()

	a.logger.Info("observer attached", zap.String("remote", conn.RemoteAddr().String()))

	// Reader goroutine: observers never send data, but reading is required
	// to notice the close handshake.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt := <-events:
			frame := wireFrame(evt)
			if frame == nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				a.logger.Info("observer detached", zap.String("remote", conn.RemoteAddr().String()))
				return
			}
		case <-closed:
			a.logger.Info("observer detached", zap.String("remote", conn.RemoteAddr().String()))
			return
		case <-r.Context().Done():
			return
		}
	}
}
