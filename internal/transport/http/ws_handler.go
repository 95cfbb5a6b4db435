package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"live-session-service/internal/domain"
	"live-session-service/internal/realtime"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
)

// Socket message types.
const (
	msgJoinSession  = "joinSession"
	msgLeaveSession = "leaveSession"
	msgJoined       = "joined"
	msgLeft         = "left"
	msgError        = "error"
)

// SessionFinder resolves the session a socket asks to join.
type SessionFinder interface {
	Session(ctx context.Context, id string) (domain.Session, error)
}

type WSHandler struct {
	sessions SessionFinder
	hub      *realtime.Hub
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(sessions SessionFinder, hub *realtime.Hub, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		sessions: sessions,
		hub:      hub,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type sessionPayload struct {
	SessionID string `json:"sessionId"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and lets the socket join session rooms. Events
// published for a joined session are forwarded until the socket goes away.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub)

	replies := make(chan []byte, 8)
	writerDone := make(chan struct{})
	go h.writePump(conn, sub, replies, writerDone)

	reply := func(typ string, payload any) bool {
		frame, err := realtime.Encode(typ, payload)
		if err != nil {
			h.log.Error("encode reply", "type", typ, "error", err)
			return true
		}
		select {
		case replies <- frame:
			return true
		case <-writerDone:
			return false
		}
	}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var in inboundMessage
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("ws read error", "error", err)
			}
			break
		}

		ok := true
		switch in.Type {
		case msgJoinSession, msgLeaveSession:
			var p sessionPayload
			if err := json.Unmarshal(in.Payload, &p); err != nil || p.SessionID == "" {
				ok = reply(msgError, errorPayload{Message: "sessionId is required"})
				break
			}
			if in.Type == msgLeaveSession {
				h.hub.Leave(sub, p.SessionID)
				ok = reply(msgLeft, p)
				break
			}
			if _, err := h.sessions.Session(r.Context(), p.SessionID); err != nil {
				ok = reply(msgError, errorPayload{Message: err.Error()})
				break
			}
			h.hub.Join(sub, p.SessionID)
			ok = reply(msgJoined, p)
		default:
			ok = reply(msgError, errorPayload{Message: "unsupported message type"})
		}
		if !ok {
			break
		}
	}

	h.hub.Unsubscribe(sub)
	<-writerDone
}

// writePump owns every write to conn. It exits once the subscriber is done or
// a write fails.
func (h *WSHandler) writePump(conn *websocket.Conn, sub *realtime.Subscriber, replies <-chan []byte, done chan<- struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(done)
		// unblocks the reader
		_ = conn.Close()
	}()

	write := func(frame []byte) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			h.log.Debug("ws write error", "error", err)
			return false
		}
		return true
	}

	for {
		select {
		case frame := <-replies:
			if !write(frame) {
				return
			}
		case frame := <-sub.Messages():
			if !write(frame) {
				return
			}
		case <-sub.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
