package httpapi

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	. "github.com/chatgate/chatgate/internal/logging"
	"github.com/chatgate/chatgate/internal/stream"
	"github.com/chatgate/chatgate/internal/turn"
)

const (
	wsPingInterval  = 30 * time.Second
	wsMaxMissedPong = 2
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientFrame is the shape of a message a WS client sends: either a turn
// request or an application-level pong answering our keepalive ping.
type clientFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// wsConn serializes writes across the turn-event emitter and the ping
// ticker, both of which write to the same connection concurrently, and
// tracks missed application-level pongs shared between those two goroutines.
type wsConn struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	missed atomic.Int32
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// handleWS upgrades the connection, authenticates via ?token= (WS clients
// can't always set a header on the handshake), then loops: a 30s ping
// ticker closes the connection after two missed pongs, and each inbound
// "message" frame runs a full turn with its events streamed back live.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	var userID string
	if token != "" {
		if u := s.users.Authenticate(token); u != nil {
			userID = u.ID
		}
	}
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, envelope{Status: "error", Code: "UNAUTHORIZED", Message: "missing or invalid token"})
		return
	}

	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		L_warn("httpapi: ws upgrade failed", "error", err)
		return
	}
	defer rawConn.Close()

	conn := &wsConn{conn: rawConn}
	if err := conn.writeJSON(stream.ConnectedEvent()); err != nil {
		return
	}

	done := make(chan struct{})
	defer close(done)
	go s.wsPingLoop(conn, rawConn, done)

	for {
		var frame clientFrame
		if err := rawConn.ReadJSON(&frame); err != nil {
			return
		}

		switch frame.Type {
		case "pong":
			conn.missed.Store(0)
		case "message":
			s.runWSTurn(r, conn, userID, frame.Content)
		default:
			L_warn("httpapi: ws unknown frame type", "type", frame.Type)
		}
	}
}

func (s *Server) wsPingLoop(conn *wsConn, rawConn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if conn.missed.Add(1) > wsMaxMissedPong {
				L_warn("httpapi: ws missed too many pongs, closing")
				rawConn.Close()
				return
			}
			if err := conn.writeJSON(stream.PingEvent()); err != nil {
				return
			}
		}
	}
}

func (s *Server) runWSTurn(r *http.Request, conn *wsConn, userID, content string) {
	req := turn.Request{
		UserID:       userID,
		Channel:      "web",
		Scope:        s.sessionCfg.Scope,
		Content:      content,
		HistoryLimit: s.sessionCfg.HistoryLimit,
	}

	_, err := s.engine.Run(r.Context(), req, func(ev turn.Event) {
		if writeErr := conn.writeJSON(stream.FromTurnEvent(ev)); writeErr != nil {
			L_warn("httpapi: ws write failed", "error", writeErr)
		}
	})
	if err != nil {
		_ = conn.writeJSON(stream.WSEvent{Type: "error", Error: err.Error()})
	}
}
