package websocket

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  2048,
	WriteBufferSize: 2048,

	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsSocket adapts a gorilla connection to the Socket interface. The mutex
// serializes writers: the relay writes from the heartbeat goroutine and from
// other connections' read loops, and gorilla connections allow only one
// concurrent writer.
type wsSocket struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSocket) WriteJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

func (s *wsSocket) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *wsSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	return s.conn.Close()
}

// Terminate drops the underlying connection without a closing handshake.
func (s *wsSocket) Terminate() error {
	return s.conn.Close()
}

// ServeWS upgrades the request and runs the connection's read loop until the
// peer goes away. A request without a userId query parameter is closed with
// a policy-violation code before it ever touches the registry.
func ServeWS(relay *Relay, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	if userID == "" {
		deadline := time.Now().Add(writeWait)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "User ID required")
		_ = ws.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = ws.Close()
		return
	}

	ws.SetReadLimit(maxMessageSize)
	sock := &wsSocket{conn: ws}
	conn := relay.Register(userID, sock)

	ws.SetPongHandler(func(string) error {
		relay.PongReceived(conn)
		return nil
	})

	defer func() {
		relay.Disconnect(conn)
		_ = ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read failed", "userID", userID, "error", err)
			}
			return
		}
		relay.HandleEnvelope(conn, data)
	}
}
