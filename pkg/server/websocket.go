package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Nickname-only auth; the envelope is validated per frame, so any
		// origin may connect.
		return true
	},
}

// HandleWebSocket upgrades an HTTP request and hands the connection to the
// session manager.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Str("remote", r.RemoteAddr).Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := newWSConn(ws)
	go s.sessions.HandleConnection(conn)
}

// wsConn adapts a gorilla websocket connection to the Conn interface. The
// write mutex covers both data and control frames; gorilla permits only one
// concurrent writer.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame with the given status, then tears the socket
// down. Subsequent calls are no-ops.
func (c *wsConn) Close(code int, reason string) error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	c.closeMu.Unlock()

	c.writeMu.Lock()
	c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	return c.ws.Close()
}

func (c *wsConn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}
