package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketPath is where servers accept WebSocket channels.
const WebSocketPath = "/ws"

const closeGrace = time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsStream carries the frame stream in binary WebSocket messages. Each Write
// becomes one message; Read concatenates inbound messages, so frame
// boundaries need not match message boundaries.
//
// gorilla/websocket allows one concurrent reader and one concurrent writer,
// which is exactly what a channel's read loop and write pump are.
type wsStream struct {
	conn *websocket.Conn
	cur  io.Reader
}

func newWSStream(conn *websocket.Conn) *wsStream {
	return &wsStream{conn: conn}
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.cur == nil {
			mt, r, err := s.conn.NextReader()
			if err != nil {
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			s.cur = r
		}

		n, err := s.cur.Read(p)
		if err == io.EOF {
			s.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a normal-closure control frame (best effort) and closes the
// underlying connection.
func (s *wsStream) Close() error {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGrace))
	return s.conn.Close()
}

func (s *wsStream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// DialWebSocket connects to a server's WebSocket endpoint at host:port.
func DialWebSocket(ctx context.Context, host string, port int) (Stream, error) {
	url := fmt.Sprintf("ws://%s%s", net.JoinHostPort(host, fmt.Sprint(port)), WebSocketPath)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	return newWSStream(conn), nil
}

// WebSocketHandler upgrades requests on WebSocketPath and hands each stream
// to accept.
func WebSocketHandler(accept func(Stream)) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(WebSocketPath, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accept(newWSStream(conn))
	})
	return mux
}
