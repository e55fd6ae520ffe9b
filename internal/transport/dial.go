package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/1ureka/fluxnet/internal/util"
)

const keepAlivePeriod = 30 * time.Second

// DialTCP connects to addr and applies the connection tuning used for every
// channel.
func DialTCP(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	TuneTCP(conn)
	return conn, nil
}

// TuneTCP disables Nagle and enables keep-alive. Small frames such as
// heartbeats must not be delayed behind coalescing.
func TuneTCP(conn net.Conn) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tcpConn.SetNoDelay(true); err != nil {
		util.LogDebug("failed to set TCP_NODELAY on %s: %v", conn.RemoteAddr(), err)
	}
	if err := tcpConn.SetKeepAlive(true); err == nil {
		_ = tcpConn.SetKeepAlivePeriod(keepAlivePeriod)
	}
}
