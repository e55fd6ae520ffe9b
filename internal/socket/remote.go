package socket

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/1ureka/fluxnet/internal/config"
	"github.com/1ureka/fluxnet/internal/peer"
	"github.com/1ureka/fluxnet/internal/protocol"
	"github.com/1ureka/fluxnet/internal/transport"
	"github.com/1ureka/fluxnet/internal/util"
)

// ConnectKind selects how Connect reaches a server.
type ConnectKind int

const (
	Integrated ConnectKind = iota // the server in this process, on 127.0.0.1
	Address                       // an explicit host and port
	LAN                           // discovered on the local network
	WebSocket                     // an explicit host and port, over WebSocket
)

func (k ConnectKind) String() string {
	switch k {
	case Integrated:
		return "integrated"
	case Address:
		return "address"
	case LAN:
		return "lan"
	case WebSocket:
		return "ws"
	default:
		return fmt.Sprintf("ConnectKind(%d)", int(k))
	}
}

// ParseConnectKind is the inverse of ConnectKind.String.
func ParseConnectKind(s string) (ConnectKind, error) {
	switch strings.ToLower(s) {
	case "integrated":
		return Integrated, nil
	case "address", "addr":
		return Address, nil
	case "lan":
		return LAN, nil
	case "ws", "websocket":
		return WebSocket, nil
	}
	return 0, fmt.Errorf("unknown connect kind %q", s)
}

// Connect opens the socket's outbound channel. host is ignored for
// Integrated and LAN; port 0 means the default port for Integrated.
// A failure is returned to the caller and leaves the socket unconnected.
func (s *Socket) Connect(ctx context.Context, kind ConnectKind, host string, port int) error {
	if kind == LAN {
		if s.Connected() {
			return ErrAlreadyConnected
		}
		return s.Discover(ctx)
	}

	s.remoteMu.Lock()
	defer s.remoteMu.Unlock()

	if s.remote != nil {
		return ErrAlreadyConnected
	}

	var (
		stream transport.Stream
		err    error
	)
	switch kind {
	case Integrated:
		if port == 0 {
			port = config.DefaultPort
		}
		stream, err = transport.DialTCP(ctx, net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	case Address:
		stream, err = transport.DialTCP(ctx, net.JoinHostPort(host, strconv.Itoa(port)))
	case WebSocket:
		stream, err = transport.DialWebSocket(ctx, host, port)
	default:
		err = fmt.Errorf("unsupported connect kind %s", kind)
	}
	if err != nil {
		util.LogWarning("[remote] %v", err)
		return err
	}

	ch := transport.NewChannel(peer.Nil, stream, s.codec, s.channelOptions())
	ch.SetLastBeat(s.clock.Seconds())
	s.remote = ch
	ch.Start(s.inbox.push, s.remoteClosed)

	util.LogSuccess("[remote] connected to %s (%s)", ch.RemoteAddr(), kind)
	return nil
}

// Discover waits for a LAN server announcement and connects to it.
func (s *Socket) Discover(ctx context.Context) error {
	if s.Connected() {
		return ErrAlreadyConnected
	}
	util.LogInfo("[remote] looking for a server on the local network")
	ann, err := s.finder(ctx)
	if err != nil {
		util.LogWarning("[remote] discovery failed: %v", err)
		return err
	}
	util.LogInfo("[remote] found server at %s", ann.Addr())
	return s.Connect(ctx, Address, ann.Host, ann.Port)
}

// Disconnect closes the outbound channel and waits for its goroutines.
// It is a no-op when not connected.
func (s *Socket) Disconnect() {
	s.remoteMu.Lock()
	ch := s.remote
	s.remote = nil
	s.remoteMu.Unlock()

	if ch == nil {
		return
	}
	ch.Close()
	ch.Wait()
}

// Connected reports whether the outbound channel is up.
func (s *Socket) Connected() bool {
	return s.remoteChannel() != nil
}

// SendToServer queues p on the outbound channel.
func (s *Socket) SendToServer(p protocol.Packet) error {
	ch := s.remoteChannel()
	if ch == nil {
		return ErrNotConnected
	}
	frame, err := s.codec.Encode(p)
	if err != nil {
		return err
	}
	return ch.Send(frame)
}

func (s *Socket) remoteChannel() *transport.Channel {
	s.remoteMu.Lock()
	defer s.remoteMu.Unlock()
	return s.remote
}

func (s *Socket) remoteClosed(ch *transport.Channel, cause error) {
	s.remoteMu.Lock()
	if s.remote == ch {
		s.remote = nil
	}
	s.remoteMu.Unlock()

	switch {
	case cause == nil:
		util.LogInfo("[remote] disconnected")
	case transport.IsProtocolError(cause):
		util.LogError("[remote] protocol error, disconnecting: %v", cause)
	default:
		util.LogWarning("[remote] connection lost: %v", cause)
	}
}
