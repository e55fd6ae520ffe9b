package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/1ureka/fluxnet/internal/config"
	"github.com/1ureka/fluxnet/internal/discovery"
	"github.com/1ureka/fluxnet/internal/peer"
	"github.com/1ureka/fluxnet/internal/protocol"
	"github.com/1ureka/fluxnet/internal/transport"
	"github.com/1ureka/fluxnet/internal/util"
)

const acceptRetryDelay = 50 * time.Millisecond

// Start listens for remotes on port (the default port when 0) and begins
// advertising it on the LAN. A WebSocket listener is added when the config
// sets a WebSocket port.
func (s *Socket) Start(port int) error {
	if port == 0 {
		port = config.DefaultPort
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}

	var wsLn net.Listener
	if s.cfg.WebSocketPort > 0 {
		wsLn, err = net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.WebSocketPort))
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to listen on WebSocket port %d: %w", s.cfg.WebSocketPort, err)
		}
	}

	if err := s.serve(ln, wsLn); err != nil {
		ln.Close()
		if wsLn != nil {
			wsLn.Close()
		}
		return err
	}
	return nil
}

// serve runs the server side on already-bound listeners. wsLn may be nil.
func (s *Socket) serve(ln, wsLn net.Listener) error {
	s.serverMu.Lock()
	defer s.serverMu.Unlock()

	if s.server != nil {
		return ErrAlreadyServing
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	st := &serverState{listener: ln, cancel: cancel, group: g}
	s.channels.reopen()

	port := ln.Addr().(*net.TCPAddr).Port

	g.Go(func() error {
		return s.acceptLoop(gctx, ln)
	})

	adv := discovery.NewAdvertiser(port, s.cfg.DiscoveryPort, s.cfg.BroadcastInterval)
	g.Go(func() error {
		if err := adv.Run(gctx); err != nil {
			util.LogWarning("[server] LAN advertising disabled: %v", err)
		}
		return nil
	})

	var wsSrv *http.Server
	if wsLn != nil {
		st.wsAddr = wsLn.Addr()
		wsSrv = &http.Server{Handler: transport.WebSocketHandler(s.accept)}
		g.Go(func() error {
			if err := wsSrv.Serve(wsLn); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("WebSocket server: %w", err)
			}
			return nil
		})
	}

	// Listeners close when the group's context ends, whether from Stop or
	// from a failing member.
	g.Go(func() error {
		<-gctx.Done()
		ln.Close()
		if wsSrv != nil {
			wsSrv.Close()
		}
		return nil
	})

	if s.cfg.Discovery == config.DiscoveryMDNS {
		reg, err := discovery.RegisterMDNS(port)
		if err != nil {
			util.LogWarning("[server] %v", err)
		} else {
			st.mdns = reg
		}
	}

	s.server = st
	util.LogSuccess("[server] listening on %s", ln.Addr())
	if st.wsAddr != nil {
		util.LogSuccess("[server] WebSocket endpoint on %s%s", st.wsAddr, transport.WebSocketPath)
	}
	return nil
}

func (s *Socket) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			util.LogWarning("[server] accept failed: %v", err)
			time.Sleep(acceptRetryDelay)
			continue
		}
		transport.TuneTCP(conn)
		s.accept(conn)
	}
}

// accept gives stream a fresh peer ID and starts its channel.
func (s *Socket) accept(stream transport.Stream) {
	ch := transport.NewChannel(peer.New(), stream, s.codec, s.channelOptions())
	ch.SetLastBeat(s.clock.Seconds())

	if !s.channels.add(ch) {
		ch.Close()
		return
	}
	ch.Start(s.inbox.push, s.serverChannelClosed)
	util.LogInfo("[server] [%08x] connected from %s", ch.Tag(), ch.RemoteAddr())
}

func (s *Socket) serverChannelClosed(ch *transport.Channel, cause error) {
	if !s.channels.remove(ch) {
		// Already dropped by a timeout or by Stop.
		return
	}
	switch {
	case cause == nil:
		util.LogInfo("[server] [%08x] disconnected", ch.Tag())
	case transport.IsProtocolError(cause):
		util.LogError("[server] [%08x] protocol error, closing: %v", ch.Tag(), cause)
	default:
		util.LogInfo("[server] [%08x] disconnected: %v", ch.Tag(), cause)
	}
}

// Stop closes the listeners, stops advertising, closes every server channel
// and waits for all server goroutines. It is a no-op when not started.
func (s *Socket) Stop() error {
	s.serverMu.Lock()
	st := s.server
	s.server = nil
	s.serverMu.Unlock()

	if st == nil {
		return nil
	}

	st.cancel()
	if st.mdns != nil {
		st.mdns.Shutdown()
	}

	chans := s.channels.shutdown()
	for _, ch := range chans {
		ch.Close()
	}
	for _, ch := range chans {
		ch.Wait()
	}

	err := st.group.Wait()
	util.LogInfo("[server] stopped")
	return err
}

// Addr returns the TCP listener address, or nil when not serving.
func (s *Socket) Addr() net.Addr {
	s.serverMu.Lock()
	defer s.serverMu.Unlock()
	if s.server == nil {
		return nil
	}
	return s.server.listener.Addr()
}

// WebSocketAddr returns the WebSocket listener address, or nil when there is
// none.
func (s *Socket) WebSocketAddr() net.Addr {
	s.serverMu.Lock()
	defer s.serverMu.Unlock()
	if s.server == nil {
		return nil
	}
	return s.server.wsAddr
}

// Channels lists the peer IDs of live server channels in ascending order.
func (s *Socket) Channels() []peer.ID {
	chans := s.channels.snapshot()
	ids := make([]peer.ID, len(chans))
	for i, ch := range chans {
		ids[i] = ch.ID()
	}
	slices.SortFunc(ids, peer.ID.Compare)
	return ids
}

// SendToRemote queues p on the channel of peer id.
func (s *Socket) SendToRemote(id peer.ID, p protocol.Packet) error {
	ch := s.channels.get(id)
	if ch == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, id)
	}
	frame, err := s.codec.Encode(p)
	if err != nil {
		return err
	}
	return ch.Send(frame)
}

// SendToRemotes queues p on the channel of each listed peer. p is encoded
// once. Every peer is attempted; the failures are joined.
func (s *Socket) SendToRemotes(ids []peer.ID, p protocol.Packet) error {
	frame, err := s.codec.Encode(p)
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range ids {
		ch := s.channels.get(id)
		if ch == nil {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownPeer, id))
			continue
		}
		if err := ch.Send(frame); err != nil {
			errs = append(errs, fmt.Errorf("[%08x]: %w", ch.Tag(), err))
		}
	}
	return errors.Join(errs...)
}

// Broadcast queues p on every live server channel.
func (s *Socket) Broadcast(p protocol.Packet) error {
	frame, err := s.codec.Encode(p)
	if err != nil {
		return err
	}
	var errs []error
	for _, ch := range s.channels.snapshot() {
		if err := ch.Send(frame); err != nil {
			errs = append(errs, fmt.Errorf("[%08x]: %w", ch.Tag(), err))
		}
	}
	return errors.Join(errs...)
}
