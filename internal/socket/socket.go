// Package socket ties channels, discovery and the frame clock together. A
// Socket can act as a remote (one outbound channel to a server), as a server
// (many inbound channels), or both at once. Inbound packets are queued by
// connection goroutines and executed by Tick on the host's own goroutine.
package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/1ureka/fluxnet/internal/config"
	"github.com/1ureka/fluxnet/internal/discovery"
	"github.com/1ureka/fluxnet/internal/peer"
	"github.com/1ureka/fluxnet/internal/protocol"
	"github.com/1ureka/fluxnet/internal/transport"
	"github.com/1ureka/fluxnet/internal/util"
)

// periodicInterval is the frame-clock time between heartbeat/reap passes.
const periodicInterval = 1.0

var (
	ErrAlreadyConnected = errors.New("socket: already connected")
	ErrNotConnected     = errors.New("socket: not connected")
	ErrAlreadyServing   = errors.New("socket: server already started")
	ErrUnknownPeer      = errors.New("socket: unknown peer")
)

// Finder locates a server on the LAN.
type Finder func(ctx context.Context) (discovery.Announcement, error)

// Option customizes a Socket.
type Option func(*Socket)

// WithConfig replaces the default configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Socket) { s.cfg = cfg }
}

// WithClock sets the frame clock. The default counts seconds since New.
func WithClock(c Clock) Option {
	return func(s *Socket) { s.clock = c }
}

// WithFinder overrides how Discover locates a server.
func WithFinder(f Finder) Option {
	return func(s *Socket) { s.finder = f }
}

// Socket is the networking endpoint of one engine instance.
type Socket struct {
	cfg    *config.Config
	codec  *protocol.Codec
	clock  Clock
	finder Finder

	inbox    mailbox
	channels *channelSet

	remoteMu sync.Mutex
	remote   *transport.Channel

	serverMu sync.Mutex
	server   *serverState

	lastEvent float64 // owned by Tick
}

// serverState is everything Start creates and Stop tears down.
type serverState struct {
	listener net.Listener
	wsAddr   net.Addr
	mdns     *discovery.MDNSRegistration
	cancel   context.CancelFunc
	group    *errgroup.Group
}

var _ protocol.Context = (*Socket)(nil)

// New creates an idle socket. codec must have the same packet types
// registered, in the same order, as every peer's. The configuration is
// validated before any channel can use it.
func New(codec *protocol.Codec, opts ...Option) (*Socket, error) {
	s := &Socket{
		cfg:      config.Default(),
		codec:    codec,
		channels: newChannelSet(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = SystemClock()
	}
	if s.finder == nil {
		s.finder = s.defaultFinder
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("socket: invalid config: %w", err)
	}
	return s, nil
}

func (s *Socket) defaultFinder(ctx context.Context) (discovery.Announcement, error) {
	if s.cfg.Discovery == config.DiscoveryMDNS {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.DiscoveryTimeout)
		defer cancel()
		return discovery.BrowseMDNS(ctx)
	}
	return discovery.Find(ctx, s.cfg.DiscoveryPort, s.cfg.DiscoveryTimeout)
}

func (s *Socket) channelOptions() transport.Options {
	return transport.Options{
		RecvBufferSize: s.cfg.RecvBufferSize,
		SendQueueSize:  s.cfg.SendQueueSize,
	}
}

// Tick runs the periodic heartbeat and timeout pass when due, then performs
// every queued packet in arrival order. Call it from a single goroutine,
// typically once per frame.
func (s *Socket) Tick() {
	now := s.clock.Seconds()
	if now-s.lastEvent > periodicInterval {
		s.lastEvent = now
		s.reap(now)
		s.heartbeat()
	}

	for _, p := range s.inbox.drain() {
		p.Perform(s)
	}
}

// HoldAlive marks the server channel for id as alive at the current frame
// time. Unknown IDs are ignored.
func (s *Socket) HoldAlive(id peer.ID) {
	if ch := s.channels.get(id); ch != nil {
		ch.SetLastBeat(s.clock.Seconds())
	}
}

// Pending returns the number of packets waiting for the next Tick.
func (s *Socket) Pending() int {
	return s.inbox.len()
}

// reap closes server channels that have not sent a heartbeat within the
// configured timeout.
func (s *Socket) reap(now float64) {
	timeout := s.cfg.HeartbeatTimeout.Seconds()
	for _, ch := range s.channels.snapshot() {
		if now-ch.LastBeat() <= timeout {
			continue
		}
		if s.channels.remove(ch) {
			util.LogWarning("[server] [%08x] timeout", ch.Tag())
			// A dead WebSocket peer can hold the close handshake for its
			// full grace period; keep that off the frame.
			go ch.Close()
		}
	}
}

func (s *Socket) heartbeat() {
	ch := s.remoteChannel()
	if ch == nil {
		return
	}
	frame, err := s.codec.Encode(&protocol.Heartbeat{})
	if err != nil {
		util.LogError("[remote] failed to encode heartbeat: %v", err)
		return
	}
	if err := ch.Send(frame); err != nil {
		util.LogWarning("[remote] failed to send heartbeat: %v", err)
	}
}

// Close disconnects the remote side and stops the server side.
func (s *Socket) Close() error {
	s.Disconnect()
	return s.Stop()
}

