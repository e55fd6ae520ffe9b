package socket

import (
	"sync"

	"github.com/1ureka/fluxnet/internal/peer"
	"github.com/1ureka/fluxnet/internal/protocol"
	"github.com/1ureka/fluxnet/internal/transport"
)

// mailbox hands decoded packets from read loops to the tick goroutine.
type mailbox struct {
	mu      sync.Mutex
	pending []protocol.Packet
}

func (m *mailbox) push(p protocol.Packet) {
	m.mu.Lock()
	m.pending = append(m.pending, p)
	m.mu.Unlock()
}

// drain takes every queued packet, oldest first.
func (m *mailbox) drain() []protocol.Packet {
	m.mu.Lock()
	out := m.pending
	m.pending = nil
	m.mu.Unlock()
	return out
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// channelSet is the server's live channels keyed by peer ID. Its methods are
// the only way the map changes.
type channelSet struct {
	mu     sync.Mutex
	m      map[peer.ID]*transport.Channel
	closed bool
}

func newChannelSet() *channelSet {
	return &channelSet{m: make(map[peer.ID]*transport.Channel)}
}

// add registers ch. It fails once the set has been shut down, in which case
// the caller owns ch and must close it.
func (s *channelSet) add(ch *transport.Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.m[ch.ID()] = ch
	return true
}

func (s *channelSet) get(id peer.ID) *transport.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[id]
}

// remove drops ch if it is still the channel registered under its ID.
func (s *channelSet) remove(ch *transport.Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.m[ch.ID()]; ok && cur == ch {
		delete(s.m, ch.ID())
		return true
	}
	return false
}

func (s *channelSet) snapshot() []*transport.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*transport.Channel, 0, len(s.m))
	for _, ch := range s.m {
		out = append(out, ch)
	}
	return out
}

func (s *channelSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// shutdown empties the set, refuses further adds and returns what it held.
func (s *channelSet) shutdown() []*transport.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*transport.Channel, 0, len(s.m))
	for id, ch := range s.m {
		out = append(out, ch)
		delete(s.m, id)
	}
	s.closed = true
	return out
}

func (s *channelSet) reopen() {
	s.mu.Lock()
	s.closed = false
	s.mu.Unlock()
}
