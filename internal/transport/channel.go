// Package transport implements one live peer connection: a bounded outbound
// frame queue drained by a write pump, and a read loop feeding a streaming
// frame parser.
package transport

import (
	"context"
	"errors"
	"io"
	"math"
	"net"
	"sync"
	"sync/atomic"

	"github.com/1ureka/fluxnet/internal/peer"
	"github.com/1ureka/fluxnet/internal/protocol"
	"github.com/1ureka/fluxnet/internal/util"
)

var (
	// ErrSendQueueFull is returned when a channel's outbound queue is at
	// capacity. The frame is not queued; the caller decides whether to drop
	// or retry.
	ErrSendQueueFull = errors.New("transport: send queue full")

	// ErrChannelClosed is returned when sending on a closed channel.
	ErrChannelClosed = errors.New("transport: channel closed")
)

// Stream is the byte stream a channel runs over: a TCP connection or an
// adapted WebSocket.
type Stream interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
}

// Options tunes a channel.
type Options struct {
	RecvBufferSize int
	SendQueueSize  int
}

// DeliverFunc receives every decoded packet, already stamped with the
// channel's peer ID. It is called from the channel's read loop.
type DeliverFunc func(protocol.Packet)

// CloseFunc is called exactly once when the read loop ends. cause is nil
// when the channel was closed locally, io.EOF when the peer hung up.
type CloseFunc func(ch *Channel, cause error)

// Channel is one live peer connection.
type Channel struct {
	id     peer.ID
	stream Stream
	parser *FrameParser
	outbox chan []byte

	lastBeat atomic.Uint64 // float64 bits, frame-clock seconds

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewChannel wraps stream. id is stamped on every inbound packet; a remote
// passes peer.Nil since its only peer is the server.
func NewChannel(id peer.ID, stream Stream, codec *protocol.Codec, opts Options) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	util.Stats.AddChannel()
	return &Channel{
		id:     id,
		stream: stream,
		parser: NewFrameParser(codec, opts.RecvBufferSize),
		outbox: make(chan []byte, opts.SendQueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the peer ID stamped on inbound packets.
func (c *Channel) ID() peer.ID { return c.id }

// Tag returns a short hex label for logs.
func (c *Channel) Tag() uint32 { return c.id.Short() }

// RemoteAddr returns the peer's network address.
func (c *Channel) RemoteAddr() net.Addr { return c.stream.RemoteAddr() }

// LastBeat returns the frame-clock time of the last heartbeat.
func (c *Channel) LastBeat() float64 {
	return math.Float64frombits(c.lastBeat.Load())
}

// SetLastBeat records a heartbeat at frame-clock time now.
func (c *Channel) SetLastBeat(now float64) {
	c.lastBeat.Store(math.Float64bits(now))
}

// Start launches the read loop and the write pump.
func (c *Channel) Start(deliver DeliverFunc, onClose CloseFunc) {
	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop(deliver, onClose)
}

// Send enqueues a frame without blocking. frame must not be modified
// afterwards; the same slice may be queued on several channels.
func (c *Channel) Send(frame []byte) error {
	if c.ctx.Err() != nil {
		return ErrChannelClosed
	}
	select {
	case c.outbox <- frame:
		return nil
	case <-c.ctx.Done():
		return ErrChannelClosed
	default:
		return ErrSendQueueFull
	}
}

// Close stops both loops and closes the stream. Safe to call repeatedly and
// from any goroutine, including the channel's own callbacks.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.stream.Close()
		util.Stats.RemoveChannel()
	})
	return err
}

// Wait blocks until both loops have exited. Do not call it from a
// DeliverFunc or CloseFunc.
func (c *Channel) Wait() {
	c.wg.Wait()
}

// writeLoop is the single writer of the stream. Frames go out in queue
// order; a failed write drops that frame and the loop carries on.
func (c *Channel) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case frame := <-c.outbox:
			if _, err := c.stream.Write(frame); err != nil {
				if c.ctx.Err() != nil {
					return
				}
				util.LogWarning("[%08x] failed to write frame: %v", c.Tag(), err)
				continue
			}
			util.Stats.AddSent(len(frame))

		case <-c.ctx.Done():
			return
		}
	}
}

// readLoop is the single reader of the stream. It exits on EOF, on a read
// error, on a protocol violation, or when the channel is closed.
func (c *Channel) readLoop(deliver DeliverFunc, onClose CloseFunc) {
	defer c.wg.Done()

	var cause error
	defer func() {
		if c.ctx.Err() != nil && !IsProtocolError(cause) {
			cause = nil // closed locally; the read error is just the fallout
		}
		c.Close()
		onClose(c, cause)
	}()

	stamp := func(p protocol.Packet) {
		p.SetSender(c.id)
		util.Stats.AddFrameRecv()
		deliver(p)
	}

	for {
		n, err := c.stream.Read(c.parser.Tail())
		if n > 0 {
			util.Stats.AddRecv(n)
			if perr := c.parser.Commit(n, stamp); perr != nil {
				cause = perr
				return
			}
		}
		if err != nil {
			cause = err
			return
		}
		if c.ctx.Err() != nil {
			return
		}
	}
}

// IsProtocolError reports whether err is a protocol violation by the peer,
// as opposed to an I/O failure.
func IsProtocolError(err error) bool {
	return errors.Is(err, protocol.ErrMalformedFrame) ||
		errors.Is(err, protocol.ErrFrameTooLarge) ||
		errors.Is(err, protocol.ErrUnregisteredPacket) ||
		errors.Is(err, protocol.ErrDecompress)
}
