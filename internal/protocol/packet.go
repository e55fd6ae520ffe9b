// Package protocol defines the packet abstraction, the packet registry and the
// compressed, length-prefixed frame format exchanged between sockets.
package protocol

import (
	"github.com/1ureka/fluxnet/internal/buffer"
	"github.com/1ureka/fluxnet/internal/peer"
)

// Context is what a packet's Perform may act on.
type Context interface {
	HoldAlive(id peer.ID)
}

// Packet is one logical message.
//
// Write must not mutate the packet: a packet sent to several channels is
// encoded once, and the same value may be encoded again later. Perform runs
// only on the goroutine that calls the socket's Tick.
type Packet interface {
	// Read populates fields from the decompressed payload following the
	// protocol ID.
	Read(buf *buffer.ByteBuf) error
	// Write appends the packet's fields.
	Write(buf *buffer.ByteBuf)
	// Perform applies the packet on the receiving side.
	Perform(ctx Context)

	Sender() peer.ID
	SetSender(id peer.ID)
}

// Header carries the fields every packet shares. Embed it by value.
type Header struct {
	// From is the origin channel's peer ID. It stays Nil for packets built
	// locally and for everything a remote receives (its only peer is the
	// server).
	From peer.ID

	// Invalid is reserved for marking a packet inert before dispatch. Nothing
	// in the transport sets or consults it.
	Invalid bool
}

func (h *Header) Sender() peer.ID      { return h.From }
func (h *Header) SetSender(id peer.ID) { h.From = id }
