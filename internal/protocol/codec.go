package protocol

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/1ureka/fluxnet/internal/buffer"
)

// Frame layout:
//
//	[4 bytes] payload length L (int32, native byte order)
//	[L bytes] zstd( [4 bytes] protocol ID | packet fields )
const (
	LengthPrefixSize = 4

	// MaxFrameSize bounds a whole frame, length prefix included. It is a
	// protocol constant, not a tunable.
	MaxFrameSize = 32767

	// MaxPayloadSize is the largest compressed payload a frame can carry.
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize

	// maxDecodedSize caps decompression output per frame.
	maxDecodedSize = 1 << 20

	scratchSize = 256
)

// Codec turns packets into frames and frame payloads back into packets.
// It is safe for concurrent use once registration has finished.
type Codec struct {
	registry *Registry
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

// NewCodec creates a codec resolving packet types through r.
func NewCodec(r *Registry) (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("protocol: create encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderMaxMemory(maxDecodedSize),
	)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("protocol: create decoder: %w", err)
	}
	return &Codec{registry: r, enc: enc, dec: dec}, nil
}

// Encode serializes p into a complete frame. The returned slice is never
// modified afterwards and may be queued on several channels at once.
func (c *Codec) Encode(p Packet) ([]byte, error) {
	id, err := c.registry.IDOf(p)
	if err != nil {
		return nil, err
	}

	scratch := buffer.New(scratchSize)
	scratch.WriteInt32(int32(id))
	p.Write(scratch)

	compressed := c.enc.EncodeAll(scratch.Bytes(), nil)
	size := LengthPrefixSize + len(compressed)
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %T encodes to %d bytes (limit %d)", ErrFrameTooLarge, p, size, MaxFrameSize)
	}

	frame := buffer.New(size)
	frame.WriteInt32(int32(len(compressed)))
	frame.WriteRaw(compressed)
	return frame.Bytes(), nil
}

// Decode rebuilds a packet from a frame payload (the bytes after the length
// prefix). The returned packet has no sender set.
func (c *Codec) Decode(payload []byte) (Packet, error) {
	raw, err := c.dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecompress, err)
	}

	buf := buffer.From(raw)
	pid, err := buf.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("%w: missing protocol id: %w", ErrMalformedFrame, err)
	}

	p, err := c.registry.New(ID(pid))
	if err != nil {
		return nil, err
	}
	if err := p.Read(buf); err != nil {
		return nil, fmt.Errorf("%w: %T: %w", ErrMalformedFrame, p, err)
	}
	return p, nil
}

// Close releases the compressor and decompressor.
func (c *Codec) Close() {
	c.enc.Close()
	c.dec.Close()
}
