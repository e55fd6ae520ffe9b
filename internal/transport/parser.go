package transport

import (
	"fmt"

	"github.com/1ureka/fluxnet/internal/buffer"
	"github.com/1ureka/fluxnet/internal/protocol"
)

// FrameParser accumulates stream bytes and cuts them into frames. It handles
// partial frames, several frames per read, and frames split across reads.
// It is goroutine-local: only the owning read loop touches it.
type FrameParser struct {
	codec *protocol.Codec
	buf   *buffer.ByteBuf
}

// MinBufferSize is the smallest receive buffer that always has room for a
// partial frame plus a full read.
const MinBufferSize = 2*protocol.MaxFrameSize + 1

// NewFrameParser creates a parser with a receive buffer of size bytes,
// raised to MinBufferSize when smaller.
func NewFrameParser(codec *protocol.Codec, size int) *FrameParser {
	return &FrameParser{codec: codec, buf: buffer.New(max(size, MinBufferSize))}
}

// Tail is the free region the next stream read should fill. It is never
// empty between calls to Commit.
func (f *FrameParser) Tail() []byte {
	return f.buf.Tail()
}

// Buffered returns the number of received bytes not yet consumed as frames.
func (f *FrameParser) Buffered() int {
	return f.buf.Readable()
}

// Commit accounts for n bytes just read into Tail and emits every complete
// packet in arrival order. An error means the stream is unusable: the peer
// sent a malformed, oversized or unknown frame.
func (f *FrameParser) Commit(n int, emit func(protocol.Packet)) error {
	if err := f.buf.Advance(n); err != nil {
		return err
	}

	for f.buf.Readable() >= protocol.LengthPrefixSize {
		start := f.buf.ReadPos()
		length, _ := f.buf.ReadInt32()

		if length < 0 {
			return fmt.Errorf("%w: negative length %d", protocol.ErrMalformedFrame, length)
		}
		if length > protocol.MaxPayloadSize {
			return fmt.Errorf("%w: declared length %d", protocol.ErrFrameTooLarge, length)
		}

		size := int(length)
		if f.buf.Readable() < size {
			// Incomplete: keep the prefix for the next pass.
			_ = f.buf.SetReadPos(start)
			if f.buf.Free() <= size+protocol.LengthPrefixSize {
				f.buf.Compact()
			}
			break
		}

		pkt, err := f.codec.Decode(f.buf.Unread()[:size])
		if err != nil {
			return err
		}
		_ = f.buf.Skip(size)
		emit(pkt)

		if f.buf.Readable() == 0 {
			f.buf.Clear()
		} else if f.buf.ReadPos() >= f.buf.Cap()/2 {
			f.buf.Compact()
		}
	}

	if f.buf.Free() < protocol.MaxFrameSize {
		f.buf.Compact()
	}
	if f.buf.Free() == 0 {
		return fmt.Errorf("%w: %d bytes buffered without a complete frame", protocol.ErrFrameTooLarge, f.buf.Readable())
	}
	return nil
}
