// Package buffer provides the growable byte buffer used by packet
// serialization and by the per-channel receive path.
//
// A ByteBuf keeps independent read and write cursors over one backing slice:
//
//	0 <= ReadPos() <= WritePos() <= Cap()
//
// Bytes in [ReadPos, WritePos) are unread; [WritePos, Cap) is free space that
// a network read can fill directly through Tail + Advance.
//
// Multi-byte values use the host's native byte order. Both ends of a
// connection are assumed to share endianness.
package buffer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var order = binary.NativeEndian

// ErrShortBuffer is returned when a read asks for more bytes than are unread.
var ErrShortBuffer = errors.New("buffer: read out of range")

// ErrCursor is returned when a cursor would leave its valid range.
var ErrCursor = errors.New("buffer: cursor out of range")

// ByteBuf is not safe for concurrent use.
type ByteBuf struct {
	data []byte
	rpos int
	wpos int
}

// New returns an empty buffer with size bytes of backing storage.
func New(size int) *ByteBuf {
	return &ByteBuf{data: make([]byte, size)}
}

// From wraps b for reading. The buffer takes ownership of b.
func From(b []byte) *ByteBuf {
	return &ByteBuf{data: b, wpos: len(b)}
}

// ---------------------------------------------------------------------------
// Cursors and capacity
// ---------------------------------------------------------------------------

func (b *ByteBuf) Cap() int      { return len(b.data) }
func (b *ByteBuf) Free() int     { return len(b.data) - b.wpos }
func (b *ByteBuf) Readable() int { return b.wpos - b.rpos }
func (b *ByteBuf) ReadPos() int  { return b.rpos }
func (b *ByteBuf) WritePos() int { return b.wpos }

// Bytes returns everything before the write cursor. The slice aliases the
// buffer and is only valid until the next mutation.
func (b *ByteBuf) Bytes() []byte { return b.data[:b.wpos] }

// Unread returns the bytes between the read and write cursors.
func (b *ByteBuf) Unread() []byte { return b.data[b.rpos:b.wpos] }

// Tail returns the free region after the write cursor, for reading from a
// stream straight into the buffer. Call Advance with the byte count filled.
func (b *ByteBuf) Tail() []byte { return b.data[b.wpos:] }

// Advance moves the write cursor forward by n bytes already placed in Tail.
func (b *ByteBuf) Advance(n int) error {
	if n < 0 || n > b.Free() {
		return fmt.Errorf("%w: advance %d with %d free", ErrCursor, n, b.Free())
	}
	b.wpos += n
	return nil
}

// SetReadPos moves the read cursor; it may not pass the write cursor.
func (b *ByteBuf) SetReadPos(pos int) error {
	if pos < 0 || pos > b.wpos {
		return fmt.Errorf("%w: read pos %d (write pos %d)", ErrCursor, pos, b.wpos)
	}
	b.rpos = pos
	return nil
}

// SetWritePos moves the write cursor, growing the backing slice if needed.
// The read cursor is clamped so it never passes the write cursor.
func (b *ByteBuf) SetWritePos(pos int) error {
	if pos < 0 {
		return fmt.Errorf("%w: write pos %d", ErrCursor, pos)
	}
	if pos > len(b.data) {
		b.grow(pos - b.wpos)
	}
	b.wpos = pos
	if b.rpos > b.wpos {
		b.rpos = b.wpos
	}
	return nil
}

// Clear resets both cursors without releasing storage.
func (b *ByteBuf) Clear() {
	b.rpos = 0
	b.wpos = 0
}

// Compact drops consumed bytes and moves the unread ones to the front.
func (b *ByteBuf) Compact() {
	if b.rpos == 0 {
		return
	}
	n := copy(b.data, b.data[b.rpos:b.wpos])
	b.rpos = 0
	b.wpos = n
}

// grow ensures room for n more bytes after the write cursor.
func (b *ByteBuf) grow(n int) {
	if b.Free() >= n {
		return
	}
	extra := len(b.data) * 2
	if extra < n {
		extra = n
	}
	tmp := make([]byte, len(b.data)+extra)
	copy(tmp, b.data[:b.wpos])
	b.data = tmp
}

// reserve returns a writable slice of n bytes and advances the write cursor.
func (b *ByteBuf) reserve(n int) []byte {
	b.grow(n)
	p := b.data[b.wpos : b.wpos+n]
	b.wpos += n
	return p
}

// take returns the next n unread bytes and advances the read cursor.
func (b *ByteBuf) take(n int) ([]byte, error) {
	if n < 0 || b.Readable() < n {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrShortBuffer, n, b.Readable())
	}
	p := b.data[b.rpos : b.rpos+n]
	b.rpos += n
	return p, nil
}

// ---------------------------------------------------------------------------
// Writers
// ---------------------------------------------------------------------------

func (b *ByteBuf) WriteUint8(v uint8)   { b.reserve(1)[0] = v }
func (b *ByteBuf) WriteUint16(v uint16) { order.PutUint16(b.reserve(2), v) }
func (b *ByteBuf) WriteUint32(v uint32) { order.PutUint32(b.reserve(4), v) }
func (b *ByteBuf) WriteUint64(v uint64) { order.PutUint64(b.reserve(8), v) }
func (b *ByteBuf) WriteInt32(v int32)   { b.WriteUint32(uint32(v)) }
func (b *ByteBuf) WriteInt64(v int64)   { b.WriteUint64(uint64(v)) }

func (b *ByteBuf) WriteFloat32(v float32) { b.WriteUint32(math.Float32bits(v)) }
func (b *ByteBuf) WriteFloat64(v float64) { b.WriteUint64(math.Float64bits(v)) }

func (b *ByteBuf) WriteBool(v bool) {
	if v {
		b.WriteUint8(1)
	} else {
		b.WriteUint8(0)
	}
}

// WriteRaw appends p without a length prefix.
func (b *ByteBuf) WriteRaw(p []byte) {
	copy(b.reserve(len(p)), p)
}

// WriteBlob appends a length-prefixed byte slice (uint32 length + bytes).
func (b *ByteBuf) WriteBlob(p []byte) {
	b.WriteUint32(uint32(len(p)))
	b.WriteRaw(p)
}

// WriteString appends a length-prefixed string (uint32 length + bytes).
func (b *ByteBuf) WriteString(s string) {
	b.WriteUint32(uint32(len(s)))
	copy(b.reserve(len(s)), s)
}

// ---------------------------------------------------------------------------
// Readers
// ---------------------------------------------------------------------------

func (b *ByteBuf) ReadUint8() (uint8, error) {
	p, err := b.take(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (b *ByteBuf) ReadUint16() (uint16, error) {
	p, err := b.take(2)
	if err != nil {
		return 0, err
	}
	return order.Uint16(p), nil
}

func (b *ByteBuf) ReadUint32() (uint32, error) {
	p, err := b.take(4)
	if err != nil {
		return 0, err
	}
	return order.Uint32(p), nil
}

func (b *ByteBuf) ReadUint64() (uint64, error) {
	p, err := b.take(8)
	if err != nil {
		return 0, err
	}
	return order.Uint64(p), nil
}

func (b *ByteBuf) ReadInt32() (int32, error) {
	v, err := b.ReadUint32()
	return int32(v), err
}

func (b *ByteBuf) ReadInt64() (int64, error) {
	v, err := b.ReadUint64()
	return int64(v), err
}

func (b *ByteBuf) ReadFloat32() (float32, error) {
	v, err := b.ReadUint32()
	return math.Float32frombits(v), err
}

func (b *ByteBuf) ReadFloat64() (float64, error) {
	v, err := b.ReadUint64()
	return math.Float64frombits(v), err
}

func (b *ByteBuf) ReadBool() (bool, error) {
	v, err := b.ReadUint8()
	return v != 0, err
}

// PeekInt32 returns the next int32 without consuming it.
func (b *ByteBuf) PeekInt32() (int32, error) {
	if b.Readable() < 4 {
		return 0, fmt.Errorf("%w: need 4, have %d", ErrShortBuffer, b.Readable())
	}
	return int32(order.Uint32(b.data[b.rpos:])), nil
}

// ReadRaw copies the next n bytes out of the buffer.
func (b *ByteBuf) ReadRaw(n int) ([]byte, error) {
	p, err := b.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, p)
	return out, nil
}

// Skip consumes n bytes.
func (b *ByteBuf) Skip(n int) error {
	_, err := b.take(n)
	return err
}

// ReadBlob reads a uint32 length-prefixed byte slice.
func (b *ByteBuf) ReadBlob() ([]byte, error) {
	n, err := b.ReadUint32()
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(b.Readable()) {
		return nil, fmt.Errorf("%w: blob of %d bytes, have %d", ErrShortBuffer, n, b.Readable())
	}
	return b.ReadRaw(int(n))
}

// ReadString reads a uint32 length-prefixed string.
func (b *ByteBuf) ReadString() (string, error) {
	n, err := b.ReadUint32()
	if err != nil {
		return "", err
	}
	if uint64(n) > uint64(b.Readable()) {
		return "", fmt.Errorf("%w: string of %d bytes, have %d", ErrShortBuffer, n, b.Readable())
	}
	p, _ := b.take(int(n))
	return string(p), nil
}
