// Package peer defines the identifier assigned to every connection attempt.
package peer

import (
	"bytes"
	"encoding/binary"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/1ureka/fluxnet/internal/util"
)

// ID identifies one connection. A fresh ID is generated per accepted
// connection, so a peer that reconnects gets a new ID.
//
// Layout: bytes 0..7 hold the big-endian nanosecond timestamp of generation,
// bytes 8..15 are pseudo-random. IDs are practically unique but not
// suitable as secrets.
type ID uuid.UUID

// Nil is the reserved "no sender" value.
var Nil ID

// New generates a fresh ID.
func New() ID {
	var id ID
	binary.BigEndian.PutUint64(id[0:8], uint64(time.Now().UnixNano()))
	binary.BigEndian.PutUint64(id[8:16], rand.Uint64())
	return id
}

// IsNil reports whether id is the reserved Nil value.
func (id ID) IsNil() bool {
	return id == Nil
}

// Compare orders IDs byte-wise.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}

// String returns the canonical 36-char UUID representation.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// Short returns a 4-byte tag for log prefixes.
func (id ID) Short() uint32 {
	return util.ShortHash(id[:])
}

// Parse decodes the textual form produced by String.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, err
	}
	return ID(u), nil
}
