package protocol

import "errors"

// Protocol violations. Each is distinct so callers can tell a peer speaking
// a different packet set apart from a corrupt or truncated stream.
var (
	// ErrUnregisteredPacket is returned when a protocol ID or a packet type
	// has no registry entry.
	ErrUnregisteredPacket = errors.New("protocol: unregistered packet")

	// ErrFrameTooLarge is returned when an encoded frame, or a declared
	// inbound frame length, exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")

	// ErrMalformedFrame is returned for a negative length prefix or a payload
	// whose fields cannot be read back.
	ErrMalformedFrame = errors.New("protocol: malformed frame")

	// ErrDecompress is returned when a payload is not a valid compressed
	// stream.
	ErrDecompress = errors.New("protocol: decompression failed")
)
