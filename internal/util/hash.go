package util

import (
	"hash/fnv"
)

// ShortHash folds an arbitrary identifier into a 4-byte tag. The tag is used
// solely for compact log prefixes and is not guaranteed to be unique.
func ShortHash(b []byte) uint32 {
	h := fnv.New32a()
	h.Write(b)
	return h.Sum32()
}
