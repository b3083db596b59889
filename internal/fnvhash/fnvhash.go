// Package fnvhash holds the field writers used to build 64-bit FNV-1a cache
// keys. Strings are length-prefixed so adjacent fields cannot alias.
package fnvhash

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
)

// New returns a fresh 64-bit FNV-1a hash.
func New() hash.Hash64 { return fnv.New64a() }

// Bytes hashes data in one call.
func Bytes(data []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(data)
	return h.Sum64()
}

// WriteUint32 writes a little-endian uint32 to the hash.
func WriteUint32(h hash.Hash64, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, _ = h.Write(buf[:])
}

// WriteUint64 writes a little-endian uint64 to the hash.
func WriteUint64(h hash.Hash64, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, _ = h.Write(buf[:])
}

// WriteString writes a length-prefixed string to the hash.
//
//nolint:gosec // G115: define names and shader sources are far below 4 GiB
func WriteString(h hash.Hash64, s string) {
	WriteUint32(h, uint32(len(s)))
	_, _ = h.Write([]byte(s))
}

// WriteBool writes a single byte, 1 for true.
func WriteBool(h hash.Hash64, v bool) {
	if v {
		_, _ = h.Write([]byte{1})
	} else {
		_, _ = h.Write([]byte{0})
	}
}
