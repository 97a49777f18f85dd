package etl

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
	"math"
)

// =============================================================================
// Hash Builder
// =============================================================================

// HashBuilder provides a fluent API for building row content hashes.
//
// Usage:
//
//	hash := NewHashBuilder().
//	    String(r.NodeID).
//	    Int64(r.TimestampMs).
//	    Float64(r.FlowRate).
//	    Build()
//
// The hash is deterministic - same inputs always produce the same output.
// Order of operations matters.
type HashBuilder struct {
	h hash.Hash64
}

// NewHashBuilder creates a new hash builder.
func NewHashBuilder() *HashBuilder {
	return &HashBuilder{h: fnv.New64a()}
}

// String adds a string value to the hash.
func (b *HashBuilder) String(s string) *HashBuilder {
	b.h.Write([]byte(s))
	b.h.Write([]byte{0}) // Separator to avoid collisions
	return b
}

// Int64 adds an int64 to the hash.
func (b *HashBuilder) Int64(i int64) *HashBuilder {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(i))
	b.h.Write(buf)
	return b
}

// Uint64 adds a uint64 to the hash.
func (b *HashBuilder) Uint64(i uint64) *HashBuilder {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, i)
	b.h.Write(buf)
	return b
}

// Float64 adds a float64 to the hash via its IEEE 754 bit pattern.
func (b *HashBuilder) Float64(f float64) *HashBuilder {
	return b.Uint64(math.Float64bits(f))
}

// Bool adds a boolean to the hash.
func (b *HashBuilder) Bool(v bool) *HashBuilder {
	if v {
		b.h.Write([]byte{1})
	} else {
		b.h.Write([]byte{0})
	}
	return b
}

// Build returns the final hash value.
func (b *HashBuilder) Build() uint64 {
	return b.h.Sum64()
}
