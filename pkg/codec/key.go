// Package codec implements the byte-key codec (spec §4.1) and the default
// record codec (spec §4.6, "record codec" collaborator).
//
// as_bytes is total, pure and deterministic for every Key implementation
// below, and for unsigned integers of fixed width the output is big-endian
// so that lexicographic byte order equals numeric order.
package codec

import (
	"encoding/binary"
	"fmt"
)

// Key is any value with a canonical, order-preserving byte encoding.
type Key interface {
	// Bytes returns the canonical encoding. Implementations must be total,
	// pure and deterministic.
	Bytes() []byte
}

// Uint64 is a fixed-width unsigned integer key, encoded big-endian so that
// lexicographic order on Bytes() equals numeric order. This is the key
// shape required for entity.AutoIncrement.
type Uint64 uint64

// Bytes implements Key.
func (k Uint64) Bytes() []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(k))
	return buf[:]
}

// Uint64FromBytes decodes an 8-byte big-endian Uint64.
func Uint64FromBytes(b []byte) (Uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("codec: Uint64 key must be 8 bytes, got %d", len(b))
	}
	return Uint64(binary.BigEndian.Uint64(b)), nil
}

// Bytes is a variable-length byte-string key. As a bare (terminal) key its
// encoding is just the raw bytes; inside a Tuple2/Tuple3 it is length-prefixed
// automatically (see component), so that the tuple's layout stays
// prefix-scan-safe (spec §4.1).
type Bytes []byte

// Bytes implements Key: the bare encoding, safe only as a terminal component.
func (b Bytes) Bytes() []byte {
	return []byte(b)
}

// lengthPrefixed returns a 4-byte big-endian length prefix followed by b,
// used for every Bytes component of a Tuple, the last one included.
func lengthPrefixed(b []byte) []byte {
	out := make([]byte, 4+len(b))
	binary.BigEndian.PutUint32(out, uint32(len(b)))
	copy(out[4:], b)
	return out
}

// component encodes k for use inside a tuple: fixed-width keys (Uint64,
// other tuples of fixed-width keys) are emitted as-is; variable-length
// Bytes keys are length-prefixed so a leading-component prefix scan stays
// well-defined regardless of what follows.
func component(k Key) []byte {
	if b, ok := k.(Bytes); ok {
		return lengthPrefixed(b)
	}
	return k.Bytes()
}

// Tuple2 is a two-component composite key: Bytes() = component(A) ++ component(B).
type Tuple2[A, B Key] struct {
	First  A
	Second B
}

// Bytes implements Key.
func (t Tuple2[A, B]) Bytes() []byte {
	return append(component(t.First), component(t.Second)...)
}

// ComponentPrefix re-encodes a key's own terminal Bytes() encoding as the
// form it would take as the leading component of a Tuple2/Tuple3 — i.e.
// length-prefixed if K is Bytes, unchanged otherwise. The Relation Engine
// uses this to turn a parent's own key into the byte prefix that matches
// every child whose key is Tuple2{First: parentKey, ...} (spec §4.3),
// without needing to decode raw bytes back into a K value.
func ComponentPrefix[K Key](raw []byte) []byte {
	var zero K
	if _, ok := any(zero).(Bytes); ok {
		return lengthPrefixed(raw)
	}
	return raw
}

// Tuple3 is a three-component composite key.
type Tuple3[A, B, C Key] struct {
	First  A
	Second B
	Third  C
}

// Bytes implements Key.
func (t Tuple3[A, B, C]) Bytes() []byte {
	out := component(t.First)
	out = append(out, component(t.Second)...)
	out = append(out, component(t.Third)...)
	return out
}
