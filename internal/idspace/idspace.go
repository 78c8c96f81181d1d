// Package idspace implements the Chord identifier space: hashing
// addresses and keys onto a ring of 2^m points, and the modular-arc
// predicates ("is x strictly/half-open between a and b, going
// clockwise") that the rest of the ring logic is built on.
package idspace

import "crypto/sha1"

// Space is a ring of 2^Bits identifiers.
type Space struct {
	Bits uint
	mod  uint64
}

// New returns the identifier space for the given bit width.
func New(bits uint) Space {
	return Space{Bits: bits, mod: uint64(1) << bits}
}

// Modulus returns 2^Bits.
func (s Space) Modulus() uint64 {
	return s.mod
}

// HashID returns sha1(data) mod 2^Bits. Since the modulus is a power of
// two, only the low 64 bits of the 160-bit digest can affect the result,
// so we only need to fold in the last 8 digest bytes.
func (s Space) HashID(data []byte) uint64 {
	sum := sha1.Sum(data)
	var v uint64
	for _, b := range sum[12:20] {
		v = v<<8 | uint64(b)
	}
	return v & (s.mod - 1)
}

// OnArcOpen reports whether x lies strictly between a and b on the
// clockwise arc from a to b. When a == b the arc is empty and this
// always returns false.
func (s Space) OnArcOpen(x, a, b uint64) bool {
	if a == b {
		return false
	}
	if a < b {
		return a < x && x < b
	}
	return x > a || x < b
}

// OnArcHalfOpen is OnArcOpen with the right endpoint included: a < x <= b
// going clockwise. When a == b the arc degenerates to the single point
// b, so this is true only at x == b.
func (s Space) OnArcHalfOpen(x, a, b uint64) bool {
	if a == b {
		return x == b
	}
	if a < b {
		return a < x && x <= b
	}
	return x > a || x <= b
}
