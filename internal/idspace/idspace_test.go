package idspace_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"chordkv/internal/idspace"
)

func TestHashIDIsBoundedAndDeterministic(t *testing.T) {
	space := idspace.New(10)
	a := space.HashID([]byte("127.0.0.1:8001"))
	b := space.HashID([]byte("127.0.0.1:8001"))
	assert.Equal(t, a, b)
	assert.Less(t, a, space.Modulus())
}

func TestHashIDDiffersForDifferentInputs(t *testing.T) {
	space := idspace.New(16)
	a := space.HashID([]byte("127.0.0.1:8001"))
	b := space.HashID([]byte("127.0.0.1:8002"))
	assert.NotEqual(t, a, b)
}

func TestOnArcOpenEmptyWhenEndpointsEqual(t *testing.T) {
	space := idspace.New(10)
	assert.False(t, space.OnArcOpen(5, 3, 3))
	assert.False(t, space.OnArcOpen(3, 3, 3))
}

func TestOnArcHalfOpenTrueOnlyAtEnd(t *testing.T) {
	space := idspace.New(10)
	assert.True(t, space.OnArcHalfOpen(3, 3, 3))
	assert.False(t, space.OnArcHalfOpen(4, 3, 3))
}

func TestOnArcHalfOpenWraps(t *testing.T) {
	space := idspace.New(10)
	assert.True(t, space.OnArcHalfOpen(2, 1000, 5))
	assert.True(t, space.OnArcHalfOpen(1001, 1000, 5))
	assert.False(t, space.OnArcHalfOpen(1000, 1000, 5))
	assert.False(t, space.OnArcHalfOpen(6, 1000, 5))
}

// Every point on the ring other than the two endpoints lies on exactly
// one of the two arcs they split the ring into.
func TestOnArcOpenPartitionsTheRing(t *testing.T) {
	space := idspace.New(6) // modulus 64, small enough to brute-force
	mod := space.Modulus()
	for a := uint64(0); a < mod; a++ {
		for b := uint64(0); b < mod; b++ {
			if a == b {
				continue
			}
			for x := uint64(0); x < mod; x++ {
				if x == a || x == b {
					continue
				}
				ab := space.OnArcOpen(x, a, b)
				ba := space.OnArcOpen(x, b, a)
				if ab == ba {
					t.Fatalf("expected exactly one arc to contain x=%d for a=%d b=%d, got ab=%v ba=%v", x, a, b, ab, ba)
				}
			}
		}
	}
}
