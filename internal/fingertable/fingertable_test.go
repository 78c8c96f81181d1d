package fingertable_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chordkv/internal/fingertable"
	"chordkv/internal/netaddr"
)

func TestNewFillsStartsAndSelf(t *testing.T) {
	self := netaddr.New("127.0.0.1", 8001)
	table := fingertable.New(5, self, 10, 1024)

	assert.Equal(t, 10, table.Len())
	assert.Equal(t, uint64(6), table.Start(0))
	assert.Equal(t, uint64(7), table.Start(1))
	assert.Equal(t, (5+uint64(1)<<9)%1024, table.Start(9))
	for i := 0; i < table.Len(); i++ {
		assert.Equal(t, self, table.Get(i))
	}
}

func TestStartsAreImmutableAfterSet(t *testing.T) {
	self := netaddr.New("127.0.0.1", 8001)
	table := fingertable.New(5, self, 10, 1024)
	before := table.Start(3)
	table.Set(3, netaddr.New("10.0.0.2", 9000))
	assert.Equal(t, before, table.Start(3))
	assert.Equal(t, netaddr.New("10.0.0.2", 9000), table.Get(3))
}

func TestSetOutOfRangeIsNoOp(t *testing.T) {
	self := netaddr.New("127.0.0.1", 8001)
	table := fingertable.New(5, self, 4, 16)
	table.Set(99, netaddr.New("x", 1))
	assert.Equal(t, self, table.Get(0))
}

func TestBulkSetRejectsLengthMismatch(t *testing.T) {
	self := netaddr.New("127.0.0.1", 8001)
	table := fingertable.New(5, self, 4, 16)
	err := table.BulkSet([]netaddr.Address{self})
	require.Error(t, err)
}

func TestBulkSetReplacesAllTargets(t *testing.T) {
	self := netaddr.New("127.0.0.1", 8001)
	other := netaddr.New("10.0.0.2", 9000)
	table := fingertable.New(5, self, 4, 16)
	require.NoError(t, table.BulkSet([]netaddr.Address{other, other, other, other}))
	for i := 0; i < 4; i++ {
		assert.Equal(t, other, table.Get(i))
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	self := netaddr.New("127.0.0.1", 8001)
	table := fingertable.New(5, self, 4, 16)
	snap := table.Snapshot()
	table.Set(0, netaddr.New("10.0.0.2", 9000))
	assert.Equal(t, self, snap[0].Target)
}
