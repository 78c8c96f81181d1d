package system_test

import (
	"context"
	"sort"

	"github.com/stretchr/testify/assert"

	"chordkv"
	"chordkv/internal/idspace"
)

// AssertConsistentRing verifies that walking successor pointers starting
// from nodes[0] visits every node exactly once and returns to the start,
// and that each hop's predecessor agrees with where it came from.
func AssertConsistentRing(t assert.TestingT, nodes []*chordkv.Node) {
	assert.NotEmpty(t, nodes, "node list must not be empty")

	expectedSize := len(nodes)
	byAddr := make(map[string]*chordkv.Node, expectedSize)
	for _, n := range nodes {
		byAddr[n.Address().String()] = n
	}

	visited := make(map[string]bool, expectedSize)
	current := nodes[0]

	for i := 0; i <= expectedSize; i++ {
		addr := current.Address().String()
		if visited[addr] {
			if len(visited) == expectedSize {
				return
			}
			t.Errorf("ring closed early after visiting %d nodes (expected %d)", len(visited), expectedSize)
			return
		}
		visited[addr] = true

		view := current.Info()
		next, ok := byAddr[view.Successor.String()]
		if !assert.True(t, ok, "successor %s of node %s is not a known node", view.Successor, addr) {
			return
		}

		nextView := next.Info()
		if !assert.NotNil(t, nextView.Predecessor, "node %s has nil predecessor (successor of %s)", view.Successor, addr) {
			return
		}
		assert.Equal(t, addr, nextView.Predecessor.String(),
			"inconsistent links: %s -> successor %s, but successor's predecessor is %s",
			addr, view.Successor, nextView.Predecessor)

		current = next
	}

	t.Errorf("walked %d steps without closing the loop (visited %d unique nodes)", expectedSize+1, len(visited))
}

// AssertConsistentLookupForKey verifies that every node in the cluster
// resolves a stored key to the same value, regardless of entry point.
func AssertConsistentLookupForKey(t assert.TestingT, ctx context.Context, nodes []*chordkv.Node, key, value string) {
	assert.NotEmpty(t, nodes, "node list must not be empty")

	assert.NoError(t, nodes[0].Store(ctx, key, value), "store failed on starting node")

	for i, n := range nodes {
		got, err := n.Retrieve(ctx, key)
		if !assert.NoError(t, err, "retrieve failed on node %d (%s)", i, n.Address()) {
			continue
		}
		assert.Equal(t, value, got, "node %d (%s) returned a different value for %q", i, n.Address(), key)
	}
}

// AssertFullRangeCover verifies that every node's owned arc (predecessor,
// self] tiles the ring without gaps or overlaps.
func AssertFullRangeCover(t assert.TestingT, nodes []*chordkv.Node) {
	assert.NotEmpty(t, nodes, "node list must not be empty")

	type span struct {
		start uint64 // exclusive
		end   uint64 // inclusive
		addr  string
	}

	var spans []span
	var modulus uint64
	for _, n := range nodes {
		view := n.Info()
		if modulus == 0 {
			modulus = uint64(1) << uint(len(view.Fingers))
		}
		space := idspace.New(uint(len(view.Fingers)))
		start := view.SelfID
		if view.Predecessor != nil {
			start = space.HashID([]byte(view.Predecessor.String()))
		}
		spans = append(spans, span{start: start, end: view.SelfID, addr: n.Address().String()})
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].end < spans[j].end })

	for i, s := range spans {
		next := spans[(i+1)%len(spans)]
		assert.Equal(t, s.end, next.start%modulus,
			"span ending at %d (node %s) does not connect to next span's start %d (node %s)",
			s.end, s.addr, next.start, next.addr)
	}
}
