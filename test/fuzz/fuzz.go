// Command fuzz runs a long-lived churn fuzzer against chordkv: it spawns
// and kills peers at random and checks, after every action, that the
// ring eventually re-converges to a consistent successor/predecessor
// cycle with full ownership coverage.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"sort"
	"time"

	"github.com/stretchr/testify/assert"

	"chordkv"
	"chordkv/internal/idspace"
	"chordkv/test/fuzz/fz"
)

type State struct {
	Nodes map[string]*chordkv.Node
	Addrs map[string]chordkv.Address

	portIncrementor uint
}

type spawnP struct {
	Name   string
	ToJoin string
}

type killP struct {
	Names []string
}

func generateCombinations(n, k int) [][]int {
	var result [][]int
	var current []int

	var backtrack func(start int)
	backtrack = func(start int) {
		if len(current) == k {
			combo := make([]int, k)
			copy(combo, current)
			result = append(result, combo)
			return
		}
		for i := start; i < n; i++ {
			current = append(current, i)
			backtrack(i + 1)
			current = current[:len(current)-1]
		}
	}

	backtrack(0)
	return result
}

func genSpawn(s *State) []spawnP {
	var tasks []spawnP

	if len(s.Nodes) == maxSimulatedNodes {
		return tasks
	}

	for name := range s.Nodes {
		tasks = append(tasks, spawnP{
			Name:   fmt.Sprintf("chord%d", s.portIncrementor),
			ToJoin: name,
		})
	}

	return tasks
}

func genKill(s *State) []killP {
	var tasks []killP

	// must always be at least 1 node left
	if len(s.Nodes) == 1 {
		return tasks
	}

	nodeNames := make([]string, 0, len(s.Nodes))
	for name := range s.Nodes {
		nodeNames = append(nodeNames, name)
	}

	maxToKill := min(maxSimultaneousKills, len(nodeNames)-1)
	for size := 1; size <= maxToKill; size++ {
		combinations := generateCombinations(len(nodeNames), size)
		for _, combo := range combinations {
			names := make([]string, len(combo))
			for i, idx := range combo {
				names[i] = nodeNames[idx]
			}
			tasks = append(tasks, killP{Names: names})
		}
	}
	return tasks
}

func (s *State) nextAddr() chordkv.Address {
	addr := chordkv.NewAddress("127.0.0.1", 30000+int(s.portIncrementor))
	s.portIncrementor++
	return addr
}

func (s *State) add(name string, addr chordkv.Address, instance *chordkv.Node) {
	s.Nodes[name] = instance
	s.Addrs[name] = addr
}

func newFuzzConfig() chordkv.Config {
	cfg := chordkv.DefaultConfig()
	dir, err := os.MkdirTemp("", "chordkv-fuzz-*")
	if err != nil {
		panic(fmt.Sprintf("create data dir: %v", err))
	}
	cfg.DataStoreDir = dir
	cfg.StabilizeInterval = 100 * time.Millisecond
	cfg.FixFingersInterval = 100 * time.Millisecond
	cfg.RefreshInterval = 1 * time.Second
	cfg.ConnectionTimeout = 500 * time.Millisecond
	cfg.HandlerDeadline = 2 * time.Second
	return cfg
}

func doSpawn(s *State, p spawnP) {
	addr := s.nextAddr()
	cfg := newFuzzConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	instance, err := chordkv.New(addr, cfg, logger)
	if err != nil {
		fmt.Println("spawn: create node failed:", err)
		return
	}
	ctx := context.Background()
	if err := instance.Start(ctx); err != nil {
		fmt.Println("spawn: start node failed:", err)
		return
	}
	known := s.Addrs[p.ToJoin]
	if err := instance.Join(ctx, &known); err != nil {
		fmt.Println("spawn: join failed:", err)
		instance.Stop()
		return
	}

	s.add(p.Name, addr, instance)
}

func doKill(s *State, p killP) {
	for _, name := range p.Names {
		s.Nodes[name].Stop()
		delete(s.Nodes, name)
		delete(s.Addrs, name)
	}
}

func invEvConsistentRingAndCoverage(t assert.TestingT, s *State) {
	assert.EventuallyWithT(t, func(ct *assert.CollectT) {
		if len(s.Nodes) == 0 {
			assert.Fail(ct, "no nodes in state")
			return
		}

		byAddr := make(map[string]string, len(s.Nodes)) // address -> name
		for name, addr := range s.Addrs {
			byAddr[addr.String()] = name
		}

		for name, node := range s.Nodes {
			view := node.Info()

			if _, exists := byAddr[view.Successor.String()]; !exists {
				assert.Fail(ct, fmt.Sprintf("node %s has successor %s not in cluster", name, view.Successor))
				return
			}

			if view.Predecessor == nil {
				assert.Fail(ct, fmt.Sprintf("node %s has no predecessor", name))
				return
			}
			predName, exists := byAddr[view.Predecessor.String()]
			if !exists {
				assert.Fail(ct, fmt.Sprintf("node %s has predecessor %s not in cluster", name, view.Predecessor))
				return
			}

			predSuccView := s.Nodes[predName].Info()
			if byAddr[predSuccView.Successor.String()] != name {
				assert.Fail(ct, fmt.Sprintf("predecessor link broken: %s -> %s -/-> %s", name, predName, name))
				return
			}
		}

		// ring traversal visits all nodes exactly once
		var startName string
		for name := range s.Nodes {
			startName = name
			break
		}

		visited := make(map[string]bool)
		current := startName
		for len(visited) < len(s.Nodes) {
			if visited[current] {
				assert.Fail(ct, fmt.Sprintf("ring has a cycle before visiting all nodes: visited %+v", visited))
				return
			}
			visited[current] = true

			view := s.Nodes[current].Info()
			nextName, ok := byAddr[view.Successor.String()]
			if !ok {
				assert.Fail(ct, fmt.Sprintf("node %s successor %s not in cluster", current, view.Successor))
				return
			}
			current = nextName
		}

		// full ownership coverage: the nodes' (predecessor, self] arcs tile
		// the ring with no gaps.
		space := idspace.New(chordkv.DefaultConfig().Bits)
		modulus := space.Modulus()

		type span struct {
			start uint64
			end   uint64
		}
		spans := make([]span, 0, len(s.Nodes))
		for name, node := range s.Nodes {
			view := node.Info()
			if view.Predecessor == nil {
				assert.Fail(ct, fmt.Sprintf("node %s has no predecessor", name))
				return
			}
			start := space.HashID([]byte(view.Predecessor.String()))
			spans = append(spans, span{start: start, end: view.SelfID})
		}
		sort.Slice(spans, func(i, j int) bool { return spans[i].end < spans[j].end })
		for i, sp := range spans {
			next := spans[(i+1)%len(spans)]
			if sp.end != next.start%modulus {
				assert.Fail(ct, fmt.Sprintf("gap in ring coverage: span ending %d does not connect to span starting %d", sp.end, next.start))
				return
			}
		}
	}, 60*time.Second, 100*time.Millisecond)
}

const maxSimulatedNodes = 10
const maxSimultaneousKills = 4

func main() {
	maxTime := flag.Duration("fuzztime", 1<<63-1, "duration to run the fuzzer")
	flag.Parse()

	rng := rand.New(rand.NewPCG(0, 1))
	fuzzer := fz.NewFuzzer[State](rng, *maxTime)

	fz.AddAction(fuzzer, "spawn", genSpawn, doSpawn)
	fz.AddAction(fuzzer, "kill", genKill, doKill)

	// checks that, eventually, the ring view is consistent and the entire
	// hash range is exclusively owned by one node.
	fuzzer.AddInvariant("eventual-consistent-ring-and-coverage", invEvConsistentRingAndCoverage)

	initialState := State{
		Nodes: make(map[string]*chordkv.Node),
		Addrs: make(map[string]chordkv.Address),
	}

	{
		name := "chord0"
		addr := initialState.nextAddr()
		cfg := newFuzzConfig()
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))

		instance, err := chordkv.New(addr, cfg, logger)
		if err != nil {
			panic(err)
		}
		ctx := context.Background()
		if err := instance.Start(ctx); err != nil {
			panic(err)
		}
		if err := instance.Join(ctx, nil); err != nil {
			panic(err)
		}

		initialState.add(name, addr, instance)
	}

	fuzzer.Run(&initialState)
}
