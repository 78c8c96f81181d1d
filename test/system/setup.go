package system_test

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"chordkv"
)

// testLogWriter redirects a node's slog output into *testing.T so test
// output stays attributed to the subtest that produced it.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (n int, err error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

// ClusterSetup hands out fresh, non-colliding peers for a single test.
type ClusterSetup struct {
	startPort atomic.Int32
}

// NewClusterSetup returns an empty cluster setup.
func NewClusterSetup() *ClusterSetup {
	return &ClusterSetup{}
}

// CreateNode builds (but does not start or join) a peer with its own
// temporary data directory and fast maintenance intervals suitable for
// tests.
func (cs *ClusterSetup) CreateNode(t *testing.T) *chordkv.Node {
	t.Helper()
	port := 20000 + int(cs.startPort.Add(1))
	addr := chordkv.NewAddress("127.0.0.1", port)

	cfg := chordkv.DefaultConfig()
	cfg.DataStoreDir = t.TempDir()
	cfg.StabilizeInterval = 100 * time.Millisecond
	cfg.FixFingersInterval = 100 * time.Millisecond
	cfg.RefreshInterval = 2 * time.Second
	cfg.ConnectionTimeout = 500 * time.Millisecond
	cfg.HandlerDeadline = 2 * time.Second

	logger := slog.New(slog.NewTextHandler(&testLogWriter{t}, nil))

	node, err := chordkv.New(addr, cfg, logger)
	if err != nil {
		t.Fatalf("create node: %v", err)
	}
	return node
}

// StartSolo builds, starts, and joins a brand-new standalone ring.
func (cs *ClusterSetup) StartSolo(t *testing.T, ctx context.Context) *chordkv.Node {
	t.Helper()
	n := cs.CreateNode(t)
	if err := n.Start(ctx); err != nil {
		t.Fatalf("start node: %v", err)
	}
	if err := n.Join(ctx, nil); err != nil {
		t.Fatalf("join solo: %v", err)
	}
	t.Cleanup(n.Stop)
	return n
}

// StartJoining builds, starts, and joins the ring through an existing
// node.
func (cs *ClusterSetup) StartJoining(t *testing.T, ctx context.Context, known *chordkv.Node) *chordkv.Node {
	t.Helper()
	n := cs.CreateNode(t)
	if err := n.Start(ctx); err != nil {
		t.Fatalf("start node: %v", err)
	}
	addr := known.Address()
	if err := n.Join(ctx, &addr); err != nil {
		t.Fatalf("join: %v", err)
	}
	t.Cleanup(n.Stop)
	return n
}

// waitFor polls cond until it returns true or timeout elapses, failing
// the test otherwise.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", timeout)
	}
}
