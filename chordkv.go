// Package chordkv implements a peer in a Chord-style distributed hash
// table: ring membership, finger-table routing, and the stabilize /
// fix-fingers maintenance protocol, communicating over a custom
// length-delimited JSON-over-TCP wire protocol instead of an RPC
// framework.
package chordkv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"chordkv/internal/config"
	"chordkv/internal/netaddr"
	"chordkv/internal/ring"
	"chordkv/internal/store"
	"chordkv/internal/supervisor"
	"chordkv/internal/transport"
)

// Address is a peer/key address: a (host, port) pair.
type Address = netaddr.Address

// NewAddress builds an Address from a host and port.
func NewAddress(host string, port int) Address {
	return netaddr.New(host, port)
}

// ParseAddress parses a "host:port" string into an Address.
func ParseAddress(s string) (Address, error) {
	return netaddr.Parse(s)
}

// Config is a peer's tunable configuration: ring size, RPC timeouts and
// retry policy, maintenance intervals, concurrency limits, and the data
// store directory.
type Config = config.Config

// DefaultConfig returns the documented defaults for every tunable.
func DefaultConfig() Config {
	return config.Default()
}

// View is a read-only snapshot of a Node's ring membership state, used
// by the info/finger CLI commands and by tests.
type View = ring.View

// Node is a single peer in the ring: the public facade over the
// RingEngine, Transport and Store components.
type Node struct {
	self netaddr.Address

	engine     *ring.Engine
	client     *transport.Client
	server     *transport.Server
	supervisor *supervisor.Supervisor
	kv         *store.Store

	logger *slog.Logger
}

// New initializes a peer at self: it creates (or loads) the peer's data
// store but does not start serving or join a ring — call Start, then
// Join.
func New(self Address, cfg Config, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("node", self.String())

	if err := os.MkdirAll(cfg.DataStoreDir, 0o755); err != nil {
		return nil, fmt.Errorf("chordkv: create data store dir %s: %w", cfg.DataStoreDir, err)
	}

	path := filepath.Join(cfg.DataStoreDir, fmt.Sprintf("node_data_%s_%d.json", self.Host, self.Port))
	kv := store.New(path, logger.With("component", "store"))
	if err := kv.Load(); err != nil {
		return nil, fmt.Errorf("chordkv: load data store: %w", err)
	}

	client := transport.NewClient(self, transport.ClientOptions{
		ConnectTimeout: cfg.ConnectionTimeout,
		MaxRetries:     cfg.MaxRetries,
		RetryDelay:     cfg.RetryDelay,
		BackoffFactor:  cfg.BackoffFactor,
	}, logger.With("component", "transport.client"))

	engine := ring.New(ring.Config{
		Self:            self,
		Bits:            cfg.Bits,
		FreshnessWindow: cfg.ConnectionTimeout * 2,
		Client:          client,
		Store:           kv,
		Logger:          logger.With("component", "ring"),
	})

	server := transport.NewServer(self, engine, cfg.MaxConcurrentHandlers, cfg.HandlerDeadline, logger.With("component", "transport.server"))
	sup := supervisor.New(cfg, engine, server, logger.With("component", "supervisor"))

	return &Node{
		self:       self,
		kv:         kv,
		client:     client,
		server:     server,
		engine:     engine,
		supervisor: sup,
		logger:     logger,
	}, nil
}

// Start starts the listener and the stabilize/fix-fingers maintenance
// tasks (the Supervisor component).
func (n *Node) Start(ctx context.Context) error {
	return n.supervisor.Start(ctx)
}

// Stop cancels the maintenance tasks and closes the listener. There is
// no graceful shutdown protocol: in-flight handlers are abandoned, and
// already-persisted writes remain durable on disk.
func (n *Node) Stop() {
	n.supervisor.Stop()
}

// WaitForSignal blocks until SIGINT/SIGTERM or ctx is done, then stops
// the node.
func (n *Node) WaitForSignal(ctx context.Context) {
	n.supervisor.WaitForSignal(ctx)
}

// Join enters the ring via a known peer. Pass nil to start a new,
// standalone ring instead.
func (n *Node) Join(ctx context.Context, known *Address) error {
	return n.engine.Join(ctx, known)
}

// Store inserts or replaces a key, forwarding to the owning peer when
// necessary.
func (n *Node) Store(ctx context.Context, key, value string) error {
	status, message := n.engine.StoreKey(ctx, key, value)
	if status != ring.StatusSuccess {
		return errors.New(message)
	}
	return nil
}

// Retrieve looks up a key, forwarding to the owning peer when
// necessary.
func (n *Node) Retrieve(ctx context.Context, key string) (string, error) {
	status, value, message := n.engine.RetrieveKey(ctx, key)
	if status != ring.StatusSuccess {
		return "", errors.New(message)
	}
	return value, nil
}

// Delete removes a key, forwarding to the owning peer when necessary.
func (n *Node) Delete(ctx context.Context, key string) error {
	status, message := n.engine.DeleteKey(ctx, key)
	if status != ring.StatusSuccess {
		return errors.New(message)
	}
	return nil
}

// Info returns a snapshot of the peer's ring membership state.
func (n *Node) Info() View {
	return n.engine.Snapshot()
}

// Address returns the peer's own address.
func (n *Node) Address() Address {
	return n.self
}
