// Package ring implements the RingEngine: ring membership (successor,
// predecessor, finger table), routing (find_successor /
// closest_preceding_finger), the stabilize/notify/fix-fingers
// maintenance protocol, and the store/retrieve/delete forwarding policy.
package ring

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"chordkv/internal/fingertable"
	"chordkv/internal/idspace"
	"chordkv/internal/netaddr"
	"chordkv/internal/store"
)

// Status strings mirrored on the wire by internal/transport's response
// types. Kept local (not imported from transport) so RingEngine stays
// transport-agnostic.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusNotified = "notified"
	StatusRejected = "rejected"
)

const (
	msgKeyNotFound = "Key not found"
	msgKeyStored   = "Key stored successfully"
	msgKeyDeleted  = "Key deleted successfully"
)

// RPCClient is everything RingEngine needs from the network: routing
// RPCs, liveness probes, and forwarded store/retrieve/delete calls.
// internal/transport.Client implements this interface structurally.
type RPCClient interface {
	FindSuccessor(ctx context.Context, addr netaddr.Address, id uint64) (netaddr.Address, error)
	GetPredecessor(ctx context.Context, addr netaddr.Address) (*netaddr.Address, error)
	GetSuccessorList(ctx context.Context, addr netaddr.Address) ([]netaddr.Address, error)
	Notify(ctx context.Context, addr, candidate netaddr.Address) (status string, old *netaddr.Address, err error)
	Ping(addr netaddr.Address) bool
	StoreKey(ctx context.Context, addr netaddr.Address, key, value string) (status, message string, err error)
	RetrieveKey(ctx context.Context, addr netaddr.Address, key string) (status, value, message string, err error)
	DeleteKey(ctx context.Context, addr netaddr.Address, key string) (status, message string, err error)
}

// Config configures a new Engine.
type Config struct {
	Self            netaddr.Address
	Bits            uint
	FreshnessWindow time.Duration
	Client          RPCClient
	Store           *store.Store
	Logger          *slog.Logger
}

// View is a read-only snapshot of a peer's ring membership state.
type View struct {
	SelfID      uint64
	Self        netaddr.Address
	Successor   netaddr.Address
	Predecessor *netaddr.Address
	Standalone  bool
	Fingers     []fingertable.Entry
}

// Engine is a single peer's view of, and participation in, the ring.
type Engine struct {
	space  idspace.Space
	client RPCClient
	kv     *store.Store
	logger *slog.Logger

	mu          sync.RWMutex
	self        netaddr.Address
	selfID      uint64
	successor   netaddr.Address
	predecessor *netaddr.Address
	standalone  bool
	fingers     *fingertable.Table

	alive *lru.LRU[string, bool]

	fixMu    sync.Mutex
	nextFix  int
	lastFull time.Time
}

// New initializes an Engine. It does not join a ring; call Join.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	space := idspace.New(cfg.Bits)
	selfID := space.HashID([]byte(cfg.Self.String()))
	logger = logger.With("self_id", selfID, "self_addr", cfg.Self.String())

	freshness := cfg.FreshnessWindow
	if freshness <= 0 {
		freshness = 2 * time.Second
	}

	e := &Engine{
		space:      space,
		client:     cfg.Client,
		kv:         cfg.Store,
		logger:     logger,
		self:       cfg.Self,
		selfID:     selfID,
		standalone: true,
		alive:      lru.NewLRU[string, bool](1024, nil, freshness),
		fingers:    fingertable.New(selfID, cfg.Self, cfg.Bits, space.Modulus()),
		successor:  cfg.Self,
	}
	return e
}

// SelfID returns the peer's identifier.
func (e *Engine) SelfID() uint64 {
	return e.selfID
}

// Join enters the ring via known, or starts a new standalone ring when
// known is nil.
func (e *Engine) Join(ctx context.Context, known *netaddr.Address) error {
	if known == nil {
		self := e.self
		e.mu.Lock()
		e.successor = self
		e.predecessor = &self
		e.standalone = true
		e.mu.Unlock()
		e.logger.Info("starting standalone ring")
		return nil
	}

	succ, err := e.client.FindSuccessor(ctx, *known, e.selfID)
	if err != nil {
		return fmt.Errorf("ring: join via %s: find successor: %w", known, err)
	}
	if succ.Equal(e.self) {
		succ = *known
	}

	e.mu.Lock()
	e.successor = succ
	e.predecessor = nil
	e.standalone = false
	e.mu.Unlock()

	e.initFingerTable(ctx, *known)

	if pred, err := e.client.GetPredecessor(ctx, succ); err == nil && pred != nil && !pred.Equal(e.self) {
		e.mu.Lock()
		e.predecessor = pred
		e.mu.Unlock()

		if _, _, err := e.client.Notify(ctx, *pred, e.self); err != nil {
			e.logger.Warn("notify adopted predecessor failed during join", "predecessor", pred.String(), "error", err)
		}
	}

	if _, _, err := e.client.Notify(ctx, succ, e.self); err != nil {
		e.logger.Warn("notify successor failed during join", "successor", succ.String(), "error", err)
	}

	e.Stabilize(ctx)

	e.logger.Info("joined ring", "successor", succ.String())
	return nil
}

// initFingerTable fills the finger table using bootstrap as the oracle
// for every lookup: finger[i] reuses finger[i-1]'s target when start(i)
// already lies on its arc, else it asks bootstrap.
func (e *Engine) initFingerTable(ctx context.Context, bootstrap netaddr.Address) {
	m := e.fingers.Len()
	if m == 0 {
		return
	}
	addrs := make([]netaddr.Address, m)
	addrs[0] = e.remoteSuccessorOrSelf(ctx, bootstrap, e.fingers.Start(0))

	for i := 1; i < m; i++ {
		start := e.fingers.Start(i)
		prev := addrs[i-1]
		prevID := e.space.HashID([]byte(prev.String()))
		if e.space.OnArcHalfOpen(start, e.selfID, prevID) {
			addrs[i] = prev
		} else {
			addrs[i] = e.remoteSuccessorOrSelf(ctx, bootstrap, start)
		}
	}

	if err := e.fingers.BulkSet(addrs); err != nil {
		e.logger.Error("bulk_set fingers failed", "error", err)
	}
}

func (e *Engine) remoteSuccessorOrSelf(ctx context.Context, bootstrap netaddr.Address, id uint64) netaddr.Address {
	addr, err := e.client.FindSuccessor(ctx, bootstrap, id)
	if err != nil {
		return e.self
	}
	return addr
}

// Owns reports whether this peer is responsible for keyID: the arc
// (predecessor, self] half-open on the right, or unconditionally true
// when there is no predecessor (or the predecessor is self).
func (e *Engine) Owns(keyID uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.predecessor == nil || e.predecessor.Equal(e.self) {
		return true
	}
	predID := e.space.HashID([]byte(e.predecessor.String()))
	return e.space.OnArcHalfOpen(keyID, predID, e.selfID)
}

// FindSuccessor returns the peer that owns id, routing through the
// finger table and forwarding when necessary.
func (e *Engine) FindSuccessor(ctx context.Context, id uint64) netaddr.Address {
	e.mu.RLock()
	succ := e.successor
	selfID := e.selfID
	self := e.self
	e.mu.RUnlock()

	if succ.Equal(self) {
		return self
	}

	succID := e.space.HashID([]byte(succ.String()))
	if e.space.OnArcHalfOpen(id, selfID, succID) {
		return succ
	}

	closest := e.ClosestPrecedingFinger(id)
	if closest.Equal(self) {
		return self
	}

	remote, err := e.client.FindSuccessor(ctx, closest, id)
	if err != nil {
		e.logger.Warn("forwarding find_successor failed, falling back to self", "target", closest.String(), "error", err)
		return self
	}
	return remote
}

// ClosestPrecedingFinger scans the finger table from the far end
// looking for the closest live peer strictly preceding id.
func (e *Engine) ClosestPrecedingFinger(id uint64) netaddr.Address {
	e.mu.RLock()
	self := e.self
	selfID := e.selfID
	e.mu.RUnlock()

	entries := e.fingers.Snapshot()
	for i := len(entries) - 1; i >= 0; i-- {
		target := entries[i].Target
		if target.Equal(self) {
			continue
		}
		targetID := e.space.HashID([]byte(target.String()))
		if e.space.OnArcOpen(targetID, selfID, id) && e.Alive(target) {
			return target
		}
	}
	return self
}

// Alive reports whether addr is currently considered live: the local
// peer always is; otherwise a cached successful probe within the
// freshness window short-circuits a fresh ping, but any other state
// (no cache entry, or a cached failure) triggers a fresh probe.
func (e *Engine) Alive(addr netaddr.Address) bool {
	if addr.Equal(e.self) {
		return true
	}
	if v, ok := e.alive.Get(addr.String()); ok && v {
		return true
	}
	ok := e.client.Ping(addr)
	e.alive.Add(addr.String(), ok)
	return ok
}

// Notify handles an incoming claim from candidate that it may be this
// peer's predecessor. It never holds e.mu across the liveness probe on
// the current predecessor: it snapshots the state it needs, releases the
// lock, probes, then re-acquires to commit.
func (e *Engine) Notify(candidate netaddr.Address) (string, *netaddr.Address) {
	e.mu.Lock()
	if e.standalone {
		old := e.predecessor
		e.predecessor = &candidate
		e.successor = candidate
		e.standalone = false
		e.mu.Unlock()
		e.logger.Info("accepted first notify while standalone", "candidate", candidate.String())
		return StatusNotified, old
	}
	e.mu.Unlock()

	if candidate.Equal(e.self) {
		return StatusRejected, nil
	}

	e.mu.RLock()
	pred := e.predecessor
	selfID := e.selfID
	e.mu.RUnlock()

	accept := pred == nil
	if !accept {
		predID := e.space.HashID([]byte(pred.String()))
		candID := e.space.HashID([]byte(candidate.String()))
		switch {
		case e.space.OnArcOpen(candID, predID, selfID):
			accept = true
		case predID == selfID:
			accept = true
		case !e.Alive(*pred):
			accept = true
		}
	}

	if !accept {
		return StatusRejected, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	old := e.predecessor
	e.predecessor = &candidate
	return StatusNotified, old
}

// Stabilize runs one stabilization pass: check the successor's claimed
// predecessor, adopt it if it lies strictly between self and successor,
// then (re-)notify the successor. On successor failure, fail over to
// the closest live finger.
func (e *Engine) Stabilize(ctx context.Context) {
	e.mu.RLock()
	succ := e.successor
	self := e.self
	e.mu.RUnlock()

	if succ.Equal(self) {
		return
	}

	pred, err := e.client.GetPredecessor(ctx, succ)
	if err != nil {
		if !e.Alive(succ) {
			e.failoverSuccessor()
		}
		return
	}

	e.mu.Lock()
	if pred != nil && !pred.Equal(self) {
		predID := e.space.HashID([]byte(pred.String()))
		succID := e.space.HashID([]byte(succ.String()))
		if e.space.OnArcOpen(predID, e.selfID, succID) {
			e.successor = *pred
			succ = *pred
		}
	}
	e.mu.Unlock()

	if _, _, err := e.client.Notify(ctx, succ, self); err != nil {
		e.logger.Debug("notify during stabilize failed", "successor", succ.String(), "error", err)
	}
}

// failoverSuccessor scans the finger table for a live replacement
// successor. If none is live, the peer falls back to self as both
// successor and predecessor. The liveness probes happen with e.mu
// released; only the final commit re-acquires it.
func (e *Engine) failoverSuccessor() {
	e.mu.RLock()
	self := e.self
	entries := e.fingers.Snapshot()
	e.mu.RUnlock()

	for _, entry := range entries {
		if entry.Target.Equal(self) {
			continue
		}
		if e.Alive(entry.Target) {
			e.mu.Lock()
			e.successor = entry.Target
			e.mu.Unlock()
			e.logger.Warn("successor unreachable, failing over to live finger", "new_successor", entry.Target.String())
			return
		}
	}

	e.mu.Lock()
	e.successor = self
	e.predecessor = &self
	e.mu.Unlock()
	e.logger.Warn("no live finger available for failover, falling back to self")
}

// FixFinger refreshes a single finger entry.
func (e *Engine) FixFinger(ctx context.Context, i int) {
	start := e.fingers.Start(i)
	succ := e.FindSuccessor(ctx, start)
	if e.Alive(succ) {
		e.fingers.Set(i, succ)
	} else {
		e.fingers.Set(i, e.self)
	}
}

// FixNextFinger refreshes the next finger in round-robin order.
func (e *Engine) FixNextFinger(ctx context.Context) {
	e.fixMu.Lock()
	i := e.nextFix
	e.nextFix = (e.nextFix + 1) % e.fingers.Len()
	e.fixMu.Unlock()
	e.FixFinger(ctx, i)
}

// RefreshFingerTableIfDue performs a full finger-table reinitialization
// if refreshEvery has elapsed since the last one.
func (e *Engine) RefreshFingerTableIfDue(ctx context.Context, refreshEvery time.Duration) {
	e.fixMu.Lock()
	due := time.Since(e.lastFull) > refreshEvery
	if due {
		e.lastFull = time.Now()
	}
	e.fixMu.Unlock()
	if !due {
		return
	}

	e.mu.RLock()
	succ := e.successor
	self := e.self
	e.mu.RUnlock()

	if succ.Equal(self) || !e.Alive(succ) {
		addrs := make([]netaddr.Address, e.fingers.Len())
		for i := range addrs {
			addrs[i] = self
		}
		if err := e.fingers.BulkSet(addrs); err != nil {
			e.logger.Error("bulk_set fingers failed during refresh", "error", err)
		}
		return
	}
	e.initFingerTable(ctx, succ)
}

// StoreKey inserts or replaces key, forwarding to the owning peer when
// this peer does not own it.
func (e *Engine) StoreKey(ctx context.Context, key, value string) (status, message string) {
	id := e.space.HashID([]byte(key))
	if e.Owns(id) {
		e.kv.Put(key, value)
		return StatusSuccess, msgKeyStored
	}

	target := e.FindSuccessor(ctx, id)
	status, message, err := e.client.StoreKey(ctx, target, key, value)
	if err != nil {
		return StatusError, err.Error()
	}
	return status, message
}

// RetrieveKey looks up key. The local store is always checked first,
// regardless of ownership; only a miss triggers forwarding.
func (e *Engine) RetrieveKey(ctx context.Context, key string) (status, value, message string) {
	if v, ok := e.kv.Get(key); ok {
		return StatusSuccess, v, ""
	}

	id := e.space.HashID([]byte(key))
	if e.Owns(id) {
		return StatusError, "", msgKeyNotFound
	}

	target := e.FindSuccessor(ctx, id)
	if target.Equal(e.self) {
		return StatusError, "", msgKeyNotFound
	}

	status, value, message, err := e.client.RetrieveKey(ctx, target, key)
	if err != nil {
		return StatusError, "", err.Error()
	}
	return status, value, message
}

// DeleteKey removes key, forwarding to the owning peer when necessary.
func (e *Engine) DeleteKey(ctx context.Context, key string) (status, message string) {
	id := e.space.HashID([]byte(key))
	if e.Owns(id) {
		if e.kv.Remove(key) {
			return StatusSuccess, msgKeyDeleted
		}
		return StatusError, msgKeyNotFound
	}

	target := e.FindSuccessor(ctx, id)
	status, message, err := e.client.DeleteKey(ctx, target, key)
	if err != nil {
		return StatusError, err.Error()
	}
	return status, message
}

// Snapshot returns the peer's current ring membership state.
func (e *Engine) Snapshot() View {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return View{
		SelfID:      e.selfID,
		Self:        e.self,
		Successor:   e.successor,
		Predecessor: e.predecessor,
		Standalone:  e.standalone,
		Fingers:     e.fingers.Snapshot(),
	}
}

// The Handle* methods below implement internal/transport.Handler
// structurally, so internal/transport never needs to import ring.

func (e *Engine) HandleStoreKey(ctx context.Context, key, value string) (string, string) {
	return e.StoreKey(ctx, key, value)
}

func (e *Engine) HandleRetrieveKey(ctx context.Context, key string) (string, string, string) {
	return e.RetrieveKey(ctx, key)
}

func (e *Engine) HandleDeleteKey(ctx context.Context, key string) (string, string) {
	return e.DeleteKey(ctx, key)
}

func (e *Engine) HandleFindSuccessor(ctx context.Context, id uint64) netaddr.Address {
	return e.FindSuccessor(ctx, id)
}

func (e *Engine) HandleGetPredecessor(ctx context.Context) *netaddr.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.predecessor
}

func (e *Engine) HandleGetSuccessorList(ctx context.Context) []netaddr.Address {
	// Always empty: no successor-list replication/failover protocol is
	// maintained; failover relies solely on the finger table.
	return []netaddr.Address{}
}

func (e *Engine) HandleNotify(ctx context.Context, candidate netaddr.Address) (string, *netaddr.Address) {
	return e.Notify(candidate)
}

func (e *Engine) HandlePing(ctx context.Context) string {
	return "alive"
}
