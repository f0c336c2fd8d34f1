// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package querymanager maintains the client's desired-query set and
synchronises it with the server (spec.md §4.5). Every registered query is
keyed by its stable content hash (see internal/zero/ast); the manager
ref-counts subscriptions to that hash, clamps and batches TTL changes, and
recycles recently-dropped hashes through a bounded LRU before finally
emitting a `del` patch.
*/
package querymanager

import (
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MaxQueryTTL is the hard ceiling spec.md §4.5 places on any query TTL.
const MaxQueryTTL = 10 * time.Minute

// PatchOp is one entry of a changeDesiredQueries patch.
type PatchOp struct {
	Op   string // "put" | "del"
	Hash string
	AST  any // present for legacy queries
	Name string
	Args []any
	TTL  time.Duration
}

// GotCallback is invoked with the current (and every subsequent) hydration
// state of one query hash.
type GotCallback func(got bool)

type queryState struct {
	hash        string
	refCount    int
	ttl         time.Duration
	got         bool
	gotCallback []GotCallback
	deferredDel bool
}

// MutationSizer reports how many mutations are currently outstanding, so
// the manager can defer `del` patches while a rebase is still in flight.
type MutationSizer interface {
	Size() int
}

// Manager is the client-side desired-query set.
type Manager struct {
	mu sync.Mutex

	log       *slog.Logger
	mutations MutationSizer
	throttle  time.Duration

	queries  map[string]*queryState
	recent   *lru.Cache[string, struct{}]
	pending  []PatchOp
	deferred []string

	flushTimer *time.Timer
	onFlush    func(patch []PatchOp)
}

// Config bundles Manager construction parameters.
type Config struct {
	Logger                  *slog.Logger
	Mutations               MutationSizer
	QueryChangeThrottle     time.Duration
	RecentQueriesMaxEntries int
	OnFlush                 func(patch []PatchOp)
}

// New builds a Manager per cfg. Evicting a hash from the recent-queries LRU
// (because it filled up) immediately emits the `del` patch for it — the
// LRU only exists to give a just-dropped query a grace window to be
// re-subscribed without a round trip to the server.
func New(cfg Config) (*Manager, error) {
	m := &Manager{
		log:       cfg.Logger,
		mutations: cfg.Mutations,
		throttle:  cfg.QueryChangeThrottle,
		queries:   make(map[string]*queryState),
		onFlush:   cfg.OnFlush,
	}
	recent, err := lru.NewWithEvict[string, struct{}](cfg.RecentQueriesMaxEntries, func(hash string, _ struct{}) {
		m.mu.Lock()
		m.enqueue(PatchOp{Op: "del", Hash: hash})
		m.mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	m.recent = recent
	return m, nil
}

func clampTTL(ttl time.Duration, log *slog.Logger) time.Duration {
	if ttl < 0 {
		return 0
	}
	if ttl > MaxQueryTTL {
		if log != nil {
			log.Warn("query TTL exceeds maximum, clamping", slog.Duration("requested", ttl), slog.Duration("max", MaxQueryTTL))
		}
		return MaxQueryTTL
	}
	return ttl
}

// Unsubscribe releases one reference previously obtained from AddLegacy or
// AddCustom.
type Unsubscribe func()

// AddLegacy registers an AST-based query under hash, incrementing its
// reference count and enqueuing a `put` patch if this is a new
// registration or the TTL increased.
func (m *Manager) AddLegacy(hash string, ast any, ttl time.Duration, got GotCallback) Unsubscribe {
	return m.add(hash, ttl, got, func(op *PatchOp) { op.AST = ast })
}

// AddCustom registers a named/args query under hash (computed by the
// caller via ast.HashOfNameAndArgs).
func (m *Manager) AddCustom(hash, name string, args []any, ttl time.Duration, got GotCallback) Unsubscribe {
	return m.add(hash, ttl, got, func(op *PatchOp) { op.Name = name; op.Args = args })
}

func (m *Manager) add(hash string, ttl time.Duration, got GotCallback, fill func(*PatchOp)) Unsubscribe {
	ttl = clampTTL(ttl, m.log)

	// Reviving a hash still sitting in the recent-queries grace window
	// must happen before we touch m.queries/m.mu so its eviction callback
	// (which itself takes m.mu) can never re-enter a held lock.
	m.recent.Remove(hash)

	m.mu.Lock()
	st, exists := m.queries[hash]
	if !exists {
		st = &queryState{hash: hash, ttl: ttl}
		m.queries[hash] = st
		op := PatchOp{Op: "put", Hash: hash, TTL: ttl}
		fill(&op)
		m.enqueue(op)
	} else if ttl > st.ttl {
		st.ttl = ttl
		op := PatchOp{Op: "put", Hash: hash, TTL: ttl}
		fill(&op)
		m.enqueue(op)
	}
	st.refCount++
	st.deferredDel = false
	if got != nil {
		st.gotCallback = append(st.gotCallback, got)
		got(st.got)
	}
	m.mu.Unlock()

	return func() { m.release(hash) }
}

// UpdateLegacy/UpdateCustom send a `put` patch only if the new clamped TTL
// exceeds the stored one, without affecting the reference count.
func (m *Manager) UpdateLegacy(hash string, ast any, ttl time.Duration) {
	m.update(hash, ttl, func(op *PatchOp) { op.AST = ast })
}

func (m *Manager) UpdateCustom(hash, name string, args []any, ttl time.Duration) {
	m.update(hash, ttl, func(op *PatchOp) { op.Name = name; op.Args = args })
}

func (m *Manager) update(hash string, ttl time.Duration, fill func(*PatchOp)) {
	ttl = clampTTL(ttl, m.log)
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.queries[hash]
	if !ok || ttl <= st.ttl {
		return
	}
	st.ttl = ttl
	op := PatchOp{Op: "put", Hash: hash, TTL: ttl}
	fill(&op)
	m.enqueue(op)
}

func (m *Manager) release(hash string) {
	m.mu.Lock()
	st, ok := m.queries[hash]
	if !ok {
		m.mu.Unlock()
		return
	}
	st.refCount--
	if st.refCount > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.queries, hash)
	deferred := m.mutations != nil && m.mutations.Size() > 0
	if deferred {
		m.deferred = append(m.deferred, hash)
	}
	m.mu.Unlock()

	if deferred {
		return
	}
	// Adding to the LRU may synchronously evict its oldest member and run
	// the eviction callback, which takes m.mu itself — never call this
	// while holding the lock.
	m.recent.Add(hash, struct{}{})
}

// FlushDeferredDeletes is called from the mutation tracker's
// all-applied callback: any query release that was deferred while
// mutations were outstanding has its `del` patch enqueued now, directly,
// without passing through the recent-queries LRU (an already-deferred
// deletion gets no second grace window).
func (m *Manager) FlushDeferredDeletes() {
	m.mu.Lock()
	hashes := m.deferred
	m.deferred = nil
	m.mu.Unlock()

	for _, hash := range hashes {
		m.enqueueDel(hash)
	}
}

func (m *Manager) enqueueDel(hash string) {
	m.mu.Lock()
	m.enqueue(PatchOp{Op: "del", Hash: hash})
	m.mu.Unlock()
}

func (m *Manager) enqueue(op PatchOp) {
	m.pending = append(m.pending, op)
	if m.flushTimer == nil {
		m.flushTimer = time.AfterFunc(m.throttle, m.FlushBatch)
	}
}

// FlushBatch drains queued patch operations into one changeDesiredQueries
// message via the configured OnFlush callback.
func (m *Manager) FlushBatch() {
	m.mu.Lock()
	patch := m.pending
	m.pending = nil
	m.flushTimer = nil
	m.mu.Unlock()

	if len(patch) == 0 || m.onFlush == nil {
		return
	}
	m.onFlush(patch)
}

// NotifyGot updates the hydration state for hash and fans it out to every
// registered callback, called by the got-tracking subscription on the
// local store's g/ prefix.
func (m *Manager) NotifyGot(hash string, got bool) {
	m.mu.Lock()
	st, ok := m.queries[hash]
	if !ok {
		m.mu.Unlock()
		return
	}
	st.got = got
	callbacks := append([]GotCallback(nil), st.gotCallback...)
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(got)
	}
}

// GetQueriesPatch returns the set-difference between the local store's
// desired keys and the in-memory desired set, for connection bootstrap.
// lastPatch operations, if supplied, are subtracted since the server may
// already have applied them from a prior attempt.
func (m *Manager) GetQueriesPatch(storedHashes []string, lastPatch []PatchOp) []PatchOp {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make(map[string]bool, len(storedHashes))
	for _, h := range storedHashes {
		stored[h] = true
	}
	already := make(map[string]bool, len(lastPatch))
	for _, op := range lastPatch {
		already[op.Hash] = true
	}

	var patch []PatchOp
	for hash, st := range m.queries {
		if stored[hash] || already[hash] {
			continue
		}
		patch = append(patch, PatchOp{Op: "put", Hash: hash, TTL: st.ttl})
	}
	for hash := range stored {
		if _, live := m.queries[hash]; !live && !already[hash] {
			patch = append(patch, PatchOp{Op: "del", Hash: hash})
		}
	}
	return patch
}
