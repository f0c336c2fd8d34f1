// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/zerosync/zero/internal/zero/changestream"
	"github.com/zerosync/zero/internal/zero/ivm"
	"github.com/zerosync/zero/internal/zero/localstore"
	"github.com/zerosync/zero/internal/zero/mutation"
	"github.com/zerosync/zero/pkg/uuidv7"
)

// Mutator is application code expressing one named mutation's effect
// against a [Branch]. It runs synchronously, optimistically, before the
// mutation is ever sent to the server.
type Mutator func(ctx context.Context, tx *Branch, args []any) error

// Registry resolves "namespace|name" to a client-side Mutator, mirroring
// mutagen.Registry's shape on the server side of the same mutation.
type Registry struct {
	mutators map[string]Mutator
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry { return &Registry{mutators: make(map[string]Mutator)} }

// Register binds fn under namespace|name.
func (r *Registry) Register(namespace, name string, fn Mutator) {
	r.mutators[namespace+"|"+name] = fn
}

func (r *Registry) lookup(namespace, name string) (Mutator, bool) {
	fn, ok := r.mutators[namespace+"|"+name]
	return fn, ok
}

// Handle is what Pipeline.Mutate returns: Client resolves once the
// optimistic write has applied locally, Server resolves with the
// authoritative result once the push round-trips (spec.md §7: "mutations
// as objects with .client and .server promises").
type Handle struct {
	Client <-chan error
	Server <-chan mutation.Result
}

// pending is one mutation the pipeline has applied optimistically but not
// yet seen settled by the server.
type pending struct {
	ephemeralID string
	mutationID  int64
	namespace   string
	name        string
	args        []any
}

// Pipeline is the client-side mutation pipeline: it applies mutators
// optimistically against a Branch, pushes the resulting row changes into
// the IVM main sources, and tracks each mutation to settlement. When main
// advances out from under an outstanding mutation (a poke lands while
// mutations remain unsettled), Rebase discards the stale optimistic state
// and replays every still-outstanding mutator against the new main —
// each replay is a fresh Branch, so no leftover overlay from the old
// branch survives into the new one (spec.md §9).
type Pipeline struct {
	mu       sync.Mutex
	store    *localstore.Store
	sources  map[string]*ivm.Source
	tracker  *mutation.Tracker
	registry *Registry
	clientID string
	nextMID  int64
	pending  []*pending

	// live is the last-pushed optimistic overlay, keyed the same way a
	// Branch keys its own overlay, so Rebase can diff the new optimistic
	// state against it and push only the rows that actually changed.
	live map[string]*overlayEntry
}

// New builds a Pipeline. clientID identifies this client in mutation IDs
// sent to the server; sources maps table name to the IVM Source operator
// that table's rows are pushed through.
func New(store *localstore.Store, sources map[string]*ivm.Source, tracker *mutation.Tracker, registry *Registry, clientID string) *Pipeline {
	return &Pipeline{
		store:    store,
		sources:  sources,
		tracker:  tracker,
		registry: registry,
		clientID: clientID,
		live:     make(map[string]*overlayEntry),
	}
}

// Mutate runs the named mutator optimistically and returns a Handle for
// its eventual settlement. The mutator itself never touches the network;
// Mutate assigns the client-local mutation ID, applies the branch's writes
// to the IVM main sources, and registers the mutation with the tracker so
// a later push response or poke can settle Handle.Server.
func (p *Pipeline) Mutate(ctx context.Context, namespace, name string, args []any) Handle {
	ephemeralID := uuidv7.New()
	rawServerCh := p.tracker.TrackMutation(ephemeralID)
	serverCh := make(chan mutation.Result, 1)
	clientCh := make(chan error, 1)

	fn, ok := p.registry.lookup(namespace, name)
	if !ok {
		err := fmt.Errorf("client: no mutator registered for %s|%s", namespace, name)
		clientCh <- err
		close(clientCh)
		p.tracker.RejectMutation(ephemeralID, err)
		go p.forwardSettlement(ephemeralID, rawServerCh, serverCh)
		return Handle{Client: clientCh, Server: serverCh}
	}

	branch := newBranch(ctx, p.store)
	if err := fn(ctx, branch, args); err != nil {
		clientCh <- err
		close(clientCh)
		p.tracker.RejectMutation(ephemeralID, err)
		go p.forwardSettlement(ephemeralID, rawServerCh, serverCh)
		return Handle{Client: clientCh, Server: serverCh}
	}

	p.mu.Lock()
	mid := p.nextMID + 1
	p.nextMID = mid
	p.applyOverlayLocked(ctx, branch.entries())
	p.pending = append(p.pending, &pending{
		ephemeralID: ephemeralID,
		mutationID:  mid,
		namespace:   namespace,
		name:        name,
		args:        args,
	})
	p.mu.Unlock()

	p.tracker.MutationIDAssigned(ephemeralID, p.clientID, mid)
	clientCh <- nil
	close(clientCh)

	go p.forwardSettlement(ephemeralID, rawServerCh, serverCh)
	return Handle{Client: clientCh, Server: serverCh}
}

// forwardSettlement relays the tracker's one-shot settlement channel to
// the caller-visible channel, removing the mutation from pending first so
// a concurrent Rebase never replays an already-settled mutator.
func (p *Pipeline) forwardSettlement(ephemeralID string, raw <-chan mutation.Result, out chan<- mutation.Result) {
	res := <-raw
	p.mu.Lock()
	for i, pm := range p.pending {
		if pm.ephemeralID == ephemeralID {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	out <- res
	close(out)
}

// applyOverlayLocked diffs entries against p.live and pushes the delta
// into the matching table's IVM Source, then records entries as the new
// live optimistic state for that key. Must be called with p.mu held.
func (p *Pipeline) applyOverlayLocked(ctx context.Context, entries []*overlayEntry) {
	for _, e := range entries {
		key := rowKey(e.table, e.pk)
		prev := p.live[key]
		p.pushDeltaLocked(ctx, e.table, prev, e)
		if e.deleted {
			delete(p.live, key)
		} else {
			p.live[key] = e
		}
	}
}

func (p *Pipeline) pushDeltaLocked(ctx context.Context, table string, prev, next *overlayEntry) {
	src, ok := p.sources[table]
	if !ok {
		return
	}
	switch {
	case prev == nil && !next.deleted:
		_ = src.Apply(ctx, changestream.DataMessage{Op: changestream.OpInsert, Table: table, New: next.row})
	case prev != nil && !prev.deleted && next.deleted:
		_ = src.Apply(ctx, changestream.DataMessage{Op: changestream.OpDelete, Table: table, Old: prev.row})
	case prev != nil && !prev.deleted && !next.deleted:
		_ = src.Apply(ctx, changestream.DataMessage{Op: changestream.OpUpdate, Table: table, Old: prev.row, New: next.row})
	case (prev == nil || prev.deleted) && !next.deleted:
		_ = src.Apply(ctx, changestream.DataMessage{Op: changestream.OpInsert, Table: table, New: next.row})
	}
}

// Rebase discards the current optimistic overlay and replays every
// still-outstanding mutator against fresh main state, in the order the
// mutations were originally issued. Call this whenever a poke lands while
// Outstanding() > 0: main has moved, and the old optimistic rows computed
// against stale main are no longer valid (spec.md §9).
func (p *Pipeline) Rebase(ctx context.Context) error {
	p.mu.Lock()
	stale := p.live
	p.live = make(map[string]*overlayEntry)
	pendingSnapshot := append([]*pending(nil), p.pending...)
	p.mu.Unlock()

	// Retract every stale optimistic row from main before replaying, so a
	// mutator that no longer touches a previously-written key doesn't
	// leave a phantom edit behind.
	p.mu.Lock()
	for _, e := range stale {
		src, ok := p.sources[e.table]
		if !ok || e.deleted {
			continue
		}
		_ = src.Apply(ctx, changestream.DataMessage{Op: changestream.OpDelete, Table: e.table, Old: e.row})
	}
	p.mu.Unlock()

	for _, pm := range pendingSnapshot {
		fn, ok := p.registry.lookup(pm.namespace, pm.name)
		if !ok {
			continue
		}
		branch := newBranch(ctx, p.store)
		if err := fn(ctx, branch, pm.args); err != nil {
			// A mutator that fails against the new main is skipped: its
			// writes are not re-applied and nothing is reported to the
			// tracker. The server-side push for this mutation ID still
			// resolves the caller's Handle.Server independently.
			continue
		}
		p.mu.Lock()
		p.applyOverlayLocked(ctx, branch.entries())
		p.mu.Unlock()
	}
	return nil
}

// Outstanding reports how many mutations are still optimistically applied
// but not yet settled by the server.
func (p *Pipeline) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// marshalRow is a small helper kept for callers that need to persist a
// Branch write directly into the local store outside of the IVM push path
// (e.g. seeding a table before any Source exists for it in tests).
func marshalRow(row changestream.Row) (string, error) {
	b, err := json.Marshal(row)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
