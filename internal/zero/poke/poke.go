// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package poke applies server-streamed poke messages to the local store and
IVM (spec.md §4.6): pokeStart/pokePart/pokeEnd assembly, frame-paced
merge-and-apply, and mutation-tracker/LMID forwarding.
*/
package poke

import (
	"context"
	"fmt"
	"sync"

	"github.com/zerosync/zero/internal/platform/apperr"
	"github.com/zerosync/zero/internal/zero/localstore"
	"github.com/zerosync/zero/internal/zero/mutation"
)

// Start is the first message of a poke.
type Start struct {
	PokeID         string
	BaseCookie     string
	SchemaVersions []string
}

// Part is zero or more per-poke deltas.
type Part struct {
	PokeID                  string
	LastMutationIDChanges   map[string]int64 // clientID -> lmid
	DesiredQueriesPatches   map[string]any
	GotQueriesPatch         map[string]bool
	RowsPatch               []RowPatch
	MutationsPatch          map[int64]mutation.Result
}

// RowPatch is one row-level change translated through the name mapper and
// PK encoder, ready to write into the local store.
type RowPatch struct {
	Key     string // e.g. "<table>/<pk>"
	Value   string // JSON-encoded row, empty for delete
	Deleted bool
}

// End closes a poke; Cancel discards everything accumulated for PokeID
// without applying it.
type End struct {
	PokeID string
	Cookie string
	Cancel bool
}

// buffer accumulates one or more merged pokes awaiting the next frame.
type buffer struct {
	pokeID       string
	baseCookie   string
	cookie       string
	lmidChanges  map[string]int64
	rows         []RowPatch
	mutations    map[int64]mutation.Result
}

// Handler owns the per-client poke assembly and apply loop.
type Handler struct {
	mu sync.Mutex

	store   *localstore.Store
	tracker *mutation.Tracker

	current *buffer // the in-progress pokeStart...pokeEnd
	queue   []*buffer

	onLmidAdvanced func(clientID string, lmid int64)
}

// New builds a Handler writing into store and forwarding mutation results
// to tracker.
func New(store *localstore.Store, tracker *mutation.Tracker, onLmidAdvanced func(clientID string, lmid int64)) *Handler {
	return &Handler{store: store, tracker: tracker, onLmidAdvanced: onLmidAdvanced}
}

// HandleStart begins assembling a new poke.
func (h *Handler) HandleStart(s Start) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = &buffer{pokeID: s.PokeID, baseCookie: s.BaseCookie, cookie: s.BaseCookie, lmidChanges: map[string]int64{}, mutations: map[int64]mutation.Result{}}
}

// HandlePart folds one part into the in-progress poke. A pokeID mismatch
// is a fatal protocol error: the buffer is cleared and the error returned.
func (h *Handler) HandlePart(p Part) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil || h.current.pokeID != p.PokeID {
		h.current = nil
		return apperr.NewPokeProtocol(fmt.Sprintf("pokePart for %q without matching pokeStart", p.PokeID))
	}
	for clientID, lmid := range p.LastMutationIDChanges {
		h.current.lmidChanges[clientID] = lmid
	}
	h.current.rows = append(h.current.rows, p.RowsPatch...)
	for mid, res := range p.MutationsPatch {
		h.current.mutations[mid] = res
	}
	return nil
}

// HandleEnd closes the in-progress poke. If cancelled, it is discarded;
// otherwise it is merged onto the pending queue (concatenating with the
// previous poke if their cookies chain) and left for the next Drain call.
func (h *Handler) HandleEnd(e End) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil || h.current.pokeID != e.PokeID {
		h.current = nil
		return apperr.NewPokeProtocol(fmt.Sprintf("pokeEnd for %q without matching pokeStart", e.PokeID))
	}
	cur := h.current
	h.current = nil
	if e.Cancel {
		return nil
	}
	cur.cookie = e.Cookie

	if len(h.queue) > 0 {
		prev := h.queue[len(h.queue)-1]
		if prev.cookie != cur.baseCookie {
			h.queue = nil
			return apperr.NewPokeProtocol(fmt.Sprintf("unexpected cookie gap: have %q, poke expects base %q", prev.cookie, cur.baseCookie))
		}
		prev.cookie = cur.cookie
		prev.rows = append(prev.rows, cur.rows...)
		for clientID, lmid := range cur.lmidChanges {
			prev.lmidChanges[clientID] = lmid
		}
		for mid, res := range cur.mutations {
			prev.mutations[mid] = res
		}
		return nil
	}
	h.queue = append(h.queue, cur)
	return nil
}

// Drain runs one merge-and-apply pass over every poke queued since the
// last Drain: a single atomic local-store write, mutation-tracker
// notification, and LMID-advance surfacing. It is meant to be invoked once
// per animation frame (or its server-side equivalent, a ticker). The handler
// mutex is held for the entire pass, so a pokePart/pokeEnd arriving mid-apply
// queues behind it rather than racing the store write and tracker notify
// (spec.md §5 "Locking discipline").
func (h *Handler) Drain(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	batch := h.queue
	h.queue = nil

	for _, b := range batch {
		if err := h.apply(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) apply(ctx context.Context, b *buffer) error {
	if len(b.rows) > 0 {
		patches := make([]localstore.Patch, len(b.rows))
		for i, row := range b.rows {
			patches[i] = localstore.Patch{Key: row.Key, Value: row.Value, Deleted: row.Deleted}
		}
		if err := h.store.ApplyBatch(ctx, patches); err != nil {
			return fmt.Errorf("poke: apply batch: %w", err)
		}
	}

	if h.tracker != nil {
		h.tracker.ProcessMutationResponses(b.mutations)
	}

	var maxClient string
	var maxLmid int64 = -1
	for clientID, lmid := range b.lmidChanges {
		if lmid > maxLmid {
			maxLmid = lmid
			maxClient = clientID
		}
		if h.tracker != nil {
			h.tracker.LmidAdvanced(lmid)
		}
	}
	if maxLmid >= 0 && h.onLmidAdvanced != nil {
		h.onLmidAdvanced(maxClient, maxLmid)
	}
	return nil
}

// Disconnected clears any in-progress or queued poke state; the next
// connection re-hydrates from scratch.
func (h *Handler) Disconnected() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = nil
	h.queue = nil
}
