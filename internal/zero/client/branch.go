// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package client implements the client-side mutation pipeline (spec.md §1
item 3, §4.4, §9 "Rebase in a garbage-collected source to an owned
target"): optimistic mutations are applied to a copy-on-write branch over
the main IVM sources, tracked through ephemeral and authoritative IDs, and
rebased against main whenever server state advances while mutations remain
outstanding.
*/
package client

import (
	"context"
	"encoding/json"

	"github.com/zerosync/zero/internal/zero/changestream"
	"github.com/zerosync/zero/internal/zero/localstore"
)

// rowKey is the local-store key for one table row.
func rowKey(table, pk string) string { return table + "/" + pk }

// overlayEntry is one pending write recorded by a mutator running against
// a Branch, prior to being diffed against the previous optimistic state
// and pushed into the IVM.
type overlayEntry struct {
	table   string
	pk      string
	row     changestream.Row
	deleted bool
}

// Branch is the copy-on-write view a Mutator sees: reads fall through to
// the committed main state (the local store) unless shadowed by a write
// already recorded on this branch, giving the mutator immediate
// read-your-writes without ever touching main until the branch commits
// (spec.md §9: "the contract the mutator sees — mutate + query with
// immediate read-your-writes — must be preserved").
type Branch struct {
	ctx     context.Context
	store   *localstore.Store
	overlay map[string]*overlayEntry
	order   []string
}

func newBranch(ctx context.Context, store *localstore.Store) *Branch {
	return &Branch{ctx: ctx, store: store, overlay: make(map[string]*overlayEntry)}
}

// Query reads one row by table and primary key, preferring this branch's
// own uncommitted writes over main.
func (b *Branch) Query(table, pk string) (changestream.Row, bool) {
	key := rowKey(table, pk)
	if e, ok := b.overlay[key]; ok {
		if e.deleted {
			return nil, false
		}
		return e.row.Clone(), true
	}
	raw, ok, err := b.store.Get(b.ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	var row changestream.Row
	if json.Unmarshal([]byte(raw), &row) != nil {
		return nil, false
	}
	return row, true
}

// Mutate records an insert/update against table under pk. The write is
// visible to subsequent Query calls on this branch immediately but does
// not reach main until the pipeline commits the branch.
func (b *Branch) Mutate(table, pk string, row changestream.Row) {
	key := rowKey(table, pk)
	if _, exists := b.overlay[key]; !exists {
		b.order = append(b.order, key)
	}
	b.overlay[key] = &overlayEntry{table: table, pk: pk, row: row.Clone()}
}

// Delete records a row removal against table under pk.
func (b *Branch) Delete(table, pk string) {
	key := rowKey(table, pk)
	if _, exists := b.overlay[key]; !exists {
		b.order = append(b.order, key)
	}
	b.overlay[key] = &overlayEntry{table: table, pk: pk, deleted: true}
}

// entries returns this branch's writes in the order they were first made.
func (b *Branch) entries() []*overlayEntry {
	out := make([]*overlayEntry, 0, len(b.order))
	for _, key := range b.order {
		out = append(out, b.overlay[key])
	}
	return out
}
