// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package poke

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/zerosync/zero/internal/zero/localstore"
	"github.com/zerosync/zero/internal/zero/mutation"
)

func newTestHandler(t *testing.T) (*Handler, *localstore.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := localstore.New(rdb, "cg-1")

	tracker := mutation.New(nil)
	h := New(store, tracker, func(clientID string, lmid int64) {})
	return h, store
}

func TestPokeAssemblyAppliesRows(t *testing.T) {
	h, store := newTestHandler(t)
	ctx := context.Background()

	h.HandleStart(Start{PokeID: "p1", BaseCookie: "0"})
	require.NoError(t, h.HandlePart(Part{
		PokeID: "p1",
		RowsPatch: []RowPatch{
			{Key: "issue/1", Value: `{"id":"1"}`},
		},
		LastMutationIDChanges: map[string]int64{"client-1": 3},
	}))
	require.NoError(t, h.HandleEnd(End{PokeID: "p1", Cookie: "1"}))

	require.NoError(t, h.Drain(ctx))

	v, ok, err := store.Get(ctx, "issue/1")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"id":"1"}`, v)
}

func TestPokePartMismatchedIDIsProtocolError(t *testing.T) {
	h, _ := newTestHandler(t)
	h.HandleStart(Start{PokeID: "p1", BaseCookie: "0"})
	err := h.HandlePart(Part{PokeID: "wrong"})
	require.Error(t, err)
}

func TestPokeCancelDiscardsBuffer(t *testing.T) {
	h, store := newTestHandler(t)
	ctx := context.Background()

	h.HandleStart(Start{PokeID: "p1", BaseCookie: "0"})
	require.NoError(t, h.HandlePart(Part{PokeID: "p1", RowsPatch: []RowPatch{{Key: "issue/1", Value: `{}`}}}))
	require.NoError(t, h.HandleEnd(End{PokeID: "p1", Cancel: true}))

	require.NoError(t, h.Drain(ctx))
	_, ok, err := store.Get(ctx, "issue/1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCookieGapIsProtocolError(t *testing.T) {
	h, _ := newTestHandler(t)

	h.HandleStart(Start{PokeID: "p1", BaseCookie: "0"})
	require.NoError(t, h.HandleEnd(End{PokeID: "p1", Cookie: "1"}))

	h.HandleStart(Start{PokeID: "p2", BaseCookie: "99"})
	err := h.HandleEnd(End{PokeID: "p2", Cookie: "100"})
	require.Error(t, err)
}
