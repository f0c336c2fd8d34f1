// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package client

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/zerosync/zero/internal/zero/changestream"
	"github.com/zerosync/zero/internal/zero/ivm"
	"github.com/zerosync/zero/internal/zero/localstore"
	"github.com/zerosync/zero/internal/zero/mutation"
)

func newTestStore(t *testing.T) *localstore.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return localstore.New(rdb, "test-group")
}

func TestPipelineMutateAppliesOptimistically(t *testing.T) {
	store := newTestStore(t)
	source := ivm.NewSource("todos", []string{"id"}, map[string]ivm.ColumnType{
		"id":   ivm.ColString,
		"text": ivm.ColString,
	})
	var pushed []ivm.Change
	source.SetOutput(ivm.OutputFunc(func(_ context.Context, c ivm.Change) error {
		pushed = append(pushed, c)
		return nil
	}))

	registry := NewRegistry()
	registry.Register("todo", "create", func(ctx context.Context, tx *Branch, args []any) error {
		id := args[0].(string)
		tx.Mutate("todos", id, changestream.Row{"id": id, "text": "buy milk"})
		return nil
	})

	tracker := mutation.New(nil)
	p := New(store, map[string]*ivm.Source{"todos": source}, tracker, registry, "client-1")

	h := p.Mutate(context.Background(), "todo", "create", []any{"t1"})
	require.NoError(t, <-h.Client)
	require.Equal(t, 1, p.Outstanding())
	require.Len(t, pushed, 1)
	require.Equal(t, ivm.ChangeAdd, pushed[0].Kind)
}

func TestPipelineMutateUnknownMutatorRejectsImmediately(t *testing.T) {
	store := newTestStore(t)
	registry := NewRegistry()
	tracker := mutation.New(nil)
	p := New(store, nil, tracker, registry, "client-1")

	h := p.Mutate(context.Background(), "todo", "missing", nil)
	require.Error(t, <-h.Client)
	res := <-h.Server
	require.Error(t, res.Err)
	require.Equal(t, 0, p.Outstanding())
}

func TestPipelineRebaseReplaysPendingMutators(t *testing.T) {
	store := newTestStore(t)
	source := ivm.NewSource("todos", []string{"id"}, map[string]ivm.ColumnType{
		"id":   ivm.ColString,
		"done": ivm.ColString,
	})
	var events []ivm.Change
	source.SetOutput(ivm.OutputFunc(func(_ context.Context, c ivm.Change) error {
		events = append(events, c)
		return nil
	}))

	calls := 0
	registry := NewRegistry()
	registry.Register("todo", "toggle", func(ctx context.Context, tx *Branch, args []any) error {
		calls++
		id := args[0].(string)
		tx.Mutate("todos", id, changestream.Row{"id": id, "done": "true"})
		return nil
	})

	tracker := mutation.New(nil)
	p := New(store, map[string]*ivm.Source{"todos": source}, tracker, registry, "client-1")

	h := p.Mutate(context.Background(), "todo", "toggle", []any{"t1"})
	<-h.Client
	require.Equal(t, 1, calls)

	require.NoError(t, p.Rebase(context.Background()))
	require.Equal(t, 2, calls, "rebase must replay the still-outstanding mutator")
	require.Equal(t, 1, p.Outstanding(), "rebase does not settle pending mutations itself")
}
