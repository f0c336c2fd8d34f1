// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package localstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb, "client-group-1")
}

func TestGetSetDel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "issue/1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, "issue/1", `{"id":"1"}`))
	v, ok, err := s.Get(ctx, "issue/1")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"id":"1"}`, v)

	require.NoError(t, s.Del(ctx, "issue/1"))
	_, ok, err = s.Get(ctx, "issue/1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestScanRangeOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "issue/b", "{}"))
	require.NoError(t, s.Set(ctx, "issue/a", "{}"))
	require.NoError(t, s.Set(ctx, "issue/c", "{}"))
	require.NoError(t, s.Set(ctx, "comment/z", "{}"))

	keys, err := s.ScanRange(ctx, "issue/")
	require.NoError(t, err)
	require.Equal(t, []string{"issue/a", "issue/b", "issue/c"}, keys)
}

func TestApplyBatchWritesAllPatchesAndNotifies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "issue/2", `{"id":"2"}`))

	var seen []string
	unsub := s.ExperimentalWatch("issue/", func(ctx context.Context, key, value string, deleted bool) error {
		seen = append(seen, key)
		return nil
	})
	defer unsub()

	require.NoError(t, s.ApplyBatch(ctx, []Patch{
		{Key: "issue/1", Value: `{"id":"1"}`},
		{Key: "issue/2", Deleted: true},
	}))

	v, ok, err := s.Get(ctx, "issue/1")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"id":"1"}`, v)

	_, ok, err = s.Get(ctx, "issue/2")
	require.NoError(t, err)
	require.False(t, ok)

	require.Equal(t, []string{"issue/1", "issue/2"}, seen)
}

func TestApplyBatchNoopOnEmptyInput(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.ApplyBatch(context.Background(), nil))
}

func TestExperimentalWatchReceivesNotifications(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var seen []string
	unsub := s.ExperimentalWatch("issue/", func(ctx context.Context, key, value string, deleted bool) error {
		seen = append(seen, key)
		return nil
	})
	defer unsub()

	require.NoError(t, s.SetAndNotify(ctx, "issue/1", `{"id":"1"}`))
	require.NoError(t, s.DelAndNotify(ctx, "issue/1"))

	require.Equal(t, []string{"issue/1", "issue/1"}, seen)
}
