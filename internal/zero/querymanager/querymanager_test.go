// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package querymanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSizer struct{ n int }

func (f *fakeSizer) Size() int { return f.n }

func TestAddEnqueuesPutOnce(t *testing.T) {
	var flushed []PatchOp
	m, err := New(Config{
		Mutations:               &fakeSizer{},
		QueryChangeThrottle:     time.Millisecond,
		RecentQueriesMaxEntries: 8,
		OnFlush:                 func(p []PatchOp) { flushed = append(flushed, p...) },
	})
	require.NoError(t, err)

	gotStates := []bool{}
	unsub1 := m.AddLegacy("hash-1", "ast", time.Minute, func(got bool) { gotStates = append(gotStates, got) })
	unsub2 := m.AddLegacy("hash-1", "ast", time.Minute, nil)

	time.Sleep(5 * time.Millisecond)
	require.Len(t, flushed, 1)
	require.Equal(t, "put", flushed[0].Op)
	require.Equal(t, []bool{false}, gotStates)

	unsub1()
	unsub2()
}

func TestTTLClampedToMax(t *testing.T) {
	var flushed []PatchOp
	m, err := New(Config{
		QueryChangeThrottle:     time.Millisecond,
		RecentQueriesMaxEntries: 8,
		OnFlush:                 func(p []PatchOp) { flushed = append(flushed, p...) },
	})
	require.NoError(t, err)

	m.AddLegacy("hash-1", "ast", time.Hour, nil)
	time.Sleep(5 * time.Millisecond)
	require.Equal(t, MaxQueryTTL, flushed[0].TTL)
}

func TestReleaseDeferredWhileMutationsOutstanding(t *testing.T) {
	sizer := &fakeSizer{n: 1}
	var flushed []PatchOp
	m, err := New(Config{
		Mutations:               sizer,
		QueryChangeThrottle:     time.Millisecond,
		RecentQueriesMaxEntries: 8,
		OnFlush:                 func(p []PatchOp) { flushed = append(flushed, p...) },
	})
	require.NoError(t, err)

	unsub := m.AddLegacy("hash-1", "ast", time.Minute, nil)
	time.Sleep(5 * time.Millisecond)
	flushed = nil

	unsub()
	time.Sleep(5 * time.Millisecond)
	require.Empty(t, flushed, "del should be deferred while mutations are outstanding")

	sizer.n = 0
	m.FlushDeferredDeletes()
	time.Sleep(5 * time.Millisecond)
	require.Len(t, flushed, 1)
	require.Equal(t, "del", flushed[0].Op)
}
