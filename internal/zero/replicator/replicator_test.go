// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package replicator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zerosync/zero/internal/zero/changestream"
)

func TestApplyInsertUpdateDelete(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "replica.sqlite")
	r, err := Open(dbPath)
	require.NoError(t, err)
	defer r.Close()

	ctx := context.Background()
	require.NoError(t, r.EnsureTable(ctx, "issue", []string{"id"}))

	require.NoError(t, r.Apply(ctx, []changestream.Message{
		changestream.Begin(),
		changestream.Insert("issue", changestream.Row{"id": "1", "title": "first"}),
		changestream.Commit("00000000000000010000001"),
	}))
	require.Equal(t, "00000000000000010000001", string(r.Watermark()))

	require.NoError(t, r.Apply(ctx, []changestream.Message{
		changestream.Begin(),
		changestream.Update("issue", changestream.Row{"id": "1", "title": "first"}, changestream.Row{"id": "1", "title": "second"}),
		changestream.Commit("00000000000000020000001"),
	}))
	require.Equal(t, "00000000000000020000001", string(r.Watermark()))

	require.NoError(t, r.Apply(ctx, []changestream.Message{
		changestream.Begin(),
		changestream.Delete("issue", changestream.Row{"id": "1"}),
		changestream.Commit("00000000000000030000001"),
	}))
}

func TestCopyRowWritesOutsideChangeStream(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "replica.sqlite")
	r, err := Open(dbPath)
	require.NoError(t, err)
	defer r.Close()

	ctx := context.Background()
	require.NoError(t, r.EnsureTable(ctx, "issue", []string{"id"}))
	require.NoError(t, r.CopyRow(ctx, "issue", changestream.Row{"id": "9", "title": "copied"}))
	require.NoError(t, r.CopyRow(ctx, "issue", changestream.Row{"id": "9", "title": "copied again"}))

	var count int
	require.NoError(t, r.db.QueryRowContext(ctx, `SELECT count(*) FROM issue`).Scan(&count))
	require.Equal(t, 1, count)
}
