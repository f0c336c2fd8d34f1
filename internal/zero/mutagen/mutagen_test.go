// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package mutagen

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/zerosync/zero/internal/platform/apperr"
)

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Register("issue", "setTitle", func(ctx context.Context, tx pgx.Tx, args []any) (any, error) {
		called = true
		return nil, nil
	})

	fn, ok := r.lookup("issue", "setTitle")
	require.True(t, ok)
	_, err := fn(context.Background(), nil, nil)
	require.NoError(t, err)
	require.True(t, called)

	_, ok = r.lookup("issue", "missing")
	require.False(t, ok)
}

func TestUnwrapMessageReturnsInnermost(t *testing.T) {
	inner := errors.New("boom")
	wrapped := apperr.NewAppMutation(inner)
	require.Equal(t, "boom", unwrapMessage(wrapped))
}

// TestProcessBatchAgainstLiveDB exercises the full LMID compare-and-swap and
// error-mode retry loop against a real shard schema. It is skipped unless
// ZERO_TEST_DATABASE_URL points at a reachable Postgres instance, since
// running it requires the shard's clients/mutations tables to exist.
func TestProcessBatchAgainstLiveDB(t *testing.T) {
	dsn := os.Getenv("ZERO_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("ZERO_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	const schema = "mutagen_test"
	_, err = pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+schema+`.clients(
		client_group_id text, client_id text, last_mutation_id bigint,
		PRIMARY KEY (client_group_id, client_id))`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+schema+`.mutations(
		client_group_id text, client_id text, mutation_id bigint, result jsonb,
		PRIMARY KEY (client_group_id, client_id, mutation_id))`)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
	})

	registry := NewRegistry()
	registry.Register("issue", "fail", func(ctx context.Context, tx pgx.Tx, args []any) (any, error) {
		return nil, errors.New("mutator blew up")
	})
	registry.Register("issue", "ok", func(ctx context.Context, tx pgx.Tx, args []any) (any, error) {
		return "done", nil
	})

	proc := New(pool, schema, registry)

	results := proc.ProcessBatch(ctx, "cg1", []Mutation{
		{ClientID: "c1", MutationID: 1, Namespace: "issue", Name: "ok"},
		{ClientID: "c1", MutationID: 2, Namespace: "issue", Name: "fail"},
		{ClientID: "c1", MutationID: 1, Namespace: "issue", Name: "ok"}, // replayed
		{ClientID: "c1", MutationID: 9, Namespace: "issue", Name: "ok"}, // out of order
	})

	require.Len(t, results, 4)
	require.Equal(t, "", results[0].Error)
	require.Equal(t, "app", results[1].Error)
	require.Equal(t, "alreadyProcessed", results[2].Error)
	require.Equal(t, "oooMutation", results[3].Error)
}
