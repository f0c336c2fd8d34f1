// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package purger

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

func TestPassDeletesStaleCVRs(t *testing.T) {
	dsn := os.Getenv("ZERO_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("ZERO_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	const schema = "purger_test"
	_, err = pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+schema+`.instances(
		client_group_id text PRIMARY KEY, last_active timestamptz NOT NULL)`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+schema+`.rows_version(
		client_group_id text, table_name text, pk text, version bigint)`)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
	})

	_, err = pool.Exec(ctx, `INSERT INTO `+schema+`.instances(client_group_id, last_active) VALUES
		('stale1', now() - interval '2 days'),
		('stale2', now() - interval '3 days'),
		('fresh1', now())`)
	require.NoError(t, err)

	p := New(Config{Pool: pool, Schema: schema, Logger: slog.New(slog.NewTextHandler(os.Stdout, nil)), InactivityThreshold: 24 * time.Hour})
	p.maxPerPass = 1

	purged, remaining, err := p.Pass(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, purged)
	require.Equal(t, 1, remaining)

	purged, remaining, err = p.Pass(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, purged)
	require.Equal(t, 0, remaining)

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM `+schema+`.instances`).Scan(&count))
	require.Equal(t, 1, count) // fresh1 survives
}
