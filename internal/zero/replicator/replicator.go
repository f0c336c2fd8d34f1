// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package replicator applies a changestream.Message stream to the per-client
SQLite replica and tracks the watermark that replica has caught up to
(spec.md §4. "Replicator"). It uses modernc.org/sqlite, a pure-Go driver,
so the client binary carries no cgo dependency.
*/
package replicator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/zerosync/zero/internal/zero/changestream"
	"github.com/zerosync/zero/internal/zero/watermark"
)

// Replicator owns one client's on-disk SQLite replica.
type Replicator struct {
	db        *sql.DB
	watermark watermark.Watermark
	pks       map[string][]string
}

// Open creates or attaches to the SQLite file at path and ensures the
// bookkeeping table that stores the replicated watermark exists.
func Open(path string) (*Replicator, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("replicator: open %s: %w", path, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS _zero_meta (key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("replicator: init metadata table: %w", err)
	}
	r := &Replicator{db: db, watermark: watermark.Zero, pks: make(map[string][]string)}

	row := db.QueryRow(`SELECT value FROM _zero_meta WHERE key = 'watermark'`)
	var w string
	if err := row.Scan(&w); err == nil {
		r.watermark = watermark.Watermark(w)
	}
	return r, nil
}

func (r *Replicator) Close() error { return r.db.Close() }

// Watermark returns the watermark this replica has fully applied through.
func (r *Replicator) Watermark() watermark.Watermark { return r.watermark }

// tableName returns the SQLite-safe table name for a (possibly
// schema-qualified) upstream table identifier.
func tableName(table string) string {
	out := make([]byte, 0, len(table))
	for i := 0; i < len(table); i++ {
		c := table[i]
		if c == '.' {
			out = append(out, '_')
			continue
		}
		out = append(out, c)
	}
	return string(out)
}

// EnsureTable creates the replica-side table for table if it does not
// already exist and records pk, the ordered primary-key column list, for
// later writes. Each row is stored as (pk, doc): the JSON-encoded
// primary-key values and the JSON-encoded row, so the replica never has to
// know the upstream column's SQL type.
func (r *Replicator) EnsureTable(ctx context.Context, table string, pk []string) error {
	name := tableName(table)
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (pk TEXT PRIMARY KEY, doc TEXT NOT NULL)`, name))
	if err != nil {
		return fmt.Errorf("replicator: ensure table %s: %w", table, err)
	}
	r.pks[table] = pk
	return nil
}

// CopyRow writes a single row during initial sync (pgsource.RowSink),
// outside of the change-stream's transaction framing — initial sync owns
// its own Postgres-side snapshot consistency, so each row here is just an
// independent upsert into the replica.
func (r *Replicator) CopyRow(ctx context.Context, table string, row changestream.Row) error {
	pk, ok := r.pks[table]
	if !ok {
		return fmt.Errorf("replicator: copy row into unknown table %s", table)
	}
	name := tableName(table)
	key, err := pkKey(row, pk)
	if err != nil {
		return err
	}
	doc, err := json.Marshal(row)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s(pk, doc) VALUES (?, ?) ON CONFLICT(pk) DO UPDATE SET doc = excluded.doc`, name),
		key, string(doc))
	return err
}

func pkKey(row changestream.Row, pk []string) (string, error) {
	key := make(map[string]any, len(pk))
	for _, col := range pk {
		key[col] = row[col]
	}
	b, err := json.Marshal(key)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Apply replays one transaction's worth of messages against the replica
// inside a single SQLite transaction, advancing the stored watermark only
// on Commit so a crash mid-transaction never leaves a partially-applied
// commit visible on restart.
func (r *Replicator) Apply(ctx context.Context, msgs []changestream.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replicator: begin: %w", err)
	}
	defer tx.Rollback()

	var newWatermark watermark.Watermark
	for _, msg := range msgs {
		switch msg.Kind {
		case changestream.KindData:
			pk, ok := r.pks[msg.Data.Table]
			if !ok {
				return fmt.Errorf("replicator: data for unknown table %s", msg.Data.Table)
			}
			if err := applyData(ctx, tx, msg.Data, pk); err != nil {
				return err
			}
		case changestream.KindCommit:
			newWatermark = msg.Watermark
		case changestream.KindControl:
			if msg.Control == changestream.ControlResetRequired {
				return fmt.Errorf("replicator: reset required mid-stream")
			}
		}
	}

	if newWatermark != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO _zero_meta(key, value) VALUES ('watermark', ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, string(newWatermark)); err != nil {
			return fmt.Errorf("replicator: persist watermark: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replicator: commit: %w", err)
	}
	if newWatermark != "" {
		r.watermark = newWatermark
	}
	return nil
}

func applyData(ctx context.Context, tx *sql.Tx, d changestream.DataMessage, pk []string) error {
	name := tableName(d.Table)
	switch d.Op {
	case changestream.OpInsert, changestream.OpUpdate:
		key, err := pkKey(d.New, pk)
		if err != nil {
			return err
		}
		doc, err := json.Marshal(d.New)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s(pk, doc) VALUES (?, ?) ON CONFLICT(pk) DO UPDATE SET doc = excluded.doc`, name),
			key, string(doc))
		return err
	case changestream.OpDelete:
		key, err := pkKey(d.Old, pk)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE pk = ?`, name), key)
		return err
	case changestream.OpTruncate:
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, name))
		return err
	}
	return nil
}
