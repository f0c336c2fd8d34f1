// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package cvr implements the client view record / view syncer (spec.md §4,
"CVR / View Syncer"): the server-side record of what one client group has
asked for, what it has been given, and the row versions it has seen, kept
consistent under concurrent CVR updates and the purger via
`SELECT ... FOR UPDATE`.
*/
package cvr

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// QueryRef is one entry of a CVR's desired or got query set.
type QueryRef struct {
	Hash string
	TTL  time.Duration
}

// Record is the in-memory projection of one client group's CVR row.
type Record struct {
	ClientGroupID string
	LastActive    time.Time
	Desired       map[string]QueryRef
	Got           map[string]QueryRef
	RowVersions   map[string]int64          // "table\x1fpk" -> version
	LMIDs         map[string]int64          // clientID -> lastMutationID
}

// Store is the Postgres-backed CVR store.
type Store struct {
	pool   *pgxpool.Pool
	schema string
}

// New builds a Store against the given shard schema.
func New(pool *pgxpool.Pool, schema string) *Store {
	return &Store{pool: pool, schema: schema}
}

// LoadForUpdate reads a client group's CVR row with SELECT ... FOR UPDATE,
// creating it if absent, and must be called inside an active transaction
// so the lock is held for the duration of the syncer's diff+hydrate pass —
// this is the discipline that keeps the purger's FOR UPDATE SKIP LOCKED
// pass from colliding with a live syncer (spec.md §5 "Locking discipline").
func (s *Store) LoadForUpdate(ctx context.Context, tx pgx.Tx, clientGroupID string) (*Record, error) {
	row := tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT last_active FROM %s.instances WHERE client_group_id = $1 FOR UPDATE`, s.schema), clientGroupID)

	var lastActive time.Time
	err := row.Scan(&lastActive)
	if err != nil {
		if _, insertErr := tx.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %s.instances(client_group_id, last_active) VALUES ($1, now())
			 ON CONFLICT (client_group_id) DO NOTHING`, s.schema), clientGroupID); insertErr != nil {
			return nil, fmt.Errorf("cvr: creating instance row: %w", insertErr)
		}
		lastActive = time.Now()
	}

	rec := &Record{
		ClientGroupID: clientGroupID,
		LastActive:    lastActive,
		Desired:       map[string]QueryRef{},
		Got:           map[string]QueryRef{},
		RowVersions:   map[string]int64{},
		LMIDs:         map[string]int64{},
	}
	return rec, nil
}

// Diff computes the set-difference between desired and got query hashes,
// the driving input for a hydration pass: hashes present in desired but
// absent from got need their rows fetched and patched to the client;
// hashes absent from desired but present in got need their rows removed.
func Diff(desired, got map[string]QueryRef) (toHydrate, toRemove []string) {
	for hash := range desired {
		if _, ok := got[hash]; !ok {
			toHydrate = append(toHydrate, hash)
		}
	}
	for hash := range got {
		if _, ok := desired[hash]; !ok {
			toRemove = append(toRemove, hash)
		}
	}
	return toHydrate, toRemove
}

// Touch updates a CVR's lastActive timestamp. The push endpoint calls it
// for every push request (spec.md §3 "Lifecycles").
func (s *Store) Touch(ctx context.Context, clientGroupID string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s.instances SET last_active = now() WHERE client_group_id = $1`, s.schema), clientGroupID)
	if err != nil {
		return fmt.Errorf("cvr: touch %s: %w", clientGroupID, err)
	}
	return nil
}
