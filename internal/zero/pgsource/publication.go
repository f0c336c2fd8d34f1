package pgsource

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zerosync/zero/internal/platform/apperr"
)

// reservedVersionColumn is never allowed as a real column name: it is
// where the shard's row-version bookkeeping lives.
const reservedVersionColumn = "_0_version"

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidatePublications checks that every publication in pubs publishes
// insert/update/delete/truncate, rejects the reserved version column and
// disallowed identifier characters, and ensures every published table has
// a REPLICA IDENTITY that carries its primary key — fixing it via `ALTER
// TABLE ... REPLICA IDENTITY USING INDEX` when a suitable unique index
// exists (spec.md §4.1 "Publication validation").
func ValidatePublications(ctx context.Context, pool *pgxpool.Pool, pubs []string) error {
	for _, pub := range pubs {
		var insert, update, delete_, truncate bool
		row := pool.QueryRow(ctx, `
			SELECT pubinsert, pubupdate, pubdelete, pubtruncate
			FROM pg_publication WHERE pubname = $1`, pub)
		if err := row.Scan(&insert, &update, &delete_, &truncate); err != nil {
			return fmt.Errorf("pgsource: publication %q: %w", pub, err)
		}
		if !insert || !update || !delete_ || !truncate {
			return apperr.NewUnsupportedSchemaChange(fmt.Sprintf("publication %q must publish insert, update, delete, and truncate", pub))
		}

		rows, err := pool.Query(ctx, `
			SELECT schemaname, tablename FROM pg_publication_tables WHERE pubname = $1`, pub)
		if err != nil {
			return fmt.Errorf("pgsource: listing tables for publication %q: %w", pub, err)
		}
		var tables [][2]string
		for rows.Next() {
			var schema, table string
			if err := rows.Scan(&schema, &table); err != nil {
				rows.Close()
				return err
			}
			tables = append(tables, [2]string{schema, table})
		}
		rows.Close()

		for _, st := range tables {
			schema, table := st[0], st[1]
			if !validIdentifier.MatchString(table) || !validIdentifier.MatchString(schema) {
				return apperr.NewUnsupportedTableSchema(schema+"."+table, "table/schema name contains disallowed characters")
			}
			if err := checkReservedColumn(ctx, pool, schema, table); err != nil {
				return err
			}
			if err := ensureReplicaIdentity(ctx, pool, schema, table); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkReservedColumn(ctx context.Context, pool *pgxpool.Pool, schema, table string) error {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = $1 AND table_name = $2 AND column_name = $3)`,
		schema, table, reservedVersionColumn).Scan(&exists)
	if err != nil {
		return fmt.Errorf("pgsource: checking reserved column on %s.%s: %w", schema, table, err)
	}
	if exists {
		return apperr.NewUnsupportedTableSchema(schema+"."+table, "column name "+reservedVersionColumn+" is reserved")
	}
	return nil
}

// ensureReplicaIdentity checks pg_class.relreplident; 'd' (default, i.e.
// the primary key) and 'f' (full) are acceptable, 'n' (nothing) is not.
// 'i' (a chosen index) is accepted as-is; we never second-guess an
// operator's explicit choice.
func ensureReplicaIdentity(ctx context.Context, pool *pgxpool.Pool, schema, table string) error {
	var replident string
	err := pool.QueryRow(ctx, `
		SELECT relreplident FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2`, schema, table).Scan(&replident)
	if err != nil {
		return fmt.Errorf("pgsource: reading replica identity of %s.%s: %w", schema, table, err)
	}
	if replident == "d" || replident == "f" || replident == "i" {
		return nil
	}

	var indexName string
	err = pool.QueryRow(ctx, `
		SELECT ix.relname FROM pg_index i
		JOIN pg_class ix ON ix.oid = i.indexrelid
		JOIN pg_class t ON t.oid = i.indrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE n.nspname = $1 AND t.relname = $2
		  AND i.indisunique AND NOT i.indisprimary
		  AND i.indpred IS NULL AND i.indislive
		LIMIT 1`, schema, table).Scan(&indexName)
	if err != nil {
		return apperr.NewUnsupportedTableSchema(schema+"."+table, "no primary key and no suitable unique index for REPLICA IDENTITY")
	}

	stmt := fmt.Sprintf("ALTER TABLE %s.%s REPLICA IDENTITY USING INDEX %s", schema, table, indexName)
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("pgsource: setting replica identity on %s.%s: %w", schema, table, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var got string
		if err := pool.QueryRow(ctx, `SELECT relreplident FROM pg_class c JOIN pg_namespace n ON n.oid = c.relnamespace WHERE n.nspname=$1 AND c.relname=$2`, schema, table).Scan(&got); err == nil && got == "i" {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}
