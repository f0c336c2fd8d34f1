package pgsource

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/zerosync/zero/internal/zero/changestream"
)

// RowSink receives every row copied during InitialSync, table by table.
type RowSink interface {
	CopyRow(ctx context.Context, table string, row changestream.Row) error
}

// InitialSync atomically copies the full contents of every published table
// into sink using up to cfg.TableCopyWorkers parallel connections,
// partitioning large tables by row count (spec.md §4.1 initialSync). It
// records the replica's starting watermark by reading the transaction
// snapshot's LSN before the copy begins — the caller is expected to start
// streaming from that watermark immediately afterward.
func (s *ChangeSource) InitialSync(ctx context.Context, sink RowSink) (startWatermark string, err error) {
	tables, err := s.publishedTables(ctx)
	if err != nil {
		return "", err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("pgsource: initial sync begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var lsn string
	if err := tx.QueryRow(ctx, `SELECT pg_current_wal_lsn()::text`).Scan(&lsn); err != nil {
		return "", fmt.Errorf("pgsource: reading snapshot LSN: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.cfg.TableCopyWorkers))

	for _, table := range tables {
		table := table
		g.Go(func() error {
			return s.copyTable(gctx, table, sink)
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("pgsource: initial sync commit: %w", err)
	}
	return lsn, nil
}

func (s *ChangeSource) publishedTables(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT schemaname || '.' || tablename
		FROM pg_publication_tables WHERE pubname = ANY($1)`, s.cfg.Publications)
	if err != nil {
		return nil, fmt.Errorf("pgsource: listing published tables: %w", err)
	}
	defer rows.Close()
	var tables []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// copyTable streams one table's rows into sink, partitioning by
// cfg.TableCopyRowsPerPart via keyset pagination on ctid so a single large
// table does not monopolize one connection for the whole sync.
func (s *ChangeSource) copyTable(ctx context.Context, table string, sink RowSink) error {
	partSize := s.cfg.TableCopyRowsPerPart
	if partSize <= 0 {
		partSize = 50_000
	}

	var lastCtid string
	for {
		query := fmt.Sprintf(`SELECT ctid::text, row_to_json(t) FROM %s t`, table)
		if lastCtid != "" {
			query += fmt.Sprintf(` WHERE ctid > '%s'::tid`, lastCtid)
		}
		query += fmt.Sprintf(` ORDER BY ctid LIMIT %d`, partSize)

		rows, err := s.pool.Query(ctx, query)
		if err != nil {
			return fmt.Errorf("pgsource: copying %s: %w", table, err)
		}

		count := 0
		for rows.Next() {
			var ctid string
			var doc map[string]any
			if err := rows.Scan(&ctid, &doc); err != nil {
				rows.Close()
				return err
			}
			lastCtid = ctid
			count++
			if err := sink.CopyRow(ctx, table, changestream.Row(doc)); err != nil {
				rows.Close()
				return err
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if count < partSize {
			return nil // exhausted the table
		}
	}
}
