// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package purger implements the CVR Purger (spec.md §4.8): an adaptive-rate
background sweep that deletes client view records whose last activity
predates an inactivity threshold. It runs with exponential sleep between
passes and never competes with a live view syncer, since both take
`FOR UPDATE` on the same `instances` row.
*/
package purger

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	minSleep = 1 * time.Minute
	maxSleep = 16 * time.Minute

	defaultMaxPerPurge   = 100
	maxPerPurgeIncrement = 50
)

// Config configures one shard's purger.
type Config struct {
	Pool               *pgxpool.Pool
	Schema             string
	Logger             *slog.Logger
	InactivityThreshold time.Duration
}

// Purger periodically garbage-collects inactive CVRs.
type Purger struct {
	pool       *pgxpool.Pool
	schema     string
	log        *slog.Logger
	threshold  time.Duration
	maxPerPass int
}

// New builds a Purger from cfg, defaulting InactivityThreshold to 24h if
// unset.
func New(cfg Config) *Purger {
	threshold := cfg.InactivityThreshold
	if threshold == 0 {
		threshold = 24 * time.Hour
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Purger{
		pool:       cfg.Pool,
		schema:     cfg.Schema,
		log:        log,
		threshold:  threshold,
		maxPerPass: defaultMaxPerPurge,
	}
}

// Run loops passes until ctx is cancelled, sleeping adaptively between
// them: at the minimum interval whenever the previous pass left purgeable
// rows behind, doubling up to the maximum otherwise.
func (p *Purger) Run(ctx context.Context) error {
	sleep := minSleep
	lastRemaining := 0
	for {
		purged, remaining, err := p.Pass(ctx)
		if err != nil {
			p.log.ErrorContext(ctx, "cvr purge pass failed", "error", err)
		} else {
			p.log.InfoContext(ctx, "cvr purge pass complete", "purged", purged, "remaining", remaining, "max_per_pass", p.maxPerPass)
			if remaining > lastRemaining {
				p.maxPerPass += maxPerPurgeIncrement
			}
			lastRemaining = remaining
		}

		if remaining > 0 {
			sleep = minSleep
		} else {
			sleep *= 2
			if sleep > maxSleep {
				sleep = maxSleep
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// Pass runs a single purge: it selects up to maxPerPass candidate client
// groups ordered by lastActive ascending with FOR UPDATE SKIP LOCKED (so
// rows a live syncer currently holds FOR UPDATE are skipped rather than
// blocked on), deletes them, and reports how many purgeable rows remain
// beyond what this pass consumed.
func (p *Purger) Pass(ctx context.Context) (purged int, remaining int, err error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback(ctx)

	cutoff := time.Now().Add(-p.threshold)

	rows, err := tx.Query(ctx,
		`SELECT client_group_id FROM `+p.schema+`.instances
		 WHERE last_active < $1
		 ORDER BY last_active ASC
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`, cutoff, p.maxPerPass)
	if err != nil {
		return 0, 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	for _, id := range ids {
		if _, err := tx.Exec(ctx, `DELETE FROM `+p.schema+`.rows_version WHERE client_group_id = $1`, id); err != nil {
			return 0, 0, err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM `+p.schema+`.instances WHERE client_group_id = $1`, id); err != nil {
			return 0, 0, err
		}
	}

	var total int
	if err := tx.QueryRow(ctx,
		`SELECT count(*) FROM `+p.schema+`.instances WHERE last_active < $1`, cutoff).Scan(&total); err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return len(ids), total, nil
}
