// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package mutagen is the server-side mutation processor (spec.md §4.7,
"Mutation Processor (Server)" / PushProc): it runs each mutation in a push
request against the authoritative store, enforcing per-client LMID
monotonicity and app-error retry-in-error-mode semantics.
*/
package mutagen

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zerosync/zero/internal/platform/apperr"
)

// Mutation is one entry of a client's push request.
type Mutation struct {
	ClientID   string
	MutationID int64
	Namespace  string
	Name       string
	Args       []any
}

// MutationResult is one entry of the push response.
type MutationResult struct {
	ClientID   string
	MutationID int64
	Error      string // "", "alreadyProcessed", "oooMutation", "app"
	Details    string
	Data       any
}

// Mutator executes one named mutation against tx.
type Mutator func(ctx context.Context, tx pgx.Tx, args []any) (any, error)

// Registry resolves "namespace|name" to a Mutator.
type Registry struct {
	mutators map[string]Mutator
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry { return &Registry{mutators: make(map[string]Mutator)} }

// Register binds a mutator under namespace|name.
func (r *Registry) Register(namespace, name string, fn Mutator) {
	r.mutators[namespace+"|"+name] = fn
}

func (r *Registry) lookup(namespace, name string) (Mutator, bool) {
	fn, ok := r.mutators[namespace+"|"+name]
	return fn, ok
}

// Processor runs pushed mutations against pool using registry.
type Processor struct {
	pool     *pgxpool.Pool
	schema   string
	registry *Registry
}

// New builds a Processor against the shard schema's clients/mutations
// tables.
func New(pool *pgxpool.Pool, schema string, registry *Registry) *Processor {
	return &Processor{pool: pool, schema: schema, registry: registry}
}

// ProcessBatch runs each mutation in order, stopping at the first
// OutOfOrder (the client must retry from the first missing mid) but
// continuing past AlreadyProcessed and app errors.
func (p *Processor) ProcessBatch(ctx context.Context, clientGroupID string, muts []Mutation) []MutationResult {
	results := make([]MutationResult, 0, len(muts))
	for _, m := range muts {
		res, stop := p.processOne(ctx, clientGroupID, m)
		results = append(results, res)
		if stop {
			break
		}
	}
	return results
}

func (p *Processor) processOne(ctx context.Context, clientGroupID string, m Mutation) (MutationResult, bool) {
	res := MutationResult{ClientID: m.ClientID, MutationID: m.MutationID}

	data, err := p.runInTx(ctx, clientGroupID, m, false)
	switch {
	case errors.Is(err, apperr.ErrAlreadyProcessed):
		res.Error = "alreadyProcessed"
		res.Details = err.Error()
		return res, false
	case errors.Is(err, apperr.ErrOutOfOrder):
		res.Error = "oooMutation"
		res.Details = err.Error()
		return res, true
	case errors.Is(err, apperr.ErrAppMutation):
		// Retry in error mode: re-check/advance LMID, skip the mutator,
		// persist the app error, and surface that instead.
		_, retryErr := p.runInTx(ctx, clientGroupID, m, true)
		switch {
		case errors.Is(retryErr, apperr.ErrAlreadyProcessed):
			res.Error = "alreadyProcessed"
			res.Details = retryErr.Error()
			return res, false
		case errors.Is(retryErr, apperr.ErrOutOfOrder):
			res.Error = "oooMutation"
			res.Details = retryErr.Error()
			return res, true
		case retryErr != nil:
			// Unknown error on the error-mode retry propagates and stops
			// the batch per spec.md §4.7.
			res.Error = "app"
			res.Details = retryErr.Error()
			return res, true
		default:
			res.Error = "app"
			res.Details = unwrapMessage(err)
			return res, false
		}
	case err != nil:
		res.Error = "app"
		res.Details = err.Error()
		return res, true
	default:
		res.Data = data
		return res, false
	}
}

func unwrapMessage(err error) string {
	var inner error = err
	for {
		u := errors.Unwrap(inner)
		if u == nil {
			// apperr values unwrap to [sentinel, cause]; follow the cause.
			multi, ok := inner.(interface{ Unwrap() []error })
			if !ok || len(multi.Unwrap()) == 0 {
				return inner.Error()
			}
			errs := multi.Unwrap()
			u = errs[len(errs)-1]
		}
		inner = u
	}
}

// runInTx runs the four-step per-mutation loop from spec.md §4.7: begin,
// LMID compare-and-increment, dispatch (skipped in errorMode), commit.
func (p *Processor) runInTx(ctx context.Context, clientGroupID string, m Mutation, errorMode bool) (any, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("mutagen: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var lmid int64
	err = tx.QueryRow(ctx, fmt.Sprintf(
		`SELECT last_mutation_id FROM %s.clients WHERE client_group_id=$1 AND client_id=$2 FOR UPDATE`, p.schema),
		clientGroupID, m.ClientID).Scan(&lmid)
	if err != nil {
		lmid = 0
		if _, insErr := tx.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %s.clients(client_group_id, client_id, last_mutation_id) VALUES ($1,$2,0)
			 ON CONFLICT (client_group_id, client_id) DO NOTHING`, p.schema), clientGroupID, m.ClientID); insErr != nil {
			return nil, fmt.Errorf("mutagen: creating client row: %w", insErr)
		}
	}

	switch {
	case m.MutationID <= lmid:
		return nil, apperr.NewAlreadyProcessed(m.ClientID, m.MutationID, lmid)
	case m.MutationID > lmid+1:
		return nil, apperr.NewOutOfOrder(m.ClientID, m.MutationID, lmid+1)
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(
		`UPDATE %s.clients SET last_mutation_id=$1 WHERE client_group_id=$2 AND client_id=$3`, p.schema),
		m.MutationID, clientGroupID, m.ClientID); err != nil {
		return nil, fmt.Errorf("mutagen: advancing lmid: %w", err)
	}

	if errorMode {
		// Error-mode retry never calls the mutator: LMID has already been
		// advanced above, and all that remains is persisting the failure.
		if _, err := tx.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %s.mutations(client_group_id, client_id, mutation_id, result) VALUES ($1,$2,$3,'{"error":"app"}'::jsonb)
			 ON CONFLICT (client_group_id, client_id, mutation_id) DO UPDATE SET result = excluded.result`, p.schema),
			clientGroupID, m.ClientID, m.MutationID); err != nil {
			return nil, fmt.Errorf("mutagen: writing app-error result: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("mutagen: commit error-mode retry: %w", err)
		}
		return nil, nil
	}

	fn, ok := p.registry.lookup(m.Namespace, m.Name)
	if !ok {
		return nil, fmt.Errorf("mutagen: no mutator registered for %s|%s", m.Namespace, m.Name)
	}
	data, mutErr := fn(ctx, tx, m.Args)
	if mutErr != nil {
		// First-attempt failure: roll back everything (including the LMID
		// advance above) and let the caller re-run in error mode, which is
		// the only attempt that actually persists and commits.
		return nil, apperr.NewAppMutation(mutErr)
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s.mutations(client_group_id, client_id, mutation_id, result) VALUES ($1,$2,$3,'{}'::jsonb)
		 ON CONFLICT (client_group_id, client_id, mutation_id) DO UPDATE SET result = excluded.result`, p.schema),
		clientGroupID, m.ClientID, m.MutationID); err != nil {
		return nil, fmt.Errorf("mutagen: writing mutation result: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("mutagen: commit: %w", err)
	}
	return data, nil
}
