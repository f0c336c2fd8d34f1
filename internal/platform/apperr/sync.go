// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package apperr

import (
	"errors"
	"fmt"
)

// Sync-engine error kinds. These are distinct from the HTTP-facing
// [AppError] above: they propagate between internal components (change
// source, mutagen, poke handler) before anything is translated into a push
// response or wire message. Each kind is a sentinel comparable with
// [errors.Is]; construct a value with the matching New* function to attach
// per-occurrence detail.
var (
	// ErrAbort marks a change stream as terminated; the replication slot has
	// been released and the caller may reconnect from the last acked
	// watermark.
	ErrAbort = errors.New("zero: change stream aborted")

	// ErrAutoReset signals that the replica must be resynced from scratch
	// because the configured publication set no longer matches upstream.
	ErrAutoReset = errors.New("zero: publications changed, reset required")

	// ErrAlreadyProcessed marks a mutation whose id is <= the stored
	// lastMutationID. Informational: batch processing continues.
	ErrAlreadyProcessed = errors.New("zero: mutation already processed")

	// ErrOutOfOrder marks a mutation whose id is > stored lastMutationID+1.
	// Fatal for the batch: processing stops so the client can retry.
	ErrOutOfOrder = errors.New("zero: mutation out of order")

	// ErrAppMutation wraps an error thrown by a mutator function itself.
	// Written to the mutations table and returned in the push response;
	// never stops the batch.
	ErrAppMutation = errors.New("zero: mutator error")

	// ErrUnsupportedTableSchema marks a table that cannot be replicated
	// (reserved column name, disallowed characters, unusable identity).
	// Fatal for that table.
	ErrUnsupportedTableSchema = errors.New("zero: unsupported table schema")

	// ErrUnsupportedSchemaChange marks a DDL event or relation-descriptor
	// drift that the change source cannot reconcile without a full reset.
	ErrUnsupportedSchemaChange = errors.New("zero: unsupported schema change")

	// ErrPokeProtocol marks a violation of poke assembly rules (mismatched
	// pokeID, cookie gap). The buffer is cleared and the connection resets.
	ErrPokeProtocol = errors.New("zero: poke protocol violation")

	// ErrTransientPG marks a PostgreSQL error the outer replication loop
	// should retry with backoff rather than surface.
	ErrTransientPG = errors.New("zero: transient postgres error")

	// ErrSlotInUse marks PG_OBJECT_IN_USE while a previous slot holder has
	// not yet released; callers retry with bounded backoff.
	ErrSlotInUse = errors.New("zero: replication slot in use")
)

// detailedError pairs a sentinel with a human-readable detail string and an
// optional cause, so errors.Is still matches the sentinel while the message
// carries context specific to the occurrence.
type detailedError struct {
	sentinel error
	detail   string
	cause    error
}

func (e *detailedError) Error() string {
	if e.detail == "" {
		return e.sentinel.Error()
	}
	return fmt.Sprintf("%s: %s", e.sentinel.Error(), e.detail)
}

func (e *detailedError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.sentinel, e.cause}
	}
	return []error{e.sentinel}
}

func wrap(sentinel error, detail string, cause error) *detailedError {
	return &detailedError{sentinel: sentinel, detail: detail, cause: cause}
}

// NewAbort constructs an [ErrAbort] occurrence.
func NewAbort(detail string) error { return wrap(ErrAbort, detail, nil) }

// NewAutoReset constructs an [ErrAutoReset] occurrence carrying the
// configured and observed publication sets for diagnostics.
func NewAutoReset(configured, observed []string) error {
	return wrap(ErrAutoReset, fmt.Sprintf("configured=%v observed=%v", configured, observed), nil)
}

// NewAlreadyProcessed constructs an [ErrAlreadyProcessed] occurrence.
func NewAlreadyProcessed(clientID string, received, stored int64) error {
	return wrap(ErrAlreadyProcessed, fmt.Sprintf(
		"client %s sent mutation ID %d but it was already processed (last %d)", clientID, received, stored), nil)
}

// NewOutOfOrder constructs an [ErrOutOfOrder] occurrence.
func NewOutOfOrder(clientID string, received, expected int64) error {
	return wrap(ErrOutOfOrder, fmt.Sprintf(
		"Client %s sent mutation ID %d but expected %d", clientID, received, expected), nil)
}

// NewAppMutation constructs an [ErrAppMutation] occurrence.
func NewAppMutation(cause error) error {
	return wrap(ErrAppMutation, cause.Error(), cause)
}

// NewUnsupportedTableSchema constructs an [ErrUnsupportedTableSchema] occurrence.
func NewUnsupportedTableSchema(table, reason string) error {
	return wrap(ErrUnsupportedTableSchema, fmt.Sprintf("table %s: %s", table, reason), nil)
}

// NewUnsupportedSchemaChange constructs an [ErrUnsupportedSchemaChange] occurrence.
func NewUnsupportedSchemaChange(reason string) error {
	return wrap(ErrUnsupportedSchemaChange, reason, nil)
}

// NewPokeProtocol constructs an [ErrPokeProtocol] occurrence.
func NewPokeProtocol(reason string) error {
	return wrap(ErrPokeProtocol, reason, nil)
}

// NewTransientPG constructs an [ErrTransientPG] occurrence wrapping the
// underlying driver error.
func NewTransientPG(cause error) error {
	return wrap(ErrTransientPG, cause.Error(), cause)
}

// NewSlotInUse constructs an [ErrSlotInUse] occurrence.
func NewSlotInUse(slot string) error {
	return wrap(ErrSlotInUse, fmt.Sprintf("slot %q held by another backend", slot), nil)
}
