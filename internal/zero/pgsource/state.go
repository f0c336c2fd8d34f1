// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package pgsource is the PostgreSQL change source (spec.md §4.1): it
subscribes to a logical replication publication set, translates committed
upstream transactions into watermarked changestream.Message values, and
performs the one-time initial table copy a fresh replica needs before it
can start streaming.
*/
package pgsource

import "sync/atomic"

// StreamState is the per-stream state machine spec.md §4.1 names:
// idle -> starting -> streaming -> {cancelled | failed | resetRequired}.
type StreamState int32

const (
	StateIdle StreamState = iota
	StateStarting
	StateStreaming
	StateCancelled
	StateFailed
	StateResetRequired
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	case StateResetRequired:
		return "resetRequired"
	default:
		return "unknown"
	}
}

type stateBox struct{ v atomic.Int32 }

func (b *stateBox) Load() StreamState       { return StreamState(b.v.Load()) }
func (b *stateBox) Store(s StreamState)     { b.v.Store(int32(s)) }
func (b *stateBox) CAS(old, new_ StreamState) bool {
	return b.v.CompareAndSwap(int32(old), int32(new_))
}
