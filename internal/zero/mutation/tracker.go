// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package mutation implements the client-side mutation tracker (spec.md
§4.4): it maps ephemeral client-local mutation IDs to the persistent
mutation IDs the server eventually assigns, and settles each caller's
result once the server's answer (or an LMID advance implying it) arrives.
*/
package mutation

import (
	"sync"

	"github.com/zerosync/zero/internal/platform/apperr"
)

// Result is what a tracked mutation settles with.
type Result struct {
	Err  error
	Data any
}

type entry struct {
	ephemeralID string
	mutationID  int64 // -1 until mutationIDAssigned
	clientID    string
	settled     bool
	resultCh    chan Result
}

// Tracker tracks in-flight mutations for one client group.
type Tracker struct {
	mu sync.Mutex

	byEphemeral map[string]*entry
	byMID       map[int64]*entry // keyed once mutationIDAssigned has run

	onAllApplied func()
}

// New builds an empty Tracker. onAllApplied, if non-nil, fires at the end of
// every LmidAdvanced or OnConnected call after which no mutation with an
// assigned mid is left unsettled, including calls where none was
// outstanding beforehand. Settling through ProcessPushResponse or
// ProcessMutationResponses does not fire it.
func New(onAllApplied func()) *Tracker {
	return &Tracker{
		byEphemeral: make(map[string]*entry),
		byMID:       make(map[int64]*entry),
		onAllApplied: onAllApplied,
	}
}

// TrackMutation registers an ephemeral ID and returns the channel its
// eventual Result will be delivered on.
func (t *Tracker) TrackMutation(ephemeralID string) <-chan Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := &entry{ephemeralID: ephemeralID, mutationID: -1, resultCh: make(chan Result, 1)}
	t.byEphemeral[ephemeralID] = e
	return e.resultCh
}

// MutationIDAssigned binds an ephemeral ID to the mid the server (or the
// local push request) assigned, so that push responses, mutation results
// and LMID advances addressed by mid can settle it.
func (t *Tracker) MutationIDAssigned(ephemeralID, clientID string, mid int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byEphemeral[ephemeralID]
	if !ok {
		return
	}
	e.mutationID = mid
	e.clientID = clientID
	t.byMID[mid] = e
}

// ProcessPushResponse settles the mutation bound to mid with ok, unless it
// already settled. A second ok for the same mid after settlement is a
// caller error signalled by returning false so callers can surface a
// protocol error.
func (t *Tracker) ProcessPushResponse(mid int64, ok bool, result Result) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, found := t.byMID[mid]
	if !found {
		return true // no tracked mutation for this id; nothing to settle, not an error
	}
	if e.settled {
		if !ok {
			return true // repeated alreadyProcessed response: silently ignored
		}
		return false // repeated ok for the same mid is a protocol violation
	}
	t.settle(e, result)
	return true
}

// ProcessMutationResponses handles a batch of m/<clientID>/<mid> diff
// entries delivered via a poke. It returns the largest mid observed so the
// caller can ack it upstream.
func (t *Tracker) ProcessMutationResponses(diffs map[int64]Result) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var maxMID int64 = -1
	for mid, res := range diffs {
		if mid > maxMID {
			maxMID = mid
		}
		if e, ok := t.byMID[mid]; ok && !e.settled {
			t.settle(e, res)
		}
	}
	return maxMID
}

// LmidAdvanced resolves every outstanding mutation with mid <= lmid that
// has not already settled, with an empty ok result. It then fires the
// all-mutations-applied callback if no mutation with an assigned mid is
// left unsettled.
func (t *Tracker) LmidAdvanced(lmid int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.advanceLocked(lmid)
}

func (t *Tracker) advanceLocked(lmid int64) {
	for mid, e := range t.byMID {
		if mid <= lmid && !e.settled {
			t.settle(e, Result{})
		}
	}
	if t.outstandingLocked() == 0 && t.onAllApplied != nil {
		t.onAllApplied()
	}
}

// OnConnected resolves all mutations with mid <= lastMid (reconnect
// semantics) and then runs the same logic as LmidAdvanced.
func (t *Tracker) OnConnected(lastMid int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.advanceLocked(lastMid)
}

// RejectMutation settles a mutation locally before a mutation ID was ever
// assigned, e.g. because local persistence failed.
func (t *Tracker) RejectMutation(ephemeralID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byEphemeral[ephemeralID]
	if !ok {
		return
	}
	t.settle(e, Result{Err: apperr.NewAppMutation(err)})
}

func (t *Tracker) settle(e *entry, res Result) {
	if e.settled {
		return
	}
	e.settled = true
	e.resultCh <- res
	close(e.resultCh)
	delete(t.byEphemeral, e.ephemeralID)
	// The byMID entry stays (marked settled) so a repeated response for
	// the same mid is recognised by ProcessPushResponse.
}

func (t *Tracker) outstandingLocked() int {
	n := 0
	for _, e := range t.byMID {
		if !e.settled {
			n++
		}
	}
	return n
}

// Size reports the number of still-unsettled tracked mutations, used by
// the query manager to defer pending query deletions while mutations are
// in flight.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byEphemeral)
}
