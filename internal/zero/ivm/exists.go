package ivm

import (
	"context"
	"fmt"

	"github.com/zerosync/zero/internal/zero/changestream"
)

// ExistsMode selects whether the operator passes rows that have at least
// one matching correlated row (Exists) or none (NotExists).
type ExistsMode int

const (
	ExistsMode_Exists ExistsMode = iota
	ExistsMode_NotExists
)

// Exists implements the EXISTS / NOT EXISTS relationship filter: a parent
// row passes through only while the correlated count on the other side of
// the relationship is on the correct side of zero. The count is obtained by
// fetching the correlated rows from the related operator each time a
// parent is fetched or pushed; the counts map is not consulted
// (spec.md §4.2 Exists/NotExists).
type Exists struct {
	baseOperator
	upstream     Operator // the parent stream
	related      Operator // the child/related stream
	mode         ExistsMode
	parentFields []string
	childFields  []string

	counts map[string]int
}

// NewExists builds an Exists/NotExists operator correlating upstream's
// parentFields against related's childFields.
func NewExists(upstream, related Operator, mode ExistsMode, parentFields, childFields []string) *Exists {
	return &Exists{
		upstream:     upstream,
		related:      related,
		mode:         mode,
		parentFields: parentFields,
		childFields:  childFields,
		counts:       make(map[string]int),
	}
}

func (e *Exists) GetSchema() SourceSchema { return e.upstream.GetSchema() }

func (e *Exists) correlationKey(row changestream.Row, fields []string) string {
	var s string
	for _, f := range fields {
		s += fmt.Sprintf("%v\x1f", row[f])
	}
	return s
}

func (e *Exists) passes(count int) bool {
	if e.mode == ExistsMode_Exists {
		return count > 0
	}
	return count == 0
}

func (e *Exists) constraintFor(parent changestream.Row) map[string]any {
	c := make(map[string]any, len(e.parentFields))
	for i, pf := range e.parentFields {
		if i < len(e.childFields) {
			c[e.childFields[i]] = parent[pf]
		}
	}
	return c
}

func (e *Exists) countFor(ctx context.Context, parent changestream.Row) (int, error) {
	rows, err := e.related.Fetch(ctx, FetchRequest{Constraint: e.constraintFor(parent)})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (e *Exists) Fetch(ctx context.Context, req FetchRequest) ([]Node, error) {
	rows, err := e.upstream.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, n := range rows {
		count, err := e.countFor(ctx, n.Row)
		if err != nil {
			return nil, err
		}
		if e.passes(count) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (e *Exists) Cleanup(ctx context.Context, req FetchRequest) ([]Node, error) {
	return e.upstream.Cleanup(ctx, req)
}

// Push handles changes on the parent stream directly, and reacts to child
// stream changes via PushChild (wired by the caller that owns both
// operators, since Push only has one upstream slot in the Operator
// interface).
func (e *Exists) Push(ctx context.Context, change Change) error {
	switch change.Kind {
	case ChangeAdd, ChangeRemove:
		row := change.Node.Row
		count, err := e.countFor(ctx, row)
		if err != nil {
			return err
		}
		if e.passes(count) {
			return e.forward(ctx, change)
		}
		return nil
	case ChangeEdit:
		oldCount, err := e.countFor(ctx, change.Old.Row)
		if err != nil {
			return err
		}
		newCount, err := e.countFor(ctx, change.Node.Row)
		if err != nil {
			return err
		}
		wasIn := e.passes(oldCount)
		isIn := e.passes(newCount)
		switch {
		case wasIn && isIn:
			return e.forward(ctx, change)
		case wasIn && !isIn:
			return e.forward(ctx, Remove(change.Old))
		case !wasIn && isIn:
			return e.forward(ctx, Add(change.Node))
		}
		return nil
	case ChangeChild:
		return e.forward(ctx, change)
	}
	return nil
}

// PushChildChange reacts to a change on the related side: it looks up all
// parents whose correlation key matches the child row and re-evaluates
// their boundary crossing.
func (e *Exists) PushChildChange(ctx context.Context, child Change, affectedParents []changestream.Row) error {
	for _, parent := range affectedParents {
		count, err := e.countFor(ctx, parent)
		if err != nil {
			return err
		}
		if e.passes(count) {
			if err := e.forward(ctx, Add(Node{Row: parent})); err != nil {
				return err
			}
		} else {
			if err := e.forward(ctx, Remove(Node{Row: parent})); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Exists) Destroy() {
	e.upstream.Destroy()
	e.related.Destroy()
}
