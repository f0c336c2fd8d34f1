package ivm

import (
	"context"
	"fmt"

	"github.com/zerosync/zero/internal/zero/changestream"
)

// Join attaches a named relationship's rows as ChangeChild events beneath
// each parent row. Unlike a relational join it never flattens into a cross
// product: the parent Node is forwarded unchanged and the related rows
// arrive as nested child changes the View assembles into an array under
// RelationshipName (spec.md §4.2 Join / §3 Relationship).
type Join struct {
	baseOperator
	parent           Operator
	child            Operator
	relationshipName string
	parentFields     []string
	childFields      []string
}

// NewJoin builds a Join correlating parent.parentFields to child.childFields,
// publishing the child's matching rows as relationshipName.
func NewJoin(parent, child Operator, relationshipName string, parentFields, childFields []string) *Join {
	return &Join{
		parent:           parent,
		child:            child,
		relationshipName: relationshipName,
		parentFields:     parentFields,
		childFields:      childFields,
	}
}

func (j *Join) GetSchema() SourceSchema { return j.parent.GetSchema() }

func (j *Join) constraintFor(parent changestream.Row) map[string]any {
	c := make(map[string]any, len(j.parentFields))
	for i, pf := range j.parentFields {
		if i < len(j.childFields) {
			c[j.childFields[i]] = parent[pf]
		}
	}
	return c
}

// FetchChildren returns the related rows for a given parent row, in the
// child operator's own order — the View uses this to hydrate the initial
// array for the relationship.
func (j *Join) FetchChildren(ctx context.Context, parent changestream.Row) ([]Node, error) {
	return j.child.Fetch(ctx, FetchRequest{Constraint: j.constraintFor(parent)})
}

func (j *Join) Fetch(ctx context.Context, req FetchRequest) ([]Node, error) {
	return j.parent.Fetch(ctx, req)
}

func (j *Join) Cleanup(ctx context.Context, req FetchRequest) ([]Node, error) {
	return j.parent.Cleanup(ctx, req)
}

// Push forwards a parent-side change as-is. The View does not fetch the
// relationship for an added parent; related rows reach it only through
// PushChildChange. A removed parent's entry is dropped with its
// relationships.
func (j *Join) Push(ctx context.Context, change Change) error {
	return j.forward(ctx, change)
}

// PushChildChange wraps a child-side change as a ChangeChild beneath every
// parent row currently correlated to it and forwards it downstream.
func (j *Join) PushChildChange(ctx context.Context, childChange Change, parents []changestream.Row) error {
	for _, parent := range parents {
		cc := ChildChange{RelationshipName: j.relationshipName, Change: childChange}
		if err := j.forward(ctx, ChildOf(Node{Row: parent}, cc)); err != nil {
			return err
		}
	}
	return nil
}

func (j *Join) Destroy() {
	j.parent.Destroy()
	j.child.Destroy()
}

func correlationKey(row changestream.Row, fields []string) string {
	var s string
	for _, f := range fields {
		s += fmt.Sprintf("%v\x1f", row[f])
	}
	return s
}
