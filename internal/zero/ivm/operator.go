package ivm

import "context"

// FetchRequest narrows a Fetch/Cleanup call to rows on one side of a
// constraint, mirroring the "start key" pagination spec.md §4.2 requires
// of every operator (Take and Skip/Start rely on this to resume a scan).
type FetchRequest struct {
	// Constraint restricts fetched rows to those matching column=value,
	// used by Join/Exists to pull only the correlated rows of one parent.
	Constraint map[string]any

	// Start, when non-nil, resumes a previously interrupted scan strictly
	// after this row (by the operator's own ordering).
	Start *Node

	Reverse bool
}

// ColumnType mirrors the handful of primitive kinds typecodec understands;
// SourceSchema uses it to describe primary-key columns.
type ColumnType string

const (
	ColString   ColumnType = "string"
	ColNumber   ColumnType = "number"
	ColBoolean  ColumnType = "boolean"
	ColJSON     ColumnType = "json"
)

// SourceSchema describes the row shape and comparator an operator exposes
// downstream: primary key column order plus, for Join/Exists, which columns
// on each side correlate.
type SourceSchema struct {
	Table      string
	PrimaryKey []string
	Columns    map[string]ColumnType
}

// Operator is the dataflow node interface every IVM stage implements
// (spec.md §4.2: fetch / cleanup / getSchema / push / destroy).
//
// Fetch and Cleanup return the operator's output in ascending order
// relative to the caller's comparator; Cleanup additionally releases any
// resources (index entries, refcounts) the rows held, and is called when a
// downstream consumer is being torn down rather than merely paginated.
type Operator interface {
	Fetch(ctx context.Context, req FetchRequest) ([]Node, error)
	Cleanup(ctx context.Context, req FetchRequest) ([]Node, error)
	GetSchema() SourceSchema

	// Push delivers an upstream change for incremental propagation. The
	// operator recomputes its own effect and calls out through Output.
	Push(ctx context.Context, change Change) error

	// SetOutput wires the next operator in the chain so Push can forward.
	SetOutput(out Output)

	Destroy()
}

// Output receives a propagated Change from the operator directly upstream
// of it. The View (see view.go) is the terminal Output of every chain.
type Output interface {
	PushChange(ctx context.Context, change Change) error
}

// OutputFunc adapts a function to Output.
type OutputFunc func(ctx context.Context, change Change) error

func (f OutputFunc) PushChange(ctx context.Context, change Change) error { return f(ctx, change) }

// baseOperator factors the SetOutput bookkeeping shared by every concrete
// operator below.
type baseOperator struct {
	out Output
}

func (b *baseOperator) SetOutput(out Output) { b.out = out }

func (b *baseOperator) forward(ctx context.Context, c Change) error {
	if b.out == nil {
		return nil
	}
	return b.out.PushChange(ctx, c)
}
