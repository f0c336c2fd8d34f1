package ivm

import (
	"context"
	"fmt"
)

// FanOut duplicates every Push it receives to N downstream Outputs. It is
// used where two independent operator chains (e.g. a materialized view and
// a MeasurePushOperator counting for metrics) need the same upstream
// change (spec.md §4.2 FanIn/FanOut).
type FanOut struct {
	upstream Operator
	outputs  []Output
}

// NewFanOut wraps upstream, fanning its Push calls to every output
// registered via AddOutput.
func NewFanOut(upstream Operator) *FanOut {
	return &FanOut{upstream: upstream}
}

// AddOutput registers one more consumer of upstream's changes.
func (f *FanOut) AddOutput(out Output) { f.outputs = append(f.outputs, out) }

func (f *FanOut) GetSchema() SourceSchema { return f.upstream.GetSchema() }

func (f *FanOut) Fetch(ctx context.Context, req FetchRequest) ([]Node, error) {
	return f.upstream.Fetch(ctx, req)
}

func (f *FanOut) Cleanup(ctx context.Context, req FetchRequest) ([]Node, error) {
	return f.upstream.Cleanup(ctx, req)
}

func (f *FanOut) Push(ctx context.Context, change Change) error {
	for _, out := range f.outputs {
		if err := out.PushChange(ctx, change); err != nil {
			return err
		}
	}
	return nil
}

// SetOutput is a no-op for FanOut: consumers register via AddOutput
// instead, since there can be more than one.
func (f *FanOut) SetOutput(out Output) {}

func (f *FanOut) Destroy() { f.upstream.Destroy() }

// FanIn merges the Fetch/Push streams of several operators that share the
// same schema and ordering into one logical stream — used when a query's
// WHERE clause has been split into an OR of independently-indexed branches
// that each produce a disjoint subset of rows.
type FanIn struct {
	baseOperator
	branches []Operator
}

// NewFanIn merges branches, which must share a comparator/order.
func NewFanIn(branches ...Operator) *FanIn {
	return &FanIn{branches: branches}
}

func (f *FanIn) GetSchema() SourceSchema {
	if len(f.branches) == 0 {
		return SourceSchema{}
	}
	return f.branches[0].GetSchema()
}

func (f *FanIn) Fetch(ctx context.Context, req FetchRequest) ([]Node, error) {
	var merged []Node
	seen := make(map[string]bool)
	for _, b := range f.branches {
		rows, err := b.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			key := encodeRowKey(r.Row, b.GetSchema().PrimaryKey)
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, r)
		}
	}
	return merged, nil
}

func (f *FanIn) Cleanup(ctx context.Context, req FetchRequest) ([]Node, error) {
	var merged []Node
	for _, b := range f.branches {
		rows, err := b.Cleanup(ctx, req)
		if err != nil {
			return nil, err
		}
		merged = append(merged, rows...)
	}
	return merged, nil
}

// Push forwards any branch's change straight through; de-duplication of a
// row matching more than one branch is the View's responsibility via its
// reference-count semantics.
func (f *FanIn) Push(ctx context.Context, change Change) error {
	return f.forward(ctx, change)
}

func (f *FanIn) Destroy() {
	for _, b := range f.branches {
		b.Destroy()
	}
}

func encodeRowKey(row map[string]any, pk []string) string {
	var s string
	for _, col := range pk {
		s += col
		s += "="
		s += toStringKey(row[col])
		s += "\x1f"
	}
	return s
}

func toStringKey(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
