package ivm

import (
	"context"

	"github.com/zerosync/zero/internal/zero/ast"
	"github.com/zerosync/zero/internal/zero/changestream"
)

// Filter re-evaluates ast.Condition against each row it sees and passes
// through only matches, converting edits that cross the boundary into the
// equivalent add/remove so a downstream View never has to special-case
// "edit that changed visibility" (spec.md §4.2).
type Filter struct {
	baseOperator
	upstream  Operator
	condition *ast.Condition
}

// NewFilter wraps upstream, forwarding only rows for which cond evaluates
// true. A nil cond passes everything through unchanged.
func NewFilter(upstream Operator, cond *ast.Condition) *Filter {
	return &Filter{upstream: upstream, condition: cond}
}

func (f *Filter) GetSchema() SourceSchema { return f.upstream.GetSchema() }

func (f *Filter) matches(row changestream.Row) bool {
	if f.condition == nil {
		return true
	}
	return evalCondition(*f.condition, row)
}

func evalCondition(c ast.Condition, row changestream.Row) bool {
	switch c.Kind {
	case "AND":
		for _, child := range c.Children {
			if !evalCondition(child, row) {
				return false
			}
		}
		return true
	case "OR":
		for _, child := range c.Children {
			if evalCondition(child, row) {
				return true
			}
		}
		return false
	case "NOT":
		if len(c.Children) != 1 {
			return false
		}
		return !evalCondition(c.Children[0], row)
	default:
		return evalLeaf(c, row)
	}
}

func evalLeaf(c ast.Condition, row changestream.Row) bool {
	v := row[c.Column]
	switch c.Op {
	case ast.OpEq:
		return compareEq(v, c.Value)
	case ast.OpNeq:
		return !compareEq(v, c.Value)
	case ast.OpIs:
		return v == c.Value
	case ast.OpIsNot:
		return v != c.Value
	case ast.OpLt, ast.OpLte, ast.OpGt, ast.OpGte:
		return compareOrdered(v, c.Value, c.Op)
	case ast.OpIn:
		items, ok := c.Value.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if compareEq(v, item) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func compareEq(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func compareOrdered(a, b any, op ast.Op) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		as, aok2 := a.(string)
		bs, bok2 := b.(string)
		if !aok2 || !bok2 {
			return false
		}
		switch op {
		case ast.OpLt:
			return as < bs
		case ast.OpLte:
			return as <= bs
		case ast.OpGt:
			return as > bs
		case ast.OpGte:
			return as >= bs
		}
		return false
	}
	switch op {
	case ast.OpLt:
		return af < bf
	case ast.OpLte:
		return af <= bf
	case ast.OpGt:
		return af > bf
	case ast.OpGte:
		return af >= bf
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func (f *Filter) Fetch(ctx context.Context, req FetchRequest) ([]Node, error) {
	rows, err := f.upstream.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, n := range rows {
		if f.matches(n.Row) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *Filter) Cleanup(ctx context.Context, req FetchRequest) ([]Node, error) {
	return f.upstream.Cleanup(ctx, req)
}

func (f *Filter) Push(ctx context.Context, change Change) error {
	switch change.Kind {
	case ChangeAdd:
		if f.matches(change.Node.Row) {
			return f.forward(ctx, change)
		}
		return nil
	case ChangeRemove:
		if f.matches(change.Node.Row) {
			return f.forward(ctx, change)
		}
		return nil
	case ChangeChild:
		if f.matches(change.Node.Row) {
			return f.forward(ctx, change)
		}
		return nil
	case ChangeEdit:
		wasIn := f.matches(change.Old.Row)
		isIn := f.matches(change.Node.Row)
		switch {
		case wasIn && isIn:
			return f.forward(ctx, change)
		case wasIn && !isIn:
			return f.forward(ctx, Remove(change.Old))
		case !wasIn && isIn:
			return f.forward(ctx, Add(change.Node))
		default:
			return nil
		}
	}
	return nil
}

func (f *Filter) SetOutput(out Output) { f.baseOperator.SetOutput(out) }

func (f *Filter) Destroy() { f.upstream.Destroy() }
