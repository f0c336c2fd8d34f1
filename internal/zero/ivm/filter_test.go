package ivm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zerosync/zero/internal/zero/ast"
	"github.com/zerosync/zero/internal/zero/changestream"
)

func TestFilterFetchAppliesCondition(t *testing.T) {
	src := NewSource("issue", []string{"id"}, nil)
	ctx := context.Background()
	require.NoError(t, src.Apply(ctx, changestream.Insert("issue", changestream.Row{"id": "1", "status": "open"}).Data))
	require.NoError(t, src.Apply(ctx, changestream.Insert("issue", changestream.Row{"id": "2", "status": "closed"}).Data))

	cond := ast.Condition{Column: "status", Op: ast.OpEq, Value: "open"}
	f := NewFilter(src, &cond)

	rows, err := f.Fetch(ctx, FetchRequest{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "1", rows[0].Row["id"])
}

func TestFilterPushConvertsBoundaryEditToAddRemove(t *testing.T) {
	cond := ast.Condition{Column: "status", Op: ast.OpEq, Value: "open"}
	f := NewFilter(nil, &cond)

	var forwarded []Change
	f.SetOutput(OutputFunc(func(ctx context.Context, c Change) error {
		forwarded = append(forwarded, c)
		return nil
	}))

	ctx := context.Background()
	old := Node{Row: changestream.Row{"id": "1", "status": "open"}}
	new_ := Node{Row: changestream.Row{"id": "1", "status": "closed"}}
	require.NoError(t, f.Push(ctx, Edit(old, new_)))

	require.Len(t, forwarded, 1)
	require.Equal(t, ChangeRemove, forwarded[0].Kind)
}
