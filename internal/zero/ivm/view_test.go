package ivm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zerosync/zero/internal/zero/changestream"
)

func TestViewOrderedInsertAndRemove(t *testing.T) {
	v := NewView([]string{"id"}, nil)
	ctx := context.Background()

	require.NoError(t, v.PushChange(ctx, Add(Node{Row: changestream.Row{"id": "b"}})))
	require.NoError(t, v.PushChange(ctx, Add(Node{Row: changestream.Row{"id": "a"}})))
	require.NoError(t, v.PushChange(ctx, Add(Node{Row: changestream.Row{"id": "c"}})))

	rows := v.Snapshot()
	require.Len(t, rows, 3)
	require.Equal(t, "a", rows[0]["id"])
	require.Equal(t, "b", rows[1]["id"])
	require.Equal(t, "c", rows[2]["id"])

	require.NoError(t, v.PushChange(ctx, Remove(Node{Row: changestream.Row{"id": "b"}})))
	rows = v.Snapshot()
	require.Len(t, rows, 2)
	require.Equal(t, "a", rows[0]["id"])
	require.Equal(t, "c", rows[1]["id"])
}

func TestViewRefCounting(t *testing.T) {
	v := NewView([]string{"id"}, nil)
	ctx := context.Background()

	row := changestream.Row{"id": "x"}
	require.NoError(t, v.PushChange(ctx, Add(Node{Row: row})))
	require.NoError(t, v.PushChange(ctx, Add(Node{Row: row}))) // second ref, e.g. from a fan-in branch
	require.Equal(t, 1, v.Len())

	require.NoError(t, v.PushChange(ctx, Remove(Node{Row: row})))
	require.Equal(t, 1, v.Len(), "still referenced once")

	require.NoError(t, v.PushChange(ctx, Remove(Node{Row: row})))
	require.Equal(t, 0, v.Len(), "last ref removed")
}

func TestViewEditRelocatesOnKeyChange(t *testing.T) {
	v := NewView([]string{"sort"}, nil)
	ctx := context.Background()

	require.NoError(t, v.PushChange(ctx, Add(Node{Row: changestream.Row{"sort": "1", "name": "first"}})))
	require.NoError(t, v.PushChange(ctx, Add(Node{Row: changestream.Row{"sort": "2", "name": "second"}})))

	old := changestream.Row{"sort": "1", "name": "first"}
	updated := changestream.Row{"sort": "9", "name": "first"}
	require.NoError(t, v.PushChange(ctx, Edit(Node{Row: old}, Node{Row: updated})))

	rows := v.Snapshot()
	require.Len(t, rows, 2)
	require.Equal(t, "2", rows[0]["sort"])
	require.Equal(t, "9", rows[1]["sort"])
	require.Equal(t, "first", rows[1]["name"])
}

// TestViewEditRelocatesSharedEntryOneReferenceAtATime exercises spec.md
// §4.2/§8 seed scenario 5: an Edit that relocates a RefCount>1 entry must
// not collapse both references in one step. It decrements the origin and
// merges a single reference into the destination, leaving the origin behind
// until every reference sharing it has relocated.
func TestViewEditRelocatesSharedEntryOneReferenceAtATime(t *testing.T) {
	v := NewView([]string{"id"}, nil)
	ctx := context.Background()

	require.NoError(t, v.PushChange(ctx, Add(Node{Row: changestream.Row{"id": "b"}})))
	require.NoError(t, v.PushChange(ctx, Add(Node{Row: changestream.Row{"id": "c"}})))
	require.NoError(t, v.PushChange(ctx, Add(Node{Row: changestream.Row{"id": "d"}})))
	require.NoError(t, v.PushChange(ctx, Add(Node{Row: changestream.Row{"id": "d"}}))) // second ref raises d to rc2

	oldD := changestream.Row{"id": "d"}
	newA := changestream.Row{"id": "a"}

	// First edit relocates only one of d's two references.
	require.NoError(t, v.PushChange(ctx, Edit(Node{Row: oldD}, Node{Row: newA})))

	v.mu.Lock()
	require.Len(t, v.root, 4, "origin must stay behind with one ref still pointing at it")
	require.Equal(t, "a", v.root[0].Row["id"])
	require.Equal(t, 1, v.root[0].RefCount)
	require.Equal(t, "b", v.root[1].Row["id"])
	require.Equal(t, "c", v.root[2].Row["id"])
	require.Equal(t, "d", v.root[3].Row["id"])
	require.Equal(t, 1, v.root[3].RefCount, "origin's remaining reference")
	v.mu.Unlock()

	// Second edit relocates d's last reference; the origin entry is
	// consumed and merges into the existing destination entry.
	require.NoError(t, v.PushChange(ctx, Edit(Node{Row: oldD}, Node{Row: newA})))

	v.mu.Lock()
	defer v.mu.Unlock()
	require.Len(t, v.root, 3, "origin fully drained and removed")
	require.Equal(t, "a", v.root[0].Row["id"])
	require.Equal(t, 2, v.root[0].RefCount)
	require.Equal(t, "b", v.root[1].Row["id"])
	require.Equal(t, "c", v.root[2].Row["id"])
}

func TestViewChildNesting(t *testing.T) {
	v := NewView([]string{"id"}, map[string][]string{"comments": {"id"}})
	ctx := context.Background()

	parent := changestream.Row{"id": "issue-1"}
	require.NoError(t, v.PushChange(ctx, Add(Node{Row: parent})))

	childChange := ChildOf(Node{Row: parent}, ChildChange{
		RelationshipName: "comments",
		Change:           Add(Node{Row: changestream.Row{"id": "c1", "body": "hi"}}),
	})
	require.NoError(t, v.PushChange(ctx, childChange))

	v.mu.Lock()
	require.Len(t, v.root[0].Relationships["comments"], 1)
	require.Equal(t, "hi", v.root[0].Relationships["comments"][0].Row["body"])
	v.mu.Unlock()
}
