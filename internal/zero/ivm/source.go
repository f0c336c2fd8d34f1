package ivm

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/btree"

	"github.com/zerosync/zero/internal/zero/changestream"
)

// sourceItem is the btree.Item stored for each live row: the primary key
// tuple (rendered to a comparable string) plus the row itself.
type sourceItem struct {
	key string
	row changestream.Row
}

func (s *sourceItem) Less(than btree.Item) bool {
	return s.key < than.(*sourceItem).key
}

// Source is the leaf operator: it holds the authoritative, ordered set of
// rows for one table (as replicated into the local store) and is the only
// operator that ingests raw changestream events rather than upstream
// Changes. Ordering and point lookups are served from a google/btree.BTree
// keyed by the encoded primary key, giving every Fetch/Cleanup call the
// O(log n) resume-from-start-key behavior spec.md §4.2 requires.
type Source struct {
	baseOperator

	mu     sync.RWMutex
	table  string
	pk     []string
	schema SourceSchema
	tree   *btree.BTree
}

// NewSource constructs an empty Source for table, keyed by the given
// primary-key column order.
func NewSource(table string, pk []string, columns map[string]ColumnType) *Source {
	return &Source{
		table: table,
		pk:    append([]string(nil), pk...),
		schema: SourceSchema{
			Table:      table,
			PrimaryKey: append([]string(nil), pk...),
			Columns:    columns,
		},
		tree: btree.New(32),
	}
}

func (s *Source) pkKey(row changestream.Row) string {
	var b []byte
	for _, col := range s.pk {
		b = append(b, []byte(fmt.Sprintf("%v\x1f", row[col]))...)
	}
	return string(b)
}

func (s *Source) GetSchema() SourceSchema { return s.schema }

// Apply ingests one replicated row-level event, updating the tree and
// forwarding the equivalent IVM Change downstream. This is the bridge
// between changestream.Message and the IVM change algebra.
func (s *Source) Apply(ctx context.Context, msg changestream.DataMessage) error {
	switch msg.Op {
	case changestream.OpInsert:
		return s.applyInsert(ctx, msg.New)
	case changestream.OpUpdate:
		return s.applyUpdate(ctx, msg.Old, msg.New)
	case changestream.OpDelete:
		return s.applyDelete(ctx, msg.Old)
	default:
		return nil
	}
}

func (s *Source) applyInsert(ctx context.Context, row changestream.Row) error {
	s.mu.Lock()
	s.tree.ReplaceOrInsert(&sourceItem{key: s.pkKey(row), row: row.Clone()})
	s.mu.Unlock()
	return s.forward(ctx, Add(Node{Row: row}))
}

func (s *Source) applyDelete(ctx context.Context, row changestream.Row) error {
	s.mu.Lock()
	s.tree.Delete(&sourceItem{key: s.pkKey(row)})
	s.mu.Unlock()
	return s.forward(ctx, Remove(Node{Row: row}))
}

func (s *Source) applyUpdate(ctx context.Context, old, new_ changestream.Row) error {
	s.mu.Lock()
	s.tree.Delete(&sourceItem{key: s.pkKey(old)})
	s.tree.ReplaceOrInsert(&sourceItem{key: s.pkKey(new_), row: new_.Clone()})
	s.mu.Unlock()
	return s.forward(ctx, Edit(Node{Row: old}, Node{Row: new_}))
}

// Push is unused on Source: it has no upstream operator. It exists to
// satisfy Operator.
func (s *Source) Push(ctx context.Context, change Change) error { return nil }

func (s *Source) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree = btree.New(32)
}

func (s *Source) matches(row changestream.Row, constraint map[string]any) bool {
	for col, want := range constraint {
		if row[col] != want {
			return false
		}
	}
	return true
}

// Fetch returns rows in primary-key order (descending when req.Reverse is
// set), filtered by req.Constraint and resuming strictly after req.Start in
// that order when set.
func (s *Source) Fetch(ctx context.Context, req FetchRequest) ([]Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var startKey string
	if req.Start != nil {
		startKey = s.pkKey(req.Start.Row)
	}

	var out []Node
	iter := func(item btree.Item) bool {
		si := item.(*sourceItem)
		if req.Start != nil && si.key == startKey {
			return true
		}
		if s.matches(si.row, req.Constraint) {
			out = append(out, Node{Row: si.row})
		}
		return true
	}
	switch {
	case req.Reverse && req.Start != nil:
		s.tree.DescendLessOrEqual(&sourceItem{key: startKey}, iter)
	case req.Reverse:
		s.tree.Descend(iter)
	case req.Start != nil:
		s.tree.AscendGreaterOrEqual(&sourceItem{key: startKey}, iter)
	default:
		s.tree.Ascend(iter)
	}
	return out, nil
}

// Cleanup behaves like Fetch here: a Source holds the only copy of each
// row, so there is nothing extra to release beyond what Destroy already
// does when the whole operator is torn down.
func (s *Source) Cleanup(ctx context.Context, req FetchRequest) ([]Node, error) {
	return s.Fetch(ctx, req)
}
