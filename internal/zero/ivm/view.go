package ivm

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/zerosync/zero/internal/zero/changestream"
)

// RefEntry is one materialized row in a View's tree, including its nested
// relationship lists. Entries are pointers so that relocating one within
// its ordered list (on an Edit that changes the sort key) never requires
// rebuilding its Relationships subtree — the pointer, and everything
// hanging off it, moves as-is (spec.md §4.2: edit relocation preserves
// structural sharing rather than deep-copying on reorder).
type RefEntry struct {
	Row           changestream.Row
	RefCount      int
	Relationships map[string][]*RefEntry
}

// View is the terminal Output of an operator chain: a materialized,
// ordered tree of rows ref-counted so the same logical row reached via two
// fan-in branches is stored once. It is the thing a query's snapshot and
// subsequent pokes are diffed against (spec.md §4.2 "View").
type View struct {
	mu    sync.Mutex
	root  []*RefEntry
	pk    []string
	relPK map[string][]string // relationship name -> primary key columns of its members
}

// NewView builds an empty View whose top-level rows are ordered by pk and
// whose named relationships are ordered by relPK[name].
func NewView(pk []string, relPK map[string][]string) *View {
	return &View{pk: pk, relPK: relPK}
}

func keyOf(row changestream.Row, pk []string) string {
	var s string
	for _, c := range pk {
		s += fmt.Sprintf("%v\x1f", row[c])
	}
	return s
}

// search returns the index of the entry whose key equals target, and
// whether it was found; otherwise the index is the correct sorted
// insertion point. O(log n) via sort.Search, per spec.md §4.2's ordered
// insertion/removal requirement.
func search(entries []*RefEntry, pk []string, target string) (int, bool) {
	idx := sort.Search(len(entries), func(i int) bool {
		return keyOf(entries[i].Row, pk) >= target
	})
	if idx < len(entries) && keyOf(entries[idx].Row, pk) == target {
		return idx, true
	}
	return idx, false
}

// PushChange implements Output: it is the sole entry point through which
// every operator chain feeds the View. It descends through ChangeChild
// wrappers until it reaches the level the innermost change actually
// applies to.
func (v *View) PushChange(ctx context.Context, change Change) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	applyAtLevel(&v.root, v.pk, v.relPK, change)
	return nil
}

// applyAtLevel mutates entries (an ordered, ref-counted list) for one
// Change. When the change is a ChangeChild, it first locates the entry
// the child change nests beneath and recurses into that entry's named
// relationship list.
func applyAtLevel(entries *[]*RefEntry, pk []string, relPK map[string][]string, change Change) {
	switch change.Kind {
	case ChangeAdd:
		insertOrRef(entries, pk, change.Node.Row)
	case ChangeRemove:
		removeOrDeref(entries, pk, change.Node.Row)
	case ChangeEdit:
		relocate(entries, pk, change.Old.Row, change.Node.Row)
	case ChangeChild:
		parentKey := keyOf(change.Node.Row, pk)
		idx, ok := search(*entries, pk, parentKey)
		if !ok {
			return // parent not materialized (e.g. filtered out); nothing to nest under
		}
		parent := (*entries)[idx]
		if parent.Relationships == nil {
			parent.Relationships = make(map[string][]*RefEntry)
		}
		childList := parent.Relationships[change.Child.RelationshipName]
		childPK := relPK[change.Child.RelationshipName]
		applyAtLevel(&childList, childPK, relPK, change.Child.Change)
		parent.Relationships[change.Child.RelationshipName] = childList
	}
}

func insertOrRef(entries *[]*RefEntry, pk []string, row changestream.Row) {
	key := keyOf(row, pk)
	idx, ok := search(*entries, pk, key)
	if ok {
		(*entries)[idx].RefCount++
		return
	}
	entry := &RefEntry{Row: row.Clone(), RefCount: 1}
	*entries = append(*entries, nil)
	copy((*entries)[idx+1:], (*entries)[idx:])
	(*entries)[idx] = entry
}

func removeOrDeref(entries *[]*RefEntry, pk []string, row changestream.Row) {
	key := keyOf(row, pk)
	idx, ok := search(*entries, pk, key)
	if !ok {
		return
	}
	(*entries)[idx].RefCount--
	if (*entries)[idx].RefCount > 0 {
		return
	}
	*entries = append((*entries)[:idx], (*entries)[idx+1:]...)
}

// mergeOrInsert inserts entry at the sorted position for its row's key, or,
// if an entry with that key is already present, folds entry into it by
// incrementing the existing entry's RefCount and discarding entry. A View
// holds at most one physical *RefEntry per key, so relocate never leaves
// two entries sharing a destination key around.
func mergeOrInsert(entries *[]*RefEntry, pk []string, entry *RefEntry) {
	key := keyOf(entry.Row, pk)
	idx, ok := search(*entries, pk, key)
	if ok {
		(*entries)[idx].RefCount++
		return
	}
	*entries = append(*entries, nil)
	copy((*entries)[idx+1:], (*entries)[idx:])
	(*entries)[idx] = entry
}

// relocate handles an Edit. If the sort key is unchanged, the row content is
// updated in place. If the key changed and the entry's RefCount is 1, the
// *RefEntry pointer (and everything reachable from it) is moved to its new
// sorted position rather than rebuilt. If RefCount is greater than 1, only
// the edited reference relocates: the origin entry's RefCount is
// decremented (it stays put, still representing the other references that
// did not change key), and a new entry carrying a shallow copy of the
// origin's Relationships is merged in at the destination key. The origin
// entry is left behind, unmoved, until every reference sharing it has
// either relocated or been removed (spec.md §4.2's shallow-copy-left-behind
// rule).
func relocate(entries *[]*RefEntry, pk []string, oldRow, newRow changestream.Row) {
	oldKey := keyOf(oldRow, pk)
	newKey := keyOf(newRow, pk)
	idx, ok := search(*entries, pk, oldKey)
	if !ok {
		return
	}
	entry := (*entries)[idx]

	if oldKey == newKey {
		entry.Row = newRow.Clone()
		return
	}

	if entry.RefCount > 1 {
		entry.RefCount--
		mergeOrInsert(entries, pk, &RefEntry{
			Row:           newRow.Clone(),
			RefCount:      1,
			Relationships: entry.Relationships,
		})
		return
	}

	*entries = append((*entries)[:idx], (*entries)[idx+1:]...)
	entry.Row = newRow.Clone()
	mergeOrInsert(entries, pk, entry)
}

// Snapshot returns the current ordered top-level rows, shallow-copied so
// callers cannot mutate the View's internal slice.
func (v *View) Snapshot() []changestream.Row {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]changestream.Row, len(v.root))
	for i, e := range v.root {
		out[i] = e.Row
	}
	return out
}

// Len returns the number of distinct top-level rows currently materialized.
func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.root)
}
