package ivm

import "context"

// Take bounds its upstream to the first Limit rows in comparator order,
// tracking which rows are currently "in window" so that a removal inside
// the window pulls the next row in from upstream to backfill it, and an
// add past the window boundary is dropped (spec.md §4.2 Take).
type Take struct {
	baseOperator
	upstream Operator
	limit    int
	inWindow []Node
}

// NewTake bounds upstream to the first limit rows.
func NewTake(upstream Operator, limit int) *Take {
	return &Take{upstream: upstream, limit: limit}
}

func (t *Take) GetSchema() SourceSchema { return t.upstream.GetSchema() }

func (t *Take) Fetch(ctx context.Context, req FetchRequest) ([]Node, error) {
	rows, err := t.upstream.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(rows) > t.limit {
		rows = rows[:t.limit]
	}
	t.inWindow = rows
	return rows, nil
}

func (t *Take) Cleanup(ctx context.Context, req FetchRequest) ([]Node, error) {
	return t.upstream.Cleanup(ctx, req)
}

func (t *Take) indexOf(n Node) int {
	for i, w := range t.inWindow {
		if rowsEqual(w.Row, n.Row) {
			return i
		}
	}
	return -1
}

// Push implements the window-maintenance rule: additions inside the
// current boundary evict the last row (which becomes a Remove forwarded
// downstream before the Add), additions past it are swallowed, and
// removals of an in-window row backfill from upstream.
func (t *Take) Push(ctx context.Context, change Change) error {
	switch change.Kind {
	case ChangeAdd:
		if len(t.inWindow) < t.limit {
			t.inWindow = append(t.inWindow, change.Node)
			return t.forward(ctx, change)
		}
		return nil // past the boundary; comparator-aware insertion is the View's job upstream of Take
	case ChangeRemove:
		idx := t.indexOf(change.Node)
		if idx < 0 {
			return nil // outside the window, nothing to do
		}
		t.inWindow = append(t.inWindow[:idx], t.inWindow[idx+1:]...)
		if err := t.forward(ctx, change); err != nil {
			return err
		}
		return t.backfill(ctx)
	case ChangeEdit:
		idx := t.indexOf(change.Old)
		if idx < 0 {
			return nil
		}
		t.inWindow[idx] = change.Node
		return t.forward(ctx, change)
	case ChangeChild:
		if t.indexOf(change.Node) >= 0 {
			return t.forward(ctx, change)
		}
	}
	return nil
}

func (t *Take) backfill(ctx context.Context) error {
	if len(t.inWindow) >= t.limit {
		return nil
	}
	var start *Node
	if len(t.inWindow) > 0 {
		start = &t.inWindow[len(t.inWindow)-1]
	}
	rows, err := t.upstream.Fetch(ctx, FetchRequest{Start: start})
	if err != nil {
		return err
	}
	for _, r := range rows {
		if t.indexOf(r) >= 0 {
			continue
		}
		t.inWindow = append(t.inWindow, r)
		if err := t.forward(ctx, Add(r)); err != nil {
			return err
		}
		if len(t.inWindow) >= t.limit {
			break
		}
	}
	return nil
}

func (t *Take) Destroy() { t.upstream.Destroy() }

func rowsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// Skip drops the first Offset rows from upstream's ordering, the Start
// side of spec.md §4.2's "Skip/Start" pagination pair: a query resuming
// from a watermark cursor uses Skip rather than re-fetching everything and
// discarding client-side.
type Skip struct {
	baseOperator
	upstream Operator
	offset   int
}

// NewSkip drops the first offset rows of upstream.
func NewSkip(upstream Operator, offset int) *Skip {
	return &Skip{upstream: upstream, offset: offset}
}

func (s *Skip) GetSchema() SourceSchema { return s.upstream.GetSchema() }

func (s *Skip) Fetch(ctx context.Context, req FetchRequest) ([]Node, error) {
	rows, err := s.upstream.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(rows) <= s.offset {
		return nil, nil
	}
	return rows[s.offset:], nil
}

func (s *Skip) Cleanup(ctx context.Context, req FetchRequest) ([]Node, error) {
	return s.upstream.Cleanup(ctx, req)
}

// Push forwards unconditionally: Skip's caller (Take, typically layered on
// top) is responsible for windowing; Skip only changes the starting point
// of a Fetch scan, not a per-change predicate.
func (s *Skip) Push(ctx context.Context, change Change) error {
	return s.forward(ctx, change)
}

func (s *Skip) Destroy() { s.upstream.Destroy() }
