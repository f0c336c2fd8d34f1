package ivm

import (
	"context"
	"sync/atomic"
)

// MeasurePushOperator is a transparent pass-through that counts changes
// flowing past a point in the chain and exposes the totals through Counts
// (spec.md §4.2 MeasurePushOperator). It never alters Fetch/Cleanup
// results.
type MeasurePushOperator struct {
	baseOperator
	upstream Operator

	adds    int64
	removes int64
	edits   int64
	childs  int64
}

// NewMeasurePushOperator wraps upstream purely for counting.
func NewMeasurePushOperator(upstream Operator) *MeasurePushOperator {
	return &MeasurePushOperator{upstream: upstream}
}

func (m *MeasurePushOperator) GetSchema() SourceSchema { return m.upstream.GetSchema() }

func (m *MeasurePushOperator) Fetch(ctx context.Context, req FetchRequest) ([]Node, error) {
	return m.upstream.Fetch(ctx, req)
}

func (m *MeasurePushOperator) Cleanup(ctx context.Context, req FetchRequest) ([]Node, error) {
	return m.upstream.Cleanup(ctx, req)
}

func (m *MeasurePushOperator) Push(ctx context.Context, change Change) error {
	switch change.Kind {
	case ChangeAdd:
		atomic.AddInt64(&m.adds, 1)
	case ChangeRemove:
		atomic.AddInt64(&m.removes, 1)
	case ChangeEdit:
		atomic.AddInt64(&m.edits, 1)
	case ChangeChild:
		atomic.AddInt64(&m.childs, 1)
	}
	return m.forward(ctx, change)
}

// Counts returns the running totals observed so far, in (adds, removes,
// edits, childs) order.
func (m *MeasurePushOperator) Counts() (int64, int64, int64, int64) {
	return atomic.LoadInt64(&m.adds), atomic.LoadInt64(&m.removes), atomic.LoadInt64(&m.edits), atomic.LoadInt64(&m.childs)
}

func (m *MeasurePushOperator) Destroy() { m.upstream.Destroy() }
