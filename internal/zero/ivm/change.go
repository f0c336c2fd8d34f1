// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package ivm implements the incremental view-maintenance engine: dataflow
operators that propagate row add/remove/edit/child events while preserving
ordering, reference counts, and structural sharing (spec.md §4.2).

Per the design note in spec.md §9, the four change variants are closed and
represented as a tagged struct rather than an interface hierarchy, and so is
the operator set.
*/
package ivm

import "github.com/zerosync/zero/internal/zero/changestream"

// ChangeKind is the closed tag for [Change] variants.
type ChangeKind int

const (
	ChangeAdd ChangeKind = iota
	ChangeRemove
	ChangeChild
	ChangeEdit
)

// Node is one row flowing through the dataflow, identified by primary key
// within its originating Source. Relationships are not carried inline on
// Node; nested data arrives as separate Child changes bubbling up from the
// relationship's own operator chain (spec.md §4.2: "Nested-relationship
// changes bubble as child changes carrying the row only").
type Node struct {
	Row changestream.Row
}

// ChildChange describes a change that occurred within a named relationship
// of a parent row.
type ChildChange struct {
	RelationshipName string
	Change           Change
}

// Change is the single tagged type for all four IVM change variants.
type Change struct {
	Kind ChangeKind

	Node  Node // ChangeAdd, ChangeRemove, ChangeChild, ChangeEdit (new row)
	Old   Node // ChangeEdit only
	Child ChildChange // ChangeChild only
}

// Add constructs a ChangeAdd.
func Add(n Node) Change { return Change{Kind: ChangeAdd, Node: n} }

// Remove constructs a ChangeRemove.
func Remove(n Node) Change { return Change{Kind: ChangeRemove, Node: n} }

// Edit constructs a ChangeEdit. old is the pre-image, n the post-image.
func Edit(old, n Node) Change { return Change{Kind: ChangeEdit, Node: n, Old: old} }

// ChildOf constructs a ChangeChild bubbling cc through parent.
func ChildOf(parent Node, cc ChildChange) Change {
	return Change{Kind: ChangeChild, Node: parent, Child: cc}
}
