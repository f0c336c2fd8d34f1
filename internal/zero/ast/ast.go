// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package ast defines the canonical query AST and its stable content hash.

Per spec.md §9 ("Cyclic relationships"), the AST is a tree: relationship
edges are addressed by name, not by pointer, so there is no cycle to arena
or intern — re-traversal through a relationship produces a fresh subtree
reference each time a query is canonicalized. Canonicalization (stable key
ordering, deterministic literal formatting) happens before hashing so that
two ASTs describing the same query produce the same hash regardless of the
order their builder assembled them in.
*/
package ast

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Op is the closed set of comparison operators a Condition can carry
// (spec.md §4.2). The ivm Filter evaluates all of them except OpLike and
// OpILike: a leaf with either of those never matches.
type Op string

const (
	OpEq    Op = "="
	OpNeq   Op = "!="
	OpLt    Op = "<"
	OpLte   Op = "<="
	OpGt    Op = ">"
	OpGte   Op = ">="
	OpIn    Op = "IN"
	OpLike  Op = "LIKE"
	OpILike Op = "ILIKE"
	OpIs    Op = "IS"
	OpIsNot Op = "IS NOT"
)

// Condition is a leaf predicate or a compound AND/OR/NOT of sub-conditions.
type Condition struct {
	// Leaf form.
	Column string
	Op     Op
	Value  any

	// Compound form; when Kind is non-empty, Column/Op/Value are unused.
	Kind     string // "AND" | "OR" | "NOT"
	Children []Condition
}

// OrderDirection is ASC or DESC for a single order-by term.
type OrderDirection string

const (
	Asc  OrderDirection = "ASC"
	Desc OrderDirection = "DESC"
)

// OrderTerm is one column in an ORDER BY list.
type OrderTerm struct {
	Column    string
	Direction OrderDirection
}

// Relationship is a named subquery reached via a correlated field tuple,
// optionally routed through a junction table (spec.md §3).
type Relationship struct {
	Name          string
	DestTable     string
	SourceFields  []string
	DestFields    []string
	JunctionTable string // empty unless this relationship is junction-routed
	JunctionSrc   []string
	JunctionDest  []string
	Subquery      *Query
}

// Query is the canonical, tree-shaped representation of one registered
// query. Table, Where, OrderBy, Limit describe the Source+Filter+Take
// chain; Relationships describe nested Join/Exists operators.
type Query struct {
	Table         string
	Where         *Condition
	OrderBy       []OrderTerm
	Limit         int // 0 means unbounded
	Relationships []Relationship
}

// Canonicalize returns a copy of q with deterministic ordering applied
// recursively: relationships sorted by name, compound condition children
// sorted by their rendered form. Two semantically identical queries built
// in different field/relationship orders canonicalize to the same tree and
// therefore the same hash.
func (q Query) Canonicalize() Query {
	out := q
	if q.Where != nil {
		c := canonicalizeCondition(*q.Where)
		out.Where = &c
	}
	rels := make([]Relationship, len(q.Relationships))
	copy(rels, q.Relationships)
	for i := range rels {
		if rels[i].Subquery != nil {
			sub := rels[i].Subquery.Canonicalize()
			rels[i].Subquery = &sub
		}
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i].Name < rels[j].Name })
	out.Relationships = rels
	return out
}

func canonicalizeCondition(c Condition) Condition {
	if c.Kind == "" {
		return c
	}
	children := make([]Condition, len(c.Children))
	for i, child := range c.Children {
		children[i] = canonicalizeCondition(child)
	}
	sort.Slice(children, func(i, j int) bool {
		return render(children[i]) < render(children[j])
	})
	c.Children = children
	return c
}

func render(c Condition) string {
	var b strings.Builder
	renderInto(&b, c)
	return b.String()
}

func renderInto(b *strings.Builder, c Condition) {
	if c.Kind != "" {
		fmt.Fprintf(b, "(%s", c.Kind)
		for _, child := range c.Children {
			b.WriteByte(' ')
			renderInto(b, child)
		}
		b.WriteByte(')')
		return
	}
	fmt.Fprintf(b, "(%s %s %v)", c.Column, c.Op, c.Value)
}

func renderQuery(b *strings.Builder, q Query) {
	fmt.Fprintf(b, "table=%s", q.Table)
	if q.Where != nil {
		b.WriteString(" where=")
		renderInto(b, *q.Where)
	}
	for _, o := range q.OrderBy {
		fmt.Fprintf(b, " order=%s:%s", o.Column, o.Direction)
	}
	if q.Limit != 0 {
		fmt.Fprintf(b, " limit=%d", q.Limit)
	}
	for _, rel := range q.Relationships {
		fmt.Fprintf(b, " rel[%s]{src=%v dest=%v destTable=%s junction=%s junctionSrc=%v junctionDest=%v", rel.Name, rel.SourceFields, rel.DestFields, rel.DestTable, rel.JunctionTable, rel.JunctionSrc, rel.JunctionDest)
		if rel.Subquery != nil {
			b.WriteByte(' ')
			renderQuery(b, *rel.Subquery)
		}
		b.WriteByte('}')
	}
}

// Hash returns the stable content hash of q's canonical form, hex-encoded.
// This is the "hash" used as a desired/got query key throughout the CVR and
// query manager.
func (q Query) Hash() string {
	canon := q.Canonicalize()
	var b strings.Builder
	renderQuery(&b, canon)
	sum := xxhash.Sum64String(b.String())
	return fmt.Sprintf("%016x", sum)
}

// HashOfNameAndArgs computes the hash used for custom (named, pre-compiled
// server-side) queries, where the client sends {name, args} instead of an
// AST (spec.md §4.5 addCustom).
func HashOfNameAndArgs(name string, args []any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "custom:%s(", name)
	for i, a := range args {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%v", a)
	}
	b.WriteByte(')')
	sum := xxhash.Sum64String(b.String())
	return fmt.Sprintf("%016x", sum)
}
