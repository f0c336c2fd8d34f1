// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package ast

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashStableUnderRelationshipOrder(t *testing.T) {
	base := Query{Table: "issue"}

	q1 := base
	q1.Relationships = []Relationship{
		{Name: "comments", DestTable: "comment"},
		{Name: "labels", DestTable: "label"},
	}

	q2 := base
	q2.Relationships = []Relationship{
		{Name: "labels", DestTable: "label"},
		{Name: "comments", DestTable: "comment"},
	}

	require.Equal(t, q1.Hash(), q2.Hash())
}

func TestHashStableUnderCompoundConditionOrder(t *testing.T) {
	cond1 := Condition{Kind: "AND", Children: []Condition{
		{Column: "status", Op: OpEq, Value: "open"},
		{Column: "priority", Op: OpGte, Value: 2},
	}}
	cond2 := Condition{Kind: "AND", Children: []Condition{
		{Column: "priority", Op: OpGte, Value: 2},
		{Column: "status", Op: OpEq, Value: "open"},
	}}

	q1 := Query{Table: "issue", Where: &cond1}
	q2 := Query{Table: "issue", Where: &cond2}

	require.Equal(t, q1.Hash(), q2.Hash())
}

func TestHashDiffersOnSemanticChange(t *testing.T) {
	q1 := Query{Table: "issue", Limit: 10}
	q2 := Query{Table: "issue", Limit: 20}
	require.NotEqual(t, q1.Hash(), q2.Hash())
}

func TestHashOfNameAndArgsDeterministic(t *testing.T) {
	h1 := HashOfNameAndArgs("myQuery", []any{1, "a"})
	h2 := HashOfNameAndArgs("myQuery", []any{1, "a"})
	h3 := HashOfNameAndArgs("myQuery", []any{1, "b"})
	require.Equal(t, h1, h2)
	require.NotEqual(t, h1, h3)
}
