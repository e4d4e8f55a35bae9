// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func partial(table string, cols ...Column) *Table {
	t := NewTable(table)
	for _, c := range cols {
		t.Columns[c.Name] = c
		t.addToOrder(c.Name)
	}
	return t
}

func TestUpdateTable_AddsColumn(t *testing.T) {
	live := NewTable("users")
	err := live.UpdateTable(partial("users", Column{Name: "id", DataType: Int64}))
	assert.NoError(t, err)
	assert.Equal(t, Int64, live.Columns["id"].DataType)
}

func TestUpdateTable_Widens(t *testing.T) {
	live := NewTable("t")
	assert.NoError(t, live.UpdateTable(partial("t", Column{Name: "x", DataType: Int32})))
	assert.NoError(t, live.UpdateTable(partial("t", Column{Name: "x", DataType: Int64})))
	assert.Equal(t, Int64, live.Columns["x"].DataType)
}

func TestUpdateTable_CoercionConflict(t *testing.T) {
	live := NewTable("t")
	assert.NoError(t, live.UpdateTable(partial("t", Column{Name: "x", DataType: Int64})))
	err := live.UpdateTable(partial("t", Column{Name: "x", DataType: Bool}))

	var conflict *CoercionConflictError
	assert.True(t, errors.As(err, &conflict))
	assert.Equal(t, "x", conflict.Column)
}

func TestUpdateTable_IdempotentApplication(t *testing.T) {
	live := NewTable("t")
	update := partial("t", Column{Name: "x", DataType: Int64})
	assert.NoError(t, live.UpdateTable(update))
	before := live.Clone()
	assert.NoError(t, live.UpdateTable(update))
	assert.Equal(t, before.Columns, live.Columns)
}

func TestReconcilerApply_UnionOfDeltas(t *testing.T) {
	s := Schema{}
	r := NewReconciler()

	u1 := Update{"a": {partial("a", Column{Name: "x", DataType: Int32})}}
	u2 := Update{"b": {partial("b", Column{Name: "y", DataType: String})}}

	assert.NoError(t, r.Apply(s, u1))
	assert.NoError(t, r.Apply(s, u2))

	assert.Equal(t, Int32, s["a"].Columns["x"].DataType)
	assert.Equal(t, String, s["b"].Columns["y"].DataType)
}

func TestReconcilerApply_PropagatesConflict(t *testing.T) {
	s := Schema{}
	r := NewReconciler()
	assert.NoError(t, r.Apply(s, Update{"a": {partial("a", Column{Name: "x", DataType: Int64})}}))

	err := r.Apply(s, Update{"a": {partial("a", Column{Name: "x", DataType: Bool})}})
	var conflict *CoercionConflictError
	assert.True(t, errors.As(err, &conflict))
}

// TestMonotonicity is property P3: for every column present before a run,
// its post-run type is identical or a widening.
func TestMonotonicity(t *testing.T) {
	live := NewTable("events")
	assert.NoError(t, live.UpdateTable(partial("events", Column{Name: "amount", DataType: Int32})))
	before := live.Columns["amount"].DataType

	assert.NoError(t, live.UpdateTable(partial("events", Column{Name: "amount", DataType: Float64})))
	after := live.Columns["amount"].DataType

	assert.True(t, CanWiden(before, after))
}

func TestMerge(t *testing.T) {
	u1 := Update{"a": {partial("a", Column{Name: "x", DataType: Int32})}}
	u2 := Update{"a": {partial("a", Column{Name: "y", DataType: String})}}

	merged := Merge([]Update{u1, u2})
	assert.Len(t, merged["a"], 2)
}
