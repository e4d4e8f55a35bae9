// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotRoundTrip(t *testing.T) {
	s := Schema{
		"users": {
			Name:    "users",
			Order:   []string{"id", "name"},
			Columns: map[string]Column{"id": {Name: "id", DataType: Int64}, "name": {Name: "name", DataType: String}},
		},
	}

	snap, err := s.Snapshot()
	assert.NoError(t, err)

	clone, err := FromSnapshot(snap)
	assert.NoError(t, err)
	assert.Equal(t, s["users"].Columns, clone["users"].Columns)
	assert.Equal(t, s["users"].Order, clone["users"].Order)
}

func TestVersionHashStableAcrossOrder(t *testing.T) {
	s1 := Schema{"a": {Name: "a", Columns: map[string]Column{"x": {Name: "x", DataType: Int32}, "y": {Name: "y", DataType: String}}}}
	s2 := Schema{"a": {Name: "a", Columns: map[string]Column{"y": {Name: "y", DataType: String}, "x": {Name: "x", DataType: Int32}}}}

	assert.Equal(t, VersionHash(s1), VersionHash(s2))
}

func TestVersionHashChangesWithSchema(t *testing.T) {
	s1 := Schema{"a": {Name: "a", Columns: map[string]Column{"x": {Name: "x", DataType: Int32}}}}
	s2 := Schema{"a": {Name: "a", Columns: map[string]Column{"x": {Name: "x", DataType: Int64}}}}

	assert.NotEqual(t, VersionHash(s1), VersionHash(s2))
}

func TestCloneWithNamingLowercases(t *testing.T) {
	s := Schema{"Users": NewTable("Users")}
	out := CloneWithNaming(s, nil)
	_, ok := out["users"]
	assert.True(t, ok)
}
