// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

package normalize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelindar/talaria-normalize/internal/pool"
	"github.com/kelindar/talaria-normalize/internal/schema"
	"github.com/kelindar/talaria-normalize/internal/writer"
)

func TestMapper_Run_SuccessReconcilesSchema(t *testing.T) {
	worker, dir := newTestWorker(t)
	file := writeJSONL(t, dir, "events.j1.jsonl", `{"id": 1, "name": "a"}`+"\n")

	m := NewMapper(pool.NewNull(), worker, nil)
	s := make(schema.Schema)
	metrics, updates, err := m.Run(context.Background(), "load1", s, []string{file}, 1)
	require.NoError(t, err)

	require.Len(t, metrics, 1)
	require.Len(t, updates, 1)
	assert.Contains(t, s, "events")
	assert.Equal(t, schema.Int64, s["events"].Columns["id"].DataType)
}

func TestMapper_Run_EmptyFileListIsNoop(t *testing.T) {
	worker, _ := newTestWorker(t)
	m := NewMapper(pool.NewNull(), worker, nil)
	metrics, updates, err := m.Run(context.Background(), "load1", make(schema.Schema), nil, 4)
	require.NoError(t, err)
	assert.Empty(t, metrics)
	assert.Empty(t, updates)
}

// With pool.NewNull(), both groups' workers run synchronously at
// submission time against the same initial empty snapshot: job1 (id:
// "abc" -> String) applies first, job2 (id: 5 -> Int64) then conflicts
// against the settled String column. Rather than propagating that
// conflict, Run discards job2's output and retries it against a
// refreshed snapshot, whose normalizer now sees the settled String
// column and coerces "5" to text instead of proposing Int64 again.
func TestMapper_Run_RetriesConflictingGroupAndCoercesToText(t *testing.T) {
	worker, dir := newTestWorker(t)
	f1 := writeJSONL(t, dir, "events.j1.jsonl", `{"id": "abc"}`+"\n")
	f2 := writeJSONL(t, dir, "events.j2.jsonl", `{"id": 5}`+"\n")

	m := NewMapper(pool.NewNull(), worker, nil)
	s := make(schema.Schema)
	files := []string{f1, f2}

	metrics, updates, err := m.Run(context.Background(), "load1", s, files, 2)
	require.NoError(t, err)
	require.Len(t, updates, 2)
	require.Len(t, metrics, 2)
	assert.Equal(t, schema.String, s["events"].Columns["id"].DataType)
}

// A failure that isn't a coercion conflict (a missing file here) has no
// losing worker to retry, so Run propagates it straight through, with no
// retry and no updates returned (the first group's delta, applied before
// the failing group's outcome is collected, stays in s).
func TestMapper_Run_PropagatesNonConflictFailure(t *testing.T) {
	worker, dir := newTestWorker(t)
	f1 := writeJSONL(t, dir, "events.j1.jsonl", `{"id": 1}`+"\n")
	missing := "extracted/events.j2.jsonl"

	m := NewMapper(pool.NewNull(), worker, nil)
	s := make(schema.Schema)
	files := []string{f1, missing}

	_, updates, err := m.Run(context.Background(), "load1", s, files, 2)
	require.Error(t, err)
	assert.Nil(t, updates)

	var jobErr *NormalizeJobFailed
	assert.ErrorAs(t, err, &jobErr)
}

func TestDedupByPath_DropsDuplicateFilePaths(t *testing.T) {
	in := []writer.Metrics{
		{FilePath: "a", ItemsCount: 1},
		{FilePath: "a", ItemsCount: 1},
		{FilePath: "b", ItemsCount: 2},
	}
	out := dedupByPath(in)
	require.Len(t, out, 2)
}
