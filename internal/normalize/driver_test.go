// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

package normalize

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelindar/talaria-normalize/internal/monitor"
	"github.com/kelindar/talaria-normalize/internal/schema"
)

type fakeSchemaStorage struct {
	mu    sync.Mutex
	store map[string]schema.Schema
}

func newFakeSchemaStorage() *fakeSchemaStorage {
	return &fakeSchemaStorage{store: make(map[string]schema.Schema)}
}

func (f *fakeSchemaStorage) Get(_ context.Context, name string) (schema.Schema, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.store[name], nil
}

func (f *fakeSchemaStorage) Put(_ context.Context, name string, s schema.Schema) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[name] = s
	return nil
}

func TestDriver_Run_ProcessesEveryExtractedPackage(t *testing.T) {
	f := newSpoolerFixture(t)
	f.seedExtracted(t, "load1", map[string]string{
		"events.j1.jsonl": `{"id": 1}` + "\n",
	})
	f.seedExtracted(t, "load2", map[string]string{
		"events.j1.jsonl": `{"id": 2}` + "\n",
	})

	d := NewDriver(f.extracted, f.load, nil, "default", f.spooler, monitor.NewNoop())
	metrics, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, metrics.Done)
	assert.Equal(t, 0, metrics.Pending)

	ctx := context.Background()
	for _, loadID := range []string{"load1", "load2"} {
		exists, err := f.store.Exists(ctx, "load/committed/"+loadID)
		require.NoError(t, err)
		assert.True(t, exists, loadID)
	}
}

func TestDriver_Run_DeletesEmptyPackageWithoutSpooling(t *testing.T) {
	f := newSpoolerFixture(t)
	f.seedExtracted(t, "load1", nil)

	d := NewDriver(f.extracted, f.load, nil, "default", f.spooler, monitor.NewNoop())
	metrics, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, metrics.Done)

	ctx := context.Background()
	exists, err := f.store.Exists(ctx, "extracted/load1")
	require.NoError(t, err)
	assert.False(t, exists)

	committed, err := f.store.Exists(ctx, "load/committed/load1")
	require.NoError(t, err)
	assert.False(t, committed)
}

func TestDriver_Run_PrefersSchemaStorageOnVersionMismatch(t *testing.T) {
	f := newSpoolerFixture(t)
	f.seedExtracted(t, "load1", map[string]string{
		"events.j1.jsonl": `{"id": 1}` + "\n",
	})

	schemas := newFakeSchemaStorage()
	stored := schema.Schema{"legacy": schema.NewTable("legacy")}
	stored["legacy"].Columns["flag"] = schema.Column{Name: "flag", DataType: schema.Bool}
	require.NoError(t, schemas.Put(context.Background(), "default", stored))

	d := NewDriver(f.extracted, f.load, schemas, "default", f.spooler, monitor.NewNoop())
	_, err := d.Run(context.Background())
	require.NoError(t, err)

	final, err := schemas.Get(context.Background(), "default")
	require.NoError(t, err)
	require.Contains(t, final, "legacy")
	require.Contains(t, final, "events")
}

func TestDriver_Run_AggregatesFailuresAcrossPackagesAndContinues(t *testing.T) {
	f := newSpoolerFixture(t)
	f.seedExtracted(t, "load1", map[string]string{
		"events.j1.jsonl": `{"id": "abc"}` + "\n",
		"events.j2.jsonl": `{"id": "def"}` + "\n",
	})
	// load2 has a malformed item file name (missing the job id segment),
	// which ParseFileName rejects outright — a failure no retry can fix.
	f.seedExtracted(t, "load2", map[string]string{
		"events.jsonl": `{"id": "abc"}` + "\n",
	})

	d := NewDriver(f.extracted, f.load, nil, "default", f.spooler, monitor.NewNoop())
	metrics, err := d.Run(context.Background())
	require.Error(t, err)
	assert.False(t, metrics.Done)
	assert.Equal(t, 1, metrics.Pending)

	_, ok := d.StepInfo("load2")
	require.True(t, ok)

	ctx := context.Background()
	exists, err := f.store.Exists(ctx, "load/committed/load1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDriver_Serve_RunsRepeatedlyUntilCancelled(t *testing.T) {
	f := newSpoolerFixture(t)
	f.seedExtracted(t, "load1", map[string]string{
		"events.j1.jsonl": `{"id": 1}` + "\n",
	})

	d := NewDriver(f.extracted, f.load, nil, "default", f.spooler, monitor.NewNoop())
	ctx, cancel := context.WithCancel(context.Background())
	task := d.Serve(ctx, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok := d.StepInfo("load1")
		return ok
	}, time.Second, time.Millisecond)

	cancel()
	task.Cancel()
}

func TestDriver_GetLoadPackageInfo_ReportsExtractedState(t *testing.T) {
	f := newSpoolerFixture(t)
	f.seedExtracted(t, "load1", map[string]string{
		"events.j1.jsonl": `{"id": 1}` + "\n",
	})

	d := NewDriver(f.extracted, f.load, nil, "default", f.spooler, monitor.NewNoop())
	info, err := d.GetLoadPackageInfo(context.Background(), "load1")
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.Len(t, info.Files, 1)
}

func TestDriver_GetLoadPackageInfo_ReportsLoadStorageOnceCommitted(t *testing.T) {
	f := newSpoolerFixture(t)
	f.seedExtracted(t, "load1", map[string]string{
		"events.j1.jsonl": `{"id": 1}` + "\n",
	})

	d := NewDriver(f.extracted, f.load, nil, "default", f.spooler, monitor.NewNoop())
	_, err := d.Run(context.Background())
	require.NoError(t, err)

	ctx := context.Background()
	extractedExists, err := f.store.Exists(ctx, "extracted/load1")
	require.NoError(t, err)
	require.False(t, extractedExists, "Run should have deleted the extracted package once committed")

	info, err := d.GetLoadPackageInfo(ctx, "load1")
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.Len(t, info.Files, 1)
}
