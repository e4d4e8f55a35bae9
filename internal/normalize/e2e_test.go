// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

package normalize

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelindar/talaria-normalize/internal/monitor"
	"github.com/kelindar/talaria-normalize/internal/pool"
	"github.com/kelindar/talaria-normalize/internal/schema"
	"github.com/kelindar/talaria-normalize/internal/storage"
	"github.com/kelindar/talaria-normalize/internal/storage/disk"
	"github.com/kelindar/talaria-normalize/internal/writer"
	"github.com/kelindar/talaria-normalize/internal/writer/jsonl"
)

// e2eHarness wires a Driver against a disk-backed PackageStore rooted in
// t.TempDir() — a real filesystem standing in for the "in-memory
// PackageStore fake" these scenarios are specified against, since the
// disk backend already satisfies PackageStore with no further
// indirection needed for a process-local test.
type e2eHarness struct {
	store     *disk.Store
	extracted storage.NormalizeStorage
	load      storage.LoadStorage
	driver    *Driver
}

func newE2EHarness(t *testing.T, poolWidth int) *e2eHarness {
	t.Helper()
	dir := t.TempDir()
	store, err := disk.New(filepath.Join(dir, "store"))
	require.NoError(t, err)

	extracted := storage.NewNormalizeStorage(store, "extracted")
	registry := writer.NewRegistry(map[writer.FileFormat]writer.Factory{
		writer.JSONL: func(d string) writer.ItemStorage { return jsonl.New(d) },
	})
	load := storage.NewLoadStorage(store, "load/new", "load/committed", filepath.Join(dir, "staging"), registry)

	caps := writer.DestinationCapabilities{
		PreferredLoaderFileFormat:  writer.JSONL,
		SupportedLoaderFileFormats: []writer.FileFormat{writer.JSONL},
	}
	resolver := writer.NewResolver(monitor.NewNoop())
	worker := NewWorker(resolver, load, store, caps, "", monitor.NewNoop())
	spooler := NewSpooler(extracted, load, worker, pool.New(poolWidth), nil, poolWidth, monitor.NewNoop())
	driver := NewDriver(extracted, load, nil, "default", spooler, monitor.NewNoop())

	return &e2eHarness{store: store, extracted: extracted, load: load, driver: driver}
}

func (h *e2eHarness) seed(t *testing.T, loadID string, files map[string]string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.store.WriteFile(ctx, "extracted/"+loadID+"/schema.json", []byte("{}")))
	for name, content := range files {
		require.NoError(t, h.store.WriteFile(ctx, "extracted/"+loadID+"/new_jobs/"+name, []byte(content)))
	}
}

// committedFiles reads every file under a committed package's new_jobs
// directory, regardless of the job id embedded in its filename.
func (h *e2eHarness) committedFiles(ctx context.Context, t *testing.T, loadID string) [][]byte {
	t.Helper()
	names, err := h.store.List(ctx, "load/committed/"+loadID+"/new_jobs/")
	require.NoError(t, err)
	out := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := h.store.ReadFile(ctx, name)
		require.NoError(t, err)
		out = append(out, data)
	}
	return out
}

// Scenario 1: single file, single table.
func TestE2E_SingleFileSingleTable(t *testing.T) {
	h := newE2EHarness(t, 1)
	h.seed(t, "load1", map[string]string{
		"users.0.jsonl": `{"id": 1}` + "\n" + `{"id": 2}` + "\n" + `{"id": 3}` + "\n",
	})

	_, err := h.driver.Run(context.Background())
	require.NoError(t, err)

	ctx := context.Background()
	data, err := h.store.ReadFile(ctx, "load/committed/load1/schema.json")
	require.NoError(t, err)
	var s schema.Schema
	require.NoError(t, json.Unmarshal(data, &s))
	require.Contains(t, s, "users")
	assert.True(t, s["users"].XNormalizer.SeenData)

	info, err := h.load.GetLoadPackageInfo(ctx, "load1")
	require.NoError(t, err)
	assert.Len(t, info.Files, 1)

	files := h.committedFiles(ctx, t, "load1")
	require.Len(t, files, 1)
	assert.Contains(t, string(files[0]), `"id":1`)
	assert.Contains(t, string(files[0]), `"id":3`)
}

// Scenario 2: two disjoint tables, processed in parallel.
func TestE2E_TwoDisjointTablesParallel(t *testing.T) {
	h := newE2EHarness(t, 2)
	h.seed(t, "load1", map[string]string{
		"a.0.jsonl": `{"x": 1}` + "\n",
		"b.0.jsonl": `{"y": 1}` + "\n",
	})

	_, err := h.driver.Run(context.Background())
	require.NoError(t, err)

	ctx := context.Background()
	data, err := h.store.ReadFile(ctx, "load/committed/load1/schema.json")
	require.NoError(t, err)
	var s schema.Schema
	require.NoError(t, json.Unmarshal(data, &s))
	require.Contains(t, s, "a")
	require.Contains(t, s, "b")
	assert.True(t, s["a"].XNormalizer.SeenData)
	assert.True(t, s["b"].XNormalizer.SeenData)
}

// Scenario 3: a widening conflict across two workers recovers via the
// Reconciler's ordered application without needing the single-worker
// fallback — both files still contribute to items_count.
func TestE2E_ConflictAcrossWorkersRecoversByWidening(t *testing.T) {
	h := newE2EHarness(t, 2)
	h.seed(t, "load1", map[string]string{
		"t.0.jsonl": `{"x": 1}` + "\n",
		"t.1.jsonl": `{"x": "a"}` + "\n",
	})

	_, err := h.driver.Run(context.Background())
	require.NoError(t, err)

	ctx := context.Background()
	data, err := h.store.ReadFile(ctx, "load/committed/load1/schema.json")
	require.NoError(t, err)
	var s schema.Schema
	require.NoError(t, json.Unmarshal(data, &s))
	assert.Equal(t, schema.String, s["t"].Columns["x"].DataType)
}

// Scenario 4: the same widening conflict as scenario 3, but with the
// string and int files swapping which group gets processed first. Here
// the string group applies first and settles the column as text; the int
// group's delta then conflicts, is retried, and coerces to text. In
// scenario 3's order the string delta simply widens the int column. Either
// way the final committed schema is the same.
func TestE2E_ConflictResolvesRegardlessOfFileOrder(t *testing.T) {
	h := newE2EHarness(t, 2)
	h.seed(t, "load1", map[string]string{
		"t.0.jsonl": `{"x": "a"}` + "\n",
		"t.1.jsonl": `{"x": 1}` + "\n",
	})

	_, err := h.driver.Run(context.Background())
	require.NoError(t, err)

	ctx := context.Background()
	data, err := h.store.ReadFile(ctx, "load/committed/load1/schema.json")
	require.NoError(t, err)
	var s schema.Schema
	require.NoError(t, json.Unmarshal(data, &s))
	assert.Equal(t, schema.String, s["t"].Columns["x"].DataType)

	committed, err := h.store.Exists(ctx, "load/committed/load1")
	require.NoError(t, err)
	assert.True(t, committed)

	extracted, err := h.store.Exists(ctx, "extracted/load1")
	require.NoError(t, err)
	assert.False(t, extracted)
}

// Scenario 5: an empty package is deleted and no load package appears.
func TestE2E_EmptyPackageIsDeleted(t *testing.T) {
	h := newE2EHarness(t, 1)
	h.seed(t, "load1", nil)

	metrics, err := h.driver.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, metrics.Done)

	ctx := context.Background()
	extracted, err := h.store.Exists(ctx, "extracted/load1")
	require.NoError(t, err)
	assert.False(t, extracted)

	committed, err := h.store.Exists(ctx, "load/committed/load1")
	require.NoError(t, err)
	assert.False(t, committed)
}

// Scenario 6: cancellation observed after workers submitted but before
// commit leaves no committed package and an intact extracted package.
func TestE2E_MidRunCancellationLeavesNoCommittedPackage(t *testing.T) {
	h := newE2EHarness(t, 1)
	h.seed(t, "load1", map[string]string{
		"users.0.jsonl": `{"id": 1}` + "\n",
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancelling := &cancelOnSaveUpdates{LoadStorage: h.load, cancel: cancel}
	resolver := writer.NewResolver(monitor.NewNoop())
	caps := writer.DestinationCapabilities{
		PreferredLoaderFileFormat:  writer.JSONL,
		SupportedLoaderFileFormats: []writer.FileFormat{writer.JSONL},
	}
	worker := NewWorker(resolver, cancelling, h.store, caps, "", monitor.NewNoop())
	spooler := NewSpooler(h.extracted, cancelling, worker, pool.NewNull(), nil, 1, monitor.NewNoop())

	_, err := spooler.Run(ctx, "load1")
	require.Error(t, err)
	var signalled *Signalled
	require.ErrorAs(t, err, &signalled)

	committed, err := h.store.Exists(context.Background(), "load/committed/load1")
	require.NoError(t, err)
	assert.False(t, committed)

	extracted, err := h.store.Exists(context.Background(), "extracted/load1")
	require.NoError(t, err)
	assert.True(t, extracted)
}

// cancelOnSaveUpdates cancels its context right after the schema-updates
// write, the exact checkpoint the Spooler polls before committing,
// simulating a cancellation signal arriving after workers have submitted
// but before the commit rename.
type cancelOnSaveUpdates struct {
	storage.LoadStorage
	cancel context.CancelFunc
}

func (c *cancelOnSaveUpdates) SaveSchemaUpdates(ctx context.Context, loadID string, updates []schema.Update) error {
	if err := c.LoadStorage.SaveSchemaUpdates(ctx, loadID, updates); err != nil {
		return err
	}
	c.cancel()
	return nil
}
