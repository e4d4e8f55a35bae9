// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

package normalize

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/kelindar/talaria-normalize/internal/monitor"
	"github.com/kelindar/talaria-normalize/internal/normalizeritem"
	"github.com/kelindar/talaria-normalize/internal/schema"
	"github.com/kelindar/talaria-normalize/internal/storage"
	"github.com/kelindar/talaria-normalize/internal/writer"
)

// Job describes one group of extracted files a Worker processes against
// a single, immutable schema snapshot.
type Job struct {
	LoadID   string
	ID       string
	Files    []string
	Snapshot schema.Snapshot
}

// FileReader fetches the raw contents of one extracted file, given a
// path as returned by NormalizeStorage.ListNewJobs. storage.NormalizeStorage
// satisfies this directly.
type FileReader interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

// Worker runs a Job: it hydrates its own private schema clone from the
// Job's snapshot, resolves and opens a writer per table, feeds every
// file through the item normalizer selected by extension, and returns
// the schema deltas the files implied. It never touches a shared Schema
// reference.
type Worker struct {
	resolver   *writer.Resolver
	storage    storage.LoadStorage
	reader     FileReader
	caps       writer.DestinationCapabilities
	userFormat writer.FileFormat
	monitor    monitor.Monitor
}

// NewWorker creates a WorkerJob runner sharing a single LoadStorage
// (and therefore the item-storage cache keyed by writer.FileFormat) with
// every other worker the ParallelMapper submits for the same package.
// reader fetches extracted file contents; it is ordinarily the same
// NormalizeStorage the Spooler reads the package's file list from.
func NewWorker(resolver *writer.Resolver, store storage.LoadStorage, reader FileReader, caps writer.DestinationCapabilities, userFormat writer.FileFormat, m monitor.Monitor) *Worker {
	if m == nil {
		m = monitor.NewNoop()
	}
	return &Worker{resolver: resolver, storage: store, reader: reader, caps: caps, userFormat: userFormat, monitor: m}
}

type tableState struct {
	storage writer.ItemStorage
	spec    writer.Spec
}

// Run processes job.Files in order, returning the accumulated schema
// update and per-file write metrics. On any failure it attempts an
// orderly close of every writer opened so far, falls back to a
// discarding close for whichever writer won't close cleanly, and wraps
// the cause in a NormalizeJobFailed carrying whatever metrics survived.
func (w *Worker) Run(ctx context.Context, job Job) (WorkerResult, error) {
	local, err := schema.FromSnapshot(job.Snapshot)
	if err != nil {
		return WorkerResult{}, &NormalizeJobFailed{LoadID: job.LoadID, JobID: job.ID, Cause: err}
	}

	tables := make(map[string]*tableState)
	opened := make([]writer.ItemStorage, 0, 4)
	update := make(schema.Update)

	runErr := w.process(ctx, job, local, tables, &opened, update)
	if runErr != nil {
		partial := w.cleanup(job.LoadID, job.ID, opened)
		return WorkerResult{}, &NormalizeJobFailed{LoadID: job.LoadID, JobID: job.ID, Cause: runErr, PartialMetrics: partial}
	}

	metrics, failed, closeErr := w.closeAll(job.LoadID, job.ID, opened, false)
	if closeErr != nil {
		discarded, _, _ := w.closeAll(job.LoadID, job.ID, failed, true)
		metrics = append(metrics, discarded...)
		return WorkerResult{}, &NormalizeJobFailed{LoadID: job.LoadID, JobID: job.ID, Cause: closeErr, PartialMetrics: metrics}
	}
	return WorkerResult{SchemaUpdates: update, FileMetrics: metrics}, nil
}

// DiscardJob unwinds whatever output job.ID has staged across every
// writer format the package's tables might use, so a ParallelMapper can
// retry a conflicting group from a refreshed snapshot without leaving its
// first attempt's files behind.
func (w *Worker) DiscardJob(ctx context.Context, loadID, jobID string) error {
	return w.storage.DiscardJob(ctx, loadID, jobID)
}

func (w *Worker) process(ctx context.Context, job Job, local schema.Schema, tables map[string]*tableState, opened *[]writer.ItemStorage, update schema.Update) error {
	for _, file := range job.Files {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		table, _, _, err := ParseFileName(base(file))
		if err != nil {
			return fmt.Errorf("normalize: %s: %w", file, err)
		}
		normalizer, itemFormat, err := normalizeritem.Select(file)
		if err != nil {
			return fmt.Errorf("normalize: %s: %w", file, err)
		}

		st, ok := tables[table]
		if !ok {
			st, err = w.open(table, local, itemFormat)
			if err != nil {
				return err
			}
			tables[table] = st
			*opened = appendUnseen(*opened, st.storage)
			w.monitor.Info("worker", "table %s writing via %s", table, st.spec.FileFormat)
		}

		data, err := w.reader.ReadFile(ctx, file)
		if err != nil {
			return fmt.Errorf("normalize: %s: %w", file, err)
		}

		tableSchema := local.EnsureTable(table)
		delta, err := normalizer.Normalize(data, job.LoadID, job.ID, table, tableSchema, st.storage)
		if err != nil {
			return fmt.Errorf("normalize: %s: %w", file, err)
		}
		update[table] = append(update[table], delta)
	}
	return nil
}

func (w *Worker) open(table string, local schema.Schema, itemFormat writer.ItemFormat) (*tableState, error) {
	tableSchema := local.EnsureTable(table)
	spec, err := w.resolver.Resolve(tableSchema, itemFormat, w.caps, w.userFormat)
	if err != nil {
		return nil, err
	}
	itemStorage, err := w.storage.CreateItemStorage(spec)
	if err != nil {
		return nil, err
	}
	return &tableState{storage: itemStorage, spec: spec}, nil
}

// cleanup attempts an orderly close of every opened writer, then retries
// only the writers that failed to close cleanly with skipFlush=true, so
// good output from unrelated tables in the same job survives a single
// table's failure.
func (w *Worker) cleanup(loadID, jobID string, opened []writer.ItemStorage) []writer.Metrics {
	metrics, failed, err := w.closeAll(loadID, jobID, opened, false)
	if err != nil {
		w.monitor.Warning("worker", err)
		discarded, stillFailed, discardErr := w.closeAll(loadID, jobID, failed, true)
		metrics = append(metrics, discarded...)
		if discardErr != nil {
			w.monitor.Warning("worker", discardErr)
		}
		_ = stillFailed
	}
	return metrics
}

func (w *Worker) closeAll(loadID, jobID string, storages []writer.ItemStorage, skipFlush bool) ([]writer.Metrics, []writer.ItemStorage, error) {
	var errs *multierror.Error
	var metrics []writer.Metrics
	var failed []writer.ItemStorage
	for _, s := range storages {
		closed, err := s.CloseWriters(loadID, jobID, skipFlush)
		if err != nil {
			errs = multierror.Append(errs, err)
			failed = append(failed, s)
			continue
		}
		if !skipFlush {
			metrics = append(metrics, closed...)
		}
	}
	return metrics, failed, errs.ErrorOrNil()
}

func appendUnseen(storages []writer.ItemStorage, s writer.ItemStorage) []writer.ItemStorage {
	for _, existing := range storages {
		if existing == s {
			return storages
		}
	}
	return append(storages, s)
}
