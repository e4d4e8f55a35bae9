// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

package normalize

import (
	"context"
	"errors"
	"fmt"

	uuid "github.com/satori/go.uuid"

	"github.com/kelindar/talaria-normalize/internal/monitor"
	"github.com/kelindar/talaria-normalize/internal/pool"
	"github.com/kelindar/talaria-normalize/internal/schema"
	"github.com/kelindar/talaria-normalize/internal/writer"
)

// Mapper is the ParallelMapper: it groups files across a pool of workers
// and, as each group's worker completes (in submission order, so a
// pool.Null stays fully deterministic), reconciles its proposed schema
// update into the live, authoritative Schema immediately. The live
// Schema is mutated only from this function's calling goroutine, never
// from a worker.
type Mapper struct {
	pool       pool.Pool
	worker     *Worker
	reconciler *Reconciler
	monitor    monitor.Monitor
}

// NewMapper creates a ParallelMapper over the given pool and worker.
func NewMapper(p pool.Pool, worker *Worker, m monitor.Monitor) *Mapper {
	if m == nil {
		m = monitor.NewNoop()
	}
	return &Mapper{pool: p, worker: worker, reconciler: NewReconciler(), monitor: m}
}

type groupJob struct {
	jobID string
	files []string
	task  pool.Task
}

// Run partitions files into width groups and runs one Worker per group
// concurrently (or synchronously, for a pool.Null).
//
// Each group's delta is applied to s as soon as that group completes,
// rather than waiting for every group and batching the updates. When a
// group's delta loses a *schema.CoercionConflictError against a column
// another, earlier-applied group already settled, only that one group is
// the "loser": its output is discarded via Worker.DiscardJob, s is
// re-snapshotted with the winner's change already in it, and the same
// files are resubmitted once under a fresh job id. Most real conflicts
// resolve this way, since the retry's normalizer now knows the settled
// column type and coerces its own values to text instead of repeating
// the same proposal. Only a conflict that survives the retry is
// surfaced, unchanged, to the Spooler's single-worker fallback, which
// reruns the whole package through a pool.Null where no two groups can
// race on the same table at all.
//
// Metrics are deduplicated by FilePath before being returned. A retried
// group's discarded first attempt is not counted at all: only the retry's
// metrics are collected, and the retry writes under its own job id.
//
// The returned []schema.Update is the sequence of per-group deltas
// applied to s, in application order, for the Spooler to persist as the
// run's schema-update manifest.
func (m *Mapper) Run(ctx context.Context, loadID string, s schema.Schema, files []string, width int) ([]writer.Metrics, []schema.Update, error) {
	groups := GroupFiles(files, width)
	if len(groups) == 0 {
		return nil, nil, nil
	}

	snapshot, err := s.Snapshot()
	if err != nil {
		return nil, nil, &StorageFailure{Op: "schema snapshot", Cause: err}
	}

	jobs := make([]groupJob, 0, len(groups))
	for i, group := range groups {
		group, jobID := group, fmt.Sprintf("worker-%d-%s", i, uuid.NewV4().String())
		task := m.pool.Go(func(ctx context.Context) (interface{}, error) {
			return m.worker.Run(ctx, Job{LoadID: loadID, ID: jobID, Files: group, Snapshot: snapshot})
		})
		jobs = append(jobs, groupJob{jobID: jobID, files: group, task: task})
	}

	var metrics []writer.Metrics
	var updates []schema.Update
	var firstErr error

	for _, job := range jobs {
		outcome, err := job.task.Outcome()
		if err != nil {
			var jobErr *NormalizeJobFailed
			if errors.As(err, &jobErr) {
				metrics = append(metrics, jobErr.PartialMetrics...)
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		result := outcome.(WorkerResult)
		update, resultMetrics, err := m.applyOrRetry(ctx, loadID, s, job.jobID, job.files, result)
		metrics = append(metrics, resultMetrics...)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		updates = append(updates, update)
	}

	if firstErr != nil {
		m.monitor.Warning("mapper", firstErr)
		return dedupByPath(metrics), nil, firstErr
	}
	return dedupByPath(metrics), updates, nil
}

// applyOrRetry applies result's delta to s. On a coercion conflict it
// discards jobID's output, resubmits files once against a refreshed
// snapshot of s, and applies the retry's delta instead. A conflict that
// survives the retry is returned unchanged.
func (m *Mapper) applyOrRetry(ctx context.Context, loadID string, s schema.Schema, jobID string, files []string, result WorkerResult) (schema.Update, []writer.Metrics, error) {
	if err := m.reconciler.Apply(s, []schema.Update{result.SchemaUpdates}); err == nil {
		return result.SchemaUpdates, result.FileMetrics, nil
	} else if !isCoercionConflict(err) {
		return nil, result.FileMetrics, err
	}

	if err := m.worker.DiscardJob(ctx, loadID, jobID); err != nil {
		m.monitor.Warning("mapper", fmt.Errorf("discarding conflicting job %s: %w", jobID, err))
	}

	retrySnapshot, err := s.Snapshot()
	if err != nil {
		return nil, nil, &StorageFailure{Op: "schema snapshot", Cause: err}
	}
	retryJobID := jobID + "-retry"
	retryResult, err := m.worker.Run(ctx, Job{LoadID: loadID, ID: retryJobID, Files: files, Snapshot: retrySnapshot})
	if err != nil {
		var jobErr *NormalizeJobFailed
		if errors.As(err, &jobErr) {
			return nil, jobErr.PartialMetrics, err
		}
		return nil, nil, err
	}

	if err := m.reconciler.Apply(s, []schema.Update{retryResult.SchemaUpdates}); err != nil {
		if derr := m.worker.DiscardJob(ctx, loadID, retryJobID); derr != nil {
			m.monitor.Warning("mapper", fmt.Errorf("discarding retried job %s: %w", retryJobID, derr))
		}
		return nil, retryResult.FileMetrics, err
	}
	return retryResult.SchemaUpdates, retryResult.FileMetrics, nil
}

func isCoercionConflict(err error) bool {
	var conflict *schema.CoercionConflictError
	return errors.As(err, &conflict)
}

func dedupByPath(metrics []writer.Metrics) []writer.Metrics {
	seen := make(map[string]bool, len(metrics))
	out := make([]writer.Metrics, 0, len(metrics))
	for _, m := range metrics {
		if seen[m.FilePath] {
			continue
		}
		seen[m.FilePath] = true
		out = append(out, m)
	}
	return out
}
