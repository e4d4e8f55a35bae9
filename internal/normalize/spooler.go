// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

package normalize

import (
	"context"
	"errors"

	"github.com/kelindar/talaria-normalize/internal/monitor"
	"github.com/kelindar/talaria-normalize/internal/pool"
	"github.com/kelindar/talaria-normalize/internal/schema"
	"github.com/kelindar/talaria-normalize/internal/storage"
	"github.com/kelindar/talaria-normalize/internal/writer"
)

// Spooler drives one extracted package through to a committed load
// package: import, normalize, persist, commit, clean up.
type Spooler struct {
	extracted storage.NormalizeStorage
	load      storage.LoadStorage
	mapper    *Mapper
	fallback  *Mapper
	naming    schema.Naming
	poolWidth int
	monitor   monitor.Monitor
}

// NewSpooler creates a Spooler. worker and p back the primary,
// concurrent pass; a second Mapper sharing the same worker but backed by
// pool.Null is kept for the single-worker fallback triggered by an
// unresolved schema conflict.
func NewSpooler(extracted storage.NormalizeStorage, load storage.LoadStorage, worker *Worker, p pool.Pool, naming schema.Naming, poolWidth int, m monitor.Monitor) *Spooler {
	if m == nil {
		m = monitor.NewNoop()
	}
	if naming == nil {
		naming = schema.DefaultNaming{}
	}
	return &Spooler{
		extracted: extracted,
		load:      load,
		mapper:    NewMapper(p, worker, m),
		fallback:  NewMapper(pool.NewNull(), worker, m),
		naming:    naming,
		poolWidth: poolWidth,
		monitor:   m,
	}
}

// Run processes one extracted load package end to end, starting schema
// reconciliation from the package's own extracted schema, and returning
// per-table write metrics for the committed package.
func (s *Spooler) Run(ctx context.Context, loadID string) (map[string]writer.Metrics, error) {
	metrics, _, err := s.run(ctx, loadID, nil)
	return metrics, err
}

// RunWithSchema behaves like Run but reconciles starting from base
// instead of re-reading the extracted package's own schema, letting a
// Driver substitute Schema Storage's copy when the two have diverged by
// schema.VersionHash. It also returns the final, reconciled schema so the
// Driver can write it back to Schema Storage.
func (s *Spooler) RunWithSchema(ctx context.Context, loadID string, base schema.Schema) (map[string]writer.Metrics, schema.Schema, error) {
	return s.run(ctx, loadID, base)
}

func (s *Spooler) run(ctx context.Context, loadID string, base schema.Schema) (map[string]writer.Metrics, schema.Schema, error) {
	extractedSchema := base
	if extractedSchema == nil {
		var err error
		extractedSchema, err = s.extracted.LoadSchema(ctx, loadID)
		if err != nil {
			return nil, nil, &StorageFailure{Op: "load extracted schema", Cause: err}
		}
	}

	if err := s.load.DeleteNewPackage(ctx, loadID); err != nil {
		return nil, nil, &StorageFailure{Op: "delete stale new package", Cause: err}
	}

	if err := s.load.ImportExtractedPackage(ctx, loadID, s.extracted); err != nil {
		return nil, nil, &StorageFailure{Op: "import extracted package", Cause: err}
	}

	files, err := s.extracted.ListNewJobs(ctx, loadID)
	if err != nil {
		return nil, nil, &StorageFailure{Op: "list new jobs", Cause: err}
	}

	live := schema.CloneWithNaming(extractedSchema, s.naming)

	metrics, updates, err := s.mapper.Run(ctx, loadID, live, files, s.poolWidth)
	if err != nil {
		var conflict *schema.CoercionConflictError
		if !errors.As(err, &conflict) {
			return nil, nil, err
		}
		s.monitor.Warning("spooler", err)

		// Start over from the untouched extracted schema: a pool.Null
		// mapper applies every group's delta strictly in order, so two
		// groups can never race on the same column again.
		live = schema.CloneWithNaming(extractedSchema, s.naming)
		metrics, updates, err = s.fallback.Run(ctx, loadID, live, files, 1)
		if err != nil {
			return nil, nil, err
		}
	}

	for _, table := range live {
		table.XNormalizer.EvolveColumnsOnce = false
		if len(files) > 0 {
			table.XNormalizer.SeenData = true
		}
	}

	if err := s.load.SaveSchema(ctx, loadID, &live); err != nil {
		return nil, nil, &StorageFailure{Op: "save schema", Cause: err}
	}
	if err := s.load.SaveSchemaUpdates(ctx, loadID, updates); err != nil {
		return nil, nil, &StorageFailure{Op: "save schema updates", Cause: err}
	}

	select {
	case <-ctx.Done():
		return nil, nil, &Signalled{LoadID: loadID}
	default:
	}

	if err := s.load.CommitNewLoadPackage(ctx, loadID); err != nil {
		return nil, nil, &StorageFailure{Op: "commit load package", Cause: err}
	}

	if err := s.extracted.DeletePackage(ctx, loadID, true); err != nil {
		s.monitor.Warning("spooler", err)
	}

	perTable, err := tableMetrics(metrics)
	if err != nil {
		return nil, nil, err
	}
	for table, m := range perTable {
		s.monitor.Info("spooler", "package %s table %s: %d items, %d bytes", loadID, table, m.ItemsCount, m.Bytes)
		s.monitor.Count("spooler", "items", m.ItemsCount)
	}
	return perTable, live, nil
}
