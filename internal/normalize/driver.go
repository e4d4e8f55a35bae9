// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

package normalize

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/grab/async"
	"github.com/hako/durafmt"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/time/rate"

	"github.com/kelindar/talaria-normalize/internal/monitor"
	"github.com/kelindar/talaria-normalize/internal/schema"
	"github.com/kelindar/talaria-normalize/internal/storage"
	"github.com/kelindar/talaria-normalize/internal/writer"
)

// packageRateLimit bounds how fast Run starts new packages, so a backlog
// of extracted packages can't pin every CPU enumerating and spooling at
// once; it has no bearing on a single package's own worker pool width.
const packageRateLimit = rate.Limit(20)

// SchemaStorage is the remote schema-of-record the Driver reconciles an
// extracted package's own schema against before spooling it.
type SchemaStorage interface {
	Get(ctx context.Context, name string) (schema.Schema, error)
	Put(ctx context.Context, name string, s schema.Schema) error
}

// Driver is the top-level entry point: it enumerates extracted packages,
// reconciles each one's schema against Schema Storage by version, and
// runs the Spooler over whatever remains.
type Driver struct {
	extracted  storage.NormalizeStorage
	load       storage.LoadStorage
	schemas    SchemaStorage
	schemaName string
	spooler    *Spooler
	monitor    monitor.Monitor

	limit *rate.Limiter

	mu    sync.Mutex
	steps map[string]StepInfo
}

// StepInfo is the per-load-id bookkeeping of a run, exposed by
// Driver.StepInfo.
type StepInfo struct {
	LoadID      string
	TableCounts map[string]writer.Metrics
	Err         error
}

// NewDriver creates a Driver. schemaName identifies which named schema in
// SchemaStorage every extracted package in this run is reconciled
// against; normalize pipelines that multiplex several schemas run one
// Driver per name. load is consulted by GetLoadPackageInfo for packages
// that have already been committed out of extracted; it may be nil, in
// which case GetLoadPackageInfo only ever reports extracted's view.
func NewDriver(extracted storage.NormalizeStorage, load storage.LoadStorage, schemas SchemaStorage, schemaName string, spooler *Spooler, m monitor.Monitor) *Driver {
	if m == nil {
		m = monitor.NewNoop()
	}
	return &Driver{
		extracted:  extracted,
		load:       load,
		schemas:    schemas,
		schemaName: schemaName,
		spooler:    spooler,
		monitor:    m,
		limit:      rate.NewLimiter(packageRateLimit, 1),
		steps:      make(map[string]StepInfo),
	}
}

// Run enumerates every extracted package and normalizes each one in
// turn, returning aggregate run metrics and any per-package failures
// joined into a single error.
func (d *Driver) Run(ctx context.Context) (RunMetrics, error) {
	start := time.Now()

	loadIDs, err := d.extracted.ListPackages(ctx)
	if err != nil {
		return RunMetrics{}, &StorageFailure{Op: "list extracted packages", Cause: err}
	}

	var errs *multierror.Error
	done := 0
	for _, loadID := range loadIDs {
		select {
		case <-ctx.Done():
			d.monitor.Info("driver", "run cancelled after %d/%d packages", done, len(loadIDs))
			return RunMetrics{Done: false, Pending: len(loadIDs) - done}, ctx.Err()
		default:
		}
		if err := d.limit.Wait(ctx); err != nil {
			return RunMetrics{Done: false, Pending: len(loadIDs) - done}, ctx.Err()
		}

		if err := d.runOne(ctx, loadID); err != nil {
			d.monitor.Warning("driver", fmt.Errorf("package %s: %w", loadID, err))
			errs = multierror.Append(errs, fmt.Errorf("package %s: %w", loadID, err))
			d.recordStep(loadID, nil, err)
			continue
		}
		done++
	}

	elapsed := durafmt.Parse(time.Since(start))
	d.monitor.Info("driver", "run finished: %d/%d packages in %s", done, len(loadIDs), elapsed.String())

	return RunMetrics{Done: done == len(loadIDs), Pending: len(loadIDs) - done}, errs.ErrorOrNil()
}

// Serve runs Run repeatedly every interval until ctx is cancelled or the
// returned async.Task is cancelled, logging but not propagating
// individual run failures so one bad package never stops the loop.
func (d *Driver) Serve(ctx context.Context, interval time.Duration) async.Task {
	return async.Repeat(ctx, interval, func(ctx context.Context) (interface{}, error) {
		metrics, err := d.Run(ctx)
		if err != nil {
			d.monitor.Warning("driver", err)
		}
		return metrics, nil
	})
}

func (d *Driver) runOne(ctx context.Context, loadID string) error {
	info, err := d.extracted.GetLoadPackageInfo(ctx, loadID)
	if err != nil {
		return &StorageFailure{Op: "get load package info", Cause: err}
	}
	if len(info.Files) == 0 {
		d.monitor.Info("driver", "package %s has no new jobs, deleting", loadID)
		if err := d.extracted.DeletePackage(ctx, loadID, true); err != nil {
			return &StorageFailure{Op: "delete empty package", Cause: err}
		}
		d.recordStep(loadID, nil, nil)
		return nil
	}

	base, err := d.reconcileSchema(ctx, loadID)
	if err != nil {
		return err
	}

	tables, final, err := d.spooler.RunWithSchema(ctx, loadID, base)
	if err != nil {
		return err
	}
	if d.schemas != nil {
		if err := d.schemas.Put(ctx, d.schemaName, final); err != nil {
			d.monitor.Warning("driver", fmt.Errorf("package %s: saving reconciled schema: %w", loadID, err))
		}
	}
	d.recordStep(loadID, tables, nil)
	return nil
}

// reconcileSchema compares the extracted package's own schema against
// Schema Storage's copy by schema.VersionHash. On a mismatch it warns and
// returns Schema Storage's version as the base the Spooler reconciles
// from, since the extractor's own schema is only ever a starting point;
// when schemas is unset or the two agree, the extracted schema is used
// unchanged.
func (d *Driver) reconcileSchema(ctx context.Context, loadID string) (schema.Schema, error) {
	extracted, err := d.extracted.LoadSchema(ctx, loadID)
	if err != nil {
		return nil, &StorageFailure{Op: "load extracted schema", Cause: err}
	}
	if d.schemas == nil {
		return extracted, nil
	}

	stored, err := d.schemas.Get(ctx, d.schemaName)
	if err != nil {
		return nil, &StorageFailure{Op: "load schema storage", Cause: err}
	}

	if schema.VersionHash(extracted) == schema.VersionHash(stored) {
		return extracted, nil
	}
	d.monitor.Warning("driver", fmt.Errorf("package %s: schema version diverged from %s, preferring storage's", loadID, d.schemaName))
	return stored, nil
}

// GetLoadPackageInfo reports the state of loadID, looking in LoadStorage
// first and falling back to NormalizeStorage: once Spooler.Run commits a
// package, DeletePackage removes it from NormalizeStorage, so only
// LoadStorage still knows about it. A package still being normalized has
// no entry in LoadStorage yet, so the fallback covers that case too.
func (d *Driver) GetLoadPackageInfo(ctx context.Context, loadID string) (storage.PackageInfo, error) {
	if d.load != nil {
		if info, err := d.load.GetLoadPackageInfo(ctx, loadID); err == nil && info.Exists {
			return info, nil
		}
	}
	return d.extracted.GetLoadPackageInfo(ctx, loadID)
}

// StepInfo returns the bookkeeping recorded for loadID by the most
// recent Run, or false if loadID was never processed.
func (d *Driver) StepInfo(loadID string) (StepInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, ok := d.steps[loadID]
	return info, ok
}

// ProcessedCount returns how many packages have been recorded across
// every Run/Serve iteration so far, for a minimal external metrics surface.
func (d *Driver) ProcessedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.steps)
}

func (d *Driver) recordStep(loadID string, tables map[string]writer.Metrics, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.steps[loadID] = StepInfo{LoadID: loadID, TableCounts: tables, Err: err}
}
