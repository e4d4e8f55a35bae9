// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

package normalize

import (
	"fmt"

	"github.com/kelindar/talaria-normalize/internal/writer"
)

// NormalizeJobFailed is raised when a WorkerJob cannot complete. It
// carries whatever writer metrics were produced before the failure so the
// mapper can still account for files left on disk.
type NormalizeJobFailed struct {
	LoadID         string
	JobID          string
	Cause          error
	PartialMetrics []writer.Metrics
}

func (e *NormalizeJobFailed) Error() string {
	return fmt.Sprintf("normalize: job %s for package %s failed: %v", e.JobID, e.LoadID, e.Cause)
}

func (e *NormalizeJobFailed) Unwrap() error { return e.Cause }

// StorageFailure wraps a rename/list/read/write error from NormalizeStorage
// or LoadStorage. It is always fatal for the current run; the next run
// re-processes the untouched extracted package.
type StorageFailure struct {
	Op    string
	Cause error
}

func (e *StorageFailure) Error() string {
	return fmt.Sprintf("normalize: storage failure during %s: %v", e.Op, e.Cause)
}

func (e *StorageFailure) Unwrap() error { return e.Cause }

// Signalled indicates cooperative cancellation was observed at a
// checkpoint. It propagates without cleanup of the in-flight temp
// package, which is safe because the commit rename is atomic.
type Signalled struct {
	LoadID string
}

func (e *Signalled) Error() string {
	return fmt.Sprintf("normalize: cancelled before committing package %s", e.LoadID)
}
