// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

package normalize

import (
	"github.com/kelindar/talaria-normalize/internal/schema"
	"github.com/kelindar/talaria-normalize/internal/writer"
)

// WorkerResult is the contract WorkerJob returns on success: the partial
// schema updates its files implied, and the metrics of every file it
// wrote.
type WorkerResult struct {
	SchemaUpdates schema.Update
	FileMetrics   []writer.Metrics
}

// RunMetrics is the Driver's per-invocation return value:
// done reports whether every extracted package was processed in this
// run, pending is how many of the packages listed at the start of the
// run were not processed successfully (packages the extractor writes
// while the run is in flight are not counted).
type RunMetrics struct {
	Done    bool
	Pending int
}

// tableMetrics sums writer.Metrics per table, using ParseFileName to
// recover each file's table from its path, mirroring the
// ParsedLoadJobFileName-keyed grouping the Spooler performs on commit.
func tableMetrics(metrics []writer.Metrics) (map[string]writer.Metrics, error) {
	out := make(map[string]writer.Metrics, len(metrics))
	for _, m := range metrics {
		table, _, _, err := ParseFileName(base(m.FilePath))
		if err != nil {
			return nil, err
		}
		out[table] = out[table].Add(m)
	}
	return out, nil
}

func base(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}
