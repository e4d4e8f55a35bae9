// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

// Package writer implements the WriterResolver: choosing a writer
// format for a table given destination capabilities, user preference and
// the item format a normalizer produces, plus the ItemStorage contract
// every concrete writer (jsonl, parquet, orc) satisfies.
package writer

import (
	"time"

	"github.com/kelindar/talaria-normalize/internal/schema"
)

// ItemFormat is the in-memory shape item normalizers hand to a writer.
type ItemFormat string

const (
	// FormatJSON carries one decoded JSON object per row.
	FormatJSON ItemFormat = "json"
	// FormatArrow carries a columnar Arrow record batch.
	FormatArrow ItemFormat = "arrow"
)

// FileFormat is the on-disk format a writer produces.
type FileFormat string

const (
	JSONL   FileFormat = "jsonl"
	Parquet FileFormat = "parquet"
	ORC     FileFormat = "orc"
)

// Spec names the (file format, item format) pair a WriterResolver chose
// for a table, plus whether the writer natively consumes the item format
// or must convert it first.
type Spec struct {
	FileFormat FileFormat
	ItemFormat ItemFormat
	Native     bool
}

// Metrics is the per-produced-file write record. The zero value is
// neutral and Add is associative, so metrics can be summed freely across
// files, workers and tables.
type Metrics struct {
	FilePath       string
	ItemsCount     int64
	Bytes          int64
	CreatedAt      time.Time
	LastModifiedAt time.Time
}

// Add combines two metrics records, taking the earliest creation time and
// the latest modification time observed.
func (m Metrics) Add(o Metrics) Metrics {
	out := Metrics{
		ItemsCount: m.ItemsCount + o.ItemsCount,
		Bytes:      m.Bytes + o.Bytes,
	}
	out.CreatedAt = earliest(m.CreatedAt, o.CreatedAt)
	out.LastModifiedAt = latest(m.LastModifiedAt, o.LastModifiedAt)
	return out
}

func earliest(a, b time.Time) time.Time {
	switch {
	case a.IsZero():
		return b
	case b.IsZero():
		return a
	case a.Before(b):
		return a
	default:
		return b
	}
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// Sum folds a slice of metrics into one associative total.
func Sum(metrics []Metrics) Metrics {
	var total Metrics
	for _, m := range metrics {
		total = total.Add(m)
	}
	return total
}

// ItemWriter appends a single decoded row to the file currently open for
// (loadID, jobID, table). Scoping output by jobID, not just loadID, is
// what lets a ParallelMapper retry a single conflicting worker group
// without disturbing any sibling group's already-written output.
type ItemWriter interface {
	WriteRow(loadID, jobID, table string, row map[string]interface{}) error
}

// ItemStorage is the per-writer-format storage contract consumed by item
// normalizers and closed by WorkerJob at the end of a file group.
type ItemStorage interface {
	ItemWriter

	// CloseWriters flushes and closes every writer open for (loadID,
	// jobID), returning metrics for the files it just closed. When
	// skipFlush is true (set during cleanup after a failure), buffers are
	// discarded and only OS resources are released.
	CloseWriters(loadID, jobID string, skipFlush bool) ([]Metrics, error)

	// ClosedFiles returns metrics for every file closed so far for
	// loadID, across every job.
	ClosedFiles(loadID string) []Metrics

	// RemoveClosedFiles drops the bookkeeping for files already reported
	// via ClosedFiles, across every job for loadID, so a later call
	// doesn't double-count them.
	RemoveClosedFiles(loadID string)

	// DiscardJob deletes whatever output — open or already closed — is
	// staged for (loadID, jobID) and drops its bookkeeping, leaving every
	// other job's files for loadID untouched. Used by a ParallelMapper to
	// unwind a conflicting or abandoned group's files before a retry or a
	// fallback to the single-worker pass.
	DiscardJob(loadID, jobID string) error
}

// Registry resolves a FileFormat to a concrete ItemStorage rooted at dir,
// which writes one file per (table, jobID).
type Registry interface {
	Create(format FileFormat, dir string) (ItemStorage, error)
}

// DestinationCapabilities is the interface to the destination consulted
// by WriterResolver.
type DestinationCapabilities struct {
	PreferredLoaderFileFormat  FileFormat
	PreferredStagingFileFormat FileFormat
	SupportedLoaderFileFormats []FileFormat
	SupportedTableFormats      []string
	Adapter                    CapabilityAdapter
}

// CapabilityAdapter allows per-table refinement of the preferred/supported
// format sets, e.g. an iceberg table demanding parquet.
type CapabilityAdapter func(preferred FileFormat, supported []FileFormat, table *schema.Table) (FileFormat, []FileFormat)

func contains(formats []FileFormat, f FileFormat) bool {
	for _, x := range formats {
		if x == f {
			return true
		}
	}
	return false
}

// nativeWriters lists, for each file format, the item formats it can
// consume without an in-process conversion step.
var nativeWriters = map[FileFormat][]ItemFormat{
	JSONL:   {FormatJSON},
	Parquet: {FormatJSON, FormatArrow},
	ORC:     {FormatJSON, FormatArrow},
}

func isNative(format FileFormat, item ItemFormat) bool {
	for _, f := range nativeWriters[format] {
		if f == item {
			return true
		}
	}
	return false
}
