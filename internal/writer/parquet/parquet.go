// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

// Package parquet implements the native Parquet ItemStorage: one
// goparquet.FileWriter per (loadID, jobID, table), columns added once the
// first row reveals their type, row groups flushed periodically to bound
// memory.
package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	goparquet "github.com/fraugster/parquet-go"
	"github.com/fraugster/parquet-go/parquet"

	"github.com/kelindar/talaria-normalize/internal/schema"
	"github.com/kelindar/talaria-normalize/internal/writer"
)

// flushEvery bounds how many rows accumulate in a row group before it is
// flushed to the underlying file.
const flushEvery = 1000

type openFile struct {
	path       string
	file       *os.File
	writer     *goparquet.FileWriter
	columns    map[string]schema.DataType
	items      int64
	sinceFlush int64
	createdAt  time.Time
}

// Storage writes one .parquet file per (loadID, jobID, table), rooted at
// dir. Scoping files by jobID lets a ParallelMapper discard and retry a
// single worker's output without touching any sibling job's files.
type Storage struct {
	mu     sync.Mutex
	dir    string
	open   map[string]map[string]map[string]*openFile // loadID -> jobID -> table -> file
	closed map[string]map[string][]writer.Metrics      // loadID -> jobID -> metrics
}

// New creates a parquet ItemStorage rooted at dir.
func New(dir string) *Storage {
	return &Storage{
		dir:    dir,
		open:   make(map[string]map[string]map[string]*openFile),
		closed: make(map[string]map[string][]writer.Metrics),
	}
}

// WriteRow writes row to the parquet file for (loadID, jobID, table),
// adding any column not seen before and converting values to the types
// the file's writer expects for already-added columns.
func (s *Storage) WriteRow(loadID, jobID, table string, row map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.openFor(loadID, jobID, table)
	if err != nil {
		return err
	}

	for name, value := range row {
		if _, ok := f.columns[name]; ok {
			continue
		}
		t := typeOf(value)
		if err := addColumn(f.writer, name, t); err != nil {
			return err
		}
		f.columns[name] = t
	}

	data := make(map[string]interface{}, len(f.columns))
	for name, t := range f.columns {
		v, ok := row[name]
		if !ok {
			continue
		}
		data[name] = convert(v, t)
	}
	if err := f.writer.AddData(data); err != nil {
		return err
	}

	f.items++
	f.sinceFlush++
	if f.sinceFlush >= flushEvery {
		if err := f.writer.FlushRowGroup(); err != nil {
			return err
		}
		f.sinceFlush = 0
	}
	return nil
}

func (s *Storage) openFor(loadID, jobID, table string) (*openFile, error) {
	jobs, ok := s.open[loadID]
	if !ok {
		jobs = make(map[string]map[string]*openFile)
		s.open[loadID] = jobs
	}
	tables, ok := jobs[jobID]
	if !ok {
		tables = make(map[string]*openFile)
		jobs[jobID] = tables
	}
	if f, ok := tables[table]; ok {
		return f, nil
	}

	if err := os.MkdirAll(s.dir, 0777); err != nil {
		return nil, err
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%s.%s.parquet", table, jobID))
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := goparquet.NewFileWriter(file,
		goparquet.WithCompressionCodec(parquet.CompressionCodec_SNAPPY),
		goparquet.WithCreator("normalize"),
	)
	f := &openFile{
		path:      path,
		file:      file,
		writer:    w,
		columns:   make(map[string]schema.DataType, 16),
		createdAt: time.Now(),
	}
	tables[table] = f
	return f, nil
}

// CloseWriters flushes and closes every file open for (loadID, jobID)
// and returns metrics for the files it just closed. With skipFlush, the
// writer is closed without a final row-group flush and the partial file
// is removed.
func (s *Storage) CloseWriters(loadID, jobID string, skipFlush bool) ([]writer.Metrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, ok := s.open[loadID]
	if !ok {
		return nil, nil
	}
	tables, ok := jobs[jobID]
	if !ok {
		return nil, nil
	}

	var firstErr error
	var metrics []writer.Metrics
	for table, f := range tables {
		if skipFlush {
			_ = f.writer.Close()
			_ = f.file.Close()
			_ = os.Remove(f.path)
			delete(tables, table)
			continue
		}

		if err := f.writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		info, statErr := f.file.Stat()
		if err := f.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		var size int64
		if statErr == nil {
			size = info.Size()
		}

		metrics = append(metrics, writer.Metrics{
			FilePath:       f.path,
			ItemsCount:     f.items,
			Bytes:          size,
			CreatedAt:      f.createdAt,
			LastModifiedAt: time.Now(),
		})
		delete(tables, table)
	}
	delete(jobs, jobID)
	if len(jobs) == 0 {
		delete(s.open, loadID)
	}

	if len(metrics) > 0 {
		if s.closed[loadID] == nil {
			s.closed[loadID] = make(map[string][]writer.Metrics)
		}
		s.closed[loadID][jobID] = append(s.closed[loadID][jobID], metrics...)
	}
	return metrics, firstErr
}

// ClosedFiles returns metrics for every file closed so far for loadID,
// across every job.
func (s *Storage) ClosedFiles(loadID string) []writer.Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []writer.Metrics
	for _, metrics := range s.closed[loadID] {
		out = append(out, metrics...)
	}
	return out
}

// RemoveClosedFiles drops the bookkeeping already reported via ClosedFiles.
func (s *Storage) RemoveClosedFiles(loadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.closed, loadID)
}

// DiscardJob deletes whatever output — open or already closed — is
// staged for (loadID, jobID), removing the files from disk and dropping
// their bookkeeping, leaving every other job's files for loadID intact.
func (s *Storage) DiscardJob(loadID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	if jobs, ok := s.open[loadID]; ok {
		if tables, ok := jobs[jobID]; ok {
			for table, f := range tables {
				_ = f.writer.Close()
				_ = f.file.Close()
				if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
					firstErr = err
				}
				delete(tables, table)
			}
			delete(jobs, jobID)
		}
		if len(jobs) == 0 {
			delete(s.open, loadID)
		}
	}

	if byJob, ok := s.closed[loadID]; ok {
		for _, m := range byJob[jobID] {
			if err := os.Remove(m.FilePath); err != nil && !os.IsNotExist(err) && firstErr == nil {
				firstErr = err
			}
		}
		delete(byJob, jobID)
		if len(byJob) == 0 {
			delete(s.closed, loadID)
		}
	}
	return firstErr
}

func addColumn(w *goparquet.FileWriter, name string, t schema.DataType) error {
	params := &goparquet.ColumnParameters{}
	switch t {
	case schema.Int32:
		store, err := goparquet.NewInt32Store(parquet.Encoding_PLAIN, true, params)
		if err != nil {
			return err
		}
		return w.AddColumn(name, goparquet.NewDataColumn(store, parquet.FieldRepetitionType_OPTIONAL))
	case schema.Int64:
		store, err := goparquet.NewInt64Store(parquet.Encoding_PLAIN, true, params)
		if err != nil {
			return err
		}
		return w.AddColumn(name, goparquet.NewDataColumn(store, parquet.FieldRepetitionType_OPTIONAL))
	case schema.Float64:
		store, err := goparquet.NewDoubleStore(parquet.Encoding_PLAIN, true, params)
		if err != nil {
			return err
		}
		return w.AddColumn(name, goparquet.NewDataColumn(store, parquet.FieldRepetitionType_OPTIONAL))
	case schema.Bool:
		store, err := goparquet.NewBooleanStore(parquet.Encoding_PLAIN, params)
		if err != nil {
			return err
		}
		return w.AddColumn(name, goparquet.NewDataColumn(store, parquet.FieldRepetitionType_OPTIONAL))
	case schema.Timestamp:
		store, err := goparquet.NewInt64Store(parquet.Encoding_PLAIN, true, params)
		if err != nil {
			return err
		}
		return w.AddColumn(name, goparquet.NewDataColumn(store, parquet.FieldRepetitionType_OPTIONAL))
	default: // String, JSON, Unknown
		store, err := goparquet.NewByteArrayStore(parquet.Encoding_PLAIN, true, params)
		if err != nil {
			return err
		}
		return w.AddColumn(name, goparquet.NewDataColumn(store, parquet.FieldRepetitionType_OPTIONAL))
	}
}

func convert(value interface{}, t schema.DataType) interface{} {
	switch t {
	case schema.String, schema.JSON:
		switch v := value.(type) {
		case []byte:
			return v
		case string:
			return []byte(v)
		default:
			return []byte(fmt.Sprint(v))
		}
	case schema.Timestamp:
		if ts, ok := value.(time.Time); ok {
			return ts.UnixNano() / int64(time.Millisecond)
		}
		return value
	default:
		return value
	}
}

func typeOf(value interface{}) schema.DataType {
	switch value.(type) {
	case string:
		return schema.String
	case int32:
		return schema.Int32
	case int64:
		return schema.Int64
	case float64:
		return schema.Float64
	case bool:
		return schema.Bool
	case time.Time:
		return schema.Timestamp
	default:
		return schema.String
	}
}
