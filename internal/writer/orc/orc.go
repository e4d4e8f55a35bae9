// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

// Package orc implements the native ORC ItemStorage: rows are staged into
// a column.Columns buffer and flushed as one ORC stripe per close.
package orc

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	eorc "github.com/crphang/orc"

	"github.com/kelindar/talaria-normalize/internal/column"
	"github.com/kelindar/talaria-normalize/internal/schema"
	"github.com/kelindar/talaria-normalize/internal/writer"
)

type staged struct {
	table     *schema.Table
	columns   column.Columns
	types     map[string]schema.DataType
	rows      int64
	createdAt time.Time
}

// Storage writes one .orc file per (loadID, jobID, table), rooted at
// dir. Scoping files by jobID lets a ParallelMapper discard and retry a
// single worker's output without touching any sibling job's files.
type Storage struct {
	mu     sync.Mutex
	dir    string
	open   map[string]map[string]map[string]*staged // loadID -> jobID -> table -> staged
	closed map[string]map[string][]writer.Metrics    // loadID -> jobID -> metrics
}

// New creates an orc ItemStorage rooted at dir.
func New(dir string) *Storage {
	return &Storage{
		dir:    dir,
		open:   make(map[string]map[string]map[string]*staged),
		closed: make(map[string]map[string][]writer.Metrics),
	}
}

// WriteRow stages row into the in-memory columnar buffer for
// (loadID, jobID, table).
func (s *Storage) WriteRow(loadID, jobID, table string, row map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stagedFor(loadID, jobID, table)
	for name, value := range row {
		t := typeOf(value)
		st.columns.Append(name, value, t)
		if _, seen := st.types[name]; !seen {
			st.types[name] = t
		}
	}
	st.columns.FillNulls()
	st.rows++
	return nil
}

func (s *Storage) stagedFor(loadID, jobID, table string) *staged {
	jobs, ok := s.open[loadID]
	if !ok {
		jobs = make(map[string]map[string]*staged)
		s.open[loadID] = jobs
	}
	tables, ok := jobs[jobID]
	if !ok {
		tables = make(map[string]*staged)
		jobs[jobID] = tables
	}
	if st, ok := tables[table]; ok {
		return st
	}
	st := &staged{
		table:     schema.NewTable(table),
		columns:   make(column.Columns, 16),
		types:     make(map[string]schema.DataType, 16),
		createdAt: time.Now(),
	}
	tables[table] = st
	return st
}

// CloseWriters flushes the staged columns of every table open for
// (loadID, jobID) into an .orc file, closes it and returns the metrics
// for the files it just wrote. With skipFlush, the staged buffer is
// discarded instead of written.
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
	for table, st := range tables {
		if skipFlush {
			delete(tables, table)
			continue
		}

		path := filepath.Join(s.dir, fmt.Sprintf("%s.%s.orc", table, jobID))
		n, bytesWritten, err := writeORC(path, st)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			delete(tables, table)
			continue
		}

		metrics = append(metrics, writer.Metrics{
			FilePath:       path,
			ItemsCount:     n,
			Bytes:          bytesWritten,
			CreatedAt:      st.createdAt,
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

func writeORC(path string, st *staged) (rows int64, size int64, err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0777); err != nil {
		return 0, 0, err
	}

	names := make([]string, 0, len(st.columns))
	for name := range st.columns {
		names = append(names, name)
	}
	sort.Strings(names)

	schemaDef, err := schemaFor(names, st.types)
	if err != nil {
		return 0, 0, err
	}

	buf := &bytes.Buffer{}
	w, err := eorc.NewWriter(buf,
		eorc.SetSchema(schemaDef),
		eorc.SetCompression(eorc.CompressionSnappy{}),
	)
	if err != nil {
		return 0, 0, err
	}

	iterators := make([]eorc.ColumnIterator, 0, len(names))
	for _, name := range names {
		iterators = append(iterators, st.columns[name])
	}
	if err := w.WriteColumns(iterators); err != nil {
		return 0, 0, err
	}
	if err := w.Close(); err != nil {
		return 0, 0, err
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return 0, 0, err
	}
	return st.rows, int64(buf.Len()), nil
}

// schemaFor derives an ORC struct schema DDL from the columns staged so far.
func schemaFor(names []string, types map[string]schema.DataType) (*eorc.SchemaDefinition, error) {
	fields := make([]string, 0, len(names))
	for _, name := range names {
		fields = append(fields, fmt.Sprintf("%s:%s", name, orcTypeOf(types[name])))
	}
	ddl := fmt.Sprintf("struct<%s>", strings.Join(fields, ","))
	return eorc.ParseSchema(ddl)
}

func orcTypeOf(t schema.DataType) string {
	switch t {
	case schema.Int32:
		return "int"
	case schema.Int64:
		return "bigint"
	case schema.Float64:
		return "double"
	case schema.Bool:
		return "boolean"
	case schema.Timestamp:
		return "timestamp"
	default:
		return "string"
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

// DiscardJob deletes whatever output — staged or already written — for
// (loadID, jobID), leaving every other job's files for loadID intact.
func (s *Storage) DiscardJob(loadID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if jobs, ok := s.open[loadID]; ok {
		delete(jobs, jobID)
		if len(jobs) == 0 {
			delete(s.open, loadID)
		}
	}

	var firstErr error
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
