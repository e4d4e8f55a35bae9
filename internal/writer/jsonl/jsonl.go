// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

// Package jsonl implements the native JSON-lines ItemStorage.
package jsonl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kelindar/talaria-normalize/internal/writer"
)

type openFile struct {
	path      string
	file      *os.File
	buf       *bufio.Writer
	items     int64
	bytes     int64
	createdAt time.Time
}

// Storage writes one .jsonl file per (loadID, jobID, table), rooted at
// dir. Scoping files by jobID lets a ParallelMapper discard and retry a
// single worker's output without touching any sibling job's files.
type Storage struct {
	mu     sync.Mutex
	dir    string
	open   map[string]map[string]map[string]*openFile // loadID -> jobID -> table -> file
	closed map[string]map[string][]writer.Metrics      // loadID -> jobID -> metrics
}

// New creates a jsonl ItemStorage rooted at dir.
func New(dir string) *Storage {
	return &Storage{
		dir:    dir,
		open:   make(map[string]map[string]map[string]*openFile),
		closed: make(map[string]map[string][]writer.Metrics),
	}
}

// WriteRow appends row as one JSON object per line to the file for
// (loadID, jobID, table), opening it lazily on first use.
func (s *Storage) WriteRow(loadID, jobID, table string, row map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.openFor(loadID, jobID, table)
	if err != nil {
		return err
	}

	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	n, err := f.buf.Write(data)
	if err != nil {
		return err
	}
	if err := f.buf.WriteByte('\n'); err != nil {
		return err
	}
	f.items++
	f.bytes += int64(n) + 1
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
	path := filepath.Join(s.dir, fmt.Sprintf("%s.%s.jsonl", table, jobID))
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	f := &openFile{path: path, file: file, buf: bufio.NewWriter(file), createdAt: time.Now()}
	tables[table] = f
	return f, nil
}

// CloseWriters flushes and closes every file open for (loadID, jobID),
// returning metrics for the files it just closed. With skipFlush,
// buffered data is discarded and only the OS handle released.
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
		if !skipFlush {
			if err := f.buf.Flush(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := f.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if !skipFlush {
			metrics = append(metrics, writer.Metrics{
				FilePath:       f.path,
				ItemsCount:     f.items,
				Bytes:          f.bytes,
				CreatedAt:      f.createdAt,
				LastModifiedAt: time.Now(),
			})
		}
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
