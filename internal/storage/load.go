// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/hashicorp/go-multierror"

	"github.com/kelindar/talaria-normalize/internal/schema"
	"github.com/kelindar/talaria-normalize/internal/writer"
)

const schemaUpdatesFile = "schema_updates.json.sz"

// LoadStorage is the write side of a load package: it receives the
// normalized output and owns the new -> committed atomic transition.
type LoadStorage interface {
	DeleteNewPackage(ctx context.Context, loadID string) error
	ImportExtractedPackage(ctx context.Context, loadID string, src NormalizeStorage) error
	CreateItemStorage(spec writer.Spec) (writer.ItemStorage, error)
	SaveSchema(ctx context.Context, loadID string, s *schema.Schema) error
	SaveSchemaUpdates(ctx context.Context, loadID string, updates []schema.Update) error
	CommitNewLoadPackage(ctx context.Context, loadID string) error
	GetLoadPackageInfo(ctx context.Context, loadID string) (PackageInfo, error)

	// DiscardJob unwinds whatever output jobID has staged across every
	// item storage format this package has created, so a ParallelMapper
	// can retry a single conflicting group without leaving its first
	// attempt's files behind.
	DiscardJob(ctx context.Context, loadID, jobID string) error
}

// load implements LoadStorage over a PackageStore. Writers stage their
// output on local disk under staging (every writer.ItemStorage is
// filesystem-backed); CommitNewLoadPackage is what uploads staged files
// into the package store and performs the new -> committed rename.
type load struct {
	store         PackageStore
	newRoot       string
	committedRoot string
	staging       string
	registry      writer.Registry

	mu       sync.Mutex
	storages map[writer.FileFormat]writer.ItemStorage
}

// NewLoadStorage builds a LoadStorage rooted at newRoot/committedRoot
// within store, staging writer output under stagingDir on local disk.
func NewLoadStorage(store PackageStore, newRoot, committedRoot, stagingDir string, registry writer.Registry) LoadStorage {
	return &load{
		store:         store,
		newRoot:       strings.TrimSuffix(newRoot, "/"),
		committedRoot: strings.TrimSuffix(committedRoot, "/"),
		staging:       stagingDir,
		registry:      registry,
		storages:      make(map[writer.FileFormat]writer.ItemStorage),
	}
}

func (l *load) newDir(loadID string) string {
	return path.Join(l.newRoot, loadID)
}

func (l *load) committedDir(loadID string) string {
	return path.Join(l.committedRoot, loadID)
}

func (l *load) DeleteNewPackage(ctx context.Context, loadID string) error {
	if err := os.RemoveAll(filepath.Join(l.staging, loadID)); err != nil {
		return err
	}
	return l.store.DeleteDir(ctx, l.newDir(loadID))
}

// ImportExtractedPackage copies only the extracted package's schema into
// the new load package; the item files themselves stay in the extracted
// area and are read directly by the worker, since only metadata needs
// to move up front.
func (l *load) ImportExtractedPackage(ctx context.Context, loadID string, src NormalizeStorage) error {
	s, err := src.LoadSchema(ctx, loadID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return l.store.WriteFile(ctx, path.Join(l.newDir(loadID), schemaFile), data)
}

func (l *load) CreateItemStorage(spec writer.Spec) (writer.ItemStorage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if s, ok := l.storages[spec.FileFormat]; ok {
		return s, nil
	}
	dir := filepath.Join(l.staging, string(spec.FileFormat))
	s, err := l.registry.Create(spec.FileFormat, dir)
	if err != nil {
		return nil, err
	}
	l.storages[spec.FileFormat] = s
	return s, nil
}

func (l *load) SaveSchema(ctx context.Context, loadID string, s *schema.Schema) error {
	data, err := json.Marshal(*s)
	if err != nil {
		return err
	}
	return l.store.WriteFile(ctx, path.Join(l.newDir(loadID), schemaFile), data)
}

// SaveSchemaUpdates persists the package's per-group schema deltas as a
// snappy-compressed audit manifest; it's consulted for post-mortem
// debugging, not read back by the commit path, so block compression
// trades a cheap CPU cost for smaller long-lived package storage.
func (l *load) SaveSchemaUpdates(ctx context.Context, loadID string, updates []schema.Update) error {
	data, err := json.Marshal(updates)
	if err != nil {
		return err
	}
	return l.store.WriteFile(ctx, path.Join(l.newDir(loadID), schemaUpdatesFile), snappy.Encode(nil, data))
}

// CommitNewLoadPackage uploads every file closed by this package's item
// storages into the new load package, then atomically renames it to the
// committed area.
func (l *load) CommitNewLoadPackage(ctx context.Context, loadID string) error {
	l.mu.Lock()
	storages := make([]writer.ItemStorage, 0, len(l.storages))
	for _, s := range l.storages {
		storages = append(storages, s)
	}
	l.mu.Unlock()

	for _, s := range storages {
		for _, m := range s.ClosedFiles(loadID) {
			data, err := os.ReadFile(m.FilePath)
			if err != nil {
				return fmt.Errorf("storage: reading staged file %s: %w", m.FilePath, err)
			}
			dest := path.Join(l.newDir(loadID), newJobsDir, filepath.Base(m.FilePath))
			if err := l.store.WriteFile(ctx, dest, data); err != nil {
				return err
			}
		}
		s.RemoveClosedFiles(loadID)
	}

	if err := l.store.RenameDir(ctx, l.newDir(loadID), l.committedDir(loadID)); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(l.staging, loadID))
}

// GetLoadPackageInfo checks the committed area first, since a package
// that has already gone through CommitNewLoadPackage no longer has
// anything under newDir; it falls back to the new (in-progress) area for
// a package that hasn't been committed yet.
func (l *load) GetLoadPackageInfo(ctx context.Context, loadID string) (PackageInfo, error) {
	committedExists, err := l.store.Exists(ctx, l.committedDir(loadID))
	if err != nil {
		return PackageInfo{}, err
	}
	if committedExists {
		files, err := l.store.List(ctx, path.Join(l.committedDir(loadID), newJobsDir)+"/")
		if err != nil {
			return PackageInfo{}, err
		}
		return PackageInfo{LoadID: loadID, Files: files, Exists: true}, nil
	}

	files, err := l.store.List(ctx, path.Join(l.newDir(loadID), newJobsDir)+"/")
	if err != nil {
		return PackageInfo{}, err
	}
	exists, err := l.store.Exists(ctx, l.newDir(loadID))
	if err != nil {
		return PackageInfo{}, err
	}
	return PackageInfo{LoadID: loadID, Files: files, Exists: exists}, nil
}

// DiscardJob asks every item storage format this package has created to
// drop whatever it staged for (loadID, jobID).
func (l *load) DiscardJob(ctx context.Context, loadID, jobID string) error {
	l.mu.Lock()
	storages := make([]writer.ItemStorage, 0, len(l.storages))
	for _, s := range l.storages {
		storages = append(storages, s)
	}
	l.mu.Unlock()

	var errs *multierror.Error
	for _, s := range storages {
		if err := s.DiscardJob(loadID, jobID); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
