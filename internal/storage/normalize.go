// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

package storage

import (
	"context"
	"encoding/json"
	"path"
	"strings"

	"github.com/kelindar/talaria-normalize/internal/schema"
)

const (
	schemaFile  = "schema.json"
	newJobsDir  = "new_jobs"
)

// NormalizeStorage is the read side of an extracted load package.
type NormalizeStorage interface {
	ListPackages(ctx context.Context) ([]string, error)
	LoadSchema(ctx context.Context, loadID string) (schema.Schema, error)
	ListNewJobs(ctx context.Context, loadID string) ([]string, error)
	// ReadFile fetches the full contents of one path returned by
	// ListNewJobs. WorkerJob uses this rather than the local filesystem
	// directly, so an extracted package backed by a blob PackageStore
	// works identically to one on local disk.
	ReadFile(ctx context.Context, path string) ([]byte, error)
	DeletePackage(ctx context.Context, loadID string, notExistsOK bool) error
	GetLoadPackageInfo(ctx context.Context, loadID string) (PackageInfo, error)
}

// extracted implements NormalizeStorage over a PackageStore, rooted at
// "extracted/".
type extracted struct {
	store PackageStore
	root  string
}

// NewNormalizeStorage builds a NormalizeStorage rooted at root (e.g.
// "extracted") within store.
func NewNormalizeStorage(store PackageStore, root string) NormalizeStorage {
	return &extracted{store: store, root: strings.TrimSuffix(root, "/")}
}

func (e *extracted) dir(loadID string) string {
	return path.Join(e.root, loadID)
}

func (e *extracted) ListPackages(ctx context.Context) ([]string, error) {
	paths, err := e.store.List(ctx, e.root+"/")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var ids []string
	for _, p := range paths {
		rel := strings.TrimPrefix(p, e.root+"/")
		parts := strings.SplitN(rel, "/", 2)
		if parts[0] == "" || seen[parts[0]] {
			continue
		}
		seen[parts[0]] = true
		ids = append(ids, parts[0])
	}
	return ids, nil
}

func (e *extracted) LoadSchema(ctx context.Context, loadID string) (schema.Schema, error) {
	data, err := e.store.ReadFile(ctx, path.Join(e.dir(loadID), schemaFile))
	if err != nil {
		if IsNotFound(err) {
			return schema.Schema{}, nil
		}
		return nil, err
	}
	var s schema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return s, nil
}

func (e *extracted) ListNewJobs(ctx context.Context, loadID string) ([]string, error) {
	return e.store.List(ctx, path.Join(e.dir(loadID), newJobsDir)+"/")
}

func (e *extracted) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return e.store.ReadFile(ctx, path)
}

func (e *extracted) DeletePackage(ctx context.Context, loadID string, notExistsOK bool) error {
	if notExistsOK {
		exists, err := e.store.Exists(ctx, e.dir(loadID))
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
	}
	return e.store.DeleteDir(ctx, e.dir(loadID))
}

func (e *extracted) GetLoadPackageInfo(ctx context.Context, loadID string) (PackageInfo, error) {
	files, err := e.ListNewJobs(ctx, loadID)
	if err != nil {
		return PackageInfo{}, err
	}
	exists, err := e.store.Exists(ctx, e.dir(loadID))
	if err != nil {
		return PackageInfo{}, err
	}
	return PackageInfo{LoadID: loadID, Files: files, Exists: exists}, nil
}
