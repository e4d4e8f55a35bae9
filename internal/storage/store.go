// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

// Package storage implements the NormalizeStorage and LoadStorage contracts
// on top of a pluggable PackageStore, so the same directory layout
// (extracted/<load_id>/..., load/new/<load_id>/..., load/committed/<load_id>/...)
// works unchanged whether the backing blob is local disk, S3, GCS or Azure
// Blob Storage.
package storage

import "context"

// PackageStore is the directory-oriented blob abstraction every backend
// implements. Paths are slash-separated and rooted at the backend's own
// notion of a bucket/container; PackageStore implementations do not
// interpret path structure beyond treating "/" as a separator.
type PackageStore interface {
	// List returns every object path with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// ReadFile returns the contents of path, or an error satisfying
	// os.IsNotExist-style detection via IsNotFound.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile writes data to path, creating or truncating it.
	WriteFile(ctx context.Context, path string, data []byte) error

	// DeleteDir removes every object with the given prefix. It must not
	// fail when no object matches.
	DeleteDir(ctx context.Context, prefix string) error

	// RenameDir moves every object under fromPrefix to the equivalent
	// path under toPrefix. Backends that support a native atomic rename
	// (local disk) use it directly; blob backends approximate it with a
	// copy-then-delete, which is not atomic — see the per-backend doc
	// comment for the resulting failure window.
	RenameDir(ctx context.Context, fromPrefix, toPrefix string) error

	// Exists reports whether any object has the given prefix.
	Exists(ctx context.Context, prefix string) (bool, error)
}

// IsNotFound reports whether err indicates a missing object or prefix,
// as returned by ReadFile/DeleteDir across every PackageStore backend.
func IsNotFound(err error) bool {
	type notFounder interface {
		NotFound() bool
	}
	nf, ok := err.(notFounder)
	return ok && nf.NotFound()
}

// PackageInfo is a snapshot of a package's known state, returned by
// GetLoadPackageInfo on both NormalizeStorage and LoadStorage.
type PackageInfo struct {
	LoadID string
	Files  []string
	Exists bool
}
