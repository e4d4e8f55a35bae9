// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

// Package gcs implements storage.PackageStore against a Google Cloud
// Storage bucket, grounded on the cloud.google.com/go/storage client
// calls the pack's GCS-backed blobserver exercises.
package gcs

import (
	"context"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// Store roots a storage.PackageStore at a prefix within a single bucket.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed PackageStore for bucket, keying every object
// under prefix.
func New(ctx context.Context, bucket, prefix string) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (s *Store) key(p string) string {
	if s.prefix == "" {
		return p
	}
	return s.prefix + "/" + p
}

func (s *Store) obj(p string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.key(p))
}

// List implements storage.PackageStore.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.key(prefix)})
	var keys []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		keys = append(keys, strings.TrimPrefix(attrs.Name, s.prefix+"/"))
	}
	return keys, nil
}

// ReadFile implements storage.PackageStore.
func (s *Store) ReadFile(ctx context.Context, p string) ([]byte, error) {
	r, err := s.obj(p).NewReader(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return nil, &notFoundError{path: p, cause: err}
		}
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// WriteFile implements storage.PackageStore.
func (s *Store) WriteFile(ctx context.Context, p string, data []byte) error {
	w := s.obj(p).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// DeleteDir implements storage.PackageStore.
func (s *Store) DeleteDir(ctx context.Context, prefix string) error {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.obj(k).Delete(ctx); err != nil && err != storage.ErrObjectNotExist {
			return err
		}
	}
	return nil
}

// RenameDir implements storage.PackageStore via copy-then-delete; see the
// s3 backend's RenameDir doc for the same non-atomicity caveat.
func (s *Store) RenameDir(ctx context.Context, fromPrefix, toPrefix string) error {
	keys, err := s.List(ctx, fromPrefix)
	if err != nil {
		return err
	}
	fromPrefix = strings.TrimSuffix(fromPrefix, "/")
	toPrefix = strings.TrimSuffix(toPrefix, "/")
	for _, k := range keys {
		rel := strings.TrimPrefix(k, fromPrefix+"/")
		src := s.obj(k)
		dst := s.obj(toPrefix + "/" + rel)
		if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
			return err
		}
	}
	return s.DeleteDir(ctx, fromPrefix)
}

// Exists implements storage.PackageStore.
func (s *Store) Exists(ctx context.Context, prefix string) (bool, error) {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return false, err
	}
	return len(keys) > 0, nil
}

type notFoundError struct {
	path  string
	cause error
}

func (e *notFoundError) Error() string  { return "gcs: " + e.path + ": " + e.cause.Error() }
func (e *notFoundError) Unwrap() error  { return e.cause }
func (e *notFoundError) NotFound() bool { return true }
