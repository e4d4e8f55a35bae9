// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

// Package azure implements storage.PackageStore against an Azure Blob
// Storage container, using the classic github.com/Azure/azure-sdk-for-go
// storage client.
package azure

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/storage"
)

// Store roots a storage.PackageStore at a prefix within a single
// container.
type Store struct {
	container *storage.Container
	prefix    string
}

// New creates an Azure Blob Storage-backed PackageStore for the given
// account, container and key prefix.
func New(accountName, accountKey, containerName, prefix string) (*Store, error) {
	client, err := storage.NewBasicClient(accountName, accountKey)
	if err != nil {
		return nil, err
	}
	blobService := client.GetBlobService()
	return &Store{
		container: blobService.GetContainerReference(containerName),
		prefix:    strings.Trim(prefix, "/"),
	}, nil
}

func (s *Store) key(p string) string {
	if s.prefix == "" {
		return p
	}
	return s.prefix + "/" + p
}

// List implements storage.PackageStore.
func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	marker := ""
	for {
		resp, err := s.container.ListBlobs(storage.ListBlobsParameters{
			Prefix: s.key(prefix),
			Marker: marker,
		})
		if err != nil {
			return nil, err
		}
		for _, b := range resp.Blobs {
			keys = append(keys, strings.TrimPrefix(b.Name, s.prefix+"/"))
		}
		if resp.NextMarker == "" {
			break
		}
		marker = resp.NextMarker
	}
	return keys, nil
}

// ReadFile implements storage.PackageStore.
func (s *Store) ReadFile(_ context.Context, p string) ([]byte, error) {
	blob := s.container.GetBlobReference(s.key(p))
	exists, err := blob.Exists()
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &notFoundError{path: p}
	}
	r, err := blob.Get(nil)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// WriteFile implements storage.PackageStore.
func (s *Store) WriteFile(_ context.Context, p string, data []byte) error {
	blob := s.container.GetBlobReference(s.key(p))
	return blob.CreateBlockBlobFromReader(bytes.NewReader(data), nil)
}

// DeleteDir implements storage.PackageStore.
func (s *Store) DeleteDir(ctx context.Context, prefix string) error {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		blob := s.container.GetBlobReference(s.key(k))
		if _, err := blob.DeleteIfExists(nil); err != nil {
			return err
		}
	}
	return nil
}

// RenameDir implements storage.PackageStore via server-side copy followed
// by delete; see the s3 backend's RenameDir doc for the non-atomicity
// caveat this shares.
func (s *Store) RenameDir(ctx context.Context, fromPrefix, toPrefix string) error {
	keys, err := s.List(ctx, fromPrefix)
	if err != nil {
		return err
	}
	fromPrefix = strings.TrimSuffix(fromPrefix, "/")
	toPrefix = strings.TrimSuffix(toPrefix, "/")
	for _, k := range keys {
		rel := strings.TrimPrefix(k, fromPrefix+"/")
		src := s.container.GetBlobReference(s.key(k))
		dst := s.container.GetBlobReference(s.key(toPrefix + "/" + rel))
		if err := dst.Copy(src.GetURL(), nil); err != nil {
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
	path string
}

func (e *notFoundError) Error() string  { return "azure: " + e.path + ": not found" }
func (e *notFoundError) NotFound() bool { return true }
