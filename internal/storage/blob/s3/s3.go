// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

// Package s3 implements storage.PackageStore against an S3 (or
// S3-compatible) bucket, grounded on the aws-sdk-go v1 client/object
// calls the pack exercises for blob access.
package s3

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// Store roots a storage.PackageStore at a prefix within a single bucket.
type Store struct {
	client s3iface.S3API
	bucket string
	prefix string
}

// New creates an S3-backed PackageStore for bucket, keying every object
// under prefix.
func New(bucket, prefix string) (*Store, error) {
	sess, err := session.NewSession()
	if err != nil {
		return nil, err
	}
	return &Store{client: s3.New(sess), bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (s *Store) key(p string) string {
	if s.prefix == "" {
		return p
	}
	return s.prefix + "/" + p
}

// List implements storage.PackageStore.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.key(prefix)),
	}, func(page *s3.ListObjectsV2Output, last bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.StringValue(obj.Key), s.prefix+"/"))
		}
		return true
	})
	return keys, err
}

// ReadFile implements storage.PackageStore.
func (s *Store) ReadFile(ctx context.Context, p string) ([]byte, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, &notFoundError{path: p, cause: err}
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// WriteFile implements storage.PackageStore.
func (s *Store) WriteFile(ctx context.Context, p string, data []byte) error {
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
		Body:   bytes.NewReader(data),
	})
	return err
}

// DeleteDir implements storage.PackageStore, deleting every object under
// prefix one key at a time.
func (s *Store) DeleteDir(ctx context.Context, prefix string) error {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if _, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(k)),
		}); err != nil {
			return err
		}
	}
	return nil
}

// RenameDir implements storage.PackageStore. S3 has no native directory
// rename, so this copies every object under fromPrefix to toPrefix then
// deletes the originals — not atomic; a crash mid-move can leave both
// prefixes partially populated, which the Driver's next run resolves by
// treating a non-empty "new" prefix as a retry.
func (s *Store) RenameDir(ctx context.Context, fromPrefix, toPrefix string) error {
	keys, err := s.List(ctx, fromPrefix)
	if err != nil {
		return err
	}
	fromPrefix = strings.TrimSuffix(fromPrefix, "/")
	toPrefix = strings.TrimSuffix(toPrefix, "/")
	for _, k := range keys {
		rel := strings.TrimPrefix(k, fromPrefix+"/")
		if _, err := s.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(s.bucket),
			CopySource: aws.String(s.bucket + "/" + s.key(k)),
			Key:        aws.String(s.key(toPrefix + "/" + rel)),
		}); err != nil {
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

func (e *notFoundError) Error() string  { return "s3: " + e.path + ": " + e.cause.Error() }
func (e *notFoundError) Unwrap() error  { return e.cause }
func (e *notFoundError) NotFound() bool { return true }
