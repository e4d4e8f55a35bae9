// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

// Package cache implements a local badger-backed read-through cache in
// front of Schema Storage: a badger engine with a background GC loop,
// keyed by schema name and holding schema.Snapshot blobs.
package cache

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/grab/async"

	"github.com/kelindar/talaria-normalize/internal/monitor"
	"github.com/kelindar/talaria-normalize/internal/monitor/errors"
	"github.com/kelindar/talaria-normalize/internal/schema"
)

const (
	ctxTag    = "schema-cache"
	errClosed = "schema cache: unable to run commands on a closed database"
	ttl       = 24 * time.Hour
)

// SchemaStorage is the remote source of truth this cache reads through
// to, and writes back to on Put.
type SchemaStorage interface {
	LoadSchema(ctx context.Context, name string) (schema.Schema, error)
	SaveSchema(ctx context.Context, name string, s schema.Schema) error
}

// Cache is a local, disk-persisted, read-through cache for named schemas.
type Cache struct {
	closed  int32
	gc      async.Task
	db      *badger.DB
	remote  SchemaStorage
	monitor monitor.Monitor
}

// Open opens a badger database under dir and wraps remote with a
// read-through cache.
func Open(dir string, remote SchemaStorage, m monitor.Monitor) (*Cache, error) {
	if m == nil {
		m = monitor.NewNoop()
	}
	if err := os.MkdirAll(dir, 0777); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(dir)
	opts.SyncWrites = false
	opts.Logger = &logger{m}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	c := &Cache{db: db, remote: remote, monitor: m}
	c.gc = async.Repeat(context.Background(), 10*time.Minute, c.runGC)
	return c, nil
}

// Get returns the schema for name, preferring the local cache; on a miss
// it loads from remote and populates the cache.
func (c *Cache) Get(ctx context.Context, name string) (schema.Schema, error) {
	if c.isClosed() {
		return nil, errors.New(errClosed)
	}

	if snap, ok := c.lookup(name); ok {
		s, err := schema.FromSnapshot(snap)
		if err == nil {
			return s, nil
		}
		c.monitor.Warning(ctxTag, fmt.Errorf("schema cache: corrupt entry for %s: %w", name, err))
	}

	s, err := c.remote.LoadSchema(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := c.store(name, s); err != nil {
		c.monitor.Warning(ctxTag, err)
	}
	return s, nil
}

// Put writes s to remote and refreshes the local cache entry.
func (c *Cache) Put(ctx context.Context, name string, s schema.Schema) error {
	if c.isClosed() {
		return errors.New(errClosed)
	}
	if err := c.remote.SaveSchema(ctx, name, s); err != nil {
		return errors.Internal("schema cache: saving to remote", err)
	}
	return c.store(name, s)
}

func (c *Cache) lookup(name string) (schema.Snapshot, bool) {
	var snap schema.Snapshot
	err := c.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte(name))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			snap = append(schema.Snapshot(nil), v...)
			return nil
		})
	})
	return snap, err == nil
}

func (c *Cache) store(name string, s schema.Schema) error {
	snap, err := s.Snapshot()
	if err != nil {
		return errors.Internal("schema cache: snapshotting", err)
	}
	return c.db.Update(func(tx *badger.Txn) error {
		return tx.SetEntry(&badger.Entry{
			Key:       []byte(name),
			Value:     snap,
			ExpiresAt: uint64(time.Now().Add(ttl).Unix()),
		})
	})
}

func (c *Cache) runGC(ctx context.Context) (interface{}, error) {
	if c.gc != nil && c.gc.State() == async.IsCancelled {
		return nil, nil
	}
	for {
		if err := c.db.RunValueLogGC(0.5); err != nil {
			return nil, nil
		}
		c.monitor.Count1(ctxTag, "vlog.gc", "type:completed")
	}
}

// Close stops the GC loop and closes the underlying database.
func (c *Cache) Close() error {
	if c.gc != nil {
		c.gc.Cancel()
	}
	atomic.StoreInt32(&c.closed, 1)
	return c.db.Close()
}

func (c *Cache) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

type logger struct {
	monitor.Monitor
}

func (l *logger) Errorf(format string, args ...interface{}) {
	l.Monitor.Error(fmt.Errorf(format, args...))
}

func (l *logger) Warningf(format string, args ...interface{}) {
	l.Monitor.Warning(ctxTag, fmt.Errorf(format, args...))
}

func (l *logger) Infof(format string, args ...interface{})  {}
func (l *logger) Debugf(format string, args ...interface{}) {}
