// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

// Package pool implements a bounded worker pool: an externally supplied
// Pool runs jobs concurrently up to a configured width; when none is
// supplied, Null executes each job synchronously on the calling
// goroutine. Built on github.com/grab/async's async.Consume feeding a
// buffered task channel.
package pool

import (
	"context"
	"runtime"

	"github.com/grab/async"
)

// Task is the outcome handle for one submitted job.
type Task interface {
	// Outcome blocks until the job completes and returns its result.
	Outcome() (interface{}, error)
	// Cancel requests cooperative cancellation of the job.
	Cancel()
}

// Pool runs jobs, bounding how many execute concurrently.
type Pool interface {
	// Go submits fn for execution and returns a handle to its outcome.
	Go(fn func(ctx context.Context) (interface{}, error)) Task

	// Close stops accepting new work and releases the pool's workers.
	Close() error
}

// Bounded is a Pool backed by a fixed-width async.Consume worker queue.
type Bounded struct {
	tasks   chan async.Task
	workers async.Task
}

// New creates a Bounded pool with the given width. A width of 0 or less
// defaults to runtime.NumCPU().
func New(width int) *Bounded {
	if width <= 0 {
		width = runtime.NumCPU()
	}
	tasks := make(chan async.Task, width)
	return &Bounded{
		tasks:   tasks,
		workers: async.Consume(context.Background(), width, tasks),
	}
}

// Go implements Pool.
func (p *Bounded) Go(fn func(ctx context.Context) (interface{}, error)) Task {
	t := async.NewTask(fn)
	p.tasks <- t
	return t
}

// Close implements Pool.
func (p *Bounded) Close() error {
	p.workers.Cancel()
	return nil
}

// Null is a Pool that runs every job synchronously on the calling
// goroutine; the Spooler's single-worker fallback and the tests use it.
type Null struct{}

// NewNull creates a Null pool.
func NewNull() *Null {
	return &Null{}
}

// Go implements Pool by invoking fn immediately and wrapping its result.
func (Null) Go(fn func(ctx context.Context) (interface{}, error)) Task {
	value, err := fn(context.Background())
	return &resolved{value: value, err: err}
}

// Close implements Pool; Null owns no resources.
func (Null) Close() error { return nil }

type resolved struct {
	value interface{}
	err   error
}

func (r *resolved) Outcome() (interface{}, error) { return r.value, r.err }
func (r *resolved) Cancel()                       {}
