// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

package normalize

import "github.com/kelindar/talaria-normalize/internal/schema"

// Reconciler merges a sequence of worker-proposed schema updates into the
// authoritative Schema, one worker's update at a time, so a conflict
// midway through the sequence leaves every update before it already
// applied. It is a thin sequencing wrapper around schema.Reconciler.Apply,
// which is itself idempotent.
type Reconciler struct {
	inner *schema.Reconciler
}

// NewReconciler creates a SchemaReconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{inner: schema.NewReconciler()}
}

// Apply merges updates into s in order. It returns
// *schema.CoercionConflictError unchanged on the first unresolved
// conflict; the caller (ParallelMapper or Spooler) owns recovery.
func (r *Reconciler) Apply(s schema.Schema, updates []schema.Update) error {
	for _, u := range updates {
		if err := r.inner.Apply(s, u); err != nil {
			return err
		}
	}
	return nil
}
