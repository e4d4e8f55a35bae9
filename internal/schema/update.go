// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

package schema

import "fmt"

// CoercionConflictError is raised when a delta proposes a column type that
// would narrow an existing column.
type CoercionConflictError struct {
	Table    string
	Column   string
	Current  DataType
	Proposed DataType
}

func (e *CoercionConflictError) Error() string {
	return fmt.Sprintf("cannot coerce column %s.%s from %s to %s",
		e.Table, e.Column, e.Current, e.Proposed)
}

// Update is a schema delta: table name to an ordered list of partial table
// schemas.
type Update map[string][]*Table

// UpdateTable merges partial into the live table, widening or adding
// columns. It returns *CoercionConflictError, unchanged, when a proposed
// column type would narrow an existing one. Applying the same partial
// twice is a no-op.
func (t *Table) UpdateTable(partial *Table) error {
	if partial.TableFormat != "" {
		t.TableFormat = partial.TableFormat
	}
	for _, name := range partial.Order {
		col := partial.Columns[name]
		if err := t.mergeColumn(col); err != nil {
			return err
		}
	}
	// Partials built without Order still merge by iterating Columns
	// directly; the order of their newly added columns is then map order.
	if len(partial.Order) == 0 {
		for name, col := range partial.Columns {
			if err := t.mergeColumn(col); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Table) mergeColumn(col Column) error {
	existing, ok := t.Columns[col.Name]
	if !ok {
		t.Columns[col.Name] = col
		t.addToOrder(col.Name)
		return nil
	}
	if existing.DataType == col.DataType {
		if col.Nullable && !existing.Nullable {
			existing.Nullable = true
			t.Columns[col.Name] = existing
		}
		return nil
	}
	if !CanWiden(existing.DataType, col.DataType) {
		return &CoercionConflictError{
			Table:    t.Name,
			Column:   col.Name,
			Current:  existing.DataType,
			Proposed: col.DataType,
		}
	}
	existing.DataType = col.DataType
	existing.Nullable = existing.Nullable || col.Nullable
	t.Columns[col.Name] = existing
	return nil
}

// Reconciler merges worker-proposed deltas into the authoritative schema.
// It is the only code path allowed to mutate the live Schema.
type Reconciler struct{}

// NewReconciler creates a SchemaReconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Apply merges each table delta into s; a table's partials are applied
// in the order given, while tables are visited in map order. It returns
// *CoercionConflictError unchanged on the first unresolved conflict; the
// caller (Mapper or Spooler) owns the recovery policy.
func (r *Reconciler) Apply(s Schema, updates Update) error {
	for tableName, partials := range updates {
		table := s.EnsureTable(tableName)
		for _, partial := range partials {
			if err := table.UpdateTable(partial); err != nil {
				return err
			}
		}
	}
	return nil
}

// Merge combines a sequence of worker-emitted Updates into a single
// manifest, concatenating partials per table in the order the updates were
// produced. Used to build the new package's schema_updates.json.
func Merge(updates []Update) Update {
	merged := make(Update)
	for _, u := range updates {
		for table, partials := range u {
			merged[table] = append(merged[table], partials...)
		}
	}
	return merged
}
