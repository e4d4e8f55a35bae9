// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

// Package schema implements tables, columns and the monotonic merge rule
// that keeps concurrently-proposed schema deltas from silently narrowing
// a column.
package schema

// DataType enumerates the column types a normalizer can propose.
type DataType uint8

const (
	// Unknown is the zero value; never a column's final type.
	Unknown DataType = iota
	Bool
	Int32
	Int64
	Float64
	Timestamp
	JSON
	String
)

// String renders the type name used in schema.json and in conflict messages.
func (t DataType) String() string {
	switch t {
	case Bool:
		return "bool"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float64:
		return "float64"
	case Timestamp:
		return "timestamp"
	case JSON:
		return "json"
	case String:
		return "string"
	default:
		return "unknown"
	}
}

// widensTo lists, for a given current type, the set of types it may widen
// to. String is the universal supertype: everything can coerce to text,
// nothing can coerce out of it.
var widensTo = map[DataType]map[DataType]bool{
	Bool:      {String: true},
	Int32:     {Int64: true, Float64: true, String: true},
	Int64:     {Float64: true, String: true},
	Float64:   {String: true},
	Timestamp: {String: true},
	JSON:      {String: true},
	String:    {},
}

// CanWiden reports whether proposed is an identical or widening change
// relative to current.
func CanWiden(current, proposed DataType) bool {
	if current == proposed {
		return true
	}
	if current == Unknown {
		return true
	}
	return widensTo[current][proposed]
}

// Column is a single column definition within a table schema.
type Column struct {
	Name     string   `json:"name"`
	DataType DataType `json:"data_type"`
	Nullable bool     `json:"nullable"`
}

// XNormalizer is the opaque per-table bookkeeping the normalize stage
// attaches to every table it touches.
type XNormalizer struct {
	EvolveColumnsOnce bool `json:"evolve-columns-once,omitempty"`
	SeenData          bool `json:"seen-data,omitempty"`
}

// Table is a single table schema: an ordered set of columns plus the
// x-normalizer sub-mapping.
type Table struct {
	Name        string      `json:"name"`
	TableFormat string      `json:"table_format,omitempty"`
	Order       []string    `json:"order,omitempty"`
	Columns     map[string]Column `json:"columns"`
	XNormalizer XNormalizer `json:"x-normalizer"`
}

// NewTable creates an empty table schema with the given name.
func NewTable(name string) *Table {
	return &Table{
		Name:    name,
		Columns: make(map[string]Column, 8),
	}
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	clone := &Table{
		Name:        t.Name,
		TableFormat: t.TableFormat,
		Order:       append([]string(nil), t.Order...),
		Columns:     make(map[string]Column, len(t.Columns)),
		XNormalizer: t.XNormalizer,
	}
	for k, v := range t.Columns {
		clone.Columns[k] = v
	}
	return clone
}

// addToOrder appends name to Order the first time it's seen, preserving
// column-definition order for deterministic writer output.
func (t *Table) addToOrder(name string) {
	for _, n := range t.Order {
		if n == name {
			return
		}
	}
	t.Order = append(t.Order, name)
}

// Schema maps table name to table schema.
type Schema map[string]*Table

// Clone performs a deep copy of the whole schema.
func (s Schema) Clone() Schema {
	out := make(Schema, len(s))
	for name, table := range s {
		out[name] = table.Clone()
	}
	return out
}

// EnsureTable returns the table with the given name, creating it if absent.
func (s Schema) EnsureTable(name string) *Table {
	if t, ok := s[name]; ok {
		return t
	}
	t := NewTable(name)
	s[name] = t
	return t
}
