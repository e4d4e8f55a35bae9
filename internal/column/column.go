// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

// Package column implements the row-staging buffer used by the native
// ORC writer to accumulate rows before a stripe flush, backed by plain Go slices rather than a query-engine wire type
// since this stage has no query-serving surface.
package column

import (
	"fmt"
	"regexp"

	"github.com/kelindar/talaria-normalize/internal/schema"
)

var validName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// IsValidName validates the name of a column.
func IsValidName(name string) bool {
	return validName.MatchString(name)
}

// ------------------------------------------------------------------------------------------------------------

// Column is an appendable, nullable, append-only value buffer for one
// column across a batch of rows.
type Column interface {
	Append(value interface{}) int
	Count() int
	Last() interface{}
	Size() int
	Values() []interface{}
}

// Columns represents a set of named columns.
type Columns map[string]Column

// MakeColumns initializes a set of columns from a table schema, if given.
func MakeColumns(table *schema.Table) Columns {
	if table == nil {
		return make(Columns, 16)
	}

	columns := make(Columns, len(table.Columns))
	for name, col := range table.Columns {
		columns[name] = NewColumn(col.DataType)
	}
	return columns
}

// Append adds a value at a particular index to the buffer, creating the
// column the first time it's seen, padded with one null fewer than the
// longest column holds (a null for every earlier row, when another column
// already holds the row in progress).
func (c Columns) Append(name string, value interface{}, typ schema.DataType) int {
	if !IsValidName(name) {
		return 0
	}

	if col, exists := c[name]; exists {
		return col.Append(value)
	}

	if typ == schema.Unknown {
		return 0
	}

	newColumn, size := NewColumn(typ), 0
	until := c.Max() - 1
	for i := 0; i < until; i++ {
		size += newColumn.Append(nil)
	}

	c[name] = newColumn
	return size + newColumn.Append(value)
}

// Max finds the maximum row count across the set.
func (c Columns) Max() (max int) {
	for _, column := range c {
		if count := column.Count(); count > max {
			max = count
		}
	}
	return
}

// LastRow returns the last appended row as a map.
func (c Columns) LastRow() map[string]interface{} {
	row := make(map[string]interface{}, len(c))
	for name, column := range c {
		row[name] = column.Last()
	}
	return row
}

// FillNulls pads every column shorter than Max() with nulls.
func (c Columns) FillNulls() (size int) {
	max := c.Max()
	for _, column := range c {
		delta := max - column.Count()
		for i := 0; i < delta; i++ {
			size += column.Append(nil)
		}
	}
	return
}

// Size returns the space (in bytes) required for the set of columns.
func (c Columns) Size() (size int) {
	for _, col := range c {
		size += col.Size()
	}
	return
}

// Any retrieves any column from the set, or nil if empty.
func (c Columns) Any() Column {
	for _, col := range c {
		return col
	}
	return nil
}

// ------------------------------------------------------------------------------------------------------------

// NewColumn creates a new appendable column buffer for the given type.
func NewColumn(t schema.DataType) Column {
	switch t {
	case schema.String, schema.JSON:
		return new(stringColumn)
	case schema.Int32:
		return new(int32Column)
	case schema.Int64:
		return new(int64Column)
	case schema.Float64:
		return new(float64Column)
	case schema.Bool:
		return new(boolColumn)
	case schema.Timestamp:
		return new(timestampColumn)
	}
	panic(fmt.Errorf("column: unknown type %v", t))
}
