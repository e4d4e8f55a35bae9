// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

package normalizeritem

import (
	"bytes"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/kelindar/talaria-normalize/internal/schema"
	"github.com/kelindar/talaria-normalize/internal/writer"
)

// Arrow decodes a columnar Arrow IPC file, deriving the partial table
// schema directly from the file's own field types (no per-row inference
// needed, unlike JSONLines).
type Arrow struct{}

// Normalize implements ItemNormalizer.
func (Arrow) Normalize(data []byte, loadID, jobID, table string, existing *schema.Table, out writer.ItemWriter) (*schema.Table, error) {
	reader, err := ipc.NewFileReader(bytes.NewReader(data), ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	delta := deltaFor(table)
	fields := reader.Schema().Fields()
	effective := make([]schema.DataType, len(fields))
	for i, field := range fields {
		effective[i] = observe(delta, existing, field.Name, arrowTypeOf(field.Type), field.Nullable)
	}

	for i := 0; i < reader.NumRecords(); i++ {
		rec, err := reader.Record(i)
		if err != nil {
			return nil, err
		}
		if err := writeRecord(rec, fields, effective, loadID, jobID, table, out); err != nil {
			return nil, err
		}
	}
	return delta, nil
}

func writeRecord(rec arrow.Record, fields []arrow.Field, effective []schema.DataType, loadID, jobID, table string, out writer.ItemWriter) error {
	rows := int(rec.NumRows())
	for r := 0; r < rows; r++ {
		row := make(map[string]interface{}, len(fields))
		for c, field := range fields {
			value := valueAt(rec.Column(c), r)
			if effective[c] == schema.String && arrowTypeOf(field.Type) != schema.String && value != nil {
				value = coerceValue(value)
			}
			row[field.Name] = value
		}
		if err := out.WriteRow(loadID, jobID, table, row); err != nil {
			return err
		}
	}
	return nil
}

func valueAt(col arrow.Array, i int) interface{} {
	if col.IsNull(i) {
		return nil
	}
	switch c := col.(type) {
	case *array.Boolean:
		return c.Value(i)
	case *array.Int32:
		return c.Value(i)
	case *array.Int64:
		return c.Value(i)
	case *array.Float32:
		return float64(c.Value(i))
	case *array.Float64:
		return c.Value(i)
	case *array.String:
		return c.Value(i)
	case *array.Timestamp:
		return c.Value(i).ToTime(arrow.Nanosecond)
	default:
		return col.ValueStr(i)
	}
}

func arrowTypeOf(t arrow.DataType) schema.DataType {
	switch t.ID() {
	case arrow.BOOL:
		return schema.Bool
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.UINT8, arrow.UINT16, arrow.UINT32:
		return schema.Int32
	case arrow.INT64, arrow.UINT64:
		return schema.Int64
	case arrow.FLOAT32, arrow.FLOAT64:
		return schema.Float64
	case arrow.STRING, arrow.LARGE_STRING:
		return schema.String
	case arrow.TIMESTAMP, arrow.DATE32, arrow.DATE64:
		return schema.Timestamp
	case arrow.STRUCT, arrow.LIST, arrow.MAP:
		return schema.JSON
	default:
		return schema.String
	}
}
