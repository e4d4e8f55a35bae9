// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

// Package normalizeritem implements the item normalizer contract: a
// Normalize call that writes a file's rows for one table and returns the
// partial table schema they imply, with two concrete variants, JSON-lines
// and columnar-arrow, selected by the extracted file's extension.
package normalizeritem

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kelindar/talaria-normalize/internal/schema"
	"github.com/kelindar/talaria-normalize/internal/writer"
)

// ItemNormalizer decodes data (the full contents of one extracted file),
// writes every row it decodes to out under (loadID, jobID, table), and
// returns the partial table schema the file's rows imply. existing is the
// table schema the calling job's snapshot was hydrated from; when a
// row's natural type can't widen into a column existing already settled
// elsewhere, Normalize coerces that value to text rather than proposing a
// second, conflicting type for the same retry. It never touches the live
// Schema directly, and never performs its own I/O: WorkerJob fetches the
// bytes through NormalizeStorage first, so the same code path works
// whether the extracted package lives on local disk or behind a blob
// store.
type ItemNormalizer interface {
	Normalize(data []byte, loadID, jobID, table string, existing *schema.Table, out writer.ItemWriter) (*schema.Table, error)
}

// Select picks the ItemNormalizer variant for path's extension.
func Select(path string) (ItemNormalizer, writer.ItemFormat, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".jsonl", ".json":
		return JSONLines{}, writer.FormatJSON, nil
	case ".arrow":
		return Arrow{}, writer.FormatArrow, nil
	default:
		return nil, "", fmt.Errorf("normalizeritem: unsupported extracted file extension %q", ext)
	}
}

// deltaFor creates the empty partial table schema that a Normalize call
// fills with per-row inferred columns, in first-seen order.
func deltaFor(table string) *schema.Table {
	return schema.NewTable(table)
}

// observe folds one row's (name, t, nullable) observation into delta,
// consulting existing (the already-settled table this job's snapshot was
// hydrated from) for a column delta hasn't seen yet this pass. It returns
// the column's resulting effective type, which the caller uses to decide
// whether the row's actual value needs coercing to text: when neither t
// nor the column's current type widens into the other, the column falls
// back to schema.String rather than raising a conflict at normalize time,
// since String is the only type every other type widens into.
func observe(delta, existing *schema.Table, name string, t schema.DataType, nullable bool) schema.DataType {
	delta.Order = appendOrderOnce(delta.Order, name)

	cur, ok := delta.Columns[name]
	if !ok {
		if existing != nil {
			if c, ok2 := existing.Columns[name]; ok2 {
				cur, ok = c, true
			}
		}
	}
	if !ok {
		cur = schema.Column{Name: name, DataType: t, Nullable: nullable}
		delta.Columns[name] = cur
		return t
	}

	switch {
	case cur.DataType == t:
	case schema.CanWiden(cur.DataType, t):
		cur.DataType = t
	case schema.CanWiden(t, cur.DataType):
		// t narrows into the already-settled type; keep the wider one.
	default:
		cur.DataType = schema.String
	}
	cur.Nullable = cur.Nullable || nullable
	delta.Columns[name] = cur
	return cur.DataType
}

func appendOrderOnce(order []string, name string) []string {
	for _, n := range order {
		if n == name {
			return order
		}
	}
	return append(order, name)
}

// coerceValue renders value as the text schema.String expects, when its
// natural type lost a widening conflict to a column that already settled
// on String elsewhere.
func coerceValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}

func typeOf(value interface{}) schema.DataType {
	switch v := value.(type) {
	case nil:
		return schema.Unknown
	case bool:
		return schema.Bool
	case string:
		return schema.String
	case float64:
		if v == float64(int64(v)) {
			return schema.Int64
		}
		return schema.Float64
	case int32:
		return schema.Int32
	case int64:
		return schema.Int64
	case map[string]interface{}, []interface{}:
		return schema.JSON
	default:
		return schema.String
	}
}
