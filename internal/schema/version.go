// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

package schema

import (
	"sort"
	"strconv"
	"strings"

	"github.com/twmb/murmur3"
)

// VersionHash computes a stable hash of the schema's shape, used by the
// Driver to detect whether the extracted package's schema and the one held
// in Schema Storage have diverged.
func VersionHash(s Schema) string {
	tables := make([]string, 0, len(s))
	for name := range s {
		tables = append(tables, name)
	}
	sort.Strings(tables)

	var b strings.Builder
	for _, name := range tables {
		table := s[name]
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(table.TableFormat)
		b.WriteByte(':')

		cols := make([]string, 0, len(table.Columns))
		for col := range table.Columns {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		for _, col := range cols {
			c := table.Columns[col]
			b.WriteString(col)
			b.WriteByte('=')
			b.WriteString(c.DataType.String())
			if c.Nullable {
				b.WriteByte('?')
			}
			b.WriteByte(',')
		}
		b.WriteByte(';')
	}

	h := murmur3.Sum64([]byte(b.String()))
	return strconv.FormatUint(h, 16)
}
