// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

package writer

import (
	"github.com/kelindar/talaria-normalize/internal/monitor"
	"github.com/kelindar/talaria-normalize/internal/schema"
)

// UnsupportedFormatError is returned when no writer can satisfy the
// destination's capabilities for a table.
type UnsupportedFormatError struct {
	Table      string
	ItemFormat ItemFormat
}

func (e *UnsupportedFormatError) Error() string {
	return "writer: no supported format for table " + e.Table + " and item format " + string(e.ItemFormat)
}

// Resolver chooses a writer specification for a (table, item format) pair,
// in priority order: user override, capability adapter, best match.
type Resolver struct {
	monitor monitor.Monitor
}

// NewResolver creates a WriterResolver.
func NewResolver(m monitor.Monitor) *Resolver {
	if m == nil {
		m = monitor.NewNoop()
	}
	return &Resolver{monitor: m}
}

// Resolve picks the writer Spec for table given the item format it will
// receive, the destination's capabilities and an optional user-forced
// format (config.Normalize.LoaderFileFormat).
func (r *Resolver) Resolve(table *schema.Table, item ItemFormat, caps DestinationCapabilities, userFormat FileFormat) (Spec, error) {
	if table.TableFormat != "" && !containsString(caps.SupportedTableFormats, table.TableFormat) {
		r.monitor.Warning("writer", &tableFormatWarning{table: table.Name, format: table.TableFormat})
	}

	preferred := caps.PreferredLoaderFileFormat
	if preferred == "" {
		preferred = caps.PreferredStagingFileFormat
	}
	supported := caps.SupportedLoaderFileFormats

	if caps.Adapter != nil {
		preferred, supported = caps.Adapter(preferred, supported, table)
	}

	// 1. User override.
	if userFormat != "" {
		if contains(supported, userFormat) {
			return r.spec(userFormat, item), nil
		}
		r.monitor.Warning("writer", &userFormatWarning{format: userFormat, table: table.Name})
	}

	// 3. Best match: prefer the destination's preferred format if
	// supported, then any supported format that natively consumes the
	// item format, then any supported format at all (with conversion).
	if contains(supported, preferred) {
		return r.spec(preferred, item), nil
	}
	for _, f := range supported {
		if isNative(f, item) {
			return r.spec(f, item), nil
		}
	}
	if len(supported) > 0 {
		return r.spec(supported[0], item), nil
	}

	return Spec{}, &UnsupportedFormatError{Table: table.Name, ItemFormat: item}
}

func (r *Resolver) spec(format FileFormat, item ItemFormat) Spec {
	native := isNative(format, item)
	if !native {
		r.monitor.Warning("writer", &conversionWarning{format: format, item: item})
	}
	return Spec{FileFormat: format, ItemFormat: item, Native: native}
}

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

type tableFormatWarning struct {
	table, format string
}

func (w *tableFormatWarning) Error() string {
	return "table " + w.table + " declares table_format " + w.format + " the destination does not support; it will be ignored"
}

type userFormatWarning struct {
	format FileFormat
	table  string
}

func (w *userFormatWarning) Error() string {
	return "loader_file_format " + string(w.format) + " is not supported for table " + w.table + "; a supported format will be used instead"
}

type conversionWarning struct {
	format FileFormat
	item   ItemFormat
}

func (w *conversionWarning) Error() string {
	return "no native writer for item format " + string(w.item) + "; converting to " + string(w.format) + " will degrade performance"
}
