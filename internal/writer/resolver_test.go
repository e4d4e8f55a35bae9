// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

package writer

import (
	"testing"

	"github.com/kelindar/talaria-normalize/internal/schema"
	"github.com/stretchr/testify/assert"
)

func TestResolve_UserOverride(t *testing.T) {
	r := NewResolver(nil)
	caps := DestinationCapabilities{
		PreferredLoaderFileFormat:  JSONL,
		SupportedLoaderFileFormats: []FileFormat{JSONL, Parquet},
	}
	spec, err := r.Resolve(schema.NewTable("t"), FormatJSON, caps, Parquet)
	assert.NoError(t, err)
	assert.Equal(t, Parquet, spec.FileFormat)
}

func TestResolve_IgnoresUnsupportedOverride(t *testing.T) {
	r := NewResolver(nil)
	caps := DestinationCapabilities{
		PreferredLoaderFileFormat:  JSONL,
		SupportedLoaderFileFormats: []FileFormat{JSONL},
	}
	spec, err := r.Resolve(schema.NewTable("t"), FormatJSON, caps, Parquet)
	assert.NoError(t, err)
	assert.Equal(t, JSONL, spec.FileFormat)
}

func TestResolve_PrefersDestinationPreference(t *testing.T) {
	r := NewResolver(nil)
	caps := DestinationCapabilities{
		PreferredLoaderFileFormat:  Parquet,
		SupportedLoaderFileFormats: []FileFormat{JSONL, Parquet},
	}
	spec, err := r.Resolve(schema.NewTable("t"), FormatJSON, caps, "")
	assert.NoError(t, err)
	assert.Equal(t, Parquet, spec.FileFormat)
}

func TestResolve_CapabilityAdapterRefines(t *testing.T) {
	r := NewResolver(nil)
	caps := DestinationCapabilities{
		PreferredLoaderFileFormat:  JSONL,
		SupportedLoaderFileFormats: []FileFormat{JSONL, Parquet},
		Adapter: func(preferred FileFormat, supported []FileFormat, table *schema.Table) (FileFormat, []FileFormat) {
			if table.TableFormat == "iceberg" {
				return Parquet, []FileFormat{Parquet}
			}
			return preferred, supported
		},
	}
	table := schema.NewTable("t")
	table.TableFormat = "iceberg"
	spec, err := r.Resolve(table, FormatJSON, caps, "")
	assert.NoError(t, err)
	assert.Equal(t, Parquet, spec.FileFormat)
}

func TestResolve_Unsupported(t *testing.T) {
	r := NewResolver(nil)
	caps := DestinationCapabilities{}
	_, err := r.Resolve(schema.NewTable("t"), FormatJSON, caps, "")
	assert.Error(t, err)
	var unsupported *UnsupportedFormatError
	assert.ErrorAs(t, err, &unsupported)
}

func TestResolve_ConversionFallback(t *testing.T) {
	r := NewResolver(nil)
	caps := DestinationCapabilities{
		PreferredLoaderFileFormat:  JSONL,
		SupportedLoaderFileFormats: []FileFormat{JSONL},
	}
	spec, err := r.Resolve(schema.NewTable("t"), FormatArrow, caps, "")
	assert.NoError(t, err)
	assert.Equal(t, JSONL, spec.FileFormat)
	assert.False(t, spec.Native)
}
