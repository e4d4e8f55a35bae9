// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

package normalizeritem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelindar/talaria-normalize/internal/schema"
)

type capturingWriter struct {
	rows []map[string]interface{}
}

func (w *capturingWriter) WriteRow(loadID, jobID, table string, row map[string]interface{}) error {
	w.rows = append(w.rows, row)
	return nil
}

func TestJSONLines_Normalize(t *testing.T) {
	data := []byte("{\"id\": 1, \"name\": \"a\", \"score\": 1.5}\n{\"id\": 2, \"name\": \"b\", \"extra\": true}\n")

	w := &capturingWriter{}
	delta, err := JSONLines{}.Normalize(data, "load1", "job1", "events", nil, w)
	require.NoError(t, err)

	assert.Len(t, w.rows, 2)
	assert.Equal(t, schema.Int64, delta.Columns["id"].DataType)
	assert.Equal(t, schema.String, delta.Columns["name"].DataType)
	assert.Equal(t, schema.Float64, delta.Columns["score"].DataType)
	assert.Equal(t, schema.Bool, delta.Columns["extra"].DataType)
}

func TestJSONLines_SkipsBlankLines(t *testing.T) {
	data := []byte("{\"id\": 1}\n\n{\"id\": 2}\n")

	w := &capturingWriter{}
	_, err := JSONLines{}.Normalize(data, "load1", "job1", "events", nil, w)
	require.NoError(t, err)
	assert.Len(t, w.rows, 2)
}

func TestJSONLines_MalformedLineReturnsError(t *testing.T) {
	data := []byte(`not json` + "\n")
	w := &capturingWriter{}
	_, err := JSONLines{}.Normalize(data, "load1", "job1", "events", nil, w)
	require.Error(t, err)
}

// A column already settled in existing (the table the calling job's
// snapshot was hydrated from) steers a value that can't widen into it
// toward text, the same as within one Normalize call's own delta.
func TestJSONLines_CoercesAgainstExistingColumn(t *testing.T) {
	data := []byte(`{"id": 5}` + "\n")
	existing := schema.NewTable("events")
	existing.Columns["id"] = schema.Column{Name: "id", DataType: schema.String}

	w := &capturingWriter{}
	delta, err := JSONLines{}.Normalize(data, "load1", "job1", "events", existing, w)
	require.NoError(t, err)

	assert.Equal(t, schema.String, delta.Columns["id"].DataType)
	require.Len(t, w.rows, 1)
	assert.Equal(t, "5", w.rows[0]["id"])
}

func TestSelect_ByExtension(t *testing.T) {
	_, format, err := Select("t.1.jsonl")
	require.NoError(t, err)
	assert.Equal(t, "json", string(format))

	_, format, err = Select("t.1.arrow")
	require.NoError(t, err)
	assert.Equal(t, "arrow", string(format))

	_, _, err = Select("t.1.parquet")
	assert.Error(t, err)
}
