// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

package normalizeritem

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/kelindar/talaria-normalize/internal/schema"
	"github.com/kelindar/talaria-normalize/internal/writer"
)

// JSONLines decodes one JSON object per line and writes each as a row,
// inferring the partial table schema from the values it sees.
type JSONLines struct{}

// Normalize implements ItemNormalizer.
func (JSONLines) Normalize(data []byte, loadID, jobID, table string, existing *schema.Table, out writer.ItemWriter) (*schema.Table, error) {
	delta := deltaFor(table)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var row map[string]interface{}
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("normalizeritem: %s line %d: %w", table, lineNo, err)
		}

		for name, value := range row {
			natural := typeOf(value)
			effective := observe(delta, existing, name, natural, value == nil)
			if effective == schema.String && natural != schema.String && value != nil {
				row[name] = coerceValue(value)
			}
		}
		if err := out.WriteRow(loadID, jobID, table, row); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return delta, nil
}
