// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

package schema

import (
	"github.com/kelindar/binary"
)

// wireTable is the flattened, binary-friendly shape of Table used for the
// worker snapshot. Columns are carried as a map alongside the Order slice
// so a worker's hydrated clone reproduces the exact column order of the
// sender without needing a second pass.
type wireTable struct {
	Name        string
	TableFormat string
	Order       []string
	Columns     map[string]Column
	XNormalizer XNormalizer
}

// Snapshot is an immutable, binary-encoded copy of a Schema. Workers
// receive a Snapshot rather than a live Schema reference: they can hydrate
// their own private clone from it but can never observe (or race on)
// mutations the mapper goroutine makes to the original.
type Snapshot []byte

// Snapshot serializes s with github.com/kelindar/binary.
func (s Schema) Snapshot() (Snapshot, error) {
	wire := make(map[string]wireTable, len(s))
	for name, table := range s {
		wire[name] = wireTable{
			Name:        table.Name,
			TableFormat: table.TableFormat,
			Order:       table.Order,
			Columns:     table.Columns,
			XNormalizer: table.XNormalizer,
		}
	}
	return binary.Marshal(wire)
}

// FromSnapshot hydrates a fresh, independently-owned Schema from a
// Snapshot, letting a worker compute its proposed updates as a pure
// function of the snapshot rather than the live Schema.
func FromSnapshot(snap Snapshot) (Schema, error) {
	wire := make(map[string]wireTable)
	if err := binary.Unmarshal(snap, &wire); err != nil {
		return nil, err
	}

	out := make(Schema, len(wire))
	for name, w := range wire {
		out[name] = &Table{
			Name:        w.Name,
			TableFormat: w.TableFormat,
			Order:       w.Order,
			Columns:     w.Columns,
			XNormalizer: w.XNormalizer,
		}
	}
	return out, nil
}
