// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

package storage

import (
	"context"
	"encoding/json"
	"path"
	"strings"

	"github.com/kelindar/talaria-normalize/internal/schema"
)

// NamedSchemaStorage is the remote schema-of-record keyed by schema name
// rather than load id, backing cache.Cache (and, directly, a Driver with
// no local cache configured).
type NamedSchemaStorage interface {
	LoadSchema(ctx context.Context, name string) (schema.Schema, error)
	SaveSchema(ctx context.Context, name string, s schema.Schema) error
}

type namedSchema struct {
	store PackageStore
	root  string
}

// NewNamedSchemaStorage builds a NamedSchemaStorage rooted at root within
// store, storing each named schema as a single "<root>/<name>.json" object.
func NewNamedSchemaStorage(store PackageStore, root string) NamedSchemaStorage {
	return &namedSchema{store: store, root: strings.TrimSuffix(root, "/")}
}

func (n *namedSchema) path(name string) string {
	return path.Join(n.root, name+".json")
}

func (n *namedSchema) LoadSchema(ctx context.Context, name string) (schema.Schema, error) {
	data, err := n.store.ReadFile(ctx, n.path(name))
	if err != nil {
		if IsNotFound(err) {
			return schema.Schema{}, nil
		}
		return nil, err
	}
	var s schema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return s, nil
}

func (n *namedSchema) SaveSchema(ctx context.Context, name string, s schema.Schema) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return n.store.WriteFile(ctx, n.path(name), data)
}
