// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

// Package static provides a Configurer that hardcodes sane defaults, used
// when no configuration file is supplied and in tests.
package static

import (
	"time"

	"github.com/kelindar/talaria-normalize/internal/config"
)

// Static is a configurer that fills in hardcoded defaults.
type Static struct{}

// New creates a new static configurer.
func New() *Static {
	return &Static{}
}

// Configure fills c with the default normalize configuration.
func (s *Static) Configure(c *config.Config) error {
	c.Normalize = config.Normalize{
		PoolWidth:        1,
		LoaderFileFormat: "",
		PollInterval:     300 * time.Millisecond,
		SchemaName:       "default",
	}
	c.NormalizeRoot = config.Storage{Kind: "disk", Root: "var/normalize/extracted"}
	c.LoadRoot = config.Storage{Kind: "disk", Root: "var/normalize/load"}
	c.SchemaRoot = config.Storage{Kind: "disk", Root: "var/normalize/schemas"}
	c.Statsd = config.Statsd{Host: "localhost", Port: 8125}
	c.Destination = config.Capabilities{
		PreferredLoaderFileFormat:  "jsonl",
		SupportedLoaderFileFormats: []string{"jsonl", "parquet"},
		SupportedTableFormats:      nil,
	}
	return nil
}
