// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

// Package config defines the configuration surface of the normalize
// pipeline and the mechanism used to populate it.
package config

import (
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the root configuration for a normalize run.
type Config struct {
	Normalize     Normalize     `yaml:"normalize"`
	NormalizeRoot Storage       `yaml:"normalizeStorage"`
	LoadRoot      Storage       `yaml:"loadStorage"`
	SchemaRoot    Storage       `yaml:"schemaStorage"`
	Statsd        Statsd        `yaml:"statsd"`
	Destination   Capabilities  `yaml:"destination"`
}

// Normalize holds the knobs that drive the concurrent normalization engine.
type Normalize struct {
	PoolWidth        int           `yaml:"poolWidth"`
	LoaderFileFormat string        `yaml:"loaderFileFormat"`
	PollInterval     time.Duration `yaml:"pollInterval"`
	SchemaName       string        `yaml:"schemaName"`
}

// Storage describes where a package store keeps its directories. Kind
// selects which backend (disk, s3, gcs, azure) is used; Bucket/Prefix are
// only meaningful for the blob backends.
type Storage struct {
	Kind   string `yaml:"kind"`
	Root   string `yaml:"root"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// Statsd configures the metrics sink.
type Statsd struct {
	Host string `yaml:"host"`
	Port int64  `yaml:"port"`
}

// Capabilities mirrors the destination capability surface consulted by the
// WriterResolver.
type Capabilities struct {
	PreferredLoaderFileFormat  string   `yaml:"preferredLoaderFileFormat"`
	PreferredStagingFileFormat string   `yaml:"preferredStagingFileFormat"`
	SupportedLoaderFileFormats []string `yaml:"supportedLoaderFileFormats"`
	SupportedTableFormats      []string `yaml:"supportedTableFormats"`
}

// Configurer populates a Config from some source.
type Configurer interface {
	Configure(c *Config) error
}

// Load reads a yaml configuration file from path and applies defaults for
// anything the file leaves zero-valued.
func Load(path string, defaults Configurer) (*Config, error) {
	c := &Config{}
	if defaults != nil {
		if err := defaults.Configure(c); err != nil {
			return nil, err
		}
	}

	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}
