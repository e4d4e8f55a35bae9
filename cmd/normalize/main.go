// Copyright 2019-2020 Grabtaxi Holdings PTE LTE (GRAB), All rights reserved.
// Use of this source code is governed by an MIT-style license that can be found in the LICENSE file

// Command normalize runs the normalize pipeline stage standalone: it
// polls an extracted-package store, reconciles schemas against Schema
// Storage, normalizes and writes every new job, and commits each
// package's load output, repeating on a configurable interval until
// stopped.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/gorilla/mux"

	"github.com/kelindar/talaria-normalize/internal/config"
	"github.com/kelindar/talaria-normalize/internal/config/static"
	"github.com/kelindar/talaria-normalize/internal/monitor"
	monerrors "github.com/kelindar/talaria-normalize/internal/monitor/errors"
	"github.com/kelindar/talaria-normalize/internal/monitor/logging"
	"github.com/kelindar/talaria-normalize/internal/monitor/statsd"
	"github.com/kelindar/talaria-normalize/internal/normalize"
	"github.com/kelindar/talaria-normalize/internal/pool"
	"github.com/kelindar/talaria-normalize/internal/schema"
	"github.com/kelindar/talaria-normalize/internal/storage"
	"github.com/kelindar/talaria-normalize/internal/storage/blob/azure"
	"github.com/kelindar/talaria-normalize/internal/storage/blob/gcs"
	"github.com/kelindar/talaria-normalize/internal/storage/blob/s3"
	"github.com/kelindar/talaria-normalize/internal/storage/cache"
	"github.com/kelindar/talaria-normalize/internal/storage/disk"
	"github.com/kelindar/talaria-normalize/internal/writer"
	"github.com/kelindar/talaria-normalize/internal/writer/jsonl"
	"github.com/kelindar/talaria-normalize/internal/writer/orc"
	"github.com/kelindar/talaria-normalize/internal/writer/parquet"
)

func main() {
	configPath := flag.String("config", "", "path to a yaml configuration file")
	addr := flag.String("addr", ":8090", "address for the health/metrics HTTP surface")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "normalize: loading config: %v\n", err)
		os.Exit(1)
	}

	m := monitor.New(logging.NewStandard(), newStatsd(cfg.Statsd), hostname(), "normalize")

	driver, closeStorage, err := build(cfg, m)
	if err != nil {
		m.Error(monerrors.Internal("building pipeline", err))
		os.Exit(1)
	}
	defer closeStorage()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		m.Info("normalize", "shutting down")
		cancel()
	}()

	srv := &http.Server{Addr: *addr, Handler: healthRouter(driver)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.Error(monerrors.Internal("health server", err))
		}
	}()

	task := driver.Serve(ctx, cfg.Normalize.PollInterval)
	task.Outcome()
	_ = srv.Shutdown(context.Background())
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		c := &config.Config{}
		if err := static.New().Configure(c); err != nil {
			return nil, err
		}
		return c, nil
	}
	return config.Load(path, static.New())
}

func newStatsd(cfg config.Statsd) monitor.Statsd {
	if cfg.Host == "" {
		return statsd.NewNoop()
	}
	c, err := statsd.New(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	if err != nil {
		return statsd.NewNoop()
	}
	return c
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// build wires every SPEC_FULL component from cfg: the three PackageStore
// roots, the writer registry, the worker pool, the Spooler and its
// fallback, and the Driver that ties them together. The returned func
// closes whatever owns a Close method (presently just the schema cache).
func build(cfg *config.Config, m monitor.Monitor) (*normalize.Driver, func(), error) {
	normalizeStore, err := buildStore(cfg.NormalizeRoot)
	if err != nil {
		return nil, nil, monerrors.Internal("opening normalize storage", err)
	}
	loadStore, err := buildStore(cfg.LoadRoot)
	if err != nil {
		return nil, nil, monerrors.Internal("opening load storage", err)
	}
	schemaStore, err := buildStore(cfg.SchemaRoot)
	if err != nil {
		return nil, nil, monerrors.Internal("opening schema storage", err)
	}

	extracted := storage.NewNormalizeStorage(normalizeStore, "extracted")

	registry := writer.NewRegistry(map[writer.FileFormat]writer.Factory{
		writer.JSONL:   func(dir string) writer.ItemStorage { return jsonl.New(dir) },
		writer.ORC:     func(dir string) writer.ItemStorage { return orc.New(dir) },
		writer.Parquet: func(dir string) writer.ItemStorage { return parquet.New(dir) },
	})

	stagingDir := filepath.Join(os.TempDir(), "talaria-normalize-staging")
	load := storage.NewLoadStorage(loadStore, "load/new", "load/committed", stagingDir, registry)

	remoteSchemas := storage.NewNamedSchemaStorage(schemaStore, "schemas")
	cacheDir := filepath.Join(os.TempDir(), "talaria-normalize-schema-cache")
	schemaCache, err := cache.Open(cacheDir, remoteSchemas, m)
	if err != nil {
		return nil, nil, monerrors.Internal("opening schema cache", err)
	}

	caps := toCapabilities(cfg.Destination)
	resolver := writer.NewResolver(m)
	worker := normalize.NewWorker(resolver, load, extracted, caps, writer.FileFormat(cfg.Normalize.LoaderFileFormat), m)

	width := cfg.Normalize.PoolWidth
	if width < 1 {
		width = runtime.NumCPU()
	}
	spooler := normalize.NewSpooler(extracted, load, worker, pool.New(width), schema.DefaultNaming{}, width, m)
	driver := normalize.NewDriver(extracted, load, schemaCache, cfg.Normalize.SchemaName, spooler, m)

	return driver, func() { _ = schemaCache.Close() }, nil
}

func buildStore(s config.Storage) (storage.PackageStore, error) {
	switch s.Kind {
	case "", "disk":
		return disk.New(s.Root)
	case "s3":
		return s3.New(s.Bucket, s.Prefix)
	case "gcs":
		return gcs.New(context.Background(), s.Bucket, s.Prefix)
	case "azure":
		return azure.New(os.Getenv("AZURE_STORAGE_ACCOUNT"), os.Getenv("AZURE_STORAGE_KEY"), s.Bucket, s.Prefix)
	default:
		return nil, fmt.Errorf("normalize: unknown storage kind %q", s.Kind)
	}
}

func toCapabilities(c config.Capabilities) writer.DestinationCapabilities {
	supported := make([]writer.FileFormat, len(c.SupportedLoaderFileFormats))
	for i, f := range c.SupportedLoaderFileFormats {
		supported[i] = writer.FileFormat(f)
	}
	return writer.DestinationCapabilities{
		PreferredLoaderFileFormat:  writer.FileFormat(c.PreferredLoaderFileFormat),
		PreferredStagingFileFormat: writer.FileFormat(c.PreferredStagingFileFormat),
		SupportedLoaderFileFormats: supported,
		SupportedTableFormats:      c.SupportedTableFormats,
	}
}

// healthRouter exposes /healthz for liveness and /metrics reporting the
// cumulative count of packages processed.
func healthRouter(d *normalize.Driver) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "normalize_packages_processed %d\n", d.ProcessedCount())
	})
	return r
}
