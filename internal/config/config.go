// Package config loads the commitdag CLI configuration from an HCL file.
package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Config holds the knobs of the commitdag tool.
type Config struct {
	// IDMapDB is the sqlite database holding the IdMap and version tables.
	IDMapDB string `hcl:"idmap_db,optional"`
	// BlobDir is the directory of the content-addressed IdDag blob store.
	BlobDir string `hcl:"blob_dir,optional"`
	// ScheduledMax caps concurrently running traversal jobs.
	ScheduledMax int `hcl:"scheduled_max,optional"`
	// FetchParallelism caps parallel edge-fetch batches during seeding.
	FetchParallelism int `hcl:"fetch_parallelism,optional"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		IDMapDB:          "commitdag.db",
		BlobDir:          "commitdag-blobs",
		ScheduledMax:     16,
		FetchParallelism: 4,
	}
}

// Load reads an HCL config file, falling back to defaults for unset fields.
// A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	var file Config
	if err := hclsimple.DecodeFile(path, nil, &file); err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	if file.IDMapDB != "" {
		cfg.IDMapDB = file.IDMapDB
	}
	if file.BlobDir != "" {
		cfg.BlobDir = file.BlobDir
	}
	if file.ScheduledMax > 0 {
		cfg.ScheduledMax = file.ScheduledMax
	}
	if file.FetchParallelism > 0 {
		cfg.FetchParallelism = file.FetchParallelism
	}
	return cfg, nil
}
