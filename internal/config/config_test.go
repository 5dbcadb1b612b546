package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.hcl"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}
}

func TestLoadOverridesSetFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commitdag.hcl")
	content := `
idmap_db = "custom.db"
scheduled_max = 8
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IDMapDB != "custom.db" {
		t.Errorf("IDMapDB = %q, want custom.db", cfg.IDMapDB)
	}
	if cfg.ScheduledMax != 8 {
		t.Errorf("ScheduledMax = %d, want 8", cfg.ScheduledMax)
	}
	// Unset fields keep their defaults.
	if cfg.BlobDir != Default().BlobDir {
		t.Errorf("BlobDir = %q, want default", cfg.BlobDir)
	}
	if cfg.FetchParallelism != Default().FetchParallelism {
		t.Errorf("FetchParallelism = %d, want default", cfg.FetchParallelism)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commitdag.hcl")
	if err := os.WriteFile(path, []byte("idmap_db = ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load should fail on malformed HCL")
	}
}
