package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() fails Validate: %v", err)
	}
}

func TestValidateRejectsBadBPP(t *testing.T) {
	cfg := Default()
	cfg.Geometry.BPP = 2
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for bpp=2")
	}
}

func TestValidateRejectsNarrowPitch(t *testing.T) {
	cfg := Default()
	cfg.Geometry.Pitch = 1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for pitch < width*bpp")
	}
}

func TestEnsureConfigFileNeverOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lgmpclient.json")
	if err := EnsureConfigFile(path); err != nil {
		t.Fatalf("EnsureConfigFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Segment.Path = "/tmp/custom"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := EnsureConfigFile(path); err != nil {
		t.Fatalf("EnsureConfigFile (2nd): %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load (2nd): %v", err)
	}
	if got.Segment.Path != "/tmp/custom" {
		t.Fatalf("Segment.Path = %q, want preserved custom value", got.Segment.Path)
	}
}

func TestLoadMergesOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lgmpclient.json")
	if err := os.WriteFile(path, []byte(`{"segment":{"path":"/dev/shm/custom"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Segment.Path != "/dev/shm/custom" {
		t.Fatalf("Segment.Path = %q, want /dev/shm/custom", cfg.Segment.Path)
	}
	if cfg.Geometry.Width != Default().Geometry.Width {
		t.Fatalf("Geometry.Width = %d, want default %d preserved", cfg.Geometry.Width, Default().Geometry.Width)
	}
}
