package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/zboralski/uemu32/internal/mmu"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") returned error: %v", err)
	}
	want := Defaults()
	if *cfg != *want {
		t.Errorf("Load(\"\") = %+v, want %+v", cfg, want)
	}
	if cfg.StackTop != mmu.StackTop || cfg.StackSize != mmu.StackSize {
		t.Errorf("stack layout should match the spec's literal defaults: %+v", cfg)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "uemu32.yaml")
	yamlContent := "stack_size: 0x8000\ntrace_level: debug\n"
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StackSize != 0x8000 {
		t.Errorf("StackSize = %#x, want 0x8000", cfg.StackSize)
	}
	if cfg.TraceLevel != "debug" {
		t.Errorf("TraceLevel = %q, want debug", cfg.TraceLevel)
	}
	// Fields the file didn't set still carry the spec defaults.
	if cfg.StackTop != mmu.StackTop {
		t.Errorf("StackTop = %#x, want unchanged default %#x", cfg.StackTop, mmu.StackTop)
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
