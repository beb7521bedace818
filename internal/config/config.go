// Package config loads emulator defaults — page size, stack layout, symbol
// resolver thresholds, trace verbosity — from an optional YAML file,
// falling back to the spec's literal defaults for anything left unset.
package config

import (
	"os"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"github.com/zboralski/uemu32/internal/mmu"
)

// defaultSymbolThreshold is the largest distance, in bytes, from a symbol to
// the next symbol that the resolver accepts as that symbol's extent without
// decoding forward to a RET (§4.2's "symbol-extent threshold"). Lookup does
// not use it.
const defaultSymbolThreshold = 0x10000

// defaultMRUCacheSize matches the call-trace recorder's own default so a
// config file only needs to name it when overriding.
const defaultMRUCacheSize = 10

// Config holds the emulator's tunable defaults, per §3's Config data model.
type Config struct {
	PageSize        uint32 `yaml:"page_size"`
	StackTop        uint32 `yaml:"stack_top"`
	StackSize       uint32 `yaml:"stack_size"`
	TraceLevel      string `yaml:"trace_level"`
	SymbolThreshold uint32 `yaml:"symbol_threshold"`
	MRUCacheSize    int    `yaml:"mru_cache_size"`
}

// Defaults returns the spec's literal defaults, used whenever path is empty
// or a field is left zero-valued in the loaded file.
func Defaults() *Config {
	return &Config{
		PageSize:        uint32(unix.Getpagesize()),
		StackTop:        mmu.StackTop,
		StackSize:       mmu.StackSize,
		TraceLevel:      "warn",
		SymbolThreshold: defaultSymbolThreshold,
		MRUCacheSize:    defaultMRUCacheSize,
	}
}

// Load reads path as YAML and merges it over Defaults(); an empty path
// returns the defaults untouched, matching property 11.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, err
	}

	if loaded.PageSize != 0 {
		cfg.PageSize = loaded.PageSize
	}
	if loaded.StackTop != 0 {
		cfg.StackTop = loaded.StackTop
	}
	if loaded.StackSize != 0 {
		cfg.StackSize = loaded.StackSize
	}
	if loaded.TraceLevel != "" {
		cfg.TraceLevel = loaded.TraceLevel
	}
	if loaded.SymbolThreshold != 0 {
		cfg.SymbolThreshold = loaded.SymbolThreshold
	}
	if loaded.MRUCacheSize != 0 {
		cfg.MRUCacheSize = loaded.MRUCacheSize
	}
	return cfg, nil
}
