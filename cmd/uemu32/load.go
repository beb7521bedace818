package main

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/zboralski/uemu32/internal/config"
	"github.com/zboralski/uemu32/internal/cpu"
	"github.com/zboralski/uemu32/internal/decoder"
	"github.com/zboralski/uemu32/internal/elfview"
	"github.com/zboralski/uemu32/internal/mmu"
	"github.com/zboralski/uemu32/internal/symtab"
	"github.com/zboralski/uemu32/internal/trace"
)

// session bundles everything a run/debug/disasm invocation needs once a
// binary has been mapped and its symbols indexed.
type session struct {
	view       *elfview.View
	mem        *mmu.MMU
	resolver   *symtab.Resolver
	recorder   *trace.Recorder
	cpu        *cpu.CPU
	initialESP uint32
}

// load maps binaryPath into a fresh MMU and builds its symbol resolver
// concurrently, per §5: segment mapping and symbol-table indexing each open
// their own file handle and read the same file independently, sharing no
// mutable state until both finish — the same separation the teacher's
// LoadELFAt already draws between symbol parsing and segment mapping.
//
// The resolver is built without a decoder-backed instruction fetcher: the
// fetcher would need to decode from mem while mmu.LoadELF is still mapping
// it, which is exactly the shared mutable state this split is meant to
// avoid, so ambiguous symbol extents fall back to the next symbol's start here.
func load(binaryPath string, cfg *config.Config) (*session, error) {
	view, err := elfview.Load(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", binaryPath, err)
	}

	decoder.Reset()
	cpu.Register()

	mem := mmu.New(cfg.PageSize)

	var resolver *symtab.Resolver
	var initialESP uint32

	var g errgroup.Group
	g.Go(func() error {
		esp, err := mmu.LoadELF(mem, view)
		if err != nil {
			return fmt.Errorf("map segments: %w", err)
		}
		initialESP = esp
		return nil
	})
	g.Go(func() error {
		r, err := symtab.Load(binaryPath, symtab.WithPageSize(cfg.PageSize), symtab.WithSymbolThreshold(cfg.SymbolThreshold))
		if err != nil {
			return fmt.Errorf("build symbol index: %w", err)
		}
		resolver = r
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	recorder := trace.NewWithCacheSize(resolver, cfg.MRUCacheSize)
	c := cpu.New(mem, recorder)
	c.SetEIP(view.Entry)
	c.SetESP(initialESP)

	return &session{
		view:       view,
		mem:        mem,
		resolver:   resolver,
		recorder:   recorder,
		cpu:        c,
		initialESP: initialESP,
	}, nil
}
