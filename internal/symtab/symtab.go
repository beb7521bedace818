// Package symtab implements the page-partitioned region/zone/record symbol
// index described in §4.2: it maps a virtual address to the enclosing
// symbol name and extent. Grounded on original_source/src/sym-resolver.c's
// region/zone layout and §3/§4.2 of the spec.
package symtab

import (
	"debug/elf"
	"os"
	"sort"

	"github.com/ianlancetaylor/demangle"

	"github.com/zboralski/uemu32/internal/elfview"
)

// record is one symbol inside a zone, stored sorted by offset-in-zone. name
// is already the raw string debug/elf parsed for us (Go's ELF reader has no
// API for a deferred NUL-terminated string-table scan), but nothing reads it
// until materialize — demangling, the actually expensive part of turning a
// record into a reportable name, stays lazy per §3/§4.2 step 3.
type record struct {
	offset   uint32 // offset from the start of the zone
	start    uint32 // absolute start address
	end      uint32 // absolute extent end, see §3's extent_end rule
	rawName  string
	name     string // materialized (demangled) on first lookup
	resolved bool
}

// zone is one host page inside a region; its records are sorted by
// offset-in-zone, and mop/divline split them into a lower/upper half so a
// lookup scans at most half the records, per §3.
type zone struct {
	records []*record
	mop     int    // midpoint index
	divline uint32 // records[mop].offset
}

// region is one PT_LOAD segment, divided into one-page zones.
type region struct {
	base, end uint32
	pageSize  uint32
	zones     []zone
}

// DefaultSymbolExtentThreshold bounds how large a bare "next symbol's address"
// extent is allowed to be before Resolver falls back to decoding forward to
// find a terminating RET, per §3's symbol record rule. Exported so callers
// (and tests) can see the default without digging into the algorithm.
const DefaultSymbolExtentThreshold = 0x2000

// Resolver builds and queries the region/zone/record index for one ELF
// binary. It opens its own file handle (§4.2), independent of the MMU's
// backing memory — a deliberate separation per §9's design notes.
type Resolver struct {
	f         *os.File
	regions   []region
	pageSize  uint32
	fetch     InstructionFetcher
	threshold uint32
}

// InstructionFetcher lets Resolver decode forward to find a RET when a
// symbol's span to the next symbol exceeds threshold (§3). No package in
// this module implements it; a caller installs one with
// WithInstructionFetcher, so symtab stays decoder-agnostic.
type InstructionFetcher interface {
	// NextInstructionLen returns the byte length of the instruction at addr
	// and whether it is a RET (C3/C2/CB/CA).
	NextInstructionLen(addr uint32) (length uint32, isRet bool, ok bool)
}

// Option configures Load.
type Option func(*Resolver)

// WithInstructionFetcher installs the decoder-backed extent finder used when
// a symbol's span is ambiguous. Without one, Load uses the next symbol's
// start (or the region's end) as the extent.
func WithInstructionFetcher(f InstructionFetcher) Option {
	return func(r *Resolver) { r.fetch = f }
}

// WithPageSize overrides the zone granularity (defaults to 4096).
func WithPageSize(pageSize uint32) Option {
	return func(r *Resolver) { r.pageSize = pageSize }
}

// WithSymbolThreshold overrides the symbol-extent threshold (defaults to
// DefaultSymbolExtentThreshold): a symbol whose distance to the next symbol
// exceeds it has its extent found by decoding forward to a RET. Without an
// InstructionFetcher the threshold has no effect, and Lookup never uses it.
func WithSymbolThreshold(threshold uint32) Option {
	return func(r *Resolver) { r.threshold = threshold }
}

// Load opens executable_path itself, parses the ELF section headers,
// locates the preferred symbol table (.symtab, falling back to .dynsym),
// and builds the region/zone/record index, per §4.2's build algorithm.
func Load(executablePath string, opts ...Option) (*Resolver, error) {
	f, err := os.Open(executablePath)
	if err != nil {
		return nil, err
	}

	ef, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	defer ef.Close()

	r := &Resolver{f: f, pageSize: 4096, threshold: DefaultSymbolExtentThreshold}
	for _, opt := range opts {
		opt(r)
	}

	view, err := elfview.Load(executablePath)
	if err != nil {
		f.Close()
		return nil, err
	}

	// Step 1: one region per PT_LOAD header.
	for _, seg := range view.Segments {
		nzones := (seg.MemSz + r.pageSize - 1) / r.pageSize
		if nzones == 0 {
			nzones = 1
		}
		r.regions = append(r.regions, region{
			base:     seg.VAddr,
			end:      seg.VAddr + roundUp(seg.MemSz, r.pageSize),
			pageSize: r.pageSize,
			zones:    make([]zone, nzones),
		})
	}

	// Step 2: insert every STT_FUNC/STT_OBJECT symbol into its zone, sorted
	// by offset-in-zone; names are demangled lazily (step 3).
	symtabSyms := symtabEntries(ef)
	sort.Slice(symtabSyms, func(i, j int) bool { return symtabSyms[i].value < symtabSyms[j].value })

	for _, s := range symtabSyms {
		reg := r.findRegionIndex(s.value)
		if reg < 0 {
			continue
		}
		rg := &r.regions[reg]
		zidx := (s.value - rg.base) / r.pageSize
		if int(zidx) >= len(rg.zones) {
			continue
		}
		rec := &record{
			offset:  (s.value - rg.base) % r.pageSize,
			start:   s.value,
			rawName: s.name,
		}
		insertSorted(&rg.zones[zidx], rec)
	}

	// Extents: each record's end is either the next-higher symbol's start
	// (within the same region) or, if that span exceeds threshold, resolved
	// by decoding forward to a RET.
	r.computeExtents()

	return r, nil
}

func roundUp(n, align uint32) uint32 {
	if align == 0 {
		return n
	}
	if rem := n % align; rem != 0 {
		return n + (align - rem)
	}
	return n
}

type rawSym struct {
	value uint32
	name  string
}

func symtabEntries(ef *elf.File) []rawSym {
	syms, err := ef.Symbols()
	if err != nil || len(syms) == 0 {
		syms, err = ef.DynamicSymbols()
		if err != nil {
			return nil
		}
	}

	out := make([]rawSym, 0, len(syms))
	for _, s := range syms {
		typ := elf.ST_TYPE(s.Info)
		if typ != elf.STT_FUNC && typ != elf.STT_OBJECT {
			continue
		}
		if s.Value == 0 || s.Name == "" {
			continue
		}
		out = append(out, rawSym{value: uint32(s.Value), name: s.Name})
	}
	return out
}

func insertSorted(z *zone, rec *record) {
	i := sort.Search(len(z.records), func(i int) bool { return z.records[i].offset >= rec.offset })
	z.records = append(z.records, nil)
	copy(z.records[i+1:], z.records[i:])
	z.records[i] = rec
	n := len(z.records)
	z.mop = n / 2
	z.divline = z.records[z.mop].offset
}

func (r *Resolver) findRegionIndex(addr uint32) int {
	for i, rg := range r.regions {
		if addr >= rg.base && addr < rg.end {
			return i
		}
	}
	return -1
}

// computeExtents fills in record.end for every record, per §3: the next
// symbol's start address, or (if that span exceeds the threshold) the
// address of the last instruction before a terminating RET.
func (r *Resolver) computeExtents() {
	for ri := range r.regions {
		rg := &r.regions[ri]
		var all []*record
		for zi := range rg.zones {
			all = append(all, rg.zones[zi].records...)
		}
		sort.Slice(all, func(i, j int) bool { return all[i].start < all[j].start })
		for i, rec := range all {
			var next uint32
			if i+1 < len(all) {
				next = all[i+1].start
			} else {
				next = rg.end
			}
			if next-rec.start <= r.threshold || r.fetch == nil {
				rec.end = next
				continue
			}
			rec.end = r.decodeToRet(rec.start, next)
		}
	}
}

func (r *Resolver) decodeToRet(start, limit uint32) uint32 {
	addr := start
	for addr < limit {
		length, isRet, ok := r.fetch.NextInstructionLen(addr)
		if !ok || length == 0 {
			break
		}
		addr += length
		if isRet {
			return addr
		}
	}
	return limit
}

// Close releases the resolver's own file handle.
func (r *Resolver) Close() error {
	if r.f != nil {
		return r.f.Close()
	}
	return nil
}

// Result is what Lookup returns: the enclosing (or nearest preceding)
// symbol's name, start address, and size.
type Result struct {
	Name  string
	Start uint32
	Size  uint32
	Found bool
}

// Lookup finds the symbol enclosing vaddr, or the nearest preceding symbol
// if none strictly encloses it, per §4.2's lookup algorithm.
func (r *Resolver) Lookup(vaddr uint32) Result {
	ri := r.findRegionIndex(vaddr)
	if ri < 0 {
		return Result{}
	}
	rg := &r.regions[ri]
	zidx := (vaddr - rg.base) / r.pageSize
	if int(zidx) >= len(rg.zones) {
		return Result{}
	}

	z := &rg.zones[zidx]
	if len(z.records) == 0 {
		return r.walkBackward(rg, int(zidx))
	}

	offInZone := (vaddr - rg.base) % r.pageSize
	rec := z.search(offInZone)
	if rec == nil {
		return r.walkBackward(rg, int(zidx))
	}
	return r.materialize(rec)
}

// search finds the record with the greatest offset <= off, scanning only
// the half of the zone's records the divline indicates.
func (z *zone) search(off uint32) *record {
	var candidates []*record
	if off >= z.divline {
		candidates = z.records[z.mop:]
	} else {
		candidates = z.records[:z.mop]
		if len(candidates) == 0 {
			candidates = z.records
		}
	}
	var best *record
	for _, rec := range candidates {
		if rec.offset <= off && (best == nil || rec.offset > best.offset) {
			best = rec
		}
	}
	if best == nil {
		// divline split missed it (off sits below mop's half's lowest
		// offset but above divline due to the even-split rule) — fall back
		// to a full scan of the zone.
		for _, rec := range z.records {
			if rec.offset <= off && (best == nil || rec.offset > best.offset) {
				best = rec
			}
		}
	}
	return best
}

// walkBackward handles an empty zone by walking to the nearest preceding
// non-empty zone and returning its last record, per §3/§4.2 step 3.
func (r *Resolver) walkBackward(rg *region, zidx int) Result {
	for i := zidx - 1; i >= 0; i-- {
		z := &rg.zones[i]
		if len(z.records) == 0 {
			continue
		}
		last := z.records[len(z.records)-1]
		for _, rec := range z.records {
			if rec.offset > last.offset {
				last = rec
			}
		}
		return r.materialize(last)
	}
	return Result{}
}

// materialize resolves the record's name on first use and caches it, per
// §4.2 step 3 and §4.1's name-ownership rule.
func (r *Resolver) materialize(rec *record) Result {
	if !rec.resolved {
		rec.name = demangle.Filter(rec.rawName)
		rec.resolved = true
	}
	return Result{Name: rec.name, Start: rec.start, Size: rec.end - rec.start, Found: true}
}
