// Package trace implements the call-trace recorder described in §3/§4.3: a
// growable shadow stack (no depth limit) of in-flight function activations, backed
// by a small MRU cache of recently-resolved symbols so push need not always
// pay the symbol resolver's region/zone scan.
package trace

import (
	"time"

	"github.com/zboralski/uemu32/internal/symtab"
)

// Resolver is the subset of *symtab.Resolver the recorder needs.
type Resolver interface {
	Lookup(vaddr uint32) symtab.Result
}

// Record is one call-trace entry: a snapshot of the activation pushed by a
// CALL, per §3's call-trace-record data model.
type Record struct {
	SymbolName     string
	StartAddr      uint32
	EndAddr        uint32
	RelativeOffset uint32
	ReturnAddr     uint32
	FramePtr       uint32
	Timestamp      time.Time
}

const (
	// defaultCacheSize is the MRU lookup cache's default capacity (§4.3).
	defaultCacheSize = 10
	// growIncrement is how many slots records grows by when it runs out of
	// capacity, per §4.3's "fixed increments" rule.
	growIncrement = 16
)

// cacheEntry is one slot of the recorder's symbol lookup cache.
type cacheEntry struct {
	valid bool
	start uint32
	end   uint32
	name  string
}

// Recorder is the emulator's own shadow record of active call frames,
// independent of the guest's stack layout. Not safe for concurrent use; the
// CPU main loop that owns it is single-threaded per §5.
type Recorder struct {
	resolver Resolver
	records  []Record // storage, retained across pop per §4.3
	top      int      // logical depth; records[:top] are live
	cache    []cacheEntry
	cachePos int // next slot to overwrite, round-robin
}

// New builds a Recorder backed by resolver, with the default MRU cache size.
func New(resolver Resolver) *Recorder {
	return &Recorder{
		resolver: resolver,
		cache:    make([]cacheEntry, defaultCacheSize),
	}
}

// NewWithCacheSize builds a Recorder with a non-default cache capacity.
func NewWithCacheSize(resolver Resolver, cacheSize int) *Recorder {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	return &Recorder{
		resolver: resolver,
		cache:    make([]cacheEntry, cacheSize),
	}
}

// lookup consults the MRU cache before falling back to the resolver, per
// §4.3 and §9's "call-trace vs symbol resolver" design note: control flow
// exhibits temporal locality, so a ring buffer without LRU discipline
// suffices in the common case.
func (r *Recorder) lookup(vaddr uint32) (name string, start, end uint32, found bool) {
	for _, e := range r.cache {
		if e.valid && vaddr >= e.start && vaddr < e.end {
			return e.name, e.start, e.end, true
		}
	}
	if r.resolver == nil {
		return "", 0, 0, false
	}
	res := r.resolver.Lookup(vaddr)
	if !res.Found {
		return "", 0, 0, false
	}
	e := res.Start + res.Size
	r.cache[r.cachePos] = cacheEntry{valid: true, start: res.Start, end: e, name: res.Name}
	r.cachePos = (r.cachePos + 1) % len(r.cache)
	return res.Name, res.Start, e, true
}

// Push records a new activation on a CALL, per §4.3's contract. Resolution
// failures (target outside any known symbol) still push a record, with an
// empty SymbolName, so depth bookkeeping stays correct (property 10).
func (r *Recorder) Push(targetVaddr, returnVaddr, framePtr uint32, now time.Time) {
	name, start, end, _ := r.lookup(targetVaddr)
	rec := Record{
		SymbolName: name,
		StartAddr:  start,
		EndAddr:    end,
		ReturnAddr: returnVaddr,
		FramePtr:   framePtr,
		Timestamp:  now,
	}
	if start != 0 || end != 0 {
		rec.RelativeOffset = targetVaddr - start
	}

	if r.top < len(r.records) {
		r.records[r.top] = rec
	} else {
		r.grow()
		r.records[r.top] = rec
	}
	r.top++
}

// grow extends records by growIncrement slots, per §4.3's "fixed
// increments" rule. Callers must not retain references to records across a
// push that triggers growth, per §5's resource-model note.
func (r *Recorder) grow() {
	newCap := len(r.records) + growIncrement
	grown := make([]Record, newCap)
	copy(grown, r.records)
	r.records = grown
}

// Pop discards the top activation on a RET. Storage is retained, per
// §4.3; only the logical top index decreases. Popping an empty recorder is
// a no-op (property 10: push;push;pop;pop round-trips depth).
func (r *Recorder) Pop() {
	if r.top > 0 {
		r.top--
	}
}

// Top returns the current top-of-stack record and whether one exists.
func (r *Recorder) Top() (Record, bool) {
	if r.top == 0 {
		return Record{}, false
	}
	return r.records[r.top-1], true
}

// At returns the record at logical depth i (0 is the outermost frame).
func (r *Recorder) At(i int) (Record, bool) {
	if i < 0 || i >= r.top {
		return Record{}, false
	}
	return r.records[i], true
}

// Len returns the current call-trace depth.
func (r *Recorder) Len() int {
	return r.top
}

// CurrentEIPSet updates the top record's RelativeOffset after a
// non-control-flow instruction executes, so a renderer can display
// symbol+offset, per §4.3.
func (r *Recorder) CurrentEIPSet(eip uint32) {
	if r.top == 0 {
		return
	}
	rec := &r.records[r.top-1]
	if rec.StartAddr != 0 || rec.EndAddr != 0 {
		rec.RelativeOffset = eip - rec.StartAddr
	}
}
