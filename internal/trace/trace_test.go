package trace

import (
	"testing"
	"time"

	"github.com/zboralski/uemu32/internal/symtab"
)

// fakeResolver is a minimal Resolver for exercising the recorder without a
// real ELF fixture.
type fakeResolver struct {
	calls int
	hit   symtab.Result
}

func (f *fakeResolver) Lookup(vaddr uint32) symtab.Result {
	f.calls++
	if vaddr >= f.hit.Start && vaddr < f.hit.Start+f.hit.Size {
		return f.hit
	}
	return symtab.Result{}
}

func TestPushPopRoundTripsDepth(t *testing.T) {
	r := New(&fakeResolver{hit: symtab.Result{Name: "f", Start: 0x1000, Size: 0x10, Found: true}})

	r.Push(0x1000, 0x2000, 0x3000, time.Time{})
	r.Push(0x1000, 0x2004, 0x3004, time.Time{})
	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
	r.Pop()
	r.Pop()
	if r.Len() != 0 {
		t.Fatalf("Len after push;push;pop;pop = %d, want 0 (property 10)", r.Len())
	}

	// Pop on empty recorder is a no-op, not a panic.
	r.Pop()
	if r.Len() != 0 {
		t.Fatalf("Len after extra Pop = %d, want 0", r.Len())
	}
}

func TestPushUsesCacheBeforeResolver(t *testing.T) {
	fr := &fakeResolver{hit: symtab.Result{Name: "f", Start: 0x1000, Size: 0x10, Found: true}}
	r := New(fr)

	r.Push(0x1000, 0x2000, 0x3000, time.Time{})
	if fr.calls != 1 {
		t.Fatalf("resolver calls after first push = %d, want 1", fr.calls)
	}

	// Second push targets an address inside the same symbol's cached
	// range; it must be served from the cache, not the resolver.
	r.Push(0x1004, 0x2010, 0x3010, time.Time{})
	if fr.calls != 1 {
		t.Fatalf("resolver calls after cached push = %d, want 1 (cache hit)", fr.calls)
	}

	top, ok := r.Top()
	if !ok || top.SymbolName != "f" || top.RelativeOffset != 0x4 {
		t.Fatalf("Top() = %+v, ok=%v, want SymbolName=f RelativeOffset=4", top, ok)
	}
}

func TestCurrentEIPSetUpdatesTopOffset(t *testing.T) {
	r := New(&fakeResolver{hit: symtab.Result{Name: "f", Start: 0x1000, Size: 0x10, Found: true}})
	r.Push(0x1000, 0x2000, 0x3000, time.Time{})

	r.CurrentEIPSet(0x1008)
	top, ok := r.Top()
	if !ok || top.RelativeOffset != 0x8 {
		t.Fatalf("Top() after CurrentEIPSet = %+v, ok=%v, want RelativeOffset=8", top, ok)
	}
}

func TestAtReturnsOutermostFirst(t *testing.T) {
	r := New(&fakeResolver{hit: symtab.Result{Name: "f", Start: 0x1000, Size: 0x10, Found: true}})
	r.Push(0x1000, 0x2000, 0x3000, time.Time{})
	r.Push(0x1000, 0x2004, 0x3004, time.Time{})

	outer, ok := r.At(0)
	if !ok || outer.ReturnAddr != 0x2000 {
		t.Fatalf("At(0) = %+v, ok=%v, want ReturnAddr=0x2000", outer, ok)
	}
	inner, ok := r.At(1)
	if !ok || inner.ReturnAddr != 0x2004 {
		t.Fatalf("At(1) = %+v, ok=%v, want ReturnAddr=0x2004", inner, ok)
	}
	if _, ok := r.At(2); ok {
		t.Fatalf("At(2) ok = true, want false (only 2 frames)")
	}
}

func TestPushBeyondInitialCapacityGrows(t *testing.T) {
	r := New(&fakeResolver{hit: symtab.Result{Name: "f", Start: 0x1000, Size: 0x10, Found: true}})
	for i := 0; i < growIncrement+5; i++ {
		r.Push(0x1000, uint32(0x2000+i), 0x3000, time.Time{})
	}
	if r.Len() != growIncrement+5 {
		t.Fatalf("Len = %d, want %d", r.Len(), growIncrement+5)
	}
}

func TestPushUnresolvedTargetStillRecordsDepth(t *testing.T) {
	r := New(&fakeResolver{}) // hit.Found stays false, everything misses
	r.Push(0xdeadbeef, 0x2000, 0x3000, time.Time{})
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1 even when symbol resolution misses", r.Len())
	}
	top, _ := r.Top()
	if top.SymbolName != "" {
		t.Fatalf("SymbolName = %q, want empty for unresolved target", top.SymbolName)
	}
}
