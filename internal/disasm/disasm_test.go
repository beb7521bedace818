package disasm

import (
	"testing"

	"github.com/zboralski/uemu32/internal/decoder"
	"github.com/zboralski/uemu32/internal/mmu"
	"github.com/zboralski/uemu32/internal/symtab"
)

type byteSrc []byte

func (b byteSrc) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, b[off:])
	return n, nil
}

type fakeResolver struct {
	name  string
	start uint32
	size  uint32
}

func (f fakeResolver) Lookup(vaddr uint32) symtab.Result {
	if vaddr < f.start || vaddr >= f.start+f.size {
		return symtab.Result{Found: false}
	}
	return symtab.Result{Name: f.name, Start: f.start, Size: f.size, Found: true}
}

func decodeOne(t *testing.T, base uint32, code []byte) decoder.Instruction {
	t.Helper()
	decoder.Reset()
	registerMinimalTable()
	m := mmu.New(0)
	if _, err := m.Map(base, uint32(len(code)), mmu.ProtRead|mmu.ProtExec, false, byteSrc(code), 0, uint32(len(code))); err != nil {
		t.Fatalf("map: %v", err)
	}
	return decoder.Decode(m, base)
}

// registerMinimalTable installs just enough opcodes for this package's
// tests without importing the cpu package (which would create a needless
// disasm -> cpu dependency for a renderer that only reads ExecData).
func registerMinimalTable() {
	decoder.RegisterOp(0x01, "add", decoder.EncRM32R32, decoder.EncRM16R16, true, nil)
	decoder.RegisterOp(0x8b, "mov", decoder.EncR32RM32, decoder.EncR16RM16, true, nil)
	decoder.RegisterOp(0xb8, "mov", decoder.EncEAXImm32, decoder.EncAXImm16, false, nil)
	decoder.RegisterOp(0xe8, "call", decoder.EncRela32, decoder.EncRela16, false, nil)
}

func TestRenderRegisterDirect(t *testing.T) {
	// add eax, ebx: modrm 11 011 000 = 0xd8
	ins := decodeOne(t, 0x1000, []byte{0x01, 0xd8})
	line := Render(ins, nil)
	if line.Text != "add eax, ebx" {
		t.Errorf("Text = %q, want %q", line.Text, "add eax, ebx")
	}
}

func TestRenderMemoryOperandSIB(t *testing.T) {
	// mov eax, [edx*4+0x100]
	ins := decodeOne(t, 0x2000, []byte{0x8b, 0x04, 0x95, 0x00, 0x01, 0x00, 0x00})
	line := Render(ins, nil)
	if line.Text != "mov eax, [edx*4+0x100]" {
		t.Errorf("Text = %q, want %q", line.Text, "mov eax, [edx*4+0x100]")
	}
}

func TestRenderImmediate(t *testing.T) {
	ins := decodeOne(t, 0x3000, []byte{0xb8, 0x2a, 0x00, 0x00, 0x00})
	line := Render(ins, nil)
	if line.Text != "mov eax, 0x2a" {
		t.Errorf("Text = %q, want %q", line.Text, "mov eax, 0x2a")
	}
}

func TestRenderCallAnnotatesResolvedSymbol(t *testing.T) {
	// call +0: target = eip_after (0x4005) + 0 = 0x4005
	ins := decodeOne(t, 0x4000, []byte{0xe8, 0x00, 0x00, 0x00, 0x00})
	resolver := fakeResolver{name: "target_fn", start: 0x4005, size: 0x10}

	line := Render(ins, resolver)
	want := "call 0x4005 <target_fn>"
	if line.Text != want {
		t.Errorf("Text = %q, want %q", line.Text, want)
	}
	if !line.HasSym || line.SymName != "target_fn" {
		t.Errorf("HasSym/SymName = %v/%q, want true/target_fn", line.HasSym, line.SymName)
	}
}

func TestRenderCallUnresolvedFallsBackToHex(t *testing.T) {
	ins := decodeOne(t, 0x4000, []byte{0xe8, 0x00, 0x00, 0x00, 0x00})
	line := Render(ins, nil)
	if line.Text != "call 0x4005" {
		t.Errorf("Text = %q, want %q", line.Text, "call 0x4005")
	}
}

func TestRenderFetchFailedIsBad(t *testing.T) {
	decoder.Reset()
	registerMinimalTable()
	m := mmu.New(0)
	if _, err := m.Map(0x5000, 1, mmu.ProtRead|mmu.ProtExec, false, byteSrc{0xff}, 0, 1); err != nil {
		t.Fatalf("map: %v", err)
	}
	ins := decoder.Decode(m, 0x5000)
	line := Render(ins, nil)
	if line.Text != "(bad)" {
		t.Errorf("Text = %q, want (bad)", line.Text)
	}
}
