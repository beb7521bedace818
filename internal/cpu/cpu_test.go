package cpu

import (
	"testing"

	"github.com/zboralski/uemu32/internal/decoder"
	"github.com/zboralski/uemu32/internal/mmu"
)

type byteSrc []byte

func (b byteSrc) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, b[off:])
	return n, nil
}

// newTestCPU maps code at base (R+X) and a stack, then returns a CPU bound
// to it. Tests share the package-global decoder tables, so each calls
// decoder.Reset() + Register() to get a clean, fully-populated table.
func newTestCPU(t *testing.T, base uint32, code []byte) *CPU {
	t.Helper()
	decoder.Reset()
	Register()

	m := mmu.New(0)
	if _, err := m.Map(base, uint32(len(code)), mmu.ProtRead|mmu.ProtExec, false, byteSrc(code), 0, uint32(len(code))); err != nil {
		t.Fatalf("map code: %v", err)
	}
	esp, err := m.CreateStack(false)
	if err != nil {
		t.Fatalf("create stack: %v", err)
	}

	c := New(m, nil)
	c.SetEIP(base)
	c.SetESP(esp)
	return c
}

// S1: simple arithmetic. add eax, ebx with eax=2, ebx=3 leaves eax=5 and
// leaves CF, OF and ZF clear.
func TestScenarioSimpleArithmetic(t *testing.T) {
	// add eax, ebx  (01 d8 : rm32,r32 register-direct, mod=3 reg=ebx rm=eax)
	c := newTestCPU(t, 0x1000, []byte{0x01, 0xd8})
	c.SetGPR(decoder.EAX, decoder.W32, 2)
	c.SetGPR(decoder.EBX, decoder.W32, 3)

	res := c.Step()
	if res.Stopped() {
		t.Fatalf("step failed: %+v", res)
	}
	if got := c.GPR(decoder.EAX, decoder.W32); got != 5 {
		t.Errorf("eax = %d, want 5", got)
	}
	if c.Flag(decoder.FlagCF) || c.Flag(decoder.FlagOF) || c.Flag(decoder.FlagZF) {
		t.Errorf("unexpected flags set: cf=%v of=%v zf=%v", c.Flag(decoder.FlagCF), c.Flag(decoder.FlagOF), c.Flag(decoder.FlagZF))
	}
	if c.EIP() != 0x1002 {
		t.Errorf("eip = %#x, want 0x1002", c.EIP())
	}
}

// S2: signed overflow. add eax, ebx with eax=0x7fffffff, ebx=1 sets OF and
// SF, clears ZF.
func TestScenarioSignedOverflow(t *testing.T) {
	c := newTestCPU(t, 0x1000, []byte{0x01, 0xd8})
	c.SetGPR(decoder.EAX, decoder.W32, 0x7fffffff)
	c.SetGPR(decoder.EBX, decoder.W32, 1)

	res := c.Step()
	if res.Stopped() {
		t.Fatalf("step failed: %+v", res)
	}
	if got := c.GPR(decoder.EAX, decoder.W32); got != 0x80000000 {
		t.Errorf("eax = %#x, want 0x80000000", got)
	}
	if !c.Flag(decoder.FlagOF) {
		t.Error("expected OF set on signed overflow")
	}
	if !c.Flag(decoder.FlagSF) {
		t.Error("expected SF set (result is negative)")
	}
	if c.Flag(decoder.FlagZF) {
		t.Error("ZF should be clear")
	}
}

// S3: conditional branch taken. cmp eax, ebx (equal) then je +5 lands at
// eip+2+2+5; not-taken would fall through to eip+2+2.
func TestScenarioConditionalBranchTaken(t *testing.T) {
	// cmp eax,ebx (39 d8); je rel8=5 (74 05)
	c := newTestCPU(t, 0x2000, []byte{0x39, 0xd8, 0x74, 0x05})
	c.SetGPR(decoder.EAX, decoder.W32, 7)
	c.SetGPR(decoder.EBX, decoder.W32, 7)

	if res := c.Step(); res.Stopped() {
		t.Fatalf("cmp step failed: %+v", res)
	}
	if !c.Flag(decoder.FlagZF) {
		t.Fatalf("expected ZF set after cmp of equal operands")
	}

	if res := c.Step(); res.Stopped() {
		t.Fatalf("je step failed: %+v", res)
	}
	// eip after je's own 2 bytes (0x2004) plus the 5-byte displacement.
	if want := uint32(0x2004 + 5); c.EIP() != want {
		t.Errorf("eip = %#x, want %#x", c.EIP(), want)
	}
}

// S3b: conditional branch not taken falls through.
func TestScenarioConditionalBranchNotTaken(t *testing.T) {
	c := newTestCPU(t, 0x2000, []byte{0x39, 0xd8, 0x74, 0x05})
	c.SetGPR(decoder.EAX, decoder.W32, 7)
	c.SetGPR(decoder.EBX, decoder.W32, 9)

	c.Step() // cmp
	if c.Flag(decoder.FlagZF) {
		t.Fatalf("expected ZF clear for unequal operands")
	}
	c.Step() // je, not taken
	if c.EIP() != 0x2004 {
		t.Errorf("eip = %#x, want 0x2004 (fallthrough)", c.EIP())
	}
}

// S4: CALL/RET round-trip. call rel32 pushes the return address and jumps;
// ret pops it back, restoring EIP and ESP.
func TestScenarioCallRetRoundTrip(t *testing.T) {
	// at 0x3000: call +5 (e8 05 00 00 00) -> target 0x3000+5+5=0x300a
	// at 0x300a: ret (c3)
	code := make([]byte, 0x30)
	copy(code[0x00:], []byte{0xe8, 0x05, 0x00, 0x00, 0x00})
	code[0x0a] = 0xc3

	c := newTestCPU(t, 0x3000, code)
	startESP := c.ESP()

	if res := c.Step(); res.Stopped() { // call
		t.Fatalf("call step failed: %+v", res)
	}
	if c.EIP() != 0x300a {
		t.Fatalf("eip after call = %#x, want 0x300a", c.EIP())
	}
	if c.ESP() != startESP-4 {
		t.Fatalf("esp after call = %#x, want %#x", c.ESP(), startESP-4)
	}

	if res := c.Step(); res.Stopped() { // ret
		t.Fatalf("ret step failed: %+v", res)
	}
	if c.EIP() != 0x3005 {
		t.Errorf("eip after ret = %#x, want 0x3005 (return address)", c.EIP())
	}
	if c.ESP() != startESP {
		t.Errorf("esp after ret = %#x, want %#x (restored)", c.ESP(), startESP)
	}
}

// S5: segmentation fault. mov dword [eax], ebx with eax pointing outside any
// mapped segment reports a MemFault and leaves the CPU's register state from
// before the faulted write.
func TestScenarioSegfaultOnUnmappedWrite(t *testing.T) {
	// mov [eax], ebx (89 18 : rm32,r32, mod=0 reg=ebx rm=eax -> [eax])
	c := newTestCPU(t, 0x4000, []byte{0x89, 0x18})
	c.SetGPR(decoder.EAX, decoder.W32, 0xdead0000)
	c.SetGPR(decoder.EBX, decoder.W32, 0x12345678)

	res := c.Step()
	if res.MemFault == nil {
		t.Fatalf("expected a memory fault, got %+v", res)
	}
}

func TestIncDecPreserveCarryFlag(t *testing.T) {
	c := newTestCPU(t, 0x1000, []byte{0x40, 0x48}) // inc eax; dec eax
	c.SetGPR(decoder.EAX, decoder.W32, 0xffffffff)
	c.SetFlag(decoder.FlagCF, true)

	c.Step() // inc eax -> 0, sets ZF; CF must remain true (preserved)
	if !c.Flag(decoder.FlagCF) {
		t.Error("INC must not clear a pre-set CF")
	}
	if !c.Flag(decoder.FlagZF) {
		t.Error("expected ZF after inc wrapping to 0")
	}

	c.SetFlag(decoder.FlagCF, false)
	c.Step() // dec eax -> 0xffffffff
	if c.Flag(decoder.FlagCF) {
		t.Error("DEC must not set CF even though it borrows")
	}
}

func TestPushPopRoundTrip(t *testing.T) {
	c := newTestCPU(t, 0x1000, []byte{0x50, 0x5b}) // push eax; pop ebx
	c.SetGPR(decoder.EAX, decoder.W32, 0x11223344)
	startESP := c.ESP()

	c.Step() // push eax
	if c.ESP() != startESP-4 {
		t.Fatalf("esp after push = %#x, want %#x", c.ESP(), startESP-4)
	}
	c.Step() // pop ebx
	if c.ESP() != startESP {
		t.Fatalf("esp after pop = %#x, want %#x", c.ESP(), startESP)
	}
	if got := c.GPR(decoder.EBX, decoder.W32); got != 0x11223344 {
		t.Errorf("ebx = %#x, want 0x11223344", got)
	}
}

func TestMovRegImm32(t *testing.T) {
	c := newTestCPU(t, 0x1000, []byte{0xb8, 0x2a, 0x00, 0x00, 0x00}) // mov eax, 42
	c.Step()
	if got := c.GPR(decoder.EAX, decoder.W32); got != 42 {
		t.Errorf("eax = %d, want 42", got)
	}
}

func TestLeaComputesAddressWithoutMemoryAccess(t *testing.T) {
	// lea eax, [ebx+4] (8d 43 04): modrm = 01 000 011, disp8=4
	c := newTestCPU(t, 0x1000, []byte{0x8d, 0x43, 0x04})
	c.SetGPR(decoder.EBX, decoder.W32, 0xdeadbeef) // not mapped; lea must not fault
	c.Step()
	if got := c.GPR(decoder.EAX, decoder.W32); got != 0xdeadbeef+4 {
		t.Errorf("eax = %#x, want %#x", got, uint32(0xdeadbeef+4))
	}
	if c.Mem().Err() != nil {
		t.Errorf("lea must not touch memory: %v", c.Mem().Err())
	}
}

func TestHaltSetsHaltedFlag(t *testing.T) {
	c := newTestCPU(t, 0x1000, []byte{0xf4})
	c.Step()
	if !c.Halted {
		t.Error("expected Halted after executing hlt")
	}
}
