package cpu

import (
	"testing"

	"github.com/zboralski/uemu32/internal/decoder"
)

// Far jmp/call/ret forms push/pop a 32-bit CS alongside EIP (per
// original_source's x86__mm_far_ptr32_call/x86__mm_imm16_far_ret32), rather
// than halting the run as an unreachable opcode.

func TestFarJmpPtrLoadsCSAndEIP(t *testing.T) {
	// jmp far 0x1234:0x00002000 (ea 00 20 00 00 34 12)
	code := []byte{0xea, 0x00, 0x20, 0x00, 0x00, 0x34, 0x12}
	c := newTestCPU(t, 0x1000, code)

	if res := c.Step(); res.Stopped() {
		t.Fatalf("step failed: %+v", res)
	}
	if c.EIP() != 0x2000 {
		t.Errorf("eip = %#x, want 0x2000", c.EIP())
	}
	if c.Seg(decoder.SegCS) != 0x1234 {
		t.Errorf("cs = %#x, want 0x1234", c.Seg(decoder.SegCS))
	}
}

func TestFarCallRetfRoundTrip(t *testing.T) {
	// at 0x3000: call far 0x0040:0x0000300a (9a 0a 30 00 00 40 00), 7 bytes
	// at 0x300a: retf (cb)
	code := make([]byte, 0x30)
	copy(code[0x00:], []byte{0x9a, 0x0a, 0x30, 0x00, 0x00, 0x40, 0x00})
	code[0x0a] = 0xcb

	c := newTestCPU(t, 0x3000, code)
	startESP := c.ESP()
	startCS := c.Seg(decoder.SegCS)

	if res := c.Step(); res.Stopped() { // far call
		t.Fatalf("call step failed: %+v", res)
	}
	if c.EIP() != 0x300a {
		t.Fatalf("eip after far call = %#x, want 0x300a", c.EIP())
	}
	if c.Seg(decoder.SegCS) != 0x0040 {
		t.Fatalf("cs after far call = %#x, want 0x40", c.Seg(decoder.SegCS))
	}
	if c.ESP() != startESP-8 {
		t.Fatalf("esp after far call = %#x, want %#x (CS+EIP pushed)", c.ESP(), startESP-8)
	}

	if res := c.Step(); res.Stopped() { // retf
		t.Fatalf("retf step failed: %+v", res)
	}
	if c.EIP() != 0x3007 {
		t.Errorf("eip after retf = %#x, want 0x3007 (return address)", c.EIP())
	}
	if c.Seg(decoder.SegCS) != startCS {
		t.Errorf("cs after retf = %#x, want %#x (restored)", c.Seg(decoder.SegCS), startCS)
	}
	if c.ESP() != startESP {
		t.Errorf("esp after retf = %#x, want %#x (restored)", c.ESP(), startESP)
	}
}

func TestRetfImm16DeallocatesArgs(t *testing.T) {
	// at 0x3000: call far 0x0000:0x0000300a (9a 0a 30 00 00 00 00)
	// at 0x300a: retf 8 (ca 08 00)
	code := make([]byte, 0x30)
	copy(code[0x00:], []byte{0x9a, 0x0a, 0x30, 0x00, 0x00, 0x00, 0x00})
	copy(code[0x0a:], []byte{0xca, 0x08, 0x00})

	c := newTestCPU(t, 0x3000, code)
	startESP := c.ESP()

	if res := c.Step(); res.Stopped() { // far call
		t.Fatalf("call step failed: %+v", res)
	}
	if res := c.Step(); res.Stopped() { // retf 8
		t.Fatalf("retf step failed: %+v", res)
	}
	if want := startESP + 8; c.ESP() != want {
		t.Errorf("esp after retf 8 = %#x, want %#x", c.ESP(), want)
	}
}

func TestFarCallRMIndirectReadsSelectorOffsetPair(t *testing.T) {
	// call far [ebx] (ff 1b), ebx -> a stack-resident slot holding
	// offset=0x4000, selector=0x0008 as a little-endian m16:32 far pointer.
	code := make([]byte, 0x10)
	copy(code[0x00:], []byte{0xff, 0x1b})
	c := newTestCPU(t, 0x1000, code)

	startESP := c.ESP()
	ptrAddr := startESP - 0x200 // well within the writable stack segment
	if err := c.Mem().Write32(ptrAddr, 0x4000); err != nil {
		t.Fatalf("write offset: %v", err)
	}
	if err := c.Mem().Write16(ptrAddr+4, 0x0008); err != nil {
		t.Fatalf("write selector: %v", err)
	}
	c.SetGPR(decoder.EBX, decoder.W32, ptrAddr)

	if res := c.Step(); res.Stopped() {
		t.Fatalf("step failed: %+v", res)
	}
	if c.EIP() != 0x4000 {
		t.Errorf("eip = %#x, want 0x4000", c.EIP())
	}
	if c.Seg(decoder.SegCS) != 0x0008 {
		t.Errorf("cs = %#x, want 0x8", c.Seg(decoder.SegCS))
	}
	if c.ESP() != startESP-8 {
		t.Errorf("esp = %#x, want %#x (CS+return EIP pushed)", c.ESP(), startESP-8)
	}
}
